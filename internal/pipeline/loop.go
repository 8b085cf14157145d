package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"

	"banken/internal/frame"
	"banken/internal/motion"
	"banken/internal/stop"
)

// FrameSource は最新フレームを返すフレームソース
type FrameSource interface {
	Latest() (frame.Frame, bool)
	Err() error
	Stop(ctx context.Context) error
}

// Detector は背景差分による動体検知器
type Detector interface {
	Detect(gray gocv.Mat) (motion.Result, error)
	Update(gray gocv.Mat) error
}

// Publisher は注釈付きフレームの公開先
type Publisher interface {
	Publish(f frame.Frame)
}

// Gate は動体の有無から通知を判断する
type Gate interface {
	OnMotionSignal(ctx context.Context, isMotion bool, now time.Time) bool
}

// Options はループの設定
type Options struct {
	WarmupFrames int           // 検知を始めるまでに処理するフレーム数
	WorkingWidth int           // 処理解像度の幅
	BlurKernel   int           // ガウシアンぼかしのカーネル (0 でぼかさない)
	PollInterval time.Duration // 新しいフレームがないときの待機時間

	StopTimeout time.Duration // 終了時にフレームソースの停止を待つ時間
	Clock       clock.Clock   // nil なら実時計
	Stop        *stop.Flag    // nil 可
}

// Loop はフレームソース、検知器、公開先、通知を毎サイクル順に呼び出す
// 検知器と通知の状態はこのループのゴルーチンだけが触る
type Loop struct {
	src  FrameSource
	det  Detector
	bus  Publisher
	gate Gate
	opts Options
	log  zerolog.Logger

	processed uint64
	lastSeq   uint64
	seen      bool
}

// New は Loop を作成する
func New(src FrameSource, det Detector, bus Publisher, gate Gate, opts Options, log zerolog.Logger) *Loop {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	return &Loop{
		src:  src,
		det:  det,
		bus:  bus,
		gate: gate,
		opts: opts,
		log:  log,
	}
}

// Processed は処理したフレーム数を返す
func (l *Loop) Processed() uint64 {
	return l.processed
}

// Run は停止するまでサイクルを繰り返し、最後にフレームソースを停止する
// 停止の確認はサイクルの合間に行い、処理中のサイクルは中断しない
// デバイス喪失で終了した場合はそのエラーを返す
func (l *Loop) Run(ctx context.Context) (err error) {
	l.log.Info().
		Int("warmup", l.opts.WarmupFrames).
		Int("width", l.opts.WorkingWidth).
		Msg("制御ループを開始しました")

	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), l.opts.StopTimeout)
		defer cancel()
		err = multierr.Append(err, l.src.Stop(stopCtx))
		l.log.Info().Uint64("processed", l.processed).Msg("制御ループを終了しました")
	}()

	for !l.stopping(ctx) {
		if srcErr := l.src.Err(); srcErr != nil {
			return fmt.Errorf("フレームソースが終了しました: %w", srcErr)
		}

		processed, cycleErr := l.Step(ctx)
		if cycleErr != nil {
			l.log.Warn().Err(cycleErr).Msg("サイクルの一部をスキップしました")
		}
		if processed {
			continue
		}

		if l.opts.PollInterval > 0 {
			l.wait(ctx)
		}
	}
	return nil
}

func (l *Loop) stopping(ctx context.Context) bool {
	return ctx.Err() != nil || (l.opts.Stop != nil && l.opts.Stop.IsSet())
}

func (l *Loop) wait(ctx context.Context) {
	var stopCh <-chan struct{}
	if l.opts.Stop != nil {
		stopCh = l.opts.Stop.Done()
	}
	select {
	case <-ctx.Done():
	case <-stopCh:
	case <-l.opts.Clock.After(l.opts.PollInterval):
	}
}

// Step は1サイクルを実行する
// 新しいフレームがなければ何もせず false を返す
// 検知に失敗したサイクルは動体なしとして扱い、公開と背景の更新は続ける
func (l *Loop) Step(ctx context.Context) (bool, error) {
	f, ok := l.src.Latest()
	if !ok || f.Empty() {
		return false, nil
	}
	if l.seen && f.Seq == l.lastSeq {
		return false, nil
	}
	l.seen = true
	l.lastSeq = f.Seq
	l.processed++

	img, color, gray, err := l.prepare(f)
	img.Close()
	if err != nil {
		color.Close()
		gray.Close()
		return true, err
	}
	defer color.Close()
	defer gray.Close()

	now := l.opts.Clock.Now()
	drawTimestamp(&color, now)

	var (
		result    motion.Result
		detectErr error
	)
	if l.processed > uint64(l.opts.WarmupFrames) {
		result, detectErr = l.det.Detect(gray)
		if detectErr != nil {
			detectErr = fmt.Errorf("動体検知に失敗: %w", detectErr)
			result = motion.Result{}
		}
	}
	defer result.Close()

	if result.Motion {
		drawBox(&color, result.Box)
		l.log.Debug().
			Int("min_x", result.Box.MinX).Int("min_y", result.Box.MinY).
			Int("max_x", result.Box.MaxX).Int("max_y", result.Box.MaxY).
			Uint64("seq", f.Seq).
			Msg("動体を検知しました")
	}

	l.gate.OnMotionSignal(ctx, result.Motion, now)

	out, err := frame.FromMat(color, f.Captured)
	if err != nil {
		detectErr = multierr.Append(detectErr, fmt.Errorf("公開用フレームの作成に失敗: %w", err))
	} else {
		out.Seq = f.Seq
		out.Motion = result.Motion
		if result.Motion {
			out.Box = result.Box.Rect()
		}
		l.bus.Publish(out)
	}

	if err := l.det.Update(gray); err != nil {
		detectErr = multierr.Append(detectErr, fmt.Errorf("背景の更新に失敗: %w", err))
	}

	return true, detectErr
}

// prepare はフレームを処理解像度のカラー画像とぼかしたグレースケール画像にする
// 戻り値の Mat はエラー時も含めすべて Close する
func (l *Loop) prepare(f frame.Frame) (img, color, gray gocv.Mat, err error) {
	color = gocv.NewMat()
	gray = gocv.NewMat()

	img, err = f.ToMat()
	if err != nil {
		return img, color, gray, fmt.Errorf("フレームの変換に失敗: %w", err)
	}

	sized := img
	if l.opts.WorkingWidth > 0 && img.Cols() != l.opts.WorkingWidth {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(img, &resized, workingSize(img.Cols(), img.Rows(), l.opts.WorkingWidth), 0, 0, gocv.InterpolationArea)
		sized = resized
	}

	switch sized.Channels() {
	case 3:
		sized.CopyTo(&color)
		gocv.CvtColor(sized, &gray, gocv.ColorBGRToGray)
	case 1:
		sized.CopyTo(&gray)
		gocv.CvtColor(sized, &color, gocv.ColorGrayToBGR)
	default:
		return img, color, gray, errors.New("チャンネル数が不正です")
	}

	if k := l.opts.BlurKernel; k > 0 {
		gocv.GaussianBlur(gray, &gray, image.Pt(k, k), 0, 0, gocv.BorderDefault)
	}
	return img, color, gray, nil
}
