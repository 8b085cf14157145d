package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"banken/internal/frame"
	"banken/internal/stop"
)

// SourceOptions はフレームソースの任意設定
type SourceOptions struct {
	// MaxReadFailures 回連続で読み込みに失敗したらデバイス喪失とする (0 で無制限)
	MaxReadFailures int
	// RetryDelay は読み込み失敗後に次を試すまでの待機時間
	RetryDelay time.Duration
	// Clock はキャプチャ時刻と待機に使う (nil なら実時計)
	Clock clock.Clock
	// Stop が立つと次の取得前に終了する (nil 可)
	Stop *stop.Flag
}

// Source はデバイスから専用ゴルーチンでフレームを取り続け、最新の1枚を保持する
type Source struct {
	dev  Device
	opts SourceOptions
	log  zerolog.Logger

	mu     sync.RWMutex
	latest frame.Frame
	has    bool
	seq    uint64
	status Status
	err    error

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	closeErr  error
}

// NewSource は開いたデバイスから Source を作成する
// Source はデバイスの所有権を持ち、Stop で閉じる
func NewSource(dev Device, opts SourceOptions, log zerolog.Logger) *Source {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Source{
		dev:    dev,
		opts:   opts,
		log:    log,
		status: StatusInactive,
		done:   make(chan struct{}),
	}
}

// Start は取得ゴルーチンを開始する
func (s *Source) Start(ctx context.Context) error {
	err := errors.New("フレームソースは既に開始されています")
	s.startOnce.Do(func() {
		err = nil
		ctx, s.cancel = context.WithCancel(ctx)

		s.mu.Lock()
		s.status = StatusActive
		s.mu.Unlock()

		go s.run(ctx)
		s.log.Info().Msg("フレーム取得を開始しました")
	})
	return err
}

// Latest は最新のフレームを待たずに返す
// まだ1枚も取得できていなければ false を返す
// 返すフレームの画素は共有されるので書き換えてはならない
func (s *Source) Latest() (frame.Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.has
}

// Stop は取得ゴルーチンを止めてデバイスを閉じる。複数回呼んでも安全
func (s *Source) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		// 開始前に止める場合も以降の Start を無効にする
		s.startOnce.Do(func() { close(s.done) })
		if s.cancel != nil {
			s.cancel()
		}

		select {
		case <-s.done:
			if err := s.dev.Close(); err != nil {
				s.closeErr = fmt.Errorf("デバイスのクローズに失敗: %w", err)
			}
		case <-ctx.Done():
			// 読み込み中のデバイスは閉じられないので、終了後に閉じる
			s.log.Warn().Msg("取得ゴルーチンの終了を待たずに戻ります")
			s.closeErr = fmt.Errorf("フレームソースの停止待ちを中断: %w", ctx.Err())
			go func() {
				<-s.done
				if err := s.dev.Close(); err != nil {
					s.log.Error().Err(err).Msg("デバイスのクローズに失敗しました")
				}
			}()
		}

		s.mu.Lock()
		if s.status == StatusActive {
			s.status = StatusInactive
		}
		s.mu.Unlock()
		s.log.Info().Msg("フレーム取得を停止しました")
	})
	return s.closeErr
}

// Err はデバイス喪失などで取得が終了した理由を返す
func (s *Source) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Status は現在の状態を返す
func (s *Source) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Done は取得ゴルーチンが終了するとクローズされる
func (s *Source) Done() <-chan struct{} {
	return s.done
}

func (s *Source) run(ctx context.Context) {
	defer close(s.done)

	m := gocv.NewMat()
	defer m.Close()

	failures := 0
	for {
		if s.stopping(ctx) {
			return
		}

		err := s.readOnce(&m)
		if err == nil {
			if failures > 0 {
				s.log.Info().Int("failures", failures).Msg("フレーム取得が回復しました")
			}
			failures = 0
			continue
		}

		failures++
		ev := s.log.Debug()
		if failures == 1 {
			ev = s.log.Warn()
		}
		ev.Err(err).Int("failures", failures).Msg("フレームの読み込みに失敗しました")

		if s.opts.MaxReadFailures > 0 && failures >= s.opts.MaxReadFailures {
			s.mu.Lock()
			s.err = fmt.Errorf("%w: %d回連続で読み込みに失敗", ErrDeviceLost, failures)
			s.status = StatusError
			s.mu.Unlock()
			s.log.Error().Int("failures", failures).Msg("カメラデバイスを喪失しました")
			return
		}

		if s.opts.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-s.opts.Clock.After(s.opts.RetryDelay):
			}
		}
	}
}

func (s *Source) stopping(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return s.opts.Stop != nil && s.opts.Stop.IsSet()
}

// readOnce は1フレームを読み込み、最新値を差し替える
func (s *Source) readOnce(m *gocv.Mat) error {
	if !s.dev.Read(m) || m.Empty() {
		return errors.New("デバイスからフレームを取得できません")
	}

	f, err := frame.FromMat(*m, s.opts.Clock.Now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.seq++
	f.Seq = s.seq
	s.latest = f
	s.has = true
	s.mu.Unlock()
	return nil
}
