package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"banken/internal/camera"
	"banken/internal/config"
	"banken/internal/framebus"
	"banken/internal/logging"
	"banken/internal/motion"
	"banken/internal/notify"
	"banken/internal/pipeline"
	"banken/internal/server"
	"banken/internal/stop"
)

// Option は App の任意設定
type Option func(*App)

// WithFactory はデバイスを開くファクトリーを差し替える
func WithFactory(f *camera.Factory) Option {
	return func(a *App) { a.factory = f }
}

// WithDiscovery はデバイスパスの事前確認に使う検出機能を差し替える
func WithDiscovery(d camera.Discovery) Option {
	return func(a *App) { a.discovery = d }
}

// WithStop は外部から停止できるフラグを渡す
func WithStop(f *stop.Flag) Option {
	return func(a *App) { a.stop = f }
}

// WithClock はフレームソースと制御ループの時計を差し替える
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithStreamInterval はMJPEGストリームの確認間隔を変更する
func WithStreamInterval(d time.Duration) Option {
	return func(a *App) { a.streamInterval = d }
}

// App は設定から各コンポーネントを組み立てて実行する
type App struct {
	cfg *config.Config
	log zerolog.Logger

	factory        *camera.Factory
	discovery      camera.Discovery
	stop           *stop.Flag
	clock          clock.Clock
	streamInterval time.Duration

	notifier notify.Notifier
	source   *camera.Source
	detector *motion.Detector
	bus      *framebus.Bus
	loop     *pipeline.Loop
	server   *server.Server
}

// New はデバイスを開き、検知器、通知、配信サーバーを用意する
// 通知設定に誤りがある場合は通知を無効にして続行する
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...Option) (_ *App, err error) {
	a := &App{
		cfg:       cfg,
		log:       log,
		factory:   camera.NewFactory(),
		discovery: camera.NewLinuxDiscovery(),
		clock:     clock.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.stop == nil {
		a.stop = stop.NewFlag()
	}

	// 途中で失敗したら作成済みのものを解放する
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.Close())
		}
	}()

	a.notifier = a.newNotifier(ctx)

	if a.detector, err = motion.NewDetector(motion.Settings{
		AccumWeight: cfg.Detection.AccumWeight,
		Threshold:   cfg.Detection.Threshold,
		MinArea:     cfg.Detection.MinArea,
	}); err != nil {
		return nil, fmt.Errorf("検知器の作成に失敗: %w", err)
	}

	if strings.HasPrefix(cfg.Camera.Device, "/dev/") && !a.discovery.IsDeviceAvailable(ctx, cfg.Camera.Device) {
		return nil, fmt.Errorf("デバイス %s は利用できません", cfg.Camera.Device)
	}

	dev, err := a.factory.Open(ctx, camera.Settings{
		Backend: cfg.Camera.Backend,
		Device:  cfg.Camera.Device,
		Width:   cfg.Camera.Width,
		Height:  cfg.Camera.Height,
		FPS:     cfg.Camera.FPS,
	})
	if err != nil {
		return nil, err
	}
	a.source = camera.NewSource(dev, camera.SourceOptions{
		MaxReadFailures: cfg.Camera.MaxReadFailures,
		RetryDelay:      cfg.Camera.RetryDelay,
		Clock:           a.clock,
		Stop:            a.stop,
	}, logging.Component(log, "camera"))

	a.bus = framebus.New()

	gate := notify.NewGate(
		a.notifier,
		cfg.Notification.Recipient,
		cfg.Notification.Interval(),
		logging.Component(log, "notify"),
		notify.WithTimeout(cfg.Notification.Timeout),
	)

	a.loop = pipeline.New(a.source, a.detector, a.bus, gate, pipeline.Options{
		WarmupFrames: cfg.Detection.WarmupFrames,
		WorkingWidth: cfg.Detection.WorkingWidth,
		BlurKernel:   cfg.Detection.BlurKernel,
		PollInterval: cfg.Pipeline.PollInterval,
		Clock:        a.clock,
		Stop:         a.stop,
	}, logging.Component(log, "pipeline"))

	a.server = server.New(cfg, a.bus, a.stop, logging.Component(log, "server"), server.Options{
		StreamInterval: a.streamInterval,
	})

	return a, nil
}

// newNotifier は通知設定から Notifier を作成する
// 設定の誤りや接続失敗は記録して通知なしで続ける
func (a *App) newNotifier(ctx context.Context) notify.Notifier {
	log := logging.Component(a.log, "notify")

	if err := a.cfg.ValidateNotification(); err != nil {
		log.Error().Err(err).Msg("通知設定が不正なため通知を無効にします")
		return notify.Noop{}
	}

	n, err := notify.New(ctx, a.cfg.Notification, log)
	if err != nil {
		log.Error().Err(err).Msg("通知の初期化に失敗したため通知を無効にします")
		return notify.Noop{}
	}

	if a.cfg.Notification.Enabled {
		log.Info().
			Str("transport", a.cfg.Notification.Transport).
			Str("recipient", a.cfg.Notification.Recipient).
			Dur("interval", a.cfg.Notification.Interval()).
			Msg("通知を有効にしました")
	}
	return n
}

// Stop は停止フラグを返す
func (a *App) Stop() *stop.Flag {
	return a.stop
}

// Bus はフレームバスを返す
func (a *App) Bus() *framebus.Bus {
	return a.bus
}

// Run は設定のアドレスで待ち受けて Serve する
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.ServerAddress())
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve はフレーム取得、制御ループ、配信サーバーを動かし、いずれかの停止まで待つ
// 制御ループがデバイス喪失で終わった場合は停止フラグを立ててそのエラーを返す
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	if err := a.source.Start(ctx); err != nil {
		ln.Close()
		return err
	}

	loopErr := make(chan error, 1)
	go func() {
		err := a.loop.Run(ctx)
		if err != nil {
			a.log.Error().Err(err).Msg("制御ループが異常終了しました")
		}
		// サーバーも止める
		a.stop.Set()
		loopErr <- err
	}()

	err := a.server.Serve(ctx, ln)

	// サーバーが先に止まった場合も制御ループを止める
	a.stop.Set()
	err = multierr.Append(err, <-loopErr)

	if errors.Is(err, camera.ErrDeviceLost) {
		a.log.Error().Msg("デバイスを喪失したため終了します")
	}
	return err
}

// Close はフレームソース、検知器、通知の接続を解放する
func (a *App) Close() error {
	var err error
	if a.source != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = multierr.Append(err, a.source.Stop(ctx))
	}
	if a.detector != nil {
		err = multierr.Append(err, a.detector.Close())
	}
	if c, ok := a.notifier.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	return err
}
