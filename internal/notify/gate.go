package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// MessageFunc は通知本文を組み立てる
type MessageFunc func(now time.Time) string

// DefaultMessage は検知時刻を含む通知本文を返す
func DefaultMessage(now time.Time) string {
	return fmt.Sprintf("動体を検知しました: %s", now.Local().Format("2006-01-02 15:04:05"))
}

// Gate は動体の有無から通知を出すかを決め、Notifier へ渡す
// 呼び出しは制御ループのゴルーチンだけから行うのでロックを持たない
type Gate struct {
	notifier  Notifier
	recipient string
	interval  time.Duration
	timeout   time.Duration
	message   MessageFunc
	log       zerolog.Logger

	lastAlert time.Time
	alerted   bool
}

// GateOption は Gate の任意設定
type GateOption func(*Gate)

// WithTimeout は1回の送信に与える時間を設定する
func WithTimeout(d time.Duration) GateOption {
	return func(g *Gate) { g.timeout = d }
}

// WithMessage は通知本文の組み立て方を差し替える
func WithMessage(f MessageFunc) GateOption {
	return func(g *Gate) { g.message = f }
}

// NewGate は Gate を作成する
func NewGate(n Notifier, recipient string, interval time.Duration, log zerolog.Logger, opts ...GateOption) *Gate {
	if n == nil {
		n = Noop{}
	}
	g := &Gate{
		notifier:  n,
		recipient: recipient,
		interval:  interval,
		message:   DefaultMessage,
		log:       log,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// OnMotionSignal は動体の有無を受け取り、必要なら通知を送る
// 送信を試みたら true を返す。送信に失敗しても最終通知時刻は戻さない
func (g *Gate) OnMotionSignal(ctx context.Context, isMotion bool, now time.Time) bool {
	if !isMotion {
		return false
	}
	if g.alerted && now.Sub(g.lastAlert) < g.interval {
		return false
	}

	g.lastAlert = now
	g.alerted = true

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if err := g.notifier.Send(ctx, g.recipient, g.message(now)); err != nil {
		g.log.Error().Err(err).Str("recipient", g.recipient).Msg("通知の送信に失敗しました")
		return true
	}
	g.log.Info().Str("recipient", g.recipient).Msg("通知を送信しました")
	return true
}

// LastAlert は最後に通知を試みた時刻を返す
func (g *Gate) LastAlert() (time.Time, bool) {
	return g.lastAlert, g.alerted
}
