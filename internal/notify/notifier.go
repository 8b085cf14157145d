package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// ErrUnknownRecipient は通知先の名前が設定に存在しない
	ErrUnknownRecipient = errors.New("不明な通知先")
	// ErrUnknownCarrier はSMSゲートウェイが定義されていないキャリア
	ErrUnknownCarrier = errors.New("不明なキャリア")
	// ErrUnknownTransport は未対応の通知手段
	ErrUnknownTransport = errors.New("不明な通知手段")
)

// Notifier は通知を届ける手段
// 届け方は実装ごとに異なり、呼び出し側は関知しない
type Notifier interface {
	Send(ctx context.Context, recipient, message string) error
}

// NotifierFunc は関数を Notifier として扱う
type NotifierFunc func(ctx context.Context, recipient, message string) error

func (f NotifierFunc) Send(ctx context.Context, recipient, message string) error {
	return f(ctx, recipient, message)
}

// Noop は何もしない Notifier
// 通知が無効、または設定が不正なときに使う
type Noop struct{}

func (Noop) Send(context.Context, string, string) error { return nil }

// Log は送信せずにログへ書き出す Notifier
type Log struct {
	log zerolog.Logger
}

// NewLog は Log を作成する
func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) Send(_ context.Context, recipient, message string) error {
	l.log.Warn().
		Str("recipient", recipient).
		Str("message", message).
		Msg("通知 (ログ出力のみ)")
	return nil
}

// New は設定に従って Notifier を作成する
// MQTT はここでブローカーへ接続する
func New(ctx context.Context, cfg Config, log zerolog.Logger) (Notifier, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}

	switch strings.ToLower(cfg.Transport) {
	case TransportSMS, TransportEmail:
		return NewSMTP(cfg.SMTP, cfg.Timeout), nil
	case TransportTelegram:
		return NewTelegram(cfg.Telegram, cfg.Timeout), nil
	case TransportMQTT:
		m := NewMQTT(cfg.MQTT, cfg.Timeout, log)
		if err := m.Connect(ctx); err != nil {
			return nil, err
		}
		return m, nil
	case TransportLog:
		return NewLog(log), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransport, cfg.Transport)
	}
}
