package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// 通知手段の名前
const (
	TransportSMS      = "sms"
	TransportEmail    = "email"
	TransportTelegram = "telegram"
	TransportMQTT     = "mqtt"
	TransportLog      = "log"
)

// Config は通知の設定
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Transport string `yaml:"transport"` // sms, email, telegram, mqtt, log
	Recipient string `yaml:"recipient"` // 通知先の名前、アドレス、またはチャットID

	AlertIntervalSeconds int           `yaml:"alert_interval_seconds"` // 通知の最小間隔
	Timeout              time.Duration `yaml:"timeout"`                // 1回の送信のタイムアウト

	SMTP     SMTPConfig     `yaml:"smtp"`
	Telegram TelegramConfig `yaml:"telegram"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
}

// SMTPConfig はメールおよびSMSゲートウェイ経由の送信設定
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"` // 465 なら暗黙的TLS、それ以外は STARTTLS を試みる
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	Subject  string `yaml:"subject"`

	// Recipients は名前から宛先への対応
	Recipients map[string]Recipient `yaml:"recipients"`
	// Gateways はキャリア名からSMSゲートウェイのドメインへの対応。組み込みの対応を上書きする
	Gateways map[string]string `yaml:"gateways"`
}

// Recipient は名前で参照される通知先
type Recipient struct {
	Number  string `yaml:"number"`  // 電話番号
	Carrier string `yaml:"carrier"` // キャリア名 (sprint, at&t, t-mobile, verizon)
	Email   string `yaml:"email"`   // 指定されていれば Number より優先する
}

// TelegramConfig は Telegram Bot API の設定
type TelegramConfig struct {
	Token   string            `yaml:"token"`
	BaseURL string            `yaml:"base_url"`
	Chats   map[string]string `yaml:"chats"` // 別名からチャットIDへの対応
}

// MQTTConfig は MQTT ブローカーへの送信設定
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // host:port
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// DefaultConfig はデフォルトの通知設定を返す
func DefaultConfig() Config {
	return Config{
		Enabled:              false,
		Transport:            TransportLog,
		AlertIntervalSeconds: 300,
		Timeout:              10 * time.Second,
		SMTP: SMTPConfig{
			Host:    "smtp.gmail.com",
			Port:    465,
			Subject: "Banken Alert",
		},
		Telegram: TelegramConfig{
			BaseURL: "https://api.telegram.org",
		},
		MQTT: MQTTConfig{
			ClientID: "banken",
			Topic:    "banken/alerts",
			QoS:      1,
		},
	}
}

// Interval は通知の最小間隔を返す
func (c Config) Interval() time.Duration {
	return time.Duration(c.AlertIntervalSeconds) * time.Second
}

// Validate は通知設定の妥当性を検証する
// 無効化されている場合は常に成功する
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	var err error
	if c.AlertIntervalSeconds < 0 {
		err = multierr.Append(err, fmt.Errorf("無効な通知間隔: %d", c.AlertIntervalSeconds))
	}
	if c.Timeout < 0 {
		err = multierr.Append(err, fmt.Errorf("無効なタイムアウト: %v", c.Timeout))
	}
	if c.Recipient == "" {
		err = multierr.Append(err, errors.New("通知先が設定されていません"))
	}

	switch strings.ToLower(c.Transport) {
	case TransportSMS, TransportEmail:
		err = multierr.Append(err, c.SMTP.validate(c.Recipient))
	case TransportTelegram:
		if c.Telegram.Token == "" {
			err = multierr.Append(err, errors.New("Telegramのトークンが設定されていません"))
		}
	case TransportMQTT:
		if c.MQTT.Broker == "" {
			err = multierr.Append(err, errors.New("MQTTブローカーが設定されていません"))
		}
		if c.MQTT.Topic == "" {
			err = multierr.Append(err, errors.New("MQTTトピックが設定されていません"))
		}
		if c.MQTT.QoS > 2 {
			err = multierr.Append(err, fmt.Errorf("無効なQoS: %d", c.MQTT.QoS))
		}
	case TransportLog:
	default:
		err = multierr.Append(err, fmt.Errorf("%w: %s", ErrUnknownTransport, c.Transport))
	}

	return err
}

func (c SMTPConfig) validate(recipient string) error {
	var err error
	if c.Host == "" {
		err = multierr.Append(err, errors.New("SMTPホストが設定されていません"))
	}
	if c.Port < 1 || c.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("無効なSMTPポート番号: %d", c.Port))
	}
	if c.From == "" && c.Username == "" {
		err = multierr.Append(err, errors.New("送信元アドレスが設定されていません"))
	}
	if recipient != "" {
		if _, rerr := resolveAddress(recipient, c.Recipients, gatewaysWith(c.Gateways)); rerr != nil {
			err = multierr.Append(err, rerr)
		}
	}
	return err
}
