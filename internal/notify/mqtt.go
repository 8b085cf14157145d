package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Alert はMQTTで配信する通知の内容
type Alert struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// newAlert は一意なIDを付けた通知をJSONにする
func newAlert(recipient, message string, now time.Time) ([]byte, error) {
	return json.Marshal(Alert{
		ID:        uuid.NewString(),
		Recipient: recipient,
		Message:   message,
		Timestamp: now.UTC(),
	})
}

// MQTT は通知をブローカーのトピックへ発行する Notifier
type MQTT struct {
	cfg     MQTTConfig
	timeout time.Duration
	log     zerolog.Logger
	client  mqtt.Client
}

// NewMQTT は MQTT を作成する。送信前に Connect が必要
func NewMQTT(cfg MQTTConfig, timeout time.Duration, log zerolog.Logger) *MQTT {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MQTT{cfg: cfg, timeout: timeout, log: log}
}

// Connect はブローカーへ接続する
// 接続後の切断は自動再接続に任せる
func (m *MQTT) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", m.cfg.Broker))
	opts.SetClientID(m.cfg.ClientID)
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		m.log.Info().Str("broker", m.cfg.Broker).Msg("MQTTブローカーに接続しました")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		m.log.Warn().Err(err).Str("broker", m.cfg.Broker).Msg("MQTT接続が切れました。再接続を待ちます")
	}

	client := mqtt.NewClient(opts)
	if err := wait(ctx, client.Connect(), m.timeout); err != nil {
		return fmt.Errorf("MQTTブローカーへの接続に失敗: %w", err)
	}
	m.client = client
	return nil
}

func (m *MQTT) Send(ctx context.Context, recipient, message string) error {
	if m.client == nil || !m.client.IsConnected() {
		return errors.New("MQTTブローカーに接続されていません")
	}

	payload, err := newAlert(recipient, message, time.Now())
	if err != nil {
		return fmt.Errorf("通知の生成に失敗: %w", err)
	}

	if err := wait(ctx, m.client.Publish(m.cfg.Topic, m.cfg.QoS, false, payload), m.timeout); err != nil {
		return fmt.Errorf("MQTT発行に失敗: %w", err)
	}
	m.log.Debug().Str("topic", m.cfg.Topic).Int("size", len(payload)).Msg("通知を発行しました")
	return nil
}

// Close はブローカーから切断する
func (m *MQTT) Close() error {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	return nil
}

// wait はトークンの完了、タイムアウト、コンテキストのキャンセルのうち最も早いものを待つ
func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errors.New("タイムアウト")
	case <-ctx.Done():
		return ctx.Err()
	}
}
