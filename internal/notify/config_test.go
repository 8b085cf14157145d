package notify

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	base := DefaultConfig()
	base.Enabled = true
	base.Recipient = "alice"

	testCases := []struct {
		name      string
		modify    func(c *Config)
		expectErr bool
	}{
		{"無効化されていれば検証しない", func(c *Config) { c.Enabled = false; c.Transport = "pigeon" }, false},
		{"ログ出力", func(c *Config) {}, false},
		{"通知先なし", func(c *Config) { c.Recipient = "" }, true},
		{"負の間隔", func(c *Config) { c.AlertIntervalSeconds = -1 }, true},
		{"不明な通知手段", func(c *Config) { c.Transport = "pigeon" }, true},
		{"SMS正常", func(c *Config) {
			c.Transport = TransportSMS
			c.SMTP.Username = "pi@example.com"
			c.SMTP.Recipients = map[string]Recipient{"alice": {Number: "555", Carrier: "sprint"}}
		}, false},
		{"SMS未登録の通知先", func(c *Config) {
			c.Transport = TransportSMS
			c.SMTP.Username = "pi@example.com"
		}, true},
		{"SMS送信元なし", func(c *Config) {
			c.Transport = TransportEmail
			c.Recipient = "alice@example.com"
		}, true},
		{"Telegramトークンなし", func(c *Config) { c.Transport = TransportTelegram }, true},
		{"Telegram正常", func(c *Config) { c.Transport = TransportTelegram; c.Telegram.Token = "T" }, false},
		{"MQTTブローカーなし", func(c *Config) { c.Transport = TransportMQTT }, true},
		{"MQTT不正なQoS", func(c *Config) { c.Transport = TransportMQTT; c.MQTT.Broker = "localhost:1883"; c.MQTT.QoS = 3 }, true},
		{"MQTT正常", func(c *Config) { c.Transport = TransportMQTT; c.MQTT.Broker = "localhost:1883" }, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.modify(&cfg)
			err := cfg.Validate()
			if tc.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigInterval(t *testing.T) {
	cfg := Config{AlertIntervalSeconds: 90}
	assert.Equal(t, 90*time.Second, cfg.Interval())
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	log := zerolog.Nop()

	n, err := New(ctx, Config{Enabled: false, Transport: TransportSMS}, log)
	require.NoError(t, err)
	assert.IsType(t, Noop{}, n)

	cfg := DefaultConfig()
	cfg.Enabled = true

	cfg.Transport = TransportLog
	n, err = New(ctx, cfg, log)
	require.NoError(t, err)
	assert.IsType(t, &Log{}, n)

	cfg.Transport = "SMS"
	n, err = New(ctx, cfg, log)
	require.NoError(t, err)
	assert.IsType(t, &SMTP{}, n)

	cfg.Transport = TransportTelegram
	n, err = New(ctx, cfg, log)
	require.NoError(t, err)
	assert.IsType(t, &Telegram{}, n)

	cfg.Transport = "pigeon"
	_, err = New(ctx, cfg, log)
	assert.ErrorIs(t, err, ErrUnknownTransport)
}
