package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"banken/internal/notify"
)

// TestConfigLoad はデフォルト設定の読み込みをテストする
func TestConfigLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err, "設定の読み込みに失敗しました")

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 5555, cfg.Server.Port)
	assert.Positive(t, cfg.Server.ReadTimeout)
	// WriteTimeout は 0（無効）でも正常
	assert.GreaterOrEqual(t, cfg.Server.WriteTimeout, time.Duration(0))

	assert.Equal(t, 0.1, cfg.Detection.AccumWeight)
	assert.Equal(t, 25, cfg.Detection.Threshold)
	assert.Equal(t, 5, cfg.Detection.WarmupFrames)
	assert.Equal(t, 7, cfg.Detection.BlurKernel)
	assert.Equal(t, 400, cfg.Detection.WorkingWidth)
	assert.False(t, cfg.Notification.Enabled)
}

// TestConfigLoadFile はYAMLファイルからの読み込みをテストする
func TestConfigLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "banken.yaml")
	data := `
server:
  port: 8080
camera:
  backend: ffmpeg
  device: /dev/video2
  retry_delay: 200ms
detection:
  accum_weight: 0.25
  min_area: 500
notification:
  enabled: true
  transport: sms
  recipient: alice
  alert_interval_seconds: 120
  smtp:
    username: pi@example.com
    recipients:
      alice:
        number: "5551234567"
        carrier: verizon
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "ファイルにない値はデフォルトのまま")
	assert.Equal(t, "ffmpeg", cfg.Camera.Backend)
	assert.Equal(t, "/dev/video2", cfg.Camera.Device)
	assert.Equal(t, 200*time.Millisecond, cfg.Camera.RetryDelay)
	assert.Equal(t, 0.25, cfg.Detection.AccumWeight)
	assert.Equal(t, 500, cfg.Detection.MinArea)
	assert.Equal(t, 25, cfg.Detection.Threshold)

	assert.Equal(t, notify.TransportSMS, cfg.Notification.Transport)
	assert.Equal(t, 120*time.Second, cfg.Notification.Interval())
	assert.Equal(t, "smtp.gmail.com", cfg.Notification.SMTP.Host)
	assert.Equal(t, "5551234567", cfg.Notification.SMTP.Recipients["alice"].Number)
	assert.NoError(t, cfg.ValidateNotification())
}

func TestConfigLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("server: [\n"), 0o600))
	_, err = Load(broken)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("detection:\n  accum_weight: 1.5\n"), 0o600))
	_, err = Load(invalid)
	assert.Error(t, err)
}

// TestConfigValidation は設定の検証をテストする
func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name      string
		modify    func(c *Config)
		expectErr bool
	}{
		{"正常な設定", func(c *Config) {}, false},
		{"無効なポート番号", func(c *Config) { c.Server.Port = 99999 }, true},
		{"無効なJPEG品質", func(c *Config) { c.Server.JPEGQuality = 0 }, true},
		{"カメラデバイスなし", func(c *Config) { c.Camera.Device = "" }, true},
		{"負の最大読み込み失敗回数", func(c *Config) { c.Camera.MaxReadFailures = -1 }, true},
		{"重み0", func(c *Config) { c.Detection.AccumWeight = 0 }, true},
		{"重み1は有効", func(c *Config) { c.Detection.AccumWeight = 1 }, false},
		{"重みが1超", func(c *Config) { c.Detection.AccumWeight = 1.01 }, true},
		{"閾値0", func(c *Config) { c.Detection.Threshold = 0 }, true},
		{"閾値256", func(c *Config) { c.Detection.Threshold = 256 }, true},
		{"負の最小面積", func(c *Config) { c.Detection.MinArea = -1 }, true},
		{"負のウォームアップ", func(c *Config) { c.Detection.WarmupFrames = -1 }, true},
		{"偶数のぼかしカーネル", func(c *Config) { c.Detection.BlurKernel = 6 }, true},
		{"ぼかしなし", func(c *Config) { c.Detection.BlurKernel = 0 }, false},
		{"処理幅0", func(c *Config) { c.Detection.WorkingWidth = 0 }, true},
		{"無効なログレベル", func(c *Config) { c.Log.Level = "verbose" }, true},
		{"通知設定の不備は対象外", func(c *Config) {
			c.Notification.Enabled = true
			c.Notification.Transport = "pigeon"
		}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)
			err := cfg.Validate()
			if tc.expectErr && err == nil {
				t.Error("エラーが期待されましたが、エラーが発生しませんでした")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("予期しないエラーが発生しました: %v", err)
			}
		})
	}
}

func TestValidateNotification(t *testing.T) {
	cfg := Default()
	cfg.Notification.Enabled = true
	cfg.Notification.Transport = notify.TransportTelegram
	cfg.Notification.Recipient = "home"

	err := cfg.ValidateNotification()
	assert.Error(t, err, "トークンがなければ失敗する")
	assert.NoError(t, cfg.Validate(), "通知の不備は起動を妨げない")
}

// TestServerAddress はサーバーアドレスの生成をテストする
func TestServerAddress(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "192.168.1.100",
			Port: 9090,
		},
	}

	assert.Equal(t, "192.168.1.100:9090", cfg.ServerAddress())
}

// TestEnvironmentVariables は環境変数の処理をテストする
func TestEnvironmentVariables(t *testing.T) {
	t.Setenv("SERVER_HOST", "test.example.com")
	t.Setenv("PORT", "9999")
	t.Setenv("CAMERA_DEVICE", "rtsp://cam.local/stream")
	t.Setenv("SMTP_PASSWORD", "secret")
	t.Setenv("MQTT_BROKER", "broker:1883")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err, "設定の読み込みに失敗しました")

	assert.Equal(t, "test.example.com", cfg.Server.Host)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "rtsp://cam.local/stream", cfg.Camera.Device)
	assert.Equal(t, "secret", cfg.Notification.SMTP.Password)
	assert.Equal(t, "broker:1883", cfg.Notification.MQTT.Broker)
	assert.Equal(t, "debug", cfg.Log.Level)

	t.Setenv("PORT", "not-a-number")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 5555, cfg.Server.Port, "整数でなければデフォルトのまま")
}
