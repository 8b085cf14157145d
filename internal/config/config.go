package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"banken/internal/logging"
	"banken/internal/notify"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server       ServerConfig    `yaml:"server"`
	Camera       CameraConfig    `yaml:"camera"`
	Detection    DetectionConfig `yaml:"detection"`
	Pipeline     PipelineConfig  `yaml:"pipeline"`
	Notification notify.Config   `yaml:"notification"`
	Log          logging.Config  `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // 読み込みタイムアウト
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // 書き込みタイムアウト
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // グレースフルシャットダウンの猶予

	JPEGQuality int `yaml:"jpeg_quality"` // ストリーム配信時のJPEG品質 (1-100)
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Backend string `yaml:"backend"` // opencv, ffmpeg
	Device  string `yaml:"device"`  // デバイス番号、デバイスパス、またはURL

	FPS    int `yaml:"fps"`    // フレームレート (fps)
	Width  int `yaml:"width"`  // 画像幅
	Height int `yaml:"height"` // 画像高さ

	// 連続した読み込み失敗がこの回数に達したらデバイス喪失とみなす (0 で無制限)
	MaxReadFailures int           `yaml:"max_read_failures"`
	RetryDelay      time.Duration `yaml:"retry_delay"` // 読み込み失敗後の待機時間
}

// DetectionConfig は動体検知の設定
type DetectionConfig struct {
	AccumWeight  float64 `yaml:"accum_weight"`  // 背景モデルの更新重み (0,1]
	Threshold    int     `yaml:"threshold"`     // 前景とみなす差分の閾値
	MinArea      int     `yaml:"min_area"`      // 動体とみなす最小ピクセル数
	WarmupFrames int     `yaml:"warmup_frames"` // 検知を始めるまでのフレーム数
	BlurKernel   int     `yaml:"blur_kernel"`   // ガウシアンぼかしのカーネルサイズ (奇数)
	WorkingWidth int     `yaml:"working_width"` // 処理解像度の幅
}

// PipelineConfig は制御ループの設定
type PipelineConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"` // 新しいフレームがないときの待機時間
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5555,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0, // ストリーミング用にタイムアウト無効化
			ShutdownTimeout: 5 * time.Second,
			JPEGQuality:     80,
		},
		Camera: CameraConfig{
			Backend:         "opencv",
			Device:          "0",
			FPS:             15,
			Width:           640,
			Height:          480,
			MaxReadFailures: 100,
			RetryDelay:      50 * time.Millisecond,
		},
		Detection: DetectionConfig{
			AccumWeight:  0.1,
			Threshold:    25,
			MinArea:      0,
			WarmupFrames: 5,
			BlurKernel:   7,
			WorkingWidth: 400,
		},
		Pipeline: PipelineConfig{
			PollInterval: 10 * time.Millisecond,
		},
		Notification: notify.DefaultConfig(),
		Log:          logging.DefaultConfig(),
	}
}

// Load は設定を読み込む
// path が空ならデフォルト値から始め、その後に環境変数で上書きする
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// applyEnv は環境変数の値で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Camera.Device = getEnvOrDefault("CAMERA_DEVICE", c.Camera.Device)
	c.Notification.SMTP.Password = getEnvOrDefault("SMTP_PASSWORD", c.Notification.SMTP.Password)
	c.Notification.Telegram.Token = getEnvOrDefault("TELEGRAM_TOKEN", c.Notification.Telegram.Token)
	c.Notification.MQTT.Broker = getEnvOrDefault("MQTT_BROKER", c.Notification.MQTT.Broker)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
}

// Validate は設定の妥当性を検証する
// 通知設定は ValidateNotification で別に検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}
	if c.Server.JPEGQuality < 1 || c.Server.JPEGQuality > 100 {
		return fmt.Errorf("無効なJPEG品質: %d", c.Server.JPEGQuality)
	}

	// カメラ設定の検証
	if c.Camera.Device == "" {
		return errors.New("カメラデバイスが設定されていません")
	}
	if c.Camera.MaxReadFailures < 0 {
		return fmt.Errorf("無効な最大読み込み失敗回数: %d", c.Camera.MaxReadFailures)
	}

	// 検知設定の検証
	d := c.Detection
	if !(d.AccumWeight > 0 && d.AccumWeight <= 1) {
		return fmt.Errorf("accum_weight は (0,1] の範囲で指定してください: %v", d.AccumWeight)
	}
	if d.Threshold < 1 || d.Threshold > 255 {
		return fmt.Errorf("無効な閾値: %d", d.Threshold)
	}
	if d.MinArea < 0 {
		return fmt.Errorf("無効な最小面積: %d", d.MinArea)
	}
	if d.WarmupFrames < 0 {
		return fmt.Errorf("無効なウォームアップフレーム数: %d", d.WarmupFrames)
	}
	if d.BlurKernel < 0 || (d.BlurKernel > 0 && d.BlurKernel%2 == 0) {
		return fmt.Errorf("ぼかしカーネルは0または正の奇数で指定してください: %d", d.BlurKernel)
	}
	if d.WorkingWidth <= 0 {
		return fmt.Errorf("無効な処理解像度の幅: %d", d.WorkingWidth)
	}

	if c.Pipeline.PollInterval < 0 {
		return fmt.Errorf("無効なポーリング間隔: %v", c.Pipeline.PollInterval)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}

	return nil
}

// ValidateNotification は通知設定の妥当性を検証する
// 失敗しても呼び出し側は通知を無効化して起動を続けられる
func (c *Config) ValidateNotification() error {
	return c.Notification.Validate()
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
