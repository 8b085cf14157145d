// Package logging はアプリケーション全体で使うロガーを組み立てる
//
// ロガーは main で一度だけ作成し、各コンポーネントへコンストラクタ経由で渡す。
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config はログ出力の設定
type Config struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// DefaultConfig はデフォルトのログ設定を返す
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "console",
	}
}

// New は設定に従ってロガーを作成する
func New(cfg Config, out io.Writer) (zerolog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	if out == nil {
		out = os.Stderr
	}

	switch strings.ToLower(cfg.Format) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("無効なログ形式: %s", cfg.Format)
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger(), nil
}

// ParseLevel はログレベル文字列を zerolog.Level に変換する
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("無効なログレベル: %s", s)
	}
}

// Component はコンポーネント名を付けた子ロガーを返す
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
