package camera

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Opener はデバイスを開く関数の型
type Opener func(ctx context.Context, settings Settings) (Device, error)

// Factory はバックエンド名からデバイスを開く
type Factory struct {
	openers map[string]Opener
}

// NewFactory は標準のバックエンドを登録したファクトリーを作成する
func NewFactory() *Factory {
	f := &Factory{openers: make(map[string]Opener)}

	f.Register("opencv", OpenOpenCV)
	f.Register("ffmpeg", OpenFFmpeg)

	return f
}

// Register はバックエンドを登録する
func (f *Factory) Register(backend string, open Opener) {
	f.openers[strings.ToLower(backend)] = open
}

// Open は設定のバックエンドでデバイスを開く
func (f *Factory) Open(ctx context.Context, settings Settings) (Device, error) {
	if settings.Device == "" {
		return nil, fmt.Errorf("デバイスが指定されていません")
	}

	backend := strings.ToLower(settings.Backend)
	if backend == "" {
		backend = "opencv"
	}

	open, ok := f.openers[backend]
	if !ok {
		return nil, fmt.Errorf("サポートされていないバックエンド: %s", settings.Backend)
	}

	dev, err := open(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("デバイス %s を開けません (%s): %w", settings.Device, backend, err)
	}
	return dev, nil
}

// Backends は登録されているバックエンド名を返す
func (f *Factory) Backends() []string {
	names := make([]string, 0, len(f.openers))
	for name := range f.openers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
