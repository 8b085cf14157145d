// Package stop はプロセス全体で共有する協調的な停止フラグを提供する
package stop

import (
	"sync"
	"sync/atomic"
)

// Flag は一度だけ立てられる停止フラグ
// パイプラインは1サイクルごと、フレームソースは次の取得前に確認する
type Flag struct {
	set  atomic.Bool
	once sync.Once
	done chan struct{}
}

// NewFlag は新しいFlagを作成する
func NewFlag() *Flag {
	return &Flag{done: make(chan struct{})}
}

// Set はフラグを立てる。複数回呼んでも安全
func (f *Flag) Set() {
	f.once.Do(func() {
		f.set.Store(true)
		close(f.done)
	})
}

// IsSet はフラグが立っているかを返す
func (f *Flag) IsSet() bool {
	return f.set.Load()
}

// Done はフラグが立つとクローズされるチャンネルを返す
func (f *Flag) Done() <-chan struct{} {
	return f.done
}
