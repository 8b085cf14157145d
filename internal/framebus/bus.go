// Package framebus は表示用の最新フレームを1枚だけ保持する
//
// 書き込みはパイプラインのゴルーチンのみ、読み出しは任意数のストリーム
// 配信ゴルーチンから行われる。ロックはフレームのコピー中だけ保持する。
package framebus

import (
	"sync"
	"time"

	"banken/internal/frame"
)

// Stats はバスの状態
type Stats struct {
	Published   uint64    // これまでに公開されたフレーム数
	LastCapture time.Time // 最新フレームのキャプチャ時刻
	Motion      bool      // 最新フレームで動体が検知されたか
}

// Bus は最新値セル
type Bus struct {
	mu        sync.RWMutex
	current   frame.Frame
	has       bool
	published uint64
}

// New は空のBusを作成する
func New() *Bus {
	return &Bus{}
}

// Publish はフレームを差し替える
// 呼び出し側は公開後にフレームの画素を書き換えてはならない
func (b *Bus) Publish(f frame.Frame) {
	b.mu.Lock()
	b.current = f
	b.has = true
	b.published++
	b.mu.Unlock()
}

// Snapshot は最新フレームのコピーを返す
// まだ何も公開されていなければ false を返す
func (b *Bus) Snapshot() (frame.Frame, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.has {
		return frame.Frame{}, false
	}
	return b.current.Clone(), true
}

// Stats は現在の統計を返す
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return Stats{
		Published:   b.published,
		LastCapture: b.current.Captured,
		Motion:      b.current.Motion,
	}
}
