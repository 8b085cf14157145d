package camera

import (
	"context"
	"errors"

	"gocv.io/x/gocv"
)

// ErrDeviceLost は連続した読み込み失敗によりデバイスを喪失したことを示す
var ErrDeviceLost = errors.New("カメラデバイスを喪失しました")

// Status はフレームソースの動作状態を表す
type Status string

const (
	StatusInactive Status = "inactive" // 停止中
	StatusActive   Status = "active"   // 取得中
	StatusError    Status = "error"    // デバイス喪失
)

// Device は1フレームずつ読み出せるカメラデバイス
type Device interface {
	// Read は次のフレームを m に読み込む。失敗したら false を返す
	Read(m *gocv.Mat) bool
	// Close はデバイスを解放する
	Close() error
}

// Settings はデバイスを開くための設定
type Settings struct {
	Backend string // opencv, ffmpeg
	Device  string // デバイス番号、デバイスパス、またはURL
	Width   int    // 画像幅 (0 でデバイスの既定値)
	Height  int    // 画像高さ (0 でデバイスの既定値)
	FPS     int    // フレームレート (0 でデバイスの既定値)
}

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// DeviceInfo はカメラデバイスの詳細情報を表す
type DeviceInfo struct {
	Device  string   // デバイスパス
	Name    string   // デバイス名
	Driver  string   // ドライバー名
	Formats []string // サポートされるピクセルフォーマット
}
