// Package frame はパイプライン内を流れる1枚の画像を表す
//
// Frame はバイト列を保持する値型で、gocv.Mat との相互変換を提供する。
// Mat はネイティブメモリを持つため、ゴルーチン間で共有する場合は
// 必ず Frame に変換してから渡す。
package frame

import (
	"errors"
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"
)

// ErrUnsupportedFormat は扱えないチャンネル数や深度の画像を示す
var ErrUnsupportedFormat = errors.New("サポートされていない画像形式")

// Frame はキャプチャされた1フレーム
type Frame struct {
	Width    int       // 画像幅
	Height   int       // 画像高さ
	Channels int       // 1: グレースケール, 3: BGR
	Pix      []byte    // 行優先でパックされた画素データ
	Captured time.Time // キャプチャ時刻
	Seq      uint64    // ソース内での通し番号

	// 動体検知の結果（パイプラインが注釈を付けた場合のみ）
	Motion bool
	Box    image.Rectangle
}

// Empty はフレームが画素を持たない場合にtrueを返す
func (f Frame) Empty() bool {
	return f.Width == 0 || f.Height == 0 || len(f.Pix) == 0
}

// Clone は画素データを複製した新しいFrameを返す
func (f Frame) Clone() Frame {
	out := f
	if f.Pix != nil {
		out.Pix = make([]byte, len(f.Pix))
		copy(out.Pix, f.Pix)
	}
	return out
}

// FromMat はMatの内容をコピーしてFrameを作成する
func FromMat(m gocv.Mat, captured time.Time) (Frame, error) {
	if m.Empty() {
		return Frame{}, fmt.Errorf("空のMatからフレームを作成できません")
	}

	channels := m.Channels()
	if _, err := matType(channels); err != nil {
		return Frame{}, err
	}
	if m.Type() != gocv.MatTypeCV8UC1 && m.Type() != gocv.MatTypeCV8UC3 {
		return Frame{}, fmt.Errorf("%w: mat type %v", ErrUnsupportedFormat, m.Type())
	}

	return Frame{
		Width:    m.Cols(),
		Height:   m.Rows(),
		Channels: channels,
		Pix:      m.ToBytes(),
		Captured: captured,
	}, nil
}

// ToMat はFrameの画素をコピーした新しいMatを返す
// 呼び出し側で Close する必要がある
func (f Frame) ToMat() (gocv.Mat, error) {
	if f.Empty() {
		return gocv.NewMat(), fmt.Errorf("空のフレームです")
	}

	mt, err := matType(f.Channels)
	if err != nil {
		return gocv.NewMat(), err
	}

	if len(f.Pix) != f.Width*f.Height*f.Channels {
		return gocv.NewMat(), fmt.Errorf("画素データの長さが不正です: got %d, want %d",
			len(f.Pix), f.Width*f.Height*f.Channels)
	}

	// NewMatFromBytes はスライスを参照するだけなので複製して切り離す
	view, err := gocv.NewMatFromBytes(f.Height, f.Width, mt, f.Pix)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("Matの作成に失敗: %w", err)
	}
	defer view.Close()

	return view.Clone(), nil
}

// EncodeJPEG はフレームをJPEGにエンコードする
func (f Frame) EncodeJPEG(quality int) ([]byte, error) {
	m, err := f.ToMat()
	if err != nil {
		return nil, err
	}
	defer m.Close()

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, m, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("JPEGエンコードに失敗: %w", err)
	}
	defer buf.Close()

	// NativeByteBuffer のメモリは Close で解放されるためコピーする
	data := buf.GetBytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func matType(channels int) (gocv.MatType, error) {
	switch channels {
	case 1:
		return gocv.MatTypeCV8UC1, nil
	case 3:
		return gocv.MatTypeCV8UC3, nil
	default:
		return 0, fmt.Errorf("%w: %dチャンネル", ErrUnsupportedFormat, channels)
	}
}
