package motion

import (
	"errors"
	"fmt"
	"image"

	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

var (
	// ErrNoBackground は背景が未初期化のまま前景マスクを要求した場合のエラー
	ErrNoBackground = errors.New("背景モデルが初期化されていません")

	// ErrSizeMismatch は背景と異なるサイズ・形式の画像が渡された場合のエラー
	ErrSizeMismatch = errors.New("背景モデルと画像のサイズが一致しません")
)

// morphIterations は収縮・膨張それぞれの適用回数
const morphIterations = 2

// BackgroundModel は指数加重移動平均による背景画像を保持する
//
// 単一のゴルーチンからのみ操作されることを前提としており、内部で排他制御はしない。
type BackgroundModel struct {
	accumWeight float64
	avg         gocv.Mat // CV_32F の累積画像
	initialized bool
	kernel      gocv.Mat
}

// NewBackgroundModel は新しいBackgroundModelを作成する
// accumWeight は (0, 1] の範囲で、小さいほど背景の追従が遅くなる
func NewBackgroundModel(accumWeight float64) (*BackgroundModel, error) {
	if !(accumWeight > 0 && accumWeight <= 1) {
		return nil, fmt.Errorf("無効なaccumWeight: %v", accumWeight)
	}

	return &BackgroundModel{
		accumWeight: accumWeight,
		avg:         gocv.NewMat(),
		kernel:      gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3)),
	}, nil
}

// Initialized は最初のフレームで背景が作られたかを返す
func (b *BackgroundModel) Initialized() bool {
	return b.initialized
}

// Update は画像を背景に混ぜ込む
// 初回呼び出しでは画像をそのまま背景として採用する
func (b *BackgroundModel) Update(img gocv.Mat) error {
	if img.Empty() {
		return fmt.Errorf("空の画像では背景を更新できません")
	}

	if !b.initialized {
		if img.Type() != gocv.MatTypeCV8UC1 && img.Type() != gocv.MatTypeCV8UC3 {
			return fmt.Errorf("%w: 8bit画像が必要です", ErrSizeMismatch)
		}
		img.ConvertTo(&b.avg, gocv.MatTypeCV32F)
		b.initialized = true
		return nil
	}

	if err := b.checkShape(img); err != nil {
		return err
	}

	f := gocv.NewMat()
	defer f.Close()
	img.ConvertTo(&f, gocv.MatTypeCV32F)

	// avg = (1 - w) * avg + w * img
	gocv.AddWeighted(b.avg, 1-b.accumWeight, f, b.accumWeight, 0, &b.avg)
	return nil
}

// ForegroundMask は背景との差分を二値化し、ノイズを除去したマスクを返す
// 差分が threshold 以上の画素が前景(255)になる。返り値は呼び出し側で Close する
func (b *BackgroundModel) ForegroundMask(img gocv.Mat, threshold int) (gocv.Mat, error) {
	if !b.initialized {
		return gocv.NewMat(), ErrNoBackground
	}
	if err := b.checkShape(img); err != nil {
		return gocv.NewMat(), err
	}

	// 背景を丸めて8bitに戻す
	bg := gocv.NewMat()
	defer bg.Close()
	b.avg.ConvertTo(&bg, gocv.MatTypeCV8U)

	delta := gocv.NewMat()
	defer delta.Close()
	gocv.AbsDiff(bg, img, &delta)

	// THRESH_BINARY は「より大きい」で判定するため1つ下げて「以上」にする
	mask := gocv.NewMat()
	gocv.Threshold(delta, &mask, float32(threshold-1), 255, gocv.ThresholdBinary)

	for i := 0; i < morphIterations; i++ {
		gocv.Erode(mask, &mask, b.kernel)
	}
	for i := 0; i < morphIterations; i++ {
		gocv.Dilate(mask, &mask, b.kernel)
	}

	return mask, nil
}

// Mean は背景画像の平均輝度を返す
func (b *BackgroundModel) Mean() (float64, error) {
	if !b.initialized {
		return 0, ErrNoBackground
	}
	return b.avg.Mean().Val1, nil
}

// Close はネイティブリソースを解放する
func (b *BackgroundModel) Close() error {
	b.initialized = false
	return multierr.Combine(b.avg.Close(), b.kernel.Close())
}

func (b *BackgroundModel) checkShape(img gocv.Mat) error {
	if img.Rows() != b.avg.Rows() || img.Cols() != b.avg.Cols() || img.Channels() != b.avg.Channels() {
		return fmt.Errorf("%w: background %dx%dx%d, image %dx%dx%d", ErrSizeMismatch,
			b.avg.Cols(), b.avg.Rows(), b.avg.Channels(),
			img.Cols(), img.Rows(), img.Channels())
	}
	if img.Type() != gocv.MatTypeCV8UC1 && img.Type() != gocv.MatTypeCV8UC3 {
		return fmt.Errorf("%w: 8bit画像が必要です", ErrSizeMismatch)
	}
	return nil
}
