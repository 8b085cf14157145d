package motion

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// connectedComponentsWithStats の統計列
const (
	statLeft = iota
	statTop
	statWidth
	statHeight
	statArea
)

// Box は画素座標での包含矩形（Max側も含む）
type Box struct {
	MinX, MinY int
	MaxX, MaxY int
}

// Rect は描画用に Max を排他的にした image.Rectangle を返す
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.MinX, b.MinY, b.MaxX+1, b.MaxY+1)
}

// union は2つの矩形を包含する最小の矩形を返す
func (b Box) union(o Box) Box {
	return Box{
		MinX: min(b.MinX, o.MinX),
		MinY: min(b.MinY, o.MinY),
		MaxX: max(b.MaxX, o.MaxX),
		MaxY: max(b.MaxY, o.MaxY),
	}
}

// Result は1フレーム分の検知結果
// Motion が true の場合のみ Mask と Box が有効で、Mask は Close が必要
type Result struct {
	Motion bool
	Box    Box
	Mask   gocv.Mat
}

// Close はマスクを解放する
func (r *Result) Close() error {
	if !r.Motion {
		return nil
	}
	r.Motion = false
	return r.Mask.Close()
}

// Settings は検知器のパラメータ
type Settings struct {
	AccumWeight float64 // 背景の更新重み (0, 1]
	Threshold   int     // 前景と判定する差分の下限
	MinArea     int     // 採用する連結成分の最小画素数
}

// Detector は背景差分で動体を検知する
type Detector struct {
	model     *BackgroundModel
	threshold int
	minArea   int
}

// NewDetector は新しいDetectorを作成する
func NewDetector(s Settings) (*Detector, error) {
	if s.Threshold < 1 || s.Threshold > 255 {
		return nil, fmt.Errorf("無効なしきい値: %d", s.Threshold)
	}
	if s.MinArea < 0 {
		return nil, fmt.Errorf("無効な最小面積: %d", s.MinArea)
	}

	model, err := NewBackgroundModel(s.AccumWeight)
	if err != nil {
		return nil, err
	}

	return &Detector{
		model:     model,
		threshold: s.Threshold,
		minArea:   s.MinArea,
	}, nil
}

// Update は背景モデルを更新する
// 検知結果にかかわらず毎サイクル Detect の後に呼び出す
func (d *Detector) Update(gray gocv.Mat) error {
	return d.model.Update(gray)
}

// Ready は背景が作られていて Detect を呼べる状態かを返す
func (d *Detector) Ready() bool {
	return d.model.Initialized()
}

// Detect は前景マスクの連結成分を調べ、最小面積以上の成分をすべて包む矩形を返す
// 背景が未初期化なら ErrNoBackground を返す
func (d *Detector) Detect(gray gocv.Mat) (Result, error) {
	mask, err := d.model.ForegroundMask(gray, d.threshold)
	if err != nil {
		mask.Close()
		return Result{}, fmt.Errorf("前景マスクの計算に失敗: %w", err)
	}

	box, found := d.boundingBox(mask)
	if !found {
		mask.Close()
		return Result{}, nil
	}

	return Result{Motion: true, Box: box, Mask: mask}, nil
}

// boundingBox は面積が minArea 以上の連結成分の和集合矩形を求める
func (d *Detector) boundingBox(mask gocv.Mat) (Box, bool) {
	labels := gocv.NewMat()
	defer labels.Close()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()

	n := gocv.ConnectedComponentsWithStats(mask, &labels, &stats, &centroids)

	var (
		box   Box
		found bool
	)
	// ラベル0は背景
	for i := 1; i < n; i++ {
		if int(stats.GetIntAt(i, statArea)) < d.minArea {
			continue
		}

		x := int(stats.GetIntAt(i, statLeft))
		y := int(stats.GetIntAt(i, statTop))
		c := Box{
			MinX: x,
			MinY: y,
			MaxX: x + int(stats.GetIntAt(i, statWidth)) - 1,
			MaxY: y + int(stats.GetIntAt(i, statHeight)) - 1,
		}

		if !found {
			box, found = c, true
			continue
		}
		box = box.union(c)
	}

	return box, found
}

// Close はネイティブリソースを解放する
func (d *Detector) Close() error {
	return d.model.Close()
}
