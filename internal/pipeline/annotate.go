package pipeline

import (
	"image"
	"image/color"
	"time"

	"gocv.io/x/gocv"

	"banken/internal/motion"
)

// TimestampLayout はフレームに重ねる時刻の書式
const TimestampLayout = "Monday 02 January 2006 03:04:05PM"

var annotationColor = color.RGBA{R: 255}

// drawTimestamp は左下に時刻を描く
func drawTimestamp(img *gocv.Mat, now time.Time) {
	org := image.Pt(10, img.Rows()-10)
	gocv.PutText(img, now.Format(TimestampLayout), org, gocv.FontHersheySimplex, 0.35, annotationColor, 1)
}

// drawBox は動体の包含矩形を描く。両端の画素を含む
func drawBox(img *gocv.Mat, b motion.Box) {
	gocv.Rectangle(img, image.Rect(b.MinX, b.MinY, b.MaxX, b.MaxY), annotationColor, 2)
}

// workingSize は幅を width にしたときの縦横比を保った大きさを返す
func workingSize(cols, rows, width int) image.Point {
	h := int(float64(rows) * float64(width) / float64(cols))
	return image.Pt(width, max(h, 1))
}
