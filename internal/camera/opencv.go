package camera

import (
	"context"
	"fmt"
	"strconv"

	"gocv.io/x/gocv"
)

// OpenCVDevice は gocv の VideoCapture で読み込むデバイス
type OpenCVDevice struct {
	vc *gocv.VideoCapture
}

// OpenOpenCV は数値ならデバイス番号、それ以外はパスかURLとして開く
func OpenOpenCV(_ context.Context, settings Settings) (Device, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if id, convErr := strconv.Atoi(settings.Device); convErr == nil {
		vc, err = gocv.VideoCaptureDevice(id)
	} else {
		vc, err = gocv.OpenVideoCapture(settings.Device)
	}
	if err != nil {
		return nil, err
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("VideoCaptureを開けませんでした")
	}

	if settings.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(settings.Width))
	}
	if settings.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(settings.Height))
	}
	if settings.FPS > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(settings.FPS))
	}

	return &OpenCVDevice{vc: vc}, nil
}

func (d *OpenCVDevice) Read(m *gocv.Mat) bool {
	return d.vc.Read(m)
}

func (d *OpenCVDevice) Close() error {
	return d.vc.Close()
}
