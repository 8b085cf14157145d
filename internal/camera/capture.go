package camera

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// FFmpegDevice は ffmpeg の image2pipe 出力からJPEGフレームを読み込むデバイス
// 読み込み側が遅れた場合は古いフレームを捨てる
type FFmpegDevice struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	frames  chan []byte
	done    chan struct{}
	timeout time.Duration

	closeOnce sync.Once
}

// ffmpegArgs はV4L2デバイスからMJPEGを連続出力する引数を組み立てる
func ffmpegArgs(s Settings) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-f", "v4l2"}
	if s.Width > 0 && s.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", s.Width, s.Height))
	}
	if s.FPS > 0 {
		args = append(args, "-framerate", strconv.Itoa(s.FPS))
	}
	return append(args,
		"-i", s.Device,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-",
	)
}

// OpenFFmpeg は ffmpeg を起動してデバイスを開く
// プロセスの寿命は Close まで続き、ctx は起動にだけ使う
func OpenFFmpeg(ctx context.Context, s Settings) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, "ffmpeg", ffmpegArgs(s)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpegの起動に失敗: %w", err)
	}

	timeout := 2 * time.Second
	if s.FPS > 0 {
		timeout = max(timeout, 10*time.Second/time.Duration(s.FPS))
	}

	d := &FFmpegDevice{
		cmd:     cmd,
		cancel:  cancel,
		frames:  make(chan []byte, 1),
		done:    make(chan struct{}),
		timeout: timeout,
	}
	go d.readLoop(stdout)
	return d, nil
}

// readLoop はパイプからJPEGを切り出して最新の1枚だけを残す
func (d *FFmpegDevice) readLoop(r io.Reader) {
	defer close(d.done)
	defer close(d.frames)

	chunk := make([]byte, 256*1024)
	var pending []byte
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			var frames [][]byte
			frames, pending = splitJPEG(append(pending, chunk[:n]...))
			for _, f := range frames {
				d.offer(f)
			}
		}
		if err != nil {
			return
		}
	}
}

// offer はチャンネルが埋まっていれば古いフレームを捨てて差し替える
func (d *FFmpegDevice) offer(f []byte) {
	for {
		select {
		case d.frames <- f:
			return
		default:
		}
		select {
		case <-d.frames:
		default:
		}
	}
}

// splitJPEG は完全なJPEGを切り出し、残りのバイト列を返す
// 返すフレームは入力とメモリを共有しない
func splitJPEG(data []byte) (frames [][]byte, rest []byte) {
	for {
		start := bytes.Index(data, jpegSOI)
		if start == -1 {
			// 末尾の 0xFF は次のチャンクの SOI の一部かもしれない
			if len(data) > 0 && data[len(data)-1] == 0xFF {
				return frames, append([]byte(nil), data[len(data)-1:]...)
			}
			return frames, nil
		}

		end := bytes.Index(data[start+2:], jpegEOI)
		if end == -1 {
			return frames, append([]byte(nil), data[start:]...)
		}
		end += start + 2 + len(jpegEOI)

		frame := make([]byte, end-start)
		copy(frame, data[start:end])
		frames = append(frames, frame)
		data = data[end:]
	}
}

func (d *FFmpegDevice) Read(m *gocv.Mat) bool {
	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	var data []byte
	select {
	case f, ok := <-d.frames:
		if !ok {
			return false
		}
		data = f
	case <-timer.C:
		return false
	}

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return false
	}
	defer img.Close()
	if img.Empty() {
		return false
	}

	img.CopyTo(m)
	return true
}

// Close は ffmpeg を停止する。複数回呼んでも安全
func (d *FFmpegDevice) Close() error {
	d.closeOnce.Do(func() {
		d.cancel()
		<-d.done
		// 停止させたので終了コードは見ない
		_ = d.cmd.Wait()
	})
	return nil
}
