package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const mjpegBoundary = "frame"

const indexHTML = `<!DOCTYPE html>
<html lang="ja">
<head>
    <meta charset="UTF-8">
    <title>Banken - 動体検知カメラ</title>
</head>
<body>
    <h1>Banken 動体検知カメラ</h1>
    <img src="/video_feed" alt="ライブ映像">
    <p>ステータス: <a href="/api/status">/api/status</a></p>
    <p>ヘルスチェック: <a href="/health">/health</a></p>
</body>
</html>`

// handleIndex はライブ映像を埋め込んだページを返す
func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexHTML))
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// StatusResponse は /api/status の応答
type StatusResponse struct {
	Status      string     `json:"status"`
	Published   uint64     `json:"published"`
	LastCapture *time.Time `json:"last_capture,omitempty"`
	Motion      bool       `json:"motion"`
	Stopped     bool       `json:"stopped"`
	Uptime      string     `json:"uptime"`
	Timestamp   time.Time  `json:"timestamp"`
}

// handleStatus はステータス確認エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	stats := s.frames.Stats()

	resp := StatusResponse{
		Status:    "running",
		Published: stats.Published,
		Motion:    stats.Motion,
		Stopped:   s.stop.IsSet(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Timestamp: time.Now(),
	}
	if resp.Stopped {
		resp.Status = "stopping"
	}
	if stats.Published > 0 {
		last := stats.LastCapture
		resp.LastCapture = &last
	}

	c.JSON(http.StatusOK, resp)
}

// handleStop は管理用の停止要求を受け付ける
func (s *Server) handleStop(c *gin.Context) {
	s.log.Warn().Str("remote", c.ClientIP()).Msg("HTTP経由で停止が要求されました")
	s.stop.Set()
	c.JSON(http.StatusAccepted, gin.H{"status": "stopping"})
}

// handleSnapshot は最新フレームを1枚のJPEGとして返す
func (s *Server) handleSnapshot(c *gin.Context) {
	f, ok := s.frames.Snapshot()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "no_frame",
			"message": "フレームがまだありません",
		})
		return
	}

	data, err := f.EncodeJPEG(s.config.JPEGQuality)
	if err != nil {
		s.log.Error().Err(err).Msg("スナップショットのエンコードに失敗しました")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", data)
}

// handleVideoFeed はMJPEGストリームを配信する
// 新しいフレームが公開されたときだけ次のパートを送る
func (s *Server) handleVideoFeed(c *gin.Context) {
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ticker := time.NewTicker(s.opts.StreamInterval)
	defer ticker.Stop()

	var (
		lastSeq uint64
		sent    bool
	)
	clientGone := c.Request.Context().Done()

	c.Stream(func(w io.Writer) bool {
		for {
			select {
			case <-clientGone:
				return false
			case <-s.quit:
				return false
			case <-s.stop.Done():
				return false
			case <-ticker.C:
			}

			f, ok := s.frames.Snapshot()
			if !ok || (sent && f.Seq == lastSeq) {
				continue
			}

			data, err := f.EncodeJPEG(s.config.JPEGQuality)
			if err != nil {
				s.log.Warn().Err(err).Msg("ストリーム用のエンコードに失敗しました")
				continue
			}
			lastSeq, sent = f.Seq, true

			return writePart(w, data) == nil
		}
	})
}

// writePart はMJPEGの1パートを書き込む
func writePart(w io.Writer, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}
