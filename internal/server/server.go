package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"banken/internal/config"
	"banken/internal/frame"
	"banken/internal/framebus"
	"banken/internal/stop"
)

// FrameReader は配信する最新フレームの取得元
type FrameReader interface {
	Snapshot() (frame.Frame, bool)
	Stats() framebus.Stats
}

// Options はサーバーの任意設定
type Options struct {
	// StreamInterval はMJPEGストリームが新しいフレームを確認する間隔
	StreamInterval time.Duration
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config  config.ServerConfig
	addr    string
	frames  FrameReader
	stop    *stop.Flag
	log     zerolog.Logger
	opts    Options
	started time.Time

	engine     *gin.Engine
	httpServer *http.Server

	quit     chan struct{}
	quitOnce sync.Once
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, frames FrameReader, stopFlag *stop.Flag, log zerolog.Logger, opts Options) *Server {
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = 50 * time.Millisecond
	}
	if stopFlag == nil {
		stopFlag = stop.NewFlag()
	}

	s := &Server{
		config:  cfg.Server,
		addr:    cfg.ServerAddress(),
		frames:  frames,
		stop:    stopFlag,
		log:     log,
		opts:    opts,
		started: time.Now(),
		quit:    make(chan struct{}),
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	s.engine.GET("/", s.handleIndex)
	s.engine.GET("/video_feed", s.handleVideoFeed)
	s.engine.GET("/snapshot.jpg", s.handleSnapshot)

	// ヘルスチェックエンドポイント
	s.engine.GET("/health", s.handleHealth)

	// APIエンドポイント
	api := s.engine.Group("/api")
	api.GET("/status", s.handleStatus)
	api.POST("/stop", s.handleStop)
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// requestLogger はリクエストをデバッグレベルで記録するミドルウェア
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("HTTPリクエスト")
	}
}

// Start はサーバーを起動し、ctx のキャンセルか停止フラグまで待つ
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve は与えられたリスナーで待ち受ける
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	serveErr := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("HTTPサーバーを起動しています")
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("コンテキストがキャンセルされました")
	case <-s.stop.Done():
		s.log.Info().Msg("停止要求を受け付けました")
	case err := <-serveErr:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
// 配信中のストリームは先に終了させる
func (s *Server) Shutdown() error {
	s.log.Info().Msg("サーバーをシャットダウンしています...")
	s.quitOnce.Do(func() { close(s.quit) })

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.log.Info().Msg("サーバーが正常にシャットダウンされました")
	return nil
}
