package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"banken/internal/app"
	"banken/internal/config"
	"banken/internal/logging"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load(os.Getenv("BANKEN_CONFIG"))
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		log.Fatalf("ロガーの作成に失敗しました: %v", err)
	}

	// シグナルで停止する
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("初期化に失敗しました")
	}

	runErr := a.Run(ctx)
	if err := a.Close(); err != nil {
		logger.Error().Err(err).Msg("終了処理に失敗しました")
	}
	if runErr != nil {
		logger.Error().Err(runErr).Msg("異常終了しました")
		os.Exit(1)
	}
}
