// Package main はBanken動体検知カメラのサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"banken/internal/app"
	"banken/internal/camera"
	"banken/internal/config"
	"banken/internal/logging"
)

func main() {
	// コマンドラインオプション
	var (
		configPath  = flag.String("config", "", "YAML設定ファイルのパス")
		host        = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port        = flag.Int("port", 0, "サーバーのポート (デフォルト: 5555)")
		device      = flag.String("device", "", "カメラデバイス (番号、パス、またはURL)")
		listDevices = flag.Bool("list-devices", false, "利用可能なカメラデバイスを表示して終了")
		help        = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("Banken - 動体検知カメラ")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if *listDevices {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := printDevices(ctx, os.Stdout, camera.NewLinuxDiscovery()); err != nil {
			log.Fatalf("デバイスの検出に失敗しました: %v", err)
		}
		return
	}

	// 設定を読み込む
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *device != "" {
		cfg.Camera.Device = *device
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("設定が不正です: %v", err)
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

	logger.Info().
		Str("addr", cfg.ServerAddress()).
		Str("device", cfg.Camera.Device).
		Str("backend", cfg.Camera.Backend).
		Msg("Banken を起動します")

	runErr := a.Run(ctx)
	if err := a.Close(); err != nil {
		logger.Error().Err(err).Msg("終了処理に失敗しました")
	}
	if runErr != nil {
		logger.Error().Err(runErr).Msg("異常終了しました")
		os.Exit(1)
	}
}

// printDevices は検出したデバイスとその詳細を一覧表示する
func printDevices(ctx context.Context, w io.Writer, d camera.Discovery) error {
	devices, err := d.ScanDevices(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(w, "カメラデバイスが見つかりません")
		return nil
	}

	for _, dev := range devices {
		info, err := d.GetDeviceInfo(ctx, dev)
		if err != nil {
			fmt.Fprintf(w, "%s\t(詳細を取得できません: %v)\n", dev, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", dev, info.Name, info.Driver, strings.Join(info.Formats, ","))
	}
	return nil
}
