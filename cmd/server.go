// Package main はPlantAIサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"plantai/internal/app"
	"plantai/internal/config"
)

func main() {
	// コマンドラインオプション
	var (
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 127.0.0.1)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 5000)")
		configPath = flag.String("config", "config.yaml", "設定ファイルのパス")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("PlantAI")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
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
	if err := cfg.Validate(); err != nil {
		log.Fatalf("設定が不正です: %v", err)
	}

	if err := app.Run(context.Background(), cfg); err != nil {
		log.Fatalf("サーバーの起動に失敗しました: %v", err)
	}
}
