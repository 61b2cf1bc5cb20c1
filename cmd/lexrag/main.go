package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	appcli "github.com/soluris/lexrag/internal/app/cli"
	"github.com/soluris/lexrag/internal/platform/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 設定を読むまでの仮のロガー（回答本文と混ざらないよう標準エラーへ）
	logger.New(logger.DefaultConfig())

	app := &cli.Command{
		Name:  "lexrag",
		Usage: "スイス法（連邦法・州法・判例）を根拠に回答する法律Q&A基盤",
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "法令・判例を取り込んでチャンク化",
				Flags:  appcli.IngestFlags(),
				Action: appcli.IngestAction,
			},
			{
				Name:   "embed",
				Usage:  "未生成のチャンク埋め込みをバックフィル",
				Flags:  appcli.EmbedFlags(),
				Action: appcli.EmbedAction,
			},
			{
				Name:   "index",
				Usage:  "ベクトルインデックス（HNSW）を作成",
				Flags:  appcli.CommonFlags(),
				Action: appcli.IndexAction,
			},
			{
				Name:      "ask",
				Usage:     "質問に回答",
				ArgsUsage: "QUESTION",
				Flags:     appcli.AskFlags(),
				Action:    appcli.AskAction,
			},
			{
				Name:   "stats",
				Usage:  "コーパスの統計を表示",
				Flags:  appcli.CommonFlags(),
				Action: appcli.StatsAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
