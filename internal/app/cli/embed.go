package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/soluris/lexrag/internal/core/corpus"
	"github.com/soluris/lexrag/internal/core/ingestion"
)

// EmbedFlags は embed コマンドのフラグ
func EmbedFlags() []cli.Flag {
	return append(CommonFlags(),
		&cli.BoolFlag{
			Name:  "all",
			Usage: "埋め込み済みのチャンクも含めてすべて再生成",
		},
		&cli.BoolFlag{
			Name:  "stats",
			Usage: "統計のみ表示して終了",
		},
		&cli.BoolFlag{
			Name:  "skip-index",
			Usage: "完了後にベクトルインデックスを作成しない",
		},
	)
}

// EmbedAction は埋め込みのバックフィルコマンドのアクション
func EmbedAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	all := cmd.Bool("all")

	appCtx, err := NewAppContext(ctx, envFile, optionsFromCommand(cmd))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	store := appCtx.Container.Store
	before, err := store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("統計の取得に失敗: %w", err)
	}
	renderStats(os.Stdout, before)

	if cmd.Bool("stats") {
		return nil
	}
	if before.Pending() == 0 && !all {
		fmt.Println("埋め込みが必要なチャンクはありません")
		return nil
	}

	backfiller := appCtx.Container.Backfiller(ingestion.BackfillConfig{
		BatchSize: appCtx.Config.Ingestion.BackfillBatch,
		All:       all,
		SkipIndex: cmd.Bool("skip-index"),
	})
	result, err := backfiller.Run(ctx)
	if err != nil {
		return fmt.Errorf("埋め込みの生成に失敗: %w", err)
	}

	fmt.Fprintf(os.Stdout, "\n走査: %d / 埋め込み: %d / 失敗: %d\n", result.Scanned, result.Embedded, result.Failed)
	if result.IndexBuilt {
		fmt.Println("ベクトルインデックスを作成しました")
	}

	after, err := store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("統計の取得に失敗: %w", err)
	}
	renderStats(os.Stdout, after)
	return nil
}

// IndexAction はベクトルインデックス作成コマンドのアクション
func IndexAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile, optionsFromCommand(cmd))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.Store.EnsureVectorIndex(ctx); err != nil {
		return fmt.Errorf("ベクトルインデックスの作成に失敗: %w", err)
	}
	fmt.Println("ベクトルインデックスを作成しました")
	return nil
}

// StatsAction はコーパス統計の表示コマンドのアクション
func StatsAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile, optionsFromCommand(cmd))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	stats, err := appCtx.Container.Store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("統計の取得に失敗: %w", err)
	}
	renderStats(os.Stdout, stats)
	return nil
}

// renderStats はコーパス統計をテーブル表示する
func renderStats(w io.Writer, stats *corpus.Stats) {
	coverage := 0.0
	if stats.Chunks > 0 {
		coverage = float64(stats.Embedded) / float64(stats.Chunks) * 100
	}

	table := tablewriter.NewWriter(w)
	table.Header("項目", "件数")
	table.Append("文書", fmt.Sprintf("%d", stats.Documents))
	table.Append("チャンク", fmt.Sprintf("%d", stats.Chunks))
	table.Append("埋め込み済み", fmt.Sprintf("%d (%.1f%%)", stats.Embedded, coverage))
	table.Append("未埋め込み", fmt.Sprintf("%d", stats.Pending()))

	kinds := make([]string, 0, len(stats.ByKind))
	for kind := range stats.ByKind {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		table.Append("種別: "+kind, fmt.Sprintf("%d", stats.ByKind[corpus.DocKind(kind)]))
	}

	jurisdictions := make([]string, 0, len(stats.ByJurisdiction))
	for j := range stats.ByJurisdiction {
		jurisdictions = append(jurisdictions, j)
	}
	sort.Strings(jurisdictions)
	for _, j := range jurisdictions {
		table.Append("管轄: "+j, fmt.Sprintf("%d", stats.ByJurisdiction[j]))
	}

	table.Render()
}
