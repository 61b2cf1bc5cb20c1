package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/soluris/lexrag/internal/core/chunk"
	"github.com/soluris/lexrag/internal/core/ingestion"
	"github.com/soluris/lexrag/internal/infra/sourcefile"
	"github.com/soluris/lexrag/pkg/config"
)

// IngestFlags は ingest コマンドのフラグ
func IngestFlags() []cli.Flag {
	return append(CommonFlags(),
		&cli.StringFlag{
			Name:  "fedlex",
			Usage: "Fedlex法令JSONのディレクトリ",
		},
		&cli.StringFlag{
			Name:  "juris",
			Usage: "判例バッチJSONのディレクトリ",
		},
		&cli.StringFlag{
			Name:  "manifest",
			Usage: "州法などの生ファイルを列挙したYAMLマニフェスト",
		},
		&cli.BoolFlag{
			Name:  "embed",
			Usage: "取り込み時にその場で埋め込みを生成",
		},
		&cli.BoolFlag{
			Name:  "skip-unchanged",
			Usage: "コンテンツハッシュが変わらない文書をスキップ",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "同時に処理する文書数（省略時は INGEST_WORKERS）",
		},
	)
}

// sourcePaths は取り込み元の指定
type sourcePaths struct {
	FedlexDir string
	JurisDir  string
	Manifest  string
}

func (p sourcePaths) empty() bool {
	return p.FedlexDir == "" && p.JurisDir == "" && p.Manifest == ""
}

// IngestAction は法令・判例の取り込みコマンドのアクション
func IngestAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	paths := sourcePaths{
		FedlexDir: cmd.String("fedlex"),
		JurisDir:  cmd.String("juris"),
		Manifest:  cmd.String("manifest"),
	}
	if paths.empty() {
		return errors.New("--fedlex, --juris, --manifest のいずれかを指定してください")
	}

	appCtx, err := NewAppContext(ctx, envFile, optionsFromCommand(cmd))
	if err != nil {
		return err
	}
	defer appCtx.Close()
	log := appCtx.Logger()

	docs, err := loadSources(log, paths)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println("取り込み対象の文書がありません")
		return nil
	}

	pcfg := pipelineConfig(appCtx.Config.Ingestion)
	if cmd.Bool("embed") {
		pcfg.InlineEmbed = true
	}
	if cmd.Bool("skip-unchanged") {
		pcfg.SkipUnchanged = true
	}
	if workers := cmd.Int("workers"); workers > 0 {
		pcfg.Workers = workers
	}

	log.Info("Starting ingestion",
		"documents", len(docs),
		"workers", pcfg.Workers,
		"inlineEmbed", pcfg.InlineEmbed,
		"skipUnchanged", pcfg.SkipUnchanged,
	)

	stats, err := appCtx.Container.Pipeline(pcfg).Ingest(ctx, docs)
	if err != nil {
		return fmt.Errorf("取り込みに失敗: %w", err)
	}

	printIngestStats(os.Stdout, stats)
	if stats.Failed > 0 {
		log.Warn("Some documents failed to ingest", "failed", stats.Failed)
	}
	return nil
}

// pipelineConfig は設定値からパイプライン設定を作る
func pipelineConfig(cfg config.IngestionConfig) ingestion.PipelineConfig {
	pcfg := ingestion.DefaultPipelineConfig()
	if cfg.Workers > 0 {
		pcfg.Workers = cfg.Workers
	}
	pcfg.InlineEmbed = cfg.InlineEmbed
	pcfg.SkipUnchanged = cfg.SkipUnchanged
	pcfg.ContentMaxChars = cfg.ContentMaxChar
	return pcfg
}

// loadSources は指定された取り込み元をすべて読み込む
func loadSources(log *slog.Logger, paths sourcePaths) ([]*chunk.RawDocument, error) {
	var docs []*chunk.RawDocument

	if paths.FedlexDir != "" {
		loaded, err := sourcefile.LoadFedlexDir(paths.FedlexDir)
		if err != nil {
			return nil, fmt.Errorf("Fedlexデータの読み込みに失敗: %w", err)
		}
		log.Info("Loaded Fedlex acts", "dir", paths.FedlexDir, "documents", len(loaded))
		docs = append(docs, loaded...)
	}

	if paths.JurisDir != "" {
		loaded, err := sourcefile.LoadJurisprudenceDir(paths.JurisDir)
		if err != nil {
			return nil, fmt.Errorf("判例データの読み込みに失敗: %w", err)
		}
		log.Info("Loaded decisions", "dir", paths.JurisDir, "documents", len(loaded))
		docs = append(docs, loaded...)
	}

	if paths.Manifest != "" {
		loaded, err := sourcefile.LoadManifest(paths.Manifest)
		if err != nil {
			return nil, fmt.Errorf("マニフェストの読み込みに失敗: %w", err)
		}
		log.Info("Loaded manifest", "path", paths.Manifest, "documents", len(loaded))
		docs = append(docs, loaded...)
	}

	return docs, nil
}

func printIngestStats(w io.Writer, stats ingestion.Stats) {
	fmt.Fprintf(w, "保存: %d 文書 / スキップ: %d / 失敗: %d\n", stats.Documents, stats.Skipped, stats.Failed)
	fmt.Fprintf(w, "チャンク: %d（埋め込み済み %d、埋め込み失敗 %d）\n",
		stats.Chunks, stats.EmbeddedChunks, stats.EmbeddingFailures)
	if pending := stats.Chunks - stats.EmbeddedChunks; pending > 0 {
		fmt.Fprintf(w, "未埋め込みの %d チャンクは `lexrag embed` で処理できます\n", pending)
	}
}
