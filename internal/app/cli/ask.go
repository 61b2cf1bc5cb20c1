package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/soluris/lexrag/internal/core/ask"
	"github.com/soluris/lexrag/internal/infra/memory"
	"github.com/soluris/lexrag/internal/infra/sourcefile"
	"github.com/soluris/lexrag/internal/platform/container"
)

// AskFlags は ask コマンドのフラグ
func AskFlags() []cli.Flag {
	return append(CommonFlags(),
		&cli.StringFlag{
			Name:  "jurisdiction",
			Usage: "管轄で絞り込み（CH または州コード、例: GE）",
		},
		&cli.StringFlag{
			Name:  "domain",
			Usage: "法分野で絞り込み（例: droit_du_bail）",
		},
		&cli.StringFlag{
			Name:  "history",
			Usage: "会話履歴のJSONファイル（[{\"role\":\"user\",\"content\":\"...\"}]）",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "回答をJSONで出力",
		},
		&cli.StringFlag{
			Name:  "local-manifest",
			Usage: "マニフェストをメモリ上に取り込んで回答（データベース不要）",
		},
	)
}

// askParams は ask コマンドの入力
type askParams struct {
	EnvFile       string
	MetricsAddr   string
	Question      string
	Jurisdiction  string
	LegalDomain   string
	HistoryFile   string
	LocalManifest string
	JSON          bool
}

// AskAction は質問応答コマンドのアクション
func AskAction(ctx context.Context, cmd *cli.Command) error {
	return runAsk(ctx, os.Stdout, askParams{
		EnvFile:       cmd.String("env"),
		MetricsAddr:   cmd.String("metrics-addr"),
		Question:      strings.Join(cmd.Args().Slice(), " "),
		Jurisdiction:  cmd.String("jurisdiction"),
		LegalDomain:   cmd.String("domain"),
		HistoryFile:   cmd.String("history"),
		LocalManifest: cmd.String("local-manifest"),
		JSON:          cmd.Bool("json"),
	})
}

func runAsk(ctx context.Context, w io.Writer, p askParams) error {
	question := strings.TrimSpace(p.Question)
	if question == "" {
		return errors.New("質問文を指定してください")
	}

	history, err := loadHistory(p.HistoryFile)
	if err != nil {
		return err
	}

	opts := AppOptions{MetricsAddr: p.MetricsAddr}
	if p.LocalManifest != "" {
		// 次元数 0 は検査なし。ベクトルはすべて同じプロバイダが作る
		opts.ContainerOptions = append(opts.ContainerOptions, container.WithContainerStore(memory.New(0)))
	} else {
		opts.ContainerOptions = append(opts.ContainerOptions, container.WithDegradedStore())
	}

	appCtx, err := NewAppContext(ctx, p.EnvFile, opts)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if p.LocalManifest != "" {
		if err := ingestLocalManifest(ctx, appCtx, p.LocalManifest); err != nil {
			return err
		}
	}

	appCtx.Logger().Info("Answering question",
		"jurisdiction", p.Jurisdiction,
		"domain", p.LegalDomain,
		"historyTurns", len(history),
		"degradedStore", appCtx.Container.Degraded,
	)

	answer, err := appCtx.Container.Ask.Ask(ctx, ask.Request{
		Question:     question,
		Jurisdiction: p.Jurisdiction,
		LegalDomain:  p.LegalDomain,
		History:      history,
	})
	if err != nil {
		return fmt.Errorf("質問応答に失敗: %w", err)
	}

	return renderAnswer(w, answer, p.JSON)
}

// ingestLocalManifest はマニフェストの文書をメモリストアに取り込み、その場で埋め込む
func ingestLocalManifest(ctx context.Context, appCtx *AppContext, path string) error {
	docs, err := sourcefile.LoadManifest(path)
	if err != nil {
		return fmt.Errorf("マニフェストの読み込みに失敗: %w", err)
	}

	pcfg := pipelineConfig(appCtx.Config.Ingestion)
	pcfg.InlineEmbed = true
	pcfg.SkipUnchanged = false

	stats, err := appCtx.Container.Pipeline(pcfg).Ingest(ctx, docs)
	if err != nil {
		return fmt.Errorf("マニフェストの取り込みに失敗: %w", err)
	}
	appCtx.Logger().Info("Local manifest ingested",
		"path", path,
		"documents", stats.Documents,
		"chunks", stats.Chunks,
		"embedded", stats.EmbeddedChunks,
		"failed", stats.Failed,
	)
	if stats.EmbeddingFailures > 0 {
		appCtx.Logger().Warn("Some chunks could not be embedded and will not be searched",
			"chunks", stats.EmbeddingFailures)
	}
	return nil
}

// loadHistory は会話履歴を読み込む（path が空なら履歴なし）
func loadHistory(path string) ([]ask.Turn, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("会話履歴の読み込みに失敗: %w", err)
	}
	var turns []ask.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("会話履歴のJSONが不正です: %w", err)
	}
	return turns, nil
}

// renderAnswer は回答を出力する
func renderAnswer(w io.Writer, answer *ask.Answer, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(answer)
	}

	fmt.Fprintln(w, answer.Text)

	if len(answer.Citations) > 0 {
		fmt.Fprintln(w, "\n--- 参照ソース ---")
		for i, c := range answer.Citations {
			mark := " "
			if c.Verified {
				mark = "✓"
			}
			line := fmt.Sprintf("[%d]%s %s", i+1, mark, c.Reference)
			if c.Title != "" {
				line += " - " + c.Title
			}
			if c.URL != "" {
				line += " <" + c.URL + ">"
			}
			fmt.Fprintln(w, line)
		}
	}

	status := fmt.Sprintf("\n信頼度: %s / 使用チャンク: %d / トークン: %d", answer.Confidence, answer.ChunksUsed, answer.Tokens)
	if answer.Degraded != "" {
		status += " / 劣化: " + string(answer.Degraded)
	}
	fmt.Fprintln(w, status)
	return nil
}
