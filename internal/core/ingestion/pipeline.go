package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soluris/lexrag/internal/core/chunk"
	"github.com/soluris/lexrag/internal/core/corpus"
	"github.com/soluris/lexrag/internal/core/embedding"
	"github.com/soluris/lexrag/internal/platform/metrics"
)

const (
	// DefaultWorkerCount はデフォルトの文書処理ワーカー数
	DefaultWorkerCount = 4
)

// Chunker は生文書をチャンクに分割する
type Chunker interface {
	Chunk(raw *chunk.RawDocument) ([]*corpus.Chunk, error)
}

// DocumentEmbedder は文書モードの埋め込みを生成する。
// 失敗したバッチは DocumentEmbeddings.Failures に記録される。
type DocumentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) embedding.DocumentEmbeddings
}

// PipelineConfig はパイプライン処理の設定
type PipelineConfig struct {
	// Workers は同時に処理する文書数
	Workers int
	// InlineEmbed は取り込み時にその場で埋め込みを生成するかどうか
	InlineEmbed bool
	// SkipUnchanged はコンテンツハッシュが変わらない文書をスキップするかどうか
	SkipUnchanged bool
	// ContentMaxChars は文書に保存する本文の上限文字数（0 は無制限）
	ContentMaxChars int
}

// DefaultPipelineConfig はデフォルトのパイプライン設定を返す
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Workers: DefaultWorkerCount,
	}
}

// Stats は取り込み処理の統計情報
type Stats struct {
	Documents         int // 正常に保存された文書数
	Skipped           int // 変更なしでスキップした文書数
	Failed            int // 失敗した文書数
	Chunks            int // 保存したチャンク数
	EmbeddedChunks    int // 取り込み時に埋め込みまで済んだチャンク数
	EmbeddingFailures int // 埋め込みに失敗したチャンク数（バックフィル対象として残る）
}

func (s *Stats) add(o Stats) {
	s.Documents += o.Documents
	s.Skipped += o.Skipped
	s.Failed += o.Failed
	s.Chunks += o.Chunks
	s.EmbeddedChunks += o.EmbeddedChunks
	s.EmbeddingFailures += o.EmbeddingFailures
}

// Pipeline は生文書をチャンク化してストアへ保存する
type Pipeline struct {
	store    corpus.Store
	chunker  Chunker
	embedder DocumentEmbedder
	config   PipelineConfig
	logger   *slog.Logger
	metrics  *metrics.Recorder
}

// PipelineOption は Pipeline のオプション設定
type PipelineOption func(*Pipeline)

// WithPipelineLogger は Pipeline にロガーを設定する
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithEmbedder はインライン埋め込みに使う埋め込み器を設定する
func WithEmbedder(e DocumentEmbedder) PipelineOption {
	return func(p *Pipeline) {
		p.embedder = e
	}
}

// WithPipelineMetrics はメトリクスの記録先を設定する
func WithPipelineMetrics(m *metrics.Recorder) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// NewPipeline は新しいPipelineを作成する
func NewPipeline(store corpus.Store, chunker Chunker, config PipelineConfig, opts ...PipelineOption) *Pipeline {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkerCount
	}

	p := &Pipeline{
		store:   store,
		chunker: chunker,
		config:  config,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.config.InlineEmbed && p.embedder == nil {
		p.logger.Warn("inline embedding requested without an embedder, leaving chunks for backfill")
		p.config.InlineEmbed = false
	}
	return p
}

// Ingest は文書群を並列に取り込む。
// 1文書の失敗はログと統計に残すだけでバッチ全体は止めない。
// error を返すのはコンテキストがキャンセルされた場合のみ。
func (p *Pipeline) Ingest(ctx context.Context, docs []*chunk.RawDocument) (Stats, error) {
	var (
		mu    sync.Mutex
		total Stats
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.config.Workers)

	for _, raw := range docs {
		if egCtx.Err() != nil {
			break
		}
		eg.Go(func() error {
			st := p.ingestOne(egCtx, raw)
			mu.Lock()
			total.add(st)
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	if total.Failed > 0 || total.EmbeddingFailures > 0 {
		p.logger.Warn("Ingestion completed with failures",
			"documents", total.Documents,
			"skipped", total.Skipped,
			"failed", total.Failed,
			"chunks", total.Chunks,
			"embeddingFailures", total.EmbeddingFailures,
		)
	} else {
		p.logger.Info("Ingestion completed",
			"documents", total.Documents,
			"skipped", total.Skipped,
			"chunks", total.Chunks,
			"embeddedChunks", total.EmbeddedChunks,
		)
	}

	if err := ctx.Err(); err != nil {
		return total, fmt.Errorf("ingestion interrupted: %w", err)
	}
	return total, nil
}

// ingestOne は1文書を処理する: チャンク化 → 埋め込み（任意） → 文書保存 → チャンク置換
func (p *Pipeline) ingestOne(ctx context.Context, raw *chunk.RawDocument) Stats {
	if raw == nil || raw.Document == nil {
		p.logger.Warn("Skipping input without document")
		p.metrics.IngestedDocument("failed", 0)
		return Stats{Failed: 1}
	}
	doc := raw.Document
	logger := p.logger.With("origin", doc.Origin, "externalID", doc.ExternalID)

	hash := computeContentHash(raw)

	if p.config.SkipUnchanged {
		prev, err := p.store.DocumentHash(ctx, doc.Origin, doc.ExternalID)
		if err != nil {
			logger.Warn("Failed to look up previous content hash", "error", err)
		} else if prev != "" && prev == hash {
			logger.Debug("Skipping unchanged document")
			p.metrics.IngestedDocument("skipped", 0)
			return Stats{Skipped: 1}
		}
	}

	chunks, err := p.chunker.Chunk(raw)
	if err != nil {
		logger.Warn("Failed to chunk document", "error", err)
		p.metrics.IngestedDocument("failed", 0)
		return Stats{Failed: 1}
	}

	if doc.Content == "" {
		doc.Content = documentContent(chunks, p.config.ContentMaxChars)
	}

	var st Stats
	if p.config.InlineEmbed {
		st.EmbeddedChunks, st.EmbeddingFailures = p.embed(ctx, logger, chunks)
	}

	// ハッシュはチャンク置換と同時に確定する。置換に失敗した文書は次回も取り込み直す
	id, err := p.store.UpsertDocument(ctx, doc)
	if err != nil {
		logger.Warn("Failed to upsert document", "error", err)
		p.metrics.IngestedDocument("failed", 0)
		return Stats{Failed: 1}
	}
	if err := p.store.ReplaceChunks(ctx, id, hash, chunks); err != nil {
		logger.Warn("Failed to replace chunks", "documentID", id, "error", err)
		p.metrics.IngestedDocument("failed", 0)
		return Stats{Failed: 1}
	}

	doc.ContentHash = hash
	st.Documents = 1
	st.Chunks = len(chunks)
	p.metrics.IngestedDocument("ok", len(chunks))
	logger.Debug("Ingested document", "documentID", id, "chunks", len(chunks))
	return st
}

// embed はチャンクに埋め込みを付与する。失敗分は nil のまま残し、後でバックフィルされる。
func (p *Pipeline) embed(ctx context.Context, logger *slog.Logger, chunks []*corpus.Chunk) (int, int) {
	if len(chunks) == 0 {
		return 0, 0
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	res := p.embedder.EmbedDocuments(ctx, texts)
	embedded := 0
	for i, v := range res.Vectors {
		if v != nil {
			chunks[i].Embedding = v
			embedded++
		}
	}
	failed := len(chunks) - embedded
	if failed > 0 {
		logger.Warn("Some chunks were not embedded",
			"failed", failed,
			"batches", len(res.Failures),
		)
	}
	return embedded, failed
}

// documentContent はチャンク本文を連結して文書の本文とする
func documentContent(chunks []*corpus.Chunk, maxChars int) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, c.Text)
	}
	content := strings.Join(parts, "\n\n")
	if maxChars > 0 {
		if r := []rune(content); len(r) > maxChars {
			content = string(r[:maxChars])
		}
	}
	return content
}

// computeContentHash は本文、事前分割チャンク、文書属性のSHA256ハッシュを計算する。
// Content はパイプラインが埋めるため含めない。
func computeContentHash(raw *chunk.RawDocument) string {
	h := sha256.New()
	h.Write([]byte(raw.Body))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(append([]string{string(raw.Format), string(raw.Structure)}, raw.Selectors...), "\x1f")))
	for _, r := range raw.Rough {
		h.Write([]byte{0})
		h.Write([]byte(strings.Join([]string{string(r.Kind), r.SourceRef, r.Text}, "\x1f")))
	}
	if doc := raw.Document; doc != nil {
		published := ""
		if doc.PublishedAt != nil {
			published = doc.PublishedAt.UTC().Format(time.RFC3339)
		}
		h.Write([]byte{0})
		h.Write([]byte(strings.Join([]string{
			string(doc.Kind), doc.Jurisdiction, doc.LegalDomain, doc.Language,
			doc.Title, doc.Reference, doc.Abstract, doc.URL, published,
		}, "\x1f")))
		// json.Marshal はマップのキーを整列するので順序に依存しない
		if len(doc.Metadata) > 0 {
			meta, err := json.Marshal(doc.Metadata)
			if err != nil {
				meta = []byte(fmt.Sprint(doc.Metadata))
			}
			h.Write([]byte{0})
			h.Write(meta)
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
