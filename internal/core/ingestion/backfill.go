package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/soluris/lexrag/internal/core/corpus"
	"github.com/soluris/lexrag/internal/platform/metrics"
)

// DefaultBackfillBatchSize は1ページで読み込むチャンク数
const DefaultBackfillBatchSize = 200

// BackfillConfig はバックフィルの設定
type BackfillConfig struct {
	BatchSize int
	// All が true の場合は埋め込み済みのチャンクも再生成する
	All bool
	// SkipIndex が true の場合は完了後にベクトルインデックスを作らない
	SkipIndex bool
}

// BackfillStats はバックフィルの結果
type BackfillStats struct {
	Scanned    int
	Embedded   int
	Failed     int
	IndexBuilt bool
}

// Backfiller は埋め込み未生成のチャンクにベクトルを付与する
type Backfiller struct {
	store    corpus.Store
	embedder DocumentEmbedder
	config   BackfillConfig
	logger   *slog.Logger
	metrics  *metrics.Recorder
}

// BackfillOption は Backfiller のオプション設定
type BackfillOption func(*Backfiller)

// WithBackfillLogger は Backfiller にロガーを設定する
func WithBackfillLogger(logger *slog.Logger) BackfillOption {
	return func(b *Backfiller) {
		b.logger = logger
	}
}

// WithBackfillMetrics はメトリクスの記録先を設定する
func WithBackfillMetrics(m *metrics.Recorder) BackfillOption {
	return func(b *Backfiller) {
		b.metrics = m
	}
}

// NewBackfiller は新しいBackfillerを作成する
func NewBackfiller(store corpus.Store, embedder DocumentEmbedder, config BackfillConfig, opts ...BackfillOption) *Backfiller {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBackfillBatchSize
	}
	b := &Backfiller{
		store:    store,
		embedder: embedder,
		config:   config,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Run は Seq カーソルでページングしながら埋め込みを生成する。
// 失敗したチャンクは再試行せずカーソルを進める（次回の実行で再び対象になる）。
func (b *Backfiller) Run(ctx context.Context) (BackfillStats, error) {
	var st BackfillStats
	var cursor int64

	b.logger.Info("Starting embedding backfill", "batchSize", b.config.BatchSize, "all", b.config.All)

	for {
		if err := ctx.Err(); err != nil {
			return st, fmt.Errorf("backfill interrupted: %w", err)
		}

		page, err := b.store.PendingEmbeddings(ctx, cursor, b.config.BatchSize, b.config.All)
		if err != nil {
			return st, fmt.Errorf("failed to load pending chunks: %w", err)
		}
		if len(page) == 0 {
			break
		}
		st.Scanned += len(page)
		cursor = page[len(page)-1].Seq

		texts := make([]string, len(page))
		for i, c := range page {
			texts[i] = c.Text
		}
		res := b.embedder.EmbedDocuments(ctx, texts)

		updates := make([]corpus.EmbeddingUpdate, 0, len(page))
		for i, v := range res.Vectors {
			if v == nil {
				continue
			}
			updates = append(updates, corpus.EmbeddingUpdate{ChunkID: page[i].ID, Vector: v})
		}
		failed := len(page) - len(updates)

		if len(updates) > 0 {
			if err := b.store.SetEmbeddings(ctx, updates); err != nil {
				return st, fmt.Errorf("failed to store embeddings: %w", err)
			}
		}
		st.Embedded += len(updates)
		st.Failed += failed
		b.metrics.Backfilled("ok", len(updates))
		b.metrics.Backfilled("failed", failed)

		b.logger.Info("Backfilled page",
			"cursor", cursor,
			"embedded", len(updates),
			"failed", failed,
			"totalEmbedded", st.Embedded,
		)

		if len(page) < b.config.BatchSize {
			break
		}
	}

	if st.Embedded > 0 && !b.config.SkipIndex {
		if err := b.store.EnsureVectorIndex(ctx); err != nil {
			return st, fmt.Errorf("failed to build vector index: %w", err)
		}
		st.IndexBuilt = true
	}

	if st.Failed > 0 {
		b.logger.Warn("Backfill completed with failures",
			"scanned", st.Scanned,
			"embedded", st.Embedded,
			"failed", st.Failed,
		)
	} else {
		b.logger.Info("Backfill completed",
			"scanned", st.Scanned,
			"embedded", st.Embedded,
			"indexBuilt", st.IndexBuilt,
		)
	}
	return st, nil
}
