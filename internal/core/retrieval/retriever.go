package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/soluris/lexrag/internal/core/corpus"
	"github.com/soluris/lexrag/internal/platform/metrics"
)

const (
	DefaultTopK           = 10
	DefaultRelevanceFloor = 0.35
	DefaultHighConfidence = 0.55
)

// Confidence は検索結果の確からしさの粗い分類
type Confidence string

const (
	ConfidenceNone     Confidence = "none"
	ConfidenceModerate Confidence = "moderate"
	ConfidenceHigh     Confidence = "high"
)

// DegradedReason は空の結果になった理由（正常時は空文字）
type DegradedReason string

const (
	DegradedNone                 DegradedReason = ""
	DegradedEmbeddingUnavailable DegradedReason = "embedding_unavailable"
	DegradedStoreUnavailable     DegradedReason = "store_unavailable"
)

// QueryEmbedder はクエリモードの埋め込み
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher はベクトル検索
type Searcher interface {
	Search(ctx context.Context, params corpus.SearchParams) ([]*corpus.RetrievedChunk, error)
}

// Query は検索要求
type Query struct {
	Question     string
	Jurisdiction string // 州コード。空または "CH" は連邦
	LegalDomain  string
}

// Result は検索結果。劣化時も error ではなくこの値で表す
type Result struct {
	Chunks         []*corpus.RetrievedChunk
	Confidence     Confidence
	BestSimilarity float64
	Degraded       DegradedReason
	// Relaxed は管轄フィルタを外した再検索の結果であることを示す
	Relaxed bool
	// EmbeddedText は実際に埋め込んだ（注釈付きの）質問文
	EmbeddedText string
}

// Config は検索の閾値設定
type Config struct {
	TopK           int
	RelevanceFloor float64
	HighConfidence float64
	AnnotateQuery  bool
}

// DefaultConfig はデフォルトの検索設定を返す
func DefaultConfig() Config {
	return Config{
		TopK:           DefaultTopK,
		RelevanceFloor: DefaultRelevanceFloor,
		HighConfidence: DefaultHighConfidence,
		AnnotateQuery:  true,
	}
}

// Retriever は質問を埋め込み、検索し、信頼度を判定する
type Retriever struct {
	embedder QueryEmbedder
	searcher Searcher
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Recorder
}

// Option は Retriever のオプション設定
type Option func(*Retriever)

// WithRetrieverLogger はロガーを設定する
func WithRetrieverLogger(logger *slog.Logger) Option {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics はメトリクスの記録先を設定する
func WithMetrics(m *metrics.Recorder) Option {
	return func(r *Retriever) {
		r.metrics = m
	}
}

// New は新しいRetrieverを作成する
func New(embedder QueryEmbedder, searcher Searcher, cfg Config, opts ...Option) (*Retriever, error) {
	if embedder == nil || searcher == nil {
		return nil, errors.New("retriever requires an embedder and a searcher")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.HighConfidence < cfg.RelevanceFloor {
		return nil, fmt.Errorf("high confidence threshold %.2f below relevance floor %.2f", cfg.HighConfidence, cfg.RelevanceFloor)
	}

	r := &Retriever{
		embedder: embedder,
		searcher: searcher,
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Retrieve は質問に関連するチャンクを類似度順に返す。
// 埋め込み・ストアの失敗は Degraded を設定した空の結果になる。
func (r *Retriever) Retrieve(ctx context.Context, q Query) Result {
	text := r.annotate(q)
	res := Result{Confidence: ConfidenceNone, EmbeddedText: text}

	vector, err := r.embedder.EmbedQuery(ctx, text)
	if err != nil {
		r.logger.Warn("query embedding unavailable, continuing without context", "error", err)
		return r.degrade(res, DegradedEmbeddingUnavailable)
	}

	filter := corpus.Filter{
		Jurisdiction: strings.ToUpper(strings.TrimSpace(q.Jurisdiction)),
		LegalDomain:  q.LegalDomain,
	}

	chunks, err := r.search(ctx, vector, filter)
	if err != nil {
		r.logger.Warn("vector search failed, continuing without context", "error", err)
		return r.degrade(res, DegradedStoreUnavailable)
	}

	// 該当がなければ一度だけ管轄フィルタを外して再検索する（分野フィルタは残す）
	if len(chunks) == 0 && filter.Jurisdiction != "" {
		filter.Jurisdiction = ""
		chunks, err = r.search(ctx, vector, filter)
		if err != nil {
			r.logger.Warn("relaxed vector search failed", "error", err)
			return r.degrade(res, DegradedStoreUnavailable)
		}
		res.Relaxed = true
	}

	res.Chunks = chunks
	if len(chunks) > 0 {
		res.BestSimilarity = chunks[0].Similarity
	}
	res.Confidence = r.classify(res.BestSimilarity, len(chunks))

	r.metrics.Retrieval(string(res.Confidence), res.BestSimilarity, len(chunks))
	r.logger.Debug("retrieval completed",
		"hits", len(chunks),
		"best", res.BestSimilarity,
		"confidence", res.Confidence,
		"relaxed", res.Relaxed,
	)
	return res
}

func (r *Retriever) search(ctx context.Context, vector []float32, filter corpus.Filter) ([]*corpus.RetrievedChunk, error) {
	chunks, err := r.searcher.Search(ctx, corpus.SearchParams{
		Vector:        vector,
		K:             r.cfg.TopK,
		Filter:        filter,
		MinSimilarity: r.cfg.RelevanceFloor,
	})
	if err != nil {
		return nil, err
	}

	// ストア実装に依らず下限と件数を保証する
	out := make([]*corpus.RetrievedChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Similarity < r.cfg.RelevanceFloor {
			continue
		}
		out = append(out, c)
		if len(out) == r.cfg.TopK {
			break
		}
	}
	return out, nil
}

func (r *Retriever) classify(best float64, hits int) Confidence {
	switch {
	case hits == 0:
		return ConfidenceNone
	case best >= r.cfg.HighConfidence:
		return ConfidenceHigh
	default:
		return ConfidenceModerate
	}
}

func (r *Retriever) degrade(res Result, reason DegradedReason) Result {
	res.Degraded = reason
	res.Chunks = nil
	res.Confidence = ConfidenceNone
	r.metrics.RetrievalDegraded(string(reason))
	r.metrics.Retrieval(string(ConfidenceNone), 0, 0)
	return res
}

// annotate は州・分野の指定を質問文に添える（埋め込みを該当法域に寄せる）
func (r *Retriever) annotate(q Query) string {
	text := strings.TrimSpace(q.Question)
	if !r.cfg.AnnotateQuery {
		return text
	}
	if isCantonal(q.Jurisdiction) {
		text += fmt.Sprintf(" (Canton: %s)", strings.ToUpper(q.Jurisdiction))
	}
	if q.LegalDomain != "" {
		text += fmt.Sprintf(" (Domaine: %s)", q.LegalDomain)
	}
	return text
}

func isCantonal(jurisdiction string) bool {
	return jurisdiction != "" && !strings.EqualFold(jurisdiction, corpus.FederalJurisdiction)
}
