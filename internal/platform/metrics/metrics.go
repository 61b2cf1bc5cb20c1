package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lexrag"

// Recorder はパイプライン全体のPrometheusメトリクスを保持する。
// nil の Recorder に対する呼び出しはすべて何もしない。
type Recorder struct {
	registry *prometheus.Registry

	embeddingRequests *prometheus.CounterVec
	embeddingRetries  *prometheus.CounterVec
	embeddingLatency  *prometheus.HistogramVec
	batchFailures     prometheus.Counter
	queryCache        *prometheus.CounterVec

	retrievals      *prometheus.CounterVec
	degraded        *prometheus.CounterVec
	bestSimilarity  prometheus.Histogram
	generations     *prometheus.CounterVec
	generationTime  *prometheus.HistogramVec
	generationToken prometheus.Counter

	ingestedDocs   *prometheus.CounterVec
	ingestedChunks prometheus.Counter
	backfilled     *prometheus.CounterVec
}

// New は専用レジストリ上にメトリクスを登録した Recorder を返す
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		embeddingRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "requests_total",
			Help:      "Embedding provider calls by mode and outcome",
		}, []string{"provider", "mode", "outcome"}),
		embeddingRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "retries_total",
			Help:      "Embedding retries after retryable provider errors",
		}, []string{"provider", "reason"}),
		embeddingLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "request_duration_seconds",
			Help:      "Latency of a single embedding provider call",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"provider", "mode"}),
		batchFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "batch_failures_total",
			Help:      "Document batches whose vectors were reported as failed",
		}),
		queryCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "query_cache_total",
			Help:      "Query embedding cache lookups",
		}, []string{"result"}),
		retrievals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Retrievals by confidence level",
		}, []string{"confidence"}),
		degraded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "degraded_total",
			Help:      "Retrievals that degraded to an empty result",
		}, []string{"reason"}),
		bestSimilarity: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "best_similarity",
			Help:      "Cosine similarity of the first-ranked chunk",
			Buckets:   prometheus.LinearBuckets(0.3, 0.05, 14),
		}),
		generations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "requests_total",
			Help:      "Answer generations by mode and outcome",
		}, []string{"mode", "outcome"}),
		generationTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "request_duration_seconds",
			Help:      "Latency of the generative provider call",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"mode"}),
		generationToken: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "tokens_total",
			Help:      "Input plus output tokens reported by the generative provider",
		}),
		ingestedDocs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "documents_total",
			Help:      "Documents processed by the ingestion pipeline",
		}, []string{"outcome"}),
		ingestedChunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "chunks_total",
			Help:      "Chunks written by the ingestion pipeline",
		}),
		backfilled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "backfill_chunks_total",
			Help:      "Chunks processed by the embedding backfill",
		}, []string{"outcome"}),
	}
}

// Registry はテストやHTTP公開用にレジストリを返す
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler は /metrics 用のHTTPハンドラを返す
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) EmbeddingCall(provider, mode, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.embeddingRequests.WithLabelValues(provider, mode, outcome).Inc()
	r.embeddingLatency.WithLabelValues(provider, mode).Observe(d.Seconds())
}

func (r *Recorder) EmbeddingRetry(provider, reason string) {
	if r == nil {
		return
	}
	r.embeddingRetries.WithLabelValues(provider, reason).Inc()
}

func (r *Recorder) EmbeddingBatchFailed() {
	if r == nil {
		return
	}
	r.batchFailures.Inc()
}

// QueryCache は "hit" / "miss" / "error" を記録する
func (r *Recorder) QueryCache(result string) {
	if r == nil {
		return
	}
	r.queryCache.WithLabelValues(result).Inc()
}

func (r *Recorder) Retrieval(confidence string, best float64, hits int) {
	if r == nil {
		return
	}
	r.retrievals.WithLabelValues(confidence).Inc()
	if hits > 0 {
		r.bestSimilarity.Observe(best)
	}
}

func (r *Recorder) RetrievalDegraded(reason string) {
	if r == nil {
		return
	}
	r.degraded.WithLabelValues(reason).Inc()
}

func (r *Recorder) Generation(mode, outcome string, d time.Duration, tokens int) {
	if r == nil {
		return
	}
	r.generations.WithLabelValues(mode, outcome).Inc()
	r.generationTime.WithLabelValues(mode).Observe(d.Seconds())
	if tokens > 0 {
		r.generationToken.Add(float64(tokens))
	}
}

// IngestedDocument は "ok" / "skipped" / "failed" を記録する
func (r *Recorder) IngestedDocument(outcome string, chunks int) {
	if r == nil {
		return
	}
	r.ingestedDocs.WithLabelValues(outcome).Inc()
	if chunks > 0 {
		r.ingestedChunks.Add(float64(chunks))
	}
}

func (r *Recorder) Backfilled(outcome string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.backfilled.WithLabelValues(outcome).Add(float64(n))
}
