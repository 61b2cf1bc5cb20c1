package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder

	assert.NotPanics(t, func() {
		r.EmbeddingCall("cohere", "query", "ok", time.Millisecond)
		r.EmbeddingRetry("cohere", "rate_limited")
		r.EmbeddingBatchFailed()
		r.QueryCache("hit")
		r.Retrieval("high", 0.7, 3)
		r.RetrievalDegraded("store_unavailable")
		r.Generation("grounded", "ok", time.Second, 100)
		r.IngestedDocument("ok", 4)
		r.Backfilled("ok", 10)
	})
	assert.Nil(t, r.Registry())
}

func TestRecorderCounts(t *testing.T) {
	r := New()

	r.Retrieval("high", 0.71, 2)
	r.Retrieval("none", 0, 0)
	r.Retrieval("high", 0.66, 1)
	r.IngestedDocument("ok", 3)
	r.IngestedDocument("failed", 0)
	r.Backfilled("failed", 96)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.retrievals.WithLabelValues("high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.retrievals.WithLabelValues("none")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.ingestedChunks))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ingestedDocs.WithLabelValues("failed")))
	assert.Equal(t, 96.0, testutil.ToFloat64(r.backfilled.WithLabelValues("failed")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.EmbeddingBatchFailed()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lexrag_embedding_batch_failures_total 1")
}
