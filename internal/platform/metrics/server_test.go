package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeListener(t *testing.T) {
	r := New()
	r.IngestedDocument("ok", 3)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := r.ServeListener(ctx, ln, nil)
	defer stop()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "lexrag_ingestion_documents_total")

	stop()
	stop()
}

func TestServe_InvalidAddr(t *testing.T) {
	_, err := New().Serve(context.Background(), "not-an-address", nil)
	assert.Error(t, err)
}
