package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soluris/lexrag/internal/core/embedding"
	"github.com/soluris/lexrag/internal/core/generation"
)

// newTestEmbedder はトークナイザの読み込み（ネットワーク取得）を省いた Embedder を返す
func newTestEmbedder(t *testing.T, url string, opts ...EmbedderOption) *Embedder {
	t.Helper()
	opts = append([]EmbedderOption{WithEmbeddingBaseURL(url + "/")}, opts...)
	e := NewEmbedder("test-key", opts...)
	e.encOnce.Do(func() {})
	return e
}

func TestNewEmbedderOptionsOverrideDefaults(t *testing.T) {
	embedder := NewEmbedder("dummy-key",
		WithEmbeddingModel("custom-model"),
		WithEmbeddingDimension(42),
	)

	assert.Equal(t, "custom-model", embedder.ModelName())
	assert.Equal(t, 42, embedder.Dimensions())
	assert.Equal(t, "openai", embedder.Name())
	assert.Equal(t, 100, embedder.MaxBatchSize())
}

func TestEmbedder_EmbedDocumentsOrdersByIndex(t *testing.T) {
	var got struct {
		Input      []string `json:"input"`
		Model      string   `json:"model"`
		Dimensions int      `json:"dimensions"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object":"list","model":"text-embedding-3-small",
			"data":[{"object":"embedding","index":1,"embedding":[0,1]},{"object":"embedding","index":0,"embedding":[1,0]}],
			"usage":{"prompt_tokens":4,"total_tokens":4}}`)
	}))
	defer srv.Close()

	e := newTestEmbedder(t, srv.URL, WithEmbeddingDimension(2))
	vs, err := e.EmbedDocuments(context.Background(), []string{"bail", "loyer"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vs)
	assert.Equal(t, []string{"bail", "loyer"}, got.Input)
	assert.Equal(t, 2, got.Dimensions)
}

func TestEmbedder_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{status: http.StatusTooManyRequests, want: embedding.ErrRateLimited},
		{status: http.StatusServiceUnavailable, want: embedding.ErrTransient},
		{status: http.StatusUnauthorized, want: embedding.ErrNotConfigured},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error":{"message":"nope","type":"error"}}`)
			}))
			defer srv.Close()

			_, err := newTestEmbedder(t, srv.URL).EmbedQuery(context.Background(), "bail")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEmbedder_MissingKey(t *testing.T) {
	_, err := NewEmbedder("").EmbedQuery(context.Background(), "bail")
	assert.ErrorIs(t, err, embedding.ErrNotConfigured)
}

func TestClient_Generate(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Trois ans."}}],
			"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`)
	}))
	defer srv.Close()

	c := NewClient("test-key", "", WithBaseURL(srv.URL+"/"))
	resp, err := c.Generate(context.Background(), generation.Request{
		System: "Tu es un assistant juridique.",
		Messages: []generation.Message{
			{Role: generation.RoleUser, Text: "Q1"},
			{Role: generation.RoleAssistant, Text: "A1"},
			{Role: generation.RoleUser, Text: "Q2"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Trois ans.", resp.Text)
	assert.Equal(t, 15, resp.Tokens())
	assert.Equal(t, DefaultModel, got.Model)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
}

func TestClient_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `{"error":{"message":"upstream","type":"server_error"}}`)
	}))
	defer srv.Close()

	_, err := NewClient("test-key", "", WithBaseURL(srv.URL+"/")).Generate(context.Background(), generation.Request{
		Messages: []generation.Message{{Role: generation.RoleUser, Text: "Q"}},
	})
	var perr *generation.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusBadGateway, perr.Status)
}

func TestClient_MissingKey(t *testing.T) {
	_, err := NewClient("", "").Generate(context.Background(), generation.Request{})
	assert.ErrorIs(t, err, generation.ErrNotConfigured)
}
