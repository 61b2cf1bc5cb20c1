// Package cohere は Cohere v2 Embed API を使う埋め込みプロバイダ
package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/soluris/lexrag/internal/core/embedding"
)

const (
	DefaultBaseURL   = "https://api.cohere.com"
	DefaultModel     = "embed-multilingual-v3.0"
	DefaultDimension = 1024

	// MaxBatch は Cohere が1リクエストで受け付ける最大件数
	MaxBatch = 96
	// MaxInputChars を超えた入力はゲートウェイで末尾が切り捨てられる
	MaxInputChars = 8000

	inputTypeDocument = "search_document"
	inputTypeQuery    = "search_query"
)

var _ embedding.Provider = (*Embedder)(nil)

// Config は Cohere 埋め込みの設定
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	HTTPClient *http.Client
}

// Embedder は Cohere の埋め込みプロバイダ
type Embedder struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimensions int
}

type embedRequest struct {
	Model          string   `json:"model"`
	Texts          []string `json:"texts"`
	InputType      string   `json:"input_type"`
	EmbeddingTypes []string `json:"embedding_types"`
	Truncate       string   `json:"truncate"`
}

type embedResponse struct {
	Embeddings struct {
		Float [][]float32 `json:"float"`
	} `json:"embeddings"`
}

// NewEmbedder は新しい Embedder を作成する。
// APIキーが空の場合も作成はでき、呼び出し時に embedding.ErrNotConfigured を返す。
func NewEmbedder(cfg Config) *Embedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimension
	}
	client := cfg.HTTPClient
	if client == nil {
		// タイムアウトは呼び出し側のコンテキストで制御する
		client = &http.Client{}
	}
	return &Embedder{
		client:     client,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

func (e *Embedder) Name() string       { return "cohere" }
func (e *Embedder) Dimensions() int    { return e.dimensions }
func (e *Embedder) MaxBatchSize() int  { return MaxBatch }
func (e *Embedder) MaxInputChars() int { return MaxInputChars }

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embed(ctx, texts, inputTypeDocument)
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vs, err := e.embed(ctx, []string{text}, inputTypeQuery)
	if err != nil {
		return nil, err
	}
	if len(vs) == 0 {
		return nil, fmt.Errorf("cohere: empty embedding response")
	}
	return vs[0], nil
}

func (e *Embedder) embed(ctx context.Context, texts []string, inputType string) ([][]float32, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("%w: COHERE_API_KEY is not set", embedding.ErrNotConfigured)
	}
	if len(texts) > MaxBatch {
		return nil, fmt.Errorf("cohere: batch size %d exceeds maximum of %d", len(texts), MaxBatch)
	}

	body, err := json.Marshal(embedRequest{
		Model:          e.model,
		Texts:          texts,
		InputType:      inputType,
		EmbeddingTypes: []string{"float"},
		Truncate:       "END",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v2/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: send request: %v", embedding.ErrTransient, err)
	}
	defer resp.Body.Close()

	if cls := embedding.ClassifyStatus(resp.StatusCode); cls != nil {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: cohere status %d: %s", cls, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Embeddings.Float, nil
}
