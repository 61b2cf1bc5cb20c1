package openai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/pkoukk/tiktoken-go"

	"github.com/soluris/lexrag/internal/core/embedding"
)

const (
	// DefaultEmbeddingModel はモデル未指定時のデフォルトモデル
	DefaultEmbeddingModel = "text-embedding-3-small"
	// DefaultEmbeddingDimension はOpenAI推奨のデフォルト次元
	DefaultEmbeddingDimension = 1536
	// MaxEmbeddingTokens は1入力あたりのトークン上限
	MaxEmbeddingTokens = 8191
	// maxBatch は1リクエストで送る最大件数
	maxBatch = 100
)

// Embedder は OpenAI API を使用してテキストをベクトルに変換する
type Embedder struct {
	client    openai.Client
	apiKey    string
	model     string
	dimension int

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

var _ embedding.Provider = (*Embedder)(nil)

type embedderOptions struct {
	model     string
	dimension int
	baseURL   string
}

// EmbedderOption は Embedder のオプション設定
type EmbedderOption func(*embedderOptions)

// WithEmbeddingModel はモデル名を上書きする
func WithEmbeddingModel(model string) EmbedderOption {
	return func(o *embedderOptions) {
		o.model = model
	}
}

// WithEmbeddingDimension はベクトル次元を上書きする
func WithEmbeddingDimension(dimension int) EmbedderOption {
	return func(o *embedderOptions) {
		o.dimension = dimension
	}
}

// WithEmbeddingBaseURL は API のベースURLを上書きする（テスト・互換サーバ用）
func WithEmbeddingBaseURL(url string) EmbedderOption {
	return func(o *embedderOptions) {
		o.baseURL = url
	}
}

// NewEmbedder は新しい Embedder を作成する。
// APIキーが空の場合も作成はでき、呼び出し時に embedding.ErrNotConfigured を返す。
func NewEmbedder(apiKey string, opts ...EmbedderOption) *Embedder {
	options := embedderOptions{
		model:     DefaultEmbeddingModel,
		dimension: DefaultEmbeddingDimension,
	}
	for _, opt := range opts {
		opt(&options)
	}

	// 再試行はゲートウェイが担うため SDK 側では行わない
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if options.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(options.baseURL))
	}

	return &Embedder{
		client:    openai.NewClient(reqOpts...),
		apiKey:    apiKey,
		model:     options.model,
		dimension: options.dimension,
	}
}

func (e *Embedder) Name() string { return "openai" }

// Dimensions はベクトル次元数を返す
func (e *Embedder) Dimensions() int { return e.dimension }

// MaxBatchSize はバッチ処理の最大サイズを返す（OpenAI APIは最大100件で運用）
func (e *Embedder) MaxBatchSize() int { return maxBatch }

// MaxInputChars はトークン単位で切り詰めるため 0（無制限）を返す
func (e *Embedder) MaxInputChars() int { return 0 }

// ModelName はモデル名を返す
func (e *Embedder) ModelName() string { return e.model }

// OpenAI の埋め込みは文書とクエリを区別しない
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vs, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vs) == 0 {
		return nil, fmt.Errorf("no embeddings generated")
	}
	return vs[0], nil
}

// EmbedDocuments はバッチで Embedding を生成する
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", embedding.ErrNotConfigured)
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}
	if len(texts) > maxBatch {
		return nil, fmt.Errorf("batch size exceeds maximum of %d", maxBatch)
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = e.truncate(t)
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: inputs,
		},
	}
	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, classifyError(err)
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	embeddings := make([][]float32, 0, len(data))
	for _, d := range data {
		vector := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vector[i] = float32(v)
		}
		embeddings = append(embeddings, vector)
	}
	return embeddings, nil
}

// truncate はトークン上限を超える入力の末尾を切り捨てる。
// エンコーディングを読み込めない場合はそのまま返す。
func (e *Embedder) truncate(text string) string {
	e.encOnce.Do(func() {
		enc, err := tiktoken.EncodingForModel(e.model)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
		}
		if err == nil {
			e.enc = enc
		}
	})
	if e.enc == nil {
		return text
	}
	tokens := e.enc.Encode(text, nil, nil)
	if len(tokens) <= MaxEmbeddingTokens {
		return text
	}
	return e.enc.Decode(tokens[:MaxEmbeddingTokens])
}

// classifyError は SDK のエラーを埋め込みの再試行分類に変換する
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if cls := embedding.ClassifyStatus(apiErr.StatusCode); cls != nil {
			return fmt.Errorf("%w: %w", cls, err)
		}
		return err
	}
	// ステータスを持たないエラーはネットワーク断として扱う
	return fmt.Errorf("%w: %w", embedding.ErrTransient, err)
}
