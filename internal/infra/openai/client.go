package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/soluris/lexrag/internal/core/generation"
)

const (
	// DefaultModel はデフォルトで使用するOpenAIモデル
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 60 * time.Second

	// DefaultMaxTokens は MaxTokens 未指定時の出力上限
	DefaultMaxTokens = 4096
)

// ErrNoChoices は応答に候補が含まれない場合のエラー
var ErrNoChoices = errors.New("no completion choices returned")

// Client は OpenAI API を使用した回答生成クライアント
type Client struct {
	client  openai.Client
	apiKey  string
	model   string
	timeout time.Duration
}

var _ generation.Provider = (*Client)(nil)

// ClientOption は Client のオプション設定
type ClientOption func(*Client, *[]option.RequestOption)

// WithTimeout はAPIコールのタイムアウトを設定する
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client, _ *[]option.RequestOption) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithBaseURL は API のベースURLを上書きする
func WithBaseURL(url string) ClientOption {
	return func(_ *Client, ro *[]option.RequestOption) {
		*ro = append(*ro, option.WithBaseURL(url))
	}
}

// NewClient は新しい Client を作成する。
// APIキーが空でも作成でき、Generate が generation.ErrNotConfigured を返す。
func NewClient(apiKey, model string, opts ...ClientOption) *Client {
	if model == "" {
		model = DefaultModel
	}
	c := &Client{
		apiKey:  apiKey,
		model:   model,
		timeout: DefaultTimeout,
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	for _, opt := range opts {
		opt(c, &reqOpts)
	}
	c.client = openai.NewClient(reqOpts...)
	return c
}

func (c *Client) Name() string { return "openai" }

// ModelName はモデル名を返す
func (c *Client) ModelName() string {
	return c.model
}

// Generate は OpenAI Chat Completions API を使用して回答を生成する
func (c *Client) Generate(ctx context.Context, req generation.Request) (generation.Response, error) {
	if c.apiKey == "" {
		return generation.Response{}, generation.ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case generation.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Text))
		default:
			messages = append(messages, openai.UserMessage(m.Text))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     shared.ChatModel(c.model),
		Messages:  messages,
		MaxTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			if apiErr.StatusCode == 401 {
				return generation.Response{}, fmt.Errorf("%w: %w", generation.ErrNotConfigured, err)
			}
			return generation.Response{}, &generation.ProviderError{
				Provider: c.Name(),
				Status:   apiErr.StatusCode,
				Body:     apiErr.Message,
			}
		}
		return generation.Response{}, fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(completion.Choices) == 0 {
		return generation.Response{}, ErrNoChoices
	}

	return generation.Response{
		Text:         completion.Choices[0].Message.Content,
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
		Model:        completion.Model,
	}, nil
}
