package generation

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConfigured はAPIキーが設定されていない場合に返されます
var ErrNotConfigured = errors.New("generation provider not configured")

// Role は会話ターンの話者
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message は会話の1ターン
type Message struct {
	Role Role
	Text string
}

// Request は生成リクエスト
type Request struct {
	System    string
	Messages  []Message
	MaxTokens int
}

// Response は生成結果
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Model        string
}

// Tokens は入力と出力の合計トークン数
func (r Response) Tokens() int {
	return r.InputTokens + r.OutputTokens
}

// Provider は回答文を生成する外部サービス
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (Response, error)
}

// ProviderError はプロバイダがHTTPエラーステータスを返した場合のエラー
type ProviderError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ProviderError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: status %d", e.Provider, e.Status)
}
