package embedding

import (
	"context"
	"errors"
)

var (
	// ErrRateLimited はプロバイダがレート制限（HTTP 429）を返した場合のエラー
	ErrRateLimited = errors.New("embedding provider rate limited")

	// ErrTransient は 5xx やネットワーク断など再試行可能なエラー
	ErrTransient = errors.New("embedding provider transient failure")

	// ErrNotConfigured は認証情報が設定されていない場合のエラー
	ErrNotConfigured = errors.New("embedding provider not configured")

	// ErrUnavailable はリトライを尽くしてもベクトルを得られなかった場合に返されます
	ErrUnavailable = errors.New("embedding unavailable")

	// ErrDimensionMismatch は返されたベクトルの次元が設定と異なる場合のエラー
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Mode は埋め込みの用途（文書 / 検索クエリ）
type Mode string

const (
	ModeDocument Mode = "document"
	ModeQuery    Mode = "query"
)

// Provider は外部の埋め込みサービス
type Provider interface {
	Name() string
	Dimensions() int
	MaxBatchSize() int
	// MaxInputChars は1入力あたりの上限文字数（0 は無制限）
	MaxInputChars() int
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Retryable はゲートウェイが再試行すべきエラーかどうかを返す
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient)
}

// ClassifyStatus はHTTPステータスを再試行分類に対応付ける（2xx は nil）
func ClassifyStatus(status int) error {
	switch {
	case status == 429:
		return ErrRateLimited
	case status == 401 || status == 403:
		return ErrNotConfigured
	case status >= 500:
		return ErrTransient
	case status >= 400:
		return errors.New("embedding request rejected")
	}
	return nil
}
