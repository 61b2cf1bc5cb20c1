package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// QueryCache はクエリ埋め込みのキャッシュ。
// キャッシュの失敗は埋め込み処理を止めない。
type QueryCache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vector []float32) error
}

// CacheKey はプロバイダ名・次元・クエリ本文からキャッシュキーを作る
func CacheKey(provider string, dims int, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s:%d:%s", provider, dims, hex.EncodeToString(sum[:]))
}
