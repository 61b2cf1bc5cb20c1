package chunk

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyDocument は本文もタイトルも要旨も持たない文書の場合に返されます
	ErrEmptyDocument = errors.New("document has no text to chunk")

	// ErrNoDocument は RawDocument に Document が設定されていない場合に返されます
	ErrNoDocument = errors.New("raw document has no document attached")

	// ErrInvalidConfig は設定が不正な場合に返されます
	ErrInvalidConfig = errors.New("invalid chunker config")

	// ErrParseFailed はHTMLの解析が失敗した場合に返されます
	ErrParseFailed = errors.New("parse failed")
)

// ChunkingError は1文書のチャンク分割失敗を表します。
// 取り込みパイプラインはこのエラーの文書をスキップして処理を続けます。
type ChunkingError struct {
	Op         string // 操作名
	Origin     string
	ExternalID string
	Err        error
}

func (e *ChunkingError) Error() string {
	if e.ExternalID != "" {
		return fmt.Sprintf("chunker: %s: %s (origin=%s, id=%s)", e.Op, e.Err, e.Origin, e.ExternalID)
	}
	return fmt.Sprintf("chunker: %s: %s", e.Op, e.Err)
}

func (e *ChunkingError) Unwrap() error {
	return e.Err
}

// NewChunkingError は新しいChunkingErrorを作成します
func NewChunkingError(op, origin, externalID string, err error) *ChunkingError {
	return &ChunkingError{
		Op:         op,
		Origin:     origin,
		ExternalID: externalID,
		Err:        err,
	}
}
