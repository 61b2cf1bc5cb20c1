package container

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/soluris/lexrag/internal/core/corpus"
)

// unavailableStore は接続できなかったストアの代わりに置く。
// すべての操作が corpus.ErrStoreUnavailable を返し、検索は劣化結果になる。
type unavailableStore struct {
	cause error
}

var _ corpus.Store = unavailableStore{}

func (s unavailableStore) err() error {
	if s.cause == nil {
		return corpus.ErrStoreUnavailable
	}
	return fmt.Errorf("%w: %v", corpus.ErrStoreUnavailable, s.cause)
}

func (s unavailableStore) UpsertDocument(context.Context, *corpus.Document) (uuid.UUID, error) {
	return uuid.Nil, s.err()
}

func (s unavailableStore) DocumentHash(context.Context, string, string) (string, error) {
	return "", s.err()
}

func (s unavailableStore) ReplaceChunks(context.Context, uuid.UUID, string, []*corpus.Chunk) error {
	return s.err()
}

func (s unavailableStore) Search(context.Context, corpus.SearchParams) ([]*corpus.RetrievedChunk, error) {
	return nil, s.err()
}

func (s unavailableStore) PendingEmbeddings(context.Context, int64, int, bool) ([]*corpus.PendingChunk, error) {
	return nil, s.err()
}

func (s unavailableStore) SetEmbeddings(context.Context, []corpus.EmbeddingUpdate) error {
	return s.err()
}

func (s unavailableStore) EnsureVectorIndex(context.Context) error {
	return s.err()
}

func (s unavailableStore) Stats(context.Context) (*corpus.Stats, error) {
	return nil, s.err()
}
