package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soluris/lexrag/internal/core/corpus"
)

func seed(t *testing.T, s *Store, externalID, jurisdiction string, vectors ...[]float32) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id, err := s.UpsertDocument(ctx, &corpus.Document{
		Origin:       "fedlex",
		ExternalID:   externalID,
		Kind:         corpus.KindLegislation,
		Jurisdiction: jurisdiction,
		Reference:    externalID,
	})
	require.NoError(t, err)

	var chunks []*corpus.Chunk
	for i, v := range vectors {
		chunks = append(chunks, &corpus.Chunk{Index: i, Text: externalID, Embedding: v})
	}
	require.NoError(t, s.ReplaceChunks(ctx, id, "h-"+externalID, chunks))
	return id
}

func TestStore_UpsertIsKeyedByOriginAndExternalID(t *testing.T) {
	s := New(2)
	ctx := context.Background()

	id1, err := s.UpsertDocument(ctx, &corpus.Document{Origin: "fedlex", ExternalID: "220", Title: "v1", ContentHash: "a"})
	require.NoError(t, err)
	id2, err := s.UpsertDocument(ctx, &corpus.Document{Origin: "fedlex", ExternalID: "220", Title: "v2", ContentHash: "b"})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	hash, err := s.DocumentHash(ctx, "fedlex", "220")
	require.NoError(t, err)
	assert.Empty(t, hash, "ハッシュはチャンク置換まで確定しない")

	require.NoError(t, s.ReplaceChunks(ctx, id2, "b", nil))
	hash, err = s.DocumentHash(ctx, "fedlex", "220")
	require.NoError(t, err)
	assert.Equal(t, "b", hash)

	_, err = s.UpsertDocument(ctx, &corpus.Document{Origin: "fedlex", ExternalID: "220", Title: "v3"})
	require.NoError(t, err)
	hash, err = s.DocumentHash(ctx, "fedlex", "220")
	require.NoError(t, err)
	assert.Empty(t, hash)

	hash, err = s.DocumentHash(ctx, "fedlex", "unknown")
	require.NoError(t, err)
	assert.Empty(t, hash)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Documents)
}

func TestStore_ReplaceChunksIsIdempotent(t *testing.T) {
	s := New(2)
	id := seed(t, s, "CO", "CH", []float32{1, 0}, []float32{0, 1})
	require.NoError(t, s.ReplaceChunks(context.Background(), id, "h", []*corpus.Chunk{{Text: "CO", Embedding: []float32{1, 0}}}))

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Chunks)
	assert.Equal(t, 1, st.Embedded)
}

func TestStore_ReplaceChunksUnknownDocument(t *testing.T) {
	s := New(2)
	err := s.ReplaceChunks(context.Background(), uuid.New(), "h", nil)
	assert.ErrorIs(t, err, corpus.ErrDocumentNotFound)
}

func TestStore_SearchOrdersBySimilarityThenSeq(t *testing.T) {
	s := New(2)
	seed(t, s, "A", "CH", []float32{1, 0}, []float32{0.6, 0.8})
	seed(t, s, "B", "CH", []float32{1, 0})
	seed(t, s, "C", "GE", []float32{0, 1})

	hits, err := s.Search(context.Background(), corpus.SearchParams{Vector: []float32{1, 0}, K: 3})
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "A", hits[0].Reference)
	assert.Equal(t, "B", hits[1].Reference, "同点は挿入順")
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
	assert.InDelta(t, 1.0, hits[1].Similarity, 1e-9)
	assert.InDelta(t, 0.6, hits[2].Similarity, 1e-6)
	assert.Less(t, hits[0].Seq, hits[1].Seq)
}

func TestStore_SearchAppliesFilterAndFloor(t *testing.T) {
	s := New(2)
	seed(t, s, "A", "CH", []float32{1, 0})
	seed(t, s, "C", "GE", []float32{0.8, 0.6}, []float32{0, 1})

	hits, err := s.Search(context.Background(), corpus.SearchParams{
		Vector:        []float32{1, 0},
		K:             10,
		Filter:        corpus.Filter{Jurisdiction: "GE"},
		MinSimilarity: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "GE", hits[0].Jurisdiction)
}

func TestStore_SearchSkipsChunksWithoutEmbedding(t *testing.T) {
	s := New(2)
	seed(t, s, "A", "CH", nil)

	hits, err := s.Search(context.Background(), corpus.SearchParams{Vector: []float32{1, 0}, K: 5})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStore_DimensionMismatch(t *testing.T) {
	s := New(3)
	_, err := s.Search(context.Background(), corpus.SearchParams{Vector: []float32{1, 0}, K: 1})
	assert.ErrorIs(t, err, corpus.ErrDimensionMismatch)

	id, err := s.UpsertDocument(context.Background(), &corpus.Document{Origin: "o", ExternalID: "x"})
	require.NoError(t, err)
	err = s.ReplaceChunks(context.Background(), id, "h", []*corpus.Chunk{{Text: "t", Embedding: []float32{1}}})
	assert.ErrorIs(t, err, corpus.ErrDimensionMismatch)
}

func TestStore_PendingAndSetEmbeddings(t *testing.T) {
	s := New(2)
	ctx := context.Background()
	seed(t, s, "A", "CH", nil, []float32{1, 0}, nil)

	pending, err := s.PendingEmbeddings(ctx, 0, 10, false)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Less(t, pending[0].Seq, pending[1].Seq)

	all, err := s.PendingEmbeddings(ctx, 0, 10, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	after, err := s.PendingEmbeddings(ctx, pending[0].Seq, 10, false)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, pending[1].ID, after[0].ID)

	require.NoError(t, s.SetEmbeddings(ctx, []corpus.EmbeddingUpdate{{ChunkID: pending[0].ID, Vector: []float32{0, 1}}}))
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Embedded)
	assert.Equal(t, 1, st.Pending())
}
