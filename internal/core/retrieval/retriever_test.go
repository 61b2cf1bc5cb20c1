package retrieval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soluris/lexrag/internal/core/corpus"
	"github.com/soluris/lexrag/internal/core/embedding"
)

type stubEmbedder struct {
	texts []string
	err   error
}

func (e *stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.texts = append(e.texts, text)
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 0, 0}, nil
}

// stubSearcher は呼び出し順に results を返す
type stubSearcher struct {
	results [][]*corpus.RetrievedChunk
	err     error
	params  []corpus.SearchParams
}

func (s *stubSearcher) Search(ctx context.Context, params corpus.SearchParams) ([]*corpus.RetrievedChunk, error) {
	s.params = append(s.params, params)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.results) == 0 {
		return nil, nil
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r, nil
}

func hit(ref string, sim float64) *corpus.RetrievedChunk {
	return &corpus.RetrievedChunk{
		Chunk:      corpus.Chunk{SourceRef: ref, Text: ref},
		Similarity: sim,
		DocKind:    corpus.KindLegislation,
	}
}

func newTestRetriever(t *testing.T, e QueryEmbedder, s Searcher) *Retriever {
	t.Helper()
	r, err := New(e, s, DefaultConfig(), WithRetrieverLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return r
}

func TestRetrieve_ConfidenceLevels(t *testing.T) {
	tests := []struct {
		name string
		hits []*corpus.RetrievedChunk
		want Confidence
	}{
		{name: "高い類似度", hits: []*corpus.RetrievedChunk{hit("Art. 60 CO", 0.71), hit("Art. 41 CO", 0.5)}, want: ConfidenceHigh},
		{name: "境界値 0.55 は high", hits: []*corpus.RetrievedChunk{hit("Art. 60 CO", 0.55)}, want: ConfidenceHigh},
		{name: "中程度", hits: []*corpus.RetrievedChunk{hit("Art. 60 CO", 0.54)}, want: ConfidenceModerate},
		{name: "境界値 0.35 は moderate", hits: []*corpus.RetrievedChunk{hit("Art. 60 CO", 0.35)}, want: ConfidenceModerate},
		{name: "該当なし", hits: nil, want: ConfidenceNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRetriever(t, &stubEmbedder{}, &stubSearcher{results: [][]*corpus.RetrievedChunk{tt.hits}})
			res := r.Retrieve(context.Background(), Query{Question: "délai de prescription"})
			assert.Equal(t, tt.want, res.Confidence)
			assert.Len(t, res.Chunks, len(tt.hits))
			assert.Equal(t, DegradedNone, res.Degraded)
		})
	}
}

func TestRetrieve_PassesFloorAndTopK(t *testing.T) {
	s := &stubSearcher{}
	r := newTestRetriever(t, &stubEmbedder{}, s)

	r.Retrieve(context.Background(), Query{Question: "q", LegalDomain: corpus.DomainCivil})
	require.Len(t, s.params, 1)
	assert.Equal(t, DefaultTopK, s.params[0].K)
	assert.Equal(t, DefaultRelevanceFloor, s.params[0].MinSimilarity)
	assert.Equal(t, corpus.DomainCivil, s.params[0].Filter.LegalDomain)
	assert.Empty(t, s.params[0].Filter.Jurisdiction)
}

func TestRetrieve_DropsChunksBelowFloor(t *testing.T) {
	s := &stubSearcher{results: [][]*corpus.RetrievedChunk{{hit("a", 0.6), hit("b", 0.2)}}}
	r := newTestRetriever(t, &stubEmbedder{}, s)

	res := r.Retrieve(context.Background(), Query{Question: "q"})
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "a", res.Chunks[0].SourceRef)
}

func TestRetrieve_AnnotatesCantonalQuestion(t *testing.T) {
	e := &stubEmbedder{}
	s := &stubSearcher{results: [][]*corpus.RetrievedChunk{{hit("Art. 12 LIPP", 0.6)}}}
	r := newTestRetriever(t, e, s)

	res := r.Retrieve(context.Background(), Query{Question: "Quel est le taux d'imposition?", Jurisdiction: "ge", LegalDomain: corpus.DomainFiscal})
	require.Len(t, e.texts, 1)
	assert.Equal(t, "Quel est le taux d'imposition? (Canton: GE) (Domaine: droit_fiscal)", e.texts[0])
	assert.Equal(t, e.texts[0], res.EmbeddedText)
	assert.Equal(t, "GE", s.params[0].Filter.Jurisdiction)
	assert.False(t, res.Relaxed)
}

func TestRetrieve_FederalJurisdictionIsNotAnnotated(t *testing.T) {
	e := &stubEmbedder{}
	s := &stubSearcher{results: [][]*corpus.RetrievedChunk{{hit("Art. 60 CO", 0.6)}}}
	r := newTestRetriever(t, e, s)

	res := r.Retrieve(context.Background(), Query{Question: "q", Jurisdiction: "ch"})
	assert.Equal(t, "q", e.texts[0])
	require.Len(t, s.params, 1)
	assert.Equal(t, corpus.FederalJurisdiction, s.params[0].Filter.Jurisdiction, "連邦指定も管轄で絞り込む")
	assert.False(t, res.Relaxed)
}

func TestRetrieve_RelaxesFederalFilterToDomainOnly(t *testing.T) {
	s := &stubSearcher{results: [][]*corpus.RetrievedChunk{nil, {hit("Art. 12 LIPP", 0.5)}}}
	r := newTestRetriever(t, &stubEmbedder{}, s)

	res := r.Retrieve(context.Background(), Query{Question: "q", Jurisdiction: "CH", LegalDomain: corpus.DomainFiscal})
	require.Len(t, s.params, 2)
	assert.Equal(t, "CH", s.params[0].Filter.Jurisdiction)
	assert.Empty(t, s.params[1].Filter.Jurisdiction)
	assert.Equal(t, corpus.DomainFiscal, s.params[1].Filter.LegalDomain)
	assert.True(t, res.Relaxed)
}

func TestRetrieve_NoJurisdictionSearchesOnce(t *testing.T) {
	s := &stubSearcher{}
	r := newTestRetriever(t, &stubEmbedder{}, s)

	r.Retrieve(context.Background(), Query{Question: "q"})
	require.Len(t, s.params, 1)
	assert.Empty(t, s.params[0].Filter.Jurisdiction)
}

func TestRetrieve_RelaxesJurisdictionOnce(t *testing.T) {
	s := &stubSearcher{results: [][]*corpus.RetrievedChunk{nil, {hit("Art. 60 CO", 0.62)}}}
	r := newTestRetriever(t, &stubEmbedder{}, s)

	res := r.Retrieve(context.Background(), Query{Question: "q", Jurisdiction: "VD", LegalDomain: corpus.DomainCivil})
	require.Len(t, s.params, 2)
	assert.Equal(t, "VD", s.params[0].Filter.Jurisdiction)
	assert.Empty(t, s.params[1].Filter.Jurisdiction)
	assert.Equal(t, corpus.DomainCivil, s.params[1].Filter.LegalDomain, "分野フィルタは維持する")
	assert.True(t, res.Relaxed)
	assert.Equal(t, ConfidenceHigh, res.Confidence)
}

func TestRetrieve_RelaxedStillEmpty(t *testing.T) {
	s := &stubSearcher{}
	r := newTestRetriever(t, &stubEmbedder{}, s)

	res := r.Retrieve(context.Background(), Query{Question: "q", Jurisdiction: "VD"})
	assert.Len(t, s.params, 2)
	assert.Equal(t, ConfidenceNone, res.Confidence)
	assert.Empty(t, res.Chunks)
	assert.Equal(t, DegradedNone, res.Degraded)
}

func TestRetrieve_EmbeddingUnavailableDegrades(t *testing.T) {
	s := &stubSearcher{}
	r := newTestRetriever(t, &stubEmbedder{err: embedding.ErrUnavailable}, s)

	res := r.Retrieve(context.Background(), Query{Question: "q"})
	assert.Equal(t, DegradedEmbeddingUnavailable, res.Degraded)
	assert.Equal(t, ConfidenceNone, res.Confidence)
	assert.Empty(t, res.Chunks)
	assert.Empty(t, s.params, "埋め込みに失敗したら検索しない")
}

func TestRetrieve_StoreUnavailableDegrades(t *testing.T) {
	s := &stubSearcher{err: errors.Join(corpus.ErrStoreUnavailable, errors.New("connection refused"))}
	r := newTestRetriever(t, &stubEmbedder{}, s)

	res := r.Retrieve(context.Background(), Query{Question: "q", Jurisdiction: "GE"})
	assert.Equal(t, DegradedStoreUnavailable, res.Degraded)
	assert.Equal(t, ConfidenceNone, res.Confidence)
	assert.Len(t, s.params, 1)
}

func TestNew_RejectsInvertedThresholds(t *testing.T) {
	_, err := New(&stubEmbedder{}, &stubSearcher{}, Config{RelevanceFloor: 0.6, HighConfidence: 0.5})
	assert.Error(t, err)
}
