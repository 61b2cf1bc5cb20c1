package ask

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soluris/lexrag/internal/core/corpus"
	"github.com/soluris/lexrag/internal/core/embedding"
	"github.com/soluris/lexrag/internal/core/generation"
	"github.com/soluris/lexrag/internal/core/retrieval"
)

const prescriptionQuestion = "Quel est le délai de prescription pour une action en responsabilité délictuelle?"

type stubEmbedder struct{ err error }

func (e *stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 0}, nil
}

type stubSearcher struct {
	hits []*corpus.RetrievedChunk
	err  error
}

func (s *stubSearcher) Search(ctx context.Context, params corpus.SearchParams) ([]*corpus.RetrievedChunk, error) {
	return s.hits, s.err
}

type stubProvider struct {
	text  string
	err   error
	panic bool
	reqs  []generation.Request
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Generate(ctx context.Context, req generation.Request) (generation.Response, error) {
	p.reqs = append(p.reqs, req)
	if p.panic {
		panic("boom")
	}
	if p.err != nil {
		return generation.Response{}, p.err
	}
	return generation.Response{Text: p.text, InputTokens: 120, OutputTokens: 30}, nil
}

func art60() *corpus.RetrievedChunk {
	return &corpus.RetrievedChunk{
		Chunk: corpus.Chunk{
			SourceRef: "Art. 60 CO",
			SourceURL: "https://www.fedlex.admin.ch/eli/cc/27/317_321_377/fr#art_60",
			Text:      "L'action en dommages-intérêts se prescrit par trois ans à compter du jour où la partie lésée a eu connaissance du dommage.",
		},
		Similarity: 0.71,
		DocKind:    corpus.KindLegislation,
		Reference:  "CO",
	}
}

func newTestService(t *testing.T, e retrieval.QueryEmbedder, s retrieval.Searcher, p generation.Provider) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r, err := retrieval.New(e, s, retrieval.DefaultConfig(), retrieval.WithRetrieverLogger(logger))
	require.NoError(t, err)
	return NewService(r, p, Config{}, WithAskLogger(logger))
}

const groundedOutput = `Le délai de prescription est de trois ans (art. 60 CO).
[SOURCES]
[{"reference": "Art. 60 CO", "title": "Prescription", "url": "https://www.fedlex.admin.ch/eli/cc/27/317_321_377/fr#art_60"}]
[/SOURCES]`

func TestAsk_GroundedAnswerCitesRetrievedArticle(t *testing.T) {
	p := &stubProvider{text: groundedOutput}
	svc := newTestService(t, &stubEmbedder{}, &stubSearcher{hits: []*corpus.RetrievedChunk{art60()}}, p)

	ans, err := svc.Ask(context.Background(), Request{Question: prescriptionQuestion})
	require.NoError(t, err)

	assert.Equal(t, retrieval.ConfidenceHigh, ans.Confidence)
	assert.True(t, ans.Grounded)
	assert.Equal(t, 1, ans.ChunksUsed)
	assert.Equal(t, 150, ans.Tokens)
	assert.Equal(t, "Le délai de prescription est de trois ans (art. 60 CO).", ans.Text)
	require.Len(t, ans.Citations, 1)
	assert.Equal(t, "Art. 60 CO", ans.Citations[0].Reference)
	assert.True(t, ans.Citations[0].Verified)

	require.Len(t, p.reqs, 1)
	assert.Contains(t, p.reqs[0].System, "CONTEXTE JURIDIQUE FOURNI")
	assert.Contains(t, p.reqs[0].System, "[LOI-1] Art. 60 CO (pertinence: 71%)")
	assert.Equal(t, []generation.Message{{Role: generation.RoleUser, Text: prescriptionQuestion}}, p.reqs[0].Messages)
}

func newBudgetService(t *testing.T, hits []*corpus.RetrievedChunk, p generation.Provider, maxChars int) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r, err := retrieval.New(&stubEmbedder{}, &stubSearcher{hits: hits}, retrieval.DefaultConfig(), retrieval.WithRetrieverLogger(logger))
	require.NoError(t, err)
	return NewService(r, p, Config{MaxContextChars: maxChars}, WithAskLogger(logger))
}

func TestAsk_ChunksUsedCountsRenderedEntries(t *testing.T) {
	long := art60()
	long.SourceRef = "Art. 41 CO"
	long.Similarity = 0.6
	long.Text = strings.Repeat("Celui qui cause, d'une manière illicite, un dommage à autrui est tenu de le réparer. ", 20)

	p := &stubProvider{text: groundedOutput}
	svc := newBudgetService(t, []*corpus.RetrievedChunk{art60(), long}, p, 500)

	ans, err := svc.Ask(context.Background(), Request{Question: prescriptionQuestion})
	require.NoError(t, err)
	assert.True(t, ans.Grounded)
	assert.Equal(t, 1, ans.ChunksUsed)
	require.Len(t, p.reqs, 1)
	assert.NotContains(t, p.reqs[0].System, "Art. 41 CO")
}

func TestAsk_NoEntryFitsFallsBackToKnowledgeOnly(t *testing.T) {
	p := &stubProvider{text: groundedOutput}
	svc := newBudgetService(t, []*corpus.RetrievedChunk{art60()}, p, 50)

	ans, err := svc.Ask(context.Background(), Request{Question: prescriptionQuestion})
	require.NoError(t, err)
	assert.False(t, ans.Grounded)
	assert.Zero(t, ans.ChunksUsed)
	require.Len(t, ans.Citations, 1)
	assert.False(t, ans.Citations[0].Verified)
	require.Len(t, p.reqs, 1)
	assert.Equal(t, KnowledgeOnlyPrompt, p.reqs[0].System)
}

func TestAsk_EmptyCorpusUsesKnowledgeOnlyInstructions(t *testing.T) {
	// モデルが verified: true を主張しても採用しない
	p := &stubProvider{text: `Selon mes connaissances, le délai est de trois ans.
[SOURCES]
[{"reference": "Art. 60 CO", "title": "Prescription", "url": "", "verified": true}]
[/SOURCES]`}
	svc := newTestService(t, &stubEmbedder{}, &stubSearcher{}, p)

	ans, err := svc.Ask(context.Background(), Request{Question: prescriptionQuestion})
	require.NoError(t, err)

	assert.Equal(t, retrieval.ConfidenceNone, ans.Confidence)
	assert.False(t, ans.Grounded)
	assert.Equal(t, 0, ans.ChunksUsed)
	require.Len(t, p.reqs, 1)
	assert.Equal(t, KnowledgeOnlyPrompt, p.reqs[0].System)
	require.Len(t, ans.Citations, 1)
	assert.False(t, ans.Citations[0].Verified)
}

func TestAsk_MalformedCitationBlockKeepsAnswer(t *testing.T) {
	p := &stubProvider{text: "Le délai est de trois ans.\n[SOURCES]\nvoir Art. 60 CO\n[/SOURCES]"}
	svc := newTestService(t, &stubEmbedder{}, &stubSearcher{hits: []*corpus.RetrievedChunk{art60()}}, p)

	ans, err := svc.Ask(context.Background(), Request{Question: prescriptionQuestion})
	require.NoError(t, err)
	assert.Equal(t, "Le délai est de trois ans.", ans.Text)
	assert.NotNil(t, ans.Citations)
	assert.Empty(t, ans.Citations)
}

func TestAsk_DegradedModesAreNotFatal(t *testing.T) {
	tests := []struct {
		name         string
		embedder     *stubEmbedder
		searcher     *stubSearcher
		provider     *stubProvider
		wantText     string
		wantDegraded retrieval.DegradedReason
	}{
		{
			name:         "埋め込み失敗",
			embedder:     &stubEmbedder{err: embedding.ErrUnavailable},
			searcher:     &stubSearcher{},
			provider:     &stubProvider{text: "Réponse générale."},
			wantText:     "Réponse générale.",
			wantDegraded: retrieval.DegradedEmbeddingUnavailable,
		},
		{
			name:         "ストア障害",
			embedder:     &stubEmbedder{},
			searcher:     &stubSearcher{err: corpus.ErrStoreUnavailable},
			provider:     &stubProvider{text: "Réponse générale."},
			wantText:     "Réponse générale.",
			wantDegraded: retrieval.DegradedStoreUnavailable,
		},
		{
			name:     "生成プロバイダのHTTPエラー",
			embedder: &stubEmbedder{},
			searcher: &stubSearcher{hits: []*corpus.RetrievedChunk{art60()}},
			provider: &stubProvider{err: &generation.ProviderError{Provider: "stub", Status: 529, Body: "overloaded secret detail"}},
			wantText: "Erreur du service de génération (529). Veuillez réessayer.",
		},
		{
			name:     "APIキー未設定",
			embedder: &stubEmbedder{},
			searcher: &stubSearcher{},
			provider: &stubProvider{err: generation.ErrNotConfigured},
			wantText: "⚠️ Clé API du service de génération (stub) non configurée. Ajoutez-la dans les variables d'environnement.",
		},
		{
			name:     "想定外のエラー",
			embedder: &stubEmbedder{},
			searcher: &stubSearcher{},
			provider: &stubProvider{err: errors.New("dial tcp: i/o timeout")},
			wantText: msgUnexpected,
		},
		{
			name:     "プロバイダ内のパニック",
			embedder: &stubEmbedder{},
			searcher: &stubSearcher{},
			provider: &stubProvider{panic: true},
			wantText: msgUnexpected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, tt.embedder, tt.searcher, tt.provider)

			var ans *Answer
			var err error
			require.NotPanics(t, func() {
				ans, err = svc.Ask(context.Background(), Request{Question: prescriptionQuestion})
			})
			require.NoError(t, err)
			require.NotNil(t, ans)
			assert.Equal(t, tt.wantText, ans.Text)
			assert.Equal(t, tt.wantDegraded, ans.Degraded)
			assert.NotNil(t, ans.Citations)
			assert.NotContains(t, ans.Text, "secret")
			if tt.provider.err != nil || tt.provider.panic {
				assert.Empty(t, ans.Citations)
				assert.Equal(t, 0, ans.ChunksUsed)
				assert.Equal(t, 0, ans.Tokens)
			}
		})
	}
}

func TestAsk_PassesRecentHistory(t *testing.T) {
	p := &stubProvider{text: "ok"}
	svc := newTestService(t, &stubEmbedder{}, &stubSearcher{}, p)

	history := []Turn{
		{Role: generation.RoleUser, Text: "Qu'est-ce qu'un bail?"},
		{Role: generation.RoleAssistant, Text: "Un contrat."},
		{Role: generation.RoleUser, Text: prescriptionQuestion},
	}
	_, err := svc.Ask(context.Background(), Request{Question: prescriptionQuestion, History: history})
	require.NoError(t, err)

	require.Len(t, p.reqs, 1)
	assert.Len(t, p.reqs[0].Messages, 3, "直前のターンと同じ質問は重ねない")
}

func TestAsk_EmptyQuestion(t *testing.T) {
	svc := newTestService(t, &stubEmbedder{}, &stubSearcher{}, &stubProvider{})
	_, err := svc.Ask(context.Background(), Request{Question: "  "})
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}
