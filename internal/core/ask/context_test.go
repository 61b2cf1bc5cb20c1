package ask

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soluris/lexrag/internal/core/corpus"
	"github.com/soluris/lexrag/internal/core/generation"
)

func TestAssembleContext_GroupsAndTags(t *testing.T) {
	chunks := []*corpus.RetrievedChunk{
		{
			Chunk:      corpus.Chunk{SourceRef: "ATF 140 III 86 consid. 2", Text: "Le bailleur répond des défauts."},
			Similarity: 0.8,
			DocKind:    corpus.KindJurisprudence,
			Abstract:   strings.Repeat("a", 400),
			DocURL:     "https://entscheidsuche.ch/x",
		},
		{
			Chunk:      corpus.Chunk{SourceRef: "Art. 259a CO", SourceURL: "https://fedlex/#art_259_a", Text: "Lorsqu'apparaissent des défauts..."},
			Similarity: 0.75,
			DocKind:    corpus.KindLegislation,
		},
		{
			Chunk:      corpus.Chunk{Text: "Sans référence."},
			Similarity: 0.5,
			DocKind:    corpus.KindLegislation,
			Reference:  "CO",
		},
		{
			Chunk:      corpus.Chunk{Text: "Autre source."},
			Similarity: 0.4,
			DocKind:    "guidance",
		},
	}

	got, used := AssembleContext(chunks, 0)
	assert.Equal(t, 4, used)

	want := "═══ LÉGISLATION ═══\n" +
		"[LOI-1] Art. 259a CO (pertinence: 75%)\nURL: https://fedlex/#art_259_a\nLorsqu'apparaissent des défauts...\n\n" +
		"[LOI-2] CO (pertinence: 50%)\nURL: \nSans référence.\n\n" +
		"═══ JURISPRUDENCE ═══\n" +
		"[ATF-1] ATF 140 III 86 consid. 2 (pertinence: 80%)\nRegeste: " + strings.Repeat("a", 300) +
		"\nURL: https://entscheidsuche.ch/x\nLe bailleur répond des défauts.\n\n" +
		"[SRC-1] Réf. inconnue (pertinence: 40%)\nURL: \nAutre source.\n"
	assert.Equal(t, want, got)
}

func TestAssembleContext_SkipsEntriesOverBudget(t *testing.T) {
	chunks := []*corpus.RetrievedChunk{
		{Chunk: corpus.Chunk{SourceRef: "Art. 1 CO", Text: strings.Repeat("x", 200)}, DocKind: corpus.KindLegislation, Similarity: 0.9},
		{Chunk: corpus.Chunk{SourceRef: "Art. 2 CO", Text: strings.Repeat("y", 2000)}, DocKind: corpus.KindLegislation, Similarity: 0.8},
		{Chunk: corpus.Chunk{SourceRef: "Art. 3 CO", Text: strings.Repeat("z", 100)}, DocKind: corpus.KindLegislation, Similarity: 0.7},
	}

	got, used := AssembleContext(chunks, 500)
	assert.Equal(t, 2, used)
	assert.Contains(t, got, "[LOI-1] Art. 1 CO")
	assert.NotContains(t, got, "Art. 2 CO")
	assert.Contains(t, got, "[LOI-3] Art. 3 CO", "タグ番号は順位に対応したまま")
	assert.LessOrEqual(t, len([]rune(got)), 500)
}

func TestAssembleContext_Empty(t *testing.T) {
	got, used := AssembleContext(nil, 100)
	assert.Empty(t, got)
	assert.Zero(t, used)
}

func TestAssembleContext_NothingFits(t *testing.T) {
	chunks := []*corpus.RetrievedChunk{
		{Chunk: corpus.Chunk{SourceRef: "Art. 1 CO", Text: strings.Repeat("x", 400)}, DocKind: corpus.KindLegislation, Similarity: 0.9},
	}
	got, used := AssembleContext(chunks, 100)
	assert.Empty(t, got)
	assert.Zero(t, used)
}

func TestBuildMessages(t *testing.T) {
	history := []Turn{
		{Role: generation.RoleAssistant, Text: "Bonjour"},
		{Role: "system", Text: "ignored"},
		{Role: generation.RoleUser, Text: "Q1"},
		{Role: generation.RoleAssistant, Text: "A1"},
	}
	msgs := buildMessages(history, "Q2", 8)
	assert.Equal(t, []generation.Message{
		{Role: generation.RoleUser, Text: "Q1"},
		{Role: generation.RoleAssistant, Text: "A1"},
		{Role: generation.RoleUser, Text: "Q2"},
	}, msgs)
}

func TestBuildMessages_KeepsLastTurns(t *testing.T) {
	var history []Turn
	for i := 0; i < 10; i++ {
		history = append(history, Turn{Role: generation.RoleUser, Text: strings.Repeat("q", i+1)})
	}
	msgs := buildMessages(history, "final", 8)
	assert.Len(t, msgs, 9)
	assert.Equal(t, "qqq", msgs[0].Text)
	assert.Equal(t, "final", msgs[8].Text)
}

func TestGroundedPrompt(t *testing.T) {
	p := GroundedPrompt("[LOI-1] Art. 60 CO")
	assert.Contains(t, p, "CONTEXTE JURIDIQUE FOURNI :\n[LOI-1] Art. 60 CO\n")
	assert.NotContains(t, p, "{context}")
	assert.Contains(t, p, "[SOURCES]")
}
