package sourcefile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soluris/lexrag/internal/core/chunk"
	"github.com/soluris/lexrag/internal/core/corpus"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const fedlexJSON = `{
  "act": {
    "uri": "https://fedlex.data.admin.ch/eli/cc/27/317_321_377",
    "rs_number": "220",
    "title": "Loi fédérale complétant le Code civil suisse (Livre cinquième: Droit des obligations)",
    "title_short": "CO",
    "in_force": true,
    "latest_consolidation_uri": "https://www.fedlex.admin.ch/eli/cc/27/317_321_377/fr",
    "latest_consolidation_date": "2024-01-01"
  },
  "chunks": [
    {"article_id": "art_1", "article_number": "Art. 1", "text": "Art. 1\nLe contrat est parfait lorsque les parties ont réciproquement manifesté leur volonté.", "section_path": ["Première partie", "Titre premier"], "fedlex_url": "https://www.fedlex.admin.ch/eli/cc/27/317_321_377/fr#art_1"},
    {"article_id": "art_2", "article_number": "Art. 2", "text": "   "}
  ]
}`

func TestLoadFedlexFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rs_220.json", fedlexJSON)

	raw, err := LoadFedlexFile(path)
	require.NoError(t, err)

	doc := raw.Document
	assert.Equal(t, OriginFedlex, doc.Origin)
	assert.Equal(t, "220", doc.ExternalID)
	assert.Equal(t, corpus.KindLegislation, doc.Kind)
	assert.Equal(t, corpus.FederalJurisdiction, doc.Jurisdiction)
	assert.Equal(t, corpus.DomainCivil, doc.LegalDomain)
	assert.Equal(t, "CO", doc.Reference)
	assert.Equal(t, "https://www.fedlex.admin.ch/eli/cc/27/317_321_377/fr", doc.URL)
	require.NotNil(t, doc.PublishedAt)
	assert.Equal(t, 2024, doc.PublishedAt.Year())

	assert.Equal(t, chunk.StructureStatute, raw.Structure)
	require.Len(t, raw.Rough, 1, "blank articles are skipped")
	assert.Equal(t, "Art. 1 CO", raw.Rough[0].SourceRef)
	assert.Equal(t, corpus.ChunkArticle, raw.Rough[0].Kind)
	assert.Equal(t, "Première partie > Titre premier", raw.Rough[0].Metadata["section_path"])
}

func TestLoadFedlexFile_Invalid(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFedlexFile(writeFile(t, dir, "broken.json", `{"act":`))
	assert.ErrorIs(t, err, ErrInvalidFile)

	_, err = LoadFedlexFile(writeFile(t, dir, "norus.json", `{"act":{"title":"x"}}`))
	assert.ErrorIs(t, err, ErrInvalidFile)
}

func TestLoadFedlexDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.json", fedlexJSON)
	writeFile(t, dir, "a.json", `{"act":{"rs_number":"311.0","title":"Code pénal suisse","title_short":"CP"},"chunks":[]}`)
	writeFile(t, dir, "notes.txt", "ignored")

	docs, err := LoadFedlexDir(dir)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "311.0", docs[0].Document.ExternalID)
	assert.Equal(t, corpus.DomainCriminal, docs[0].Document.LegalDomain)
	assert.Equal(t, "220", docs[1].Document.ExternalID)

	_, err = LoadFedlexDir(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

const jurisJSON = `{
  "decisions": [
    {"id": "CH_BGer_004_4A-123-2024", "date": "2024-05-02", "reference": ["4A_123/2024"],
     "title_fr": "Contrat de bail", "abstract_fr": "Résiliation du bail pour justes motifs.",
     "canton": "CH", "chamber": "CH_BGer_004", "content_url": "https://entscheidsuche.ch/4A_123_2024.html",
     "article_refs": ["art. 271 CO"]},
    {"id": "GE_CJ_014_ACJC-12-2024", "date": "20240310", "reference": ["ACJC/12/2024"],
     "abstract_fr": "Baux et loyers.", "canton": "ge", "chamber": "GE_CJ_014"},
    {"id": ""}
  ],
  "chunks": [
    {"decision_id": "CH_BGer_004_4A-123-2024", "chunk_type": "considerant", "chunk_index": 2,
     "text": "3.1 Selon l'art. 271 al. 1 CO, le congé est annulable lorsqu'il contrevient aux règles de la bonne foi."},
    {"decision_id": "CH_BGer_004_4A-123-2024", "chunk_type": "regeste", "chunk_index": 0,
     "text": "Art. 271 CO; résiliation du bail contraire à la bonne foi."},
    {"decision_id": "CH_BGer_004_4A-123-2024", "chunk_type": "dispositif", "chunk_index": 3, "text": "Rejeté."},
    {"decision_id": "unknown", "chunk_type": "full_text", "text": "orphan chunk that belongs to nobody at all"}
  ]
}`

func TestLoadJurisprudenceFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "batch_0001.json", jurisJSON)

	docs, err := LoadJurisprudenceFile(path)
	require.NoError(t, err)
	require.Len(t, docs, 2, "decisions without id are skipped")

	federal := docs[0]
	assert.Equal(t, OriginEntscheidsuche, federal.Document.Origin)
	assert.Equal(t, corpus.KindJurisprudence, federal.Document.Kind)
	assert.Equal(t, "4A_123/2024", federal.Document.Reference)
	assert.Equal(t, "CH", federal.Document.Jurisdiction)
	assert.Equal(t, corpus.DomainCivil, federal.Document.LegalDomain)
	assert.Equal(t, chunk.StructureDecision, federal.Structure)
	require.Len(t, federal.Rough, 2, "short chunks are dropped")
	assert.Equal(t, corpus.ChunkRegeste, federal.Rough[0].Kind, "chunks are ordered by index")
	assert.Equal(t, corpus.ChunkConsiderant, federal.Rough[1].Kind)
	assert.Equal(t, "https://entscheidsuche.ch/4A_123_2024.html", federal.Rough[1].SourceURL)

	cantonal := docs[1]
	assert.Equal(t, "GE", cantonal.Document.Jurisdiction)
	assert.Equal(t, corpus.DomainTenancy, cantonal.Document.LegalDomain)
	assert.Equal(t, "ACJC/12/2024", cantonal.Document.Title, "title falls back to the reference")
	assert.Empty(t, cantonal.Rough)
	require.NotNil(t, cantonal.Document.PublishedAt)
}

func TestLoadJurisprudenceFile_MetadataOnlyThroughChunker(t *testing.T) {
	path := writeFile(t, t.TempDir(), "batch.json", jurisJSON)
	docs, err := LoadJurisprudenceFile(path)
	require.NoError(t, err)

	c, err := chunk.New(chunk.DefaultConfig())
	require.NoError(t, err)
	chunks, err := c.Chunk(docs[1])
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, corpus.ChunkMetadataOnly, chunks[0].Kind)
	assert.Equal(t, "Baux et loyers.", chunks[0].Text)
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ge/lpa.html", `<html><body><h1>Loi sur la procédure administrative</h1>
<p>Art. 1 Champ d'application</p><p>La présente loi s'applique aux décisions des autorités administratives du canton.</p></body></html>`)
	writeFile(t, dir, "vd/note.txt", "Texte brut d'une directive cantonale vaudoise sur les impôts.")
	manifest := writeFile(t, dir, "manifest.yaml", `
documents:
  - origin: cantonal
    external_id: ge-lpa
    jurisdiction: ge
    title: Loi sur la procédure administrative
    reference: LPA
    file: ge/lpa.html
    structure: statute
    metadata:
      rs_cantonal: E 5 10
  - external_id: vd-directive
    jurisdiction: VD
    legal_domain: droit_fiscal
    file: vd/note.txt
  - external_id: ch-cst
    rs_number: "101"
    title: Constitution fédérale
    abstract: Constitution fédérale de la Confédération suisse.
`)

	docs, err := LoadManifest(manifest)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	lpa := docs[0]
	assert.Equal(t, chunk.FormatHTML, lpa.Format)
	assert.Equal(t, chunk.StructureStatute, lpa.Structure)
	assert.Equal(t, "GE", lpa.Document.Jurisdiction)
	assert.Equal(t, corpus.KindLegislation, lpa.Document.Kind)
	assert.Equal(t, "E 5 10", lpa.Document.Metadata["rs_cantonal"])
	assert.Contains(t, lpa.Body, "Champ d'application")

	note := docs[1]
	assert.Equal(t, OriginCantonal, note.Document.Origin)
	assert.Equal(t, chunk.FormatText, note.Format)
	assert.Equal(t, corpus.DomainFiscal, note.Document.LegalDomain)

	cst := docs[2]
	assert.Empty(t, cst.Body)
	assert.Equal(t, corpus.DomainConstitutional, cst.Document.LegalDomain)
	assert.Equal(t, "101", cst.Document.Metadata["rs_number"])
}

func TestLoadManifest_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadManifest(writeFile(t, dir, "bad.yaml", "documents: [unterminated"))
	assert.ErrorIs(t, err, ErrInvalidFile)

	_, err = LoadManifest(writeFile(t, dir, "noid.yaml", "documents:\n  - title: x\n"))
	assert.ErrorIs(t, err, ErrInvalidFile)

	_, err = LoadManifest(writeFile(t, dir, "kind.yaml", "documents:\n  - external_id: x\n    kind: doctrine\n"))
	assert.ErrorIs(t, err, ErrInvalidFile)

	writeFile(t, dir, "slides.pptx", "binary")
	_, err = LoadManifest(writeFile(t, dir, "fmt.yaml", "documents:\n  - external_id: x\n    file: slides.pptx\n"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = LoadManifest(writeFile(t, dir, "missing.yaml", "documents:\n  - external_id: x\n    file: nope.txt\n"))
	assert.Error(t, err)
}

func TestResolveFormat(t *testing.T) {
	cases := []struct {
		declared, path string
		want           chunk.Format
	}{
		{"", "a.html", chunk.FormatHTML},
		{"", "a.HTM", chunk.FormatHTML},
		{"", "a.pdf", chunk.FormatPDF},
		{"", "a.txt", chunk.FormatText},
		{"text", "a.html", chunk.FormatText},
		{"PDF", "a.bin", chunk.FormatPDF},
	}
	for _, tc := range cases {
		got, err := resolveFormat(tc.declared, tc.path)
		require.NoError(t, err, tc.path)
		assert.Equal(t, tc.want, got, tc.path)
	}

	_, err := resolveFormat("docx", "a.docx")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExtractPDFText_Invalid(t *testing.T) {
	path := writeFile(t, t.TempDir(), "fake.pdf", "not a pdf")
	_, err := extractPDFText(path)
	assert.ErrorIs(t, err, ErrInvalidFile)
}

func TestParseDate(t *testing.T) {
	assert.Nil(t, parseDate(""))
	assert.Nil(t, parseDate("soon"))
	require.NotNil(t, parseDate("2024-01-01"))
	require.NotNil(t, parseDate("20240101"))
}
