package sourcefile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/soluris/lexrag/internal/core/chunk"
	"github.com/soluris/lexrag/internal/core/corpus"
)

// minDecisionChunkChars 未満の判決チャンクはノイズとして捨てる
const minDecisionChunkChars = 20

type jurisBatch struct {
	Decisions []jurisDecision `json:"decisions"`
	Chunks    []jurisChunk    `json:"chunks"`
}

type jurisDecision struct {
	ID          string   `json:"id"`
	Date        string   `json:"date"`
	Reference   []string `json:"reference"`
	TitleFR     string   `json:"title_fr"`
	AbstractFR  string   `json:"abstract_fr"`
	Language    string   `json:"language"`
	Canton      string   `json:"canton"`
	Court       string   `json:"court"`
	CourtName   string   `json:"court_name"`
	Chamber     string   `json:"chamber"`
	ChamberName string   `json:"chamber_name"`
	LegalDomain string   `json:"legal_domain"`
	ContentURL  string   `json:"content_url"`
	IsATF       bool     `json:"is_atf"`
	ArticleRefs []string `json:"article_refs"`
	Hierarchy   []string `json:"hierarchy"`
}

type jurisChunk struct {
	ChunkType   string   `json:"chunk_type"`
	ChunkIndex  int      `json:"chunk_index"`
	Text        string   `json:"text"`
	DecisionID  string   `json:"decision_id"`
	SourceURL   string   `json:"source_url"`
	ArticleRefs []string `json:"article_refs"`
}

var chunkKinds = map[string]corpus.ChunkKind{
	"regeste":       corpus.ChunkRegeste,
	"considerant":   corpus.ChunkConsiderant,
	"dispositif":    corpus.ChunkDispositif,
	"header":        corpus.ChunkHeader,
	"faits":         corpus.ChunkParagraph,
	"full_text":     corpus.ChunkFullText,
	"metadata_only": corpus.ChunkMetadataOnly,
}

// LoadJurisprudenceFile は判決バッチ JSON（decisions + chunks）を読み込む。
// チャンクのない判決は本文なしの文書になり、チャンカーが metadata_only を作る。
func LoadJurisprudenceFile(path string) ([]*chunk.RawDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read jurisprudence file: %w", err)
	}

	var batch jurisBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidFile, filepath.Base(path), err)
	}

	byDecision := make(map[string][]jurisChunk)
	for _, c := range batch.Chunks {
		byDecision[c.DecisionID] = append(byDecision[c.DecisionID], c)
	}

	docs := make([]*chunk.RawDocument, 0, len(batch.Decisions))
	for _, dec := range batch.Decisions {
		if dec.ID == "" {
			continue
		}
		docs = append(docs, decisionDocument(dec, byDecision[dec.ID]))
	}
	return docs, nil
}

// LoadJurisprudenceDir はディレクトリ内のバッチをファイル名順に読み込む
func LoadJurisprudenceDir(dir string) ([]*chunk.RawDocument, error) {
	paths, err := jsonFiles(dir)
	if err != nil {
		return nil, err
	}
	var docs []*chunk.RawDocument
	for _, p := range paths {
		batch, err := LoadJurisprudenceFile(p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, batch...)
	}
	return docs, nil
}

func decisionDocument(dec jurisDecision, chunks []jurisChunk) *chunk.RawDocument {
	reference := dec.ID
	if len(dec.Reference) > 0 && strings.TrimSpace(dec.Reference[0]) != "" {
		reference = strings.TrimSpace(dec.Reference[0])
	}
	title := dec.TitleFR
	if title == "" {
		title = reference
	}

	jurisdiction := strings.ToUpper(strings.TrimSpace(dec.Canton))
	if jurisdiction == "" {
		jurisdiction = corpus.FederalJurisdiction
	}

	domain := dec.LegalDomain
	if domain == "" {
		hierarchy := dec.Hierarchy
		if dec.Chamber != "" {
			hierarchy = append(append([]string(nil), hierarchy...), dec.Chamber)
		}
		domain = corpus.DomainFromDecision(reference, hierarchy)
	}

	language := dec.Language
	if language == "" {
		language = "fr"
	}

	doc := &corpus.Document{
		Origin:       OriginEntscheidsuche,
		ExternalID:   dec.ID,
		Kind:         corpus.KindJurisprudence,
		Jurisdiction: jurisdiction,
		LegalDomain:  domain,
		Language:     language,
		Title:        title,
		Reference:    reference,
		Abstract:     dec.AbstractFR,
		URL:          dec.ContentURL,
		PublishedAt:  parseDate(dec.Date),
		Metadata: corpus.Metadata{
			"court":        dec.CourtName,
			"chamber":      dec.Chamber,
			"chamber_name": dec.ChamberName,
			"is_atf":       dec.IsATF,
		},
	}
	if len(dec.ArticleRefs) > 0 {
		doc.Metadata["article_refs"] = dec.ArticleRefs
	}

	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })

	rough := make([]chunk.RoughChunk, 0, len(chunks))
	for _, c := range chunks {
		if len(strings.TrimSpace(c.Text)) < minDecisionChunkChars {
			continue
		}
		kind, ok := chunkKinds[c.ChunkType]
		if !ok {
			kind = corpus.ChunkParagraph
		}
		// 本文のない判決はチャンカーに metadata_only を作らせる
		if kind == corpus.ChunkMetadataOnly {
			continue
		}
		url := c.SourceURL
		if url == "" {
			url = dec.ContentURL
		}
		rough = append(rough, chunk.RoughChunk{
			Kind:      kind,
			Text:      c.Text,
			SourceURL: url,
			Metadata:  corpus.Metadata{"chunk_type": c.ChunkType},
		})
	}

	return &chunk.RawDocument{
		Document:  doc,
		Format:    chunk.FormatText,
		Structure: chunk.StructureDecision,
		Rough:     rough,
	}
}
