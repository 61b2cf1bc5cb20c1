// Package sourcefile はスクレイパーが出力したファイルを取り込み用の RawDocument に変換する
package sourcefile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/soluris/lexrag/internal/core/chunk"
	"github.com/soluris/lexrag/internal/core/corpus"
)

const (
	OriginFedlex         = "fedlex"
	OriginEntscheidsuche = "entscheidsuche"
	OriginCantonal       = "cantonal"
)

type fedlexFile struct {
	Act    fedlexAct     `json:"act"`
	Chunks []fedlexChunk `json:"chunks"`
}

type fedlexAct struct {
	URI                     string `json:"uri"`
	RSNumber                string `json:"rs_number"`
	Title                   string `json:"title"`
	TitleShort              string `json:"title_short"`
	InForce                 bool   `json:"in_force"`
	LatestConsolidationURI  string `json:"latest_consolidation_uri"`
	LatestConsolidationDate string `json:"latest_consolidation_date"`
	HTMLDownloadURL         string `json:"html_download_url"`
}

type fedlexChunk struct {
	ArticleID     string   `json:"article_id"`
	ArticleNumber string   `json:"article_number"`
	Text          string   `json:"text"`
	SectionPath   []string `json:"section_path"`
	FedlexURL     string   `json:"fedlex_url"`
}

// LoadFedlexFile は1つの法令 JSON（act + chunks）を読み込む
func LoadFedlexFile(path string) (*chunk.RawDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fedlex file: %w", err)
	}

	var f fedlexFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidFile, filepath.Base(path), err)
	}
	if strings.TrimSpace(f.Act.RSNumber) == "" {
		return nil, fmt.Errorf("%w: %s: missing act.rs_number", ErrInvalidFile, filepath.Base(path))
	}
	return fedlexDocument(&f), nil
}

// LoadFedlexDir はディレクトリ内の *.json をファイル名順に読み込む
func LoadFedlexDir(dir string) ([]*chunk.RawDocument, error) {
	paths, err := jsonFiles(dir)
	if err != nil {
		return nil, err
	}
	docs := make([]*chunk.RawDocument, 0, len(paths))
	for _, p := range paths {
		doc, err := LoadFedlexFile(p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func fedlexDocument(f *fedlexFile) *chunk.RawDocument {
	act := f.Act
	reference := act.TitleShort
	if reference == "" {
		reference = "RS " + act.RSNumber
	}
	url := act.LatestConsolidationURI
	if url == "" {
		url = act.URI
	}

	doc := &corpus.Document{
		Origin:       OriginFedlex,
		ExternalID:   act.RSNumber,
		Kind:         corpus.KindLegislation,
		Jurisdiction: corpus.FederalJurisdiction,
		LegalDomain:  corpus.DomainFromRS(act.RSNumber),
		Language:     "fr",
		Title:        act.Title,
		Reference:    reference,
		URL:          url,
		PublishedAt:  parseDate(act.LatestConsolidationDate),
		Metadata: corpus.Metadata{
			"rs_number": act.RSNumber,
			"uri":       act.URI,
			"in_force":  act.InForce,
		},
	}

	rough := make([]chunk.RoughChunk, 0, len(f.Chunks))
	for _, c := range f.Chunks {
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		ref := ""
		if c.ArticleNumber != "" {
			ref = c.ArticleNumber + " " + reference
		}
		meta := corpus.Metadata{"article_id": c.ArticleID}
		if len(c.SectionPath) > 0 {
			meta["section_path"] = strings.Join(c.SectionPath, " > ")
		}
		rough = append(rough, chunk.RoughChunk{
			Kind:      corpus.ChunkArticle,
			Text:      c.Text,
			SourceRef: ref,
			SourceURL: c.FedlexURL,
			Metadata:  meta,
		})
	}

	return &chunk.RawDocument{
		Document:  doc,
		Format:    chunk.FormatText,
		Structure: chunk.StructureStatute,
		Rough:     rough,
	}
}

func jsonFiles(dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("failed to open source directory: %w", err)
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

var dateLayouts = []string{"2006-01-02", "20060102", time.RFC3339}

// parseDate は認識できない日付を nil として扱う
func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
