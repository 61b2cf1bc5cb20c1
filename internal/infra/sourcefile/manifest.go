package sourcefile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/soluris/lexrag/internal/core/chunk"
	"github.com/soluris/lexrag/internal/core/corpus"
)

// Manifest は生の HTML / テキスト / PDF ファイルと文書メタデータの一覧
//
//	documents:
//	  - origin: cantonal
//	    external_id: ge-lpa
//	    kind: legislation
//	    jurisdiction: GE
//	    reference: LPA
//	    file: ge/lpa.html
type Manifest struct {
	Documents []ManifestEntry `yaml:"documents"`
}

// ManifestEntry は manifest の1文書
type ManifestEntry struct {
	Origin       string         `yaml:"origin"`
	ExternalID   string         `yaml:"external_id"`
	Kind         string         `yaml:"kind"`
	Jurisdiction string         `yaml:"jurisdiction"`
	LegalDomain  string         `yaml:"legal_domain"`
	Language     string         `yaml:"language"`
	Title        string         `yaml:"title"`
	Reference    string         `yaml:"reference"`
	Abstract     string         `yaml:"abstract"`
	URL          string         `yaml:"url"`
	PublishedAt  string         `yaml:"published_at"`
	RSNumber     string         `yaml:"rs_number"`
	File         string         `yaml:"file"`
	Format       string         `yaml:"format"`    // html / text / pdf（省略時は拡張子から判定）
	Structure    string         `yaml:"structure"` // statute / decision / generic（省略時は自動）
	Selectors    []string       `yaml:"selectors"`
	Metadata     map[string]any `yaml:"metadata"`
}

// LoadManifest は manifest を読み込み、参照ファイルを manifest のディレクトリ基準で解決する
func LoadManifest(path string) ([]*chunk.RawDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidFile, filepath.Base(path), err)
	}

	base := filepath.Dir(path)
	docs := make([]*chunk.RawDocument, 0, len(m.Documents))
	for i, entry := range m.Documents {
		raw, err := entry.load(base)
		if err != nil {
			return nil, fmt.Errorf("manifest entry %d (%s): %w", i, entry.ExternalID, err)
		}
		docs = append(docs, raw)
	}
	return docs, nil
}

func (e ManifestEntry) load(base string) (*chunk.RawDocument, error) {
	if e.ExternalID == "" {
		return nil, fmt.Errorf("%w: external_id is required", ErrInvalidFile)
	}

	kind := corpus.DocKind(strings.ToLower(e.Kind))
	switch kind {
	case corpus.KindLegislation, corpus.KindJurisprudence:
	case "":
		kind = corpus.KindLegislation
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidFile, e.Kind)
	}

	origin := e.Origin
	if origin == "" {
		origin = OriginCantonal
	}
	jurisdiction := strings.ToUpper(strings.TrimSpace(e.Jurisdiction))
	if jurisdiction == "" {
		jurisdiction = corpus.FederalJurisdiction
	}
	language := e.Language
	if language == "" {
		language = "fr"
	}

	domain := e.LegalDomain
	if domain == "" {
		if kind == corpus.KindLegislation && e.RSNumber != "" {
			domain = corpus.DomainFromRS(e.RSNumber)
		} else if kind == corpus.KindJurisprudence {
			domain = corpus.DomainFromDecision(e.Reference, nil)
		}
	}

	meta := corpus.Metadata{}
	for k, v := range e.Metadata {
		meta[k] = v
	}
	if e.RSNumber != "" {
		meta["rs_number"] = e.RSNumber
	}

	doc := &corpus.Document{
		Origin:       origin,
		ExternalID:   e.ExternalID,
		Kind:         kind,
		Jurisdiction: jurisdiction,
		LegalDomain:  domain,
		Language:     language,
		Title:        e.Title,
		Reference:    e.Reference,
		Abstract:     e.Abstract,
		URL:          e.URL,
		PublishedAt:  parseDate(e.PublishedAt),
		Metadata:     meta,
	}

	raw := &chunk.RawDocument{
		Document:  doc,
		Structure: chunk.Structure(strings.ToLower(e.Structure)),
		Selectors: e.Selectors,
	}
	if e.File == "" {
		// 本文なし（metadata_only）
		raw.Format = chunk.FormatText
		return raw, nil
	}

	path := e.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	format, err := resolveFormat(e.Format, path)
	if err != nil {
		return nil, err
	}
	raw.Format = format

	switch format {
	case chunk.FormatPDF:
		text, err := extractPDFText(path)
		if err != nil {
			return nil, err
		}
		raw.Body = text
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read source file: %w", err)
		}
		raw.Body = string(data)
	}
	return raw, nil
}

func resolveFormat(declared, path string) (chunk.Format, error) {
	switch strings.ToLower(declared) {
	case "html", "htm":
		return chunk.FormatHTML, nil
	case "text", "txt":
		return chunk.FormatText, nil
	case "pdf":
		return chunk.FormatPDF, nil
	case "":
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, declared)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm", ".xhtml":
		return chunk.FormatHTML, nil
	case ".pdf":
		return chunk.FormatPDF, nil
	case ".txt", ".md", "":
		return chunk.FormatText, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
}
