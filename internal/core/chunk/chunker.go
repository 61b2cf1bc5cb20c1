package chunk

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/soluris/lexrag/internal/core/corpus"
)

// Format は RawDocument.Body の形式
type Format string

const (
	FormatText Format = "text"
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf" // PDFから抽出済みのテキスト
)

// Structure は分割戦略の選択
type Structure string

const (
	StructureAuto     Structure = ""
	StructureStatute  Structure = "statute"
	StructureDecision Structure = "decision"
	StructureGeneric  Structure = "generic"
)

// RoughChunk はスクレイパが事前に分割したチャンク
type RoughChunk struct {
	Kind      corpus.ChunkKind
	Text      string
	SourceRef string
	SourceURL string
	Metadata  corpus.Metadata
}

// RawDocument はチャンク分割の入力
type RawDocument struct {
	Document  *corpus.Document
	Body      string
	Format    Format
	Structure Structure
	Selectors []string // 汎用HTML向けの追加セレクタ（既定セレクタより優先）
	Rough     []RoughChunk
}

const (
	// DefaultMaxChars はチャンク本文の最大文字数
	DefaultMaxChars = 2500
	// DefaultMinChars はこれ未満の断片をノイズとして捨てる閾値
	DefaultMinChars = 50
	// DefaultHeaderKeepChars は長すぎる冒頭セクションを残す文字数
	DefaultHeaderKeepChars = 500
	// DefaultFallbackFactor はフォールバックチャンクの上限（MaxChars の倍数）
	DefaultFallbackFactor = 3
	// DefaultNumberedLead は段落番号で分割を始める前に必要な文字数
	DefaultNumberedLead = 200
)

// Config はChunkerの設定を表します
type Config struct {
	MaxChars        int
	MinChars        int
	HeaderKeepChars int
	FallbackFactor  int
	NumberedLead    int
}

// DefaultConfig はデフォルトのChunker設定を返す
func DefaultConfig() Config {
	return Config{
		MaxChars:        DefaultMaxChars,
		MinChars:        DefaultMinChars,
		HeaderKeepChars: DefaultHeaderKeepChars,
		FallbackFactor:  DefaultFallbackFactor,
		NumberedLead:    DefaultNumberedLead,
	}
}

// Chunker は法令・判決・州法の文書を検索単位のチャンクに分割する。
// 同じ入力に対しては常に同じ境界・同じ本文を返す。
type Chunker struct {
	cfg Config
}

// New は新しいChunkerを作成する。未設定の項目はデフォルト値で補う
func New(cfg Config) (*Chunker, error) {
	def := DefaultConfig()
	if cfg.MaxChars == 0 {
		cfg.MaxChars = def.MaxChars
	}
	if cfg.MinChars == 0 {
		cfg.MinChars = def.MinChars
	}
	if cfg.HeaderKeepChars == 0 {
		cfg.HeaderKeepChars = def.HeaderKeepChars
	}
	if cfg.FallbackFactor == 0 {
		cfg.FallbackFactor = def.FallbackFactor
	}
	if cfg.NumberedLead == 0 {
		cfg.NumberedLead = def.NumberedLead
	}
	if cfg.MinChars < 0 || cfg.MaxChars <= cfg.MinChars {
		return nil, fmt.Errorf("%w: min=%d max=%d", ErrInvalidConfig, cfg.MinChars, cfg.MaxChars)
	}
	return &Chunker{cfg: cfg}, nil
}

// piece は境界調整前の断片
type piece struct {
	kind corpus.ChunkKind
	text string
	ref  string
	url  string
	meta corpus.Metadata
}

// Chunk は文書を順序付きのチャンク列に分割する。
// Index は 0 から連続し、DocumentID は raw.Document.ID が設定される。
func (c *Chunker) Chunk(raw *RawDocument) ([]*corpus.Chunk, error) {
	if raw == nil || raw.Document == nil {
		return nil, NewChunkingError("chunk", "", "", ErrNoDocument)
	}
	doc := raw.Document

	plain, root, err := c.plainText(raw)
	if err != nil {
		return nil, NewChunkingError("parse", doc.Origin, doc.ExternalID, err)
	}

	var pieces []piece
	switch {
	case len(raw.Rough) > 0:
		pieces = c.fromRough(doc, raw.Rough)
		if plain == "" {
			plain = joinRough(raw.Rough)
		}
	case plain == "":
		meta := strings.TrimSpace(doc.Abstract)
		if meta == "" {
			meta = strings.TrimSpace(doc.Title)
		}
		if meta == "" {
			return nil, NewChunkingError("chunk", doc.Origin, doc.ExternalID, ErrEmptyDocument)
		}
		return c.number(doc, []*corpus.Chunk{{
			Kind:      corpus.ChunkMetadataOnly,
			Text:      truncateRunes(meta, c.cfg.MaxChars),
			SourceRef: docRef(doc),
			SourceURL: doc.URL,
			Metadata:  corpus.Metadata{},
		}}), nil
	default:
		pieces = c.structured(raw, plain, root)
	}

	chunks := c.bound(doc, pieces)
	if len(chunks) == 0 && plain != "" {
		chunks = []*corpus.Chunk{{
			Kind:      corpus.ChunkFullText,
			Text:      truncateRunes(plain, c.cfg.MaxChars*c.cfg.FallbackFactor),
			SourceRef: docRef(doc),
			SourceURL: doc.URL,
			Metadata:  corpus.Metadata{"fallback": true},
		}}
	}
	if len(chunks) == 0 {
		return nil, NewChunkingError("chunk", doc.Origin, doc.ExternalID, ErrEmptyDocument)
	}

	if doc.Kind == corpus.KindJurisprudence {
		for _, ch := range chunks {
			if refs := ExtractArticleRefs(ch.Text); len(refs) > 0 {
				ch.Metadata["article_refs"] = refs
			}
		}
	}

	return c.number(doc, chunks), nil
}

// plainText は本文を正規化済みテキストに変換する（HTMLの場合は構文木も返す）
func (c *Chunker) plainText(raw *RawDocument) (string, *html.Node, error) {
	if strings.TrimSpace(raw.Body) == "" {
		return "", nil, nil
	}
	if raw.Format != FormatHTML {
		return normalizeText(raw.Body), nil, nil
	}
	root, err := parseHTML(raw.Body)
	if err != nil {
		return "", nil, err
	}
	return blockText(root), root, nil
}

// structured は文書構造に応じた分割戦略を選ぶ
func (c *Chunker) structured(raw *RawDocument, plain string, root *html.Node) []piece {
	doc := raw.Document
	switch resolveStructure(raw) {
	case StructureStatute:
		if root != nil {
			if ps := c.statuteHTML(doc, root); len(ps) > 0 {
				return ps
			}
		}
		if ps := c.statuteText(doc, plain); len(ps) > 0 {
			return ps
		}
	case StructureDecision:
		if ps := c.decision(doc, plain); len(ps) > 0 {
			return ps
		}
	default:
		if root != nil {
			if ps := c.selectors(doc, root, raw.Selectors); len(ps) > 0 {
				return ps
			}
		} else if ps := c.statuteText(doc, plain); len(ps) > 0 {
			return ps
		}
	}

	if ps := c.paragraphs(doc, plain); len(ps) > 0 {
		return ps
	}
	return c.bySize(doc, plain)
}

func resolveStructure(raw *RawDocument) Structure {
	if raw.Structure != StructureAuto {
		return raw.Structure
	}
	switch {
	case raw.Document.Kind == corpus.KindJurisprudence:
		return StructureDecision
	case raw.Document.Origin == "fedlex":
		return StructureStatute
	}
	return StructureGeneric
}

// paragraphs は空行区切りの段落をまとめてチャンク化する
func (c *Chunker) paragraphs(doc *corpus.Document, plain string) []piece {
	if !blankLines.MatchString(plain) {
		return nil
	}
	var out []piece
	for _, p := range packParagraphs(plain, c.cfg.MaxChars) {
		if runeLen(p) < c.cfg.MinChars {
			continue
		}
		out = append(out, piece{kind: corpus.ChunkParagraph, text: p, ref: docRef(doc)})
	}
	return out
}

// bySize は文境界を優先してサイズで分割する
func (c *Chunker) bySize(doc *corpus.Document, plain string) []piece {
	var out []piece
	for _, p := range splitText(plain, c.cfg.MaxChars, c.cfg.MinChars) {
		out = append(out, piece{kind: corpus.ChunkParagraph, text: p, ref: docRef(doc)})
	}
	return out
}

// fromRough はスクレイパ由来のチャンクを断片に変換する
func (c *Chunker) fromRough(doc *corpus.Document, rough []RoughChunk) []piece {
	out := make([]piece, 0, len(rough))
	for _, r := range rough {
		kind := r.Kind
		if kind == "" {
			if doc.Kind == corpus.KindLegislation {
				kind = corpus.ChunkArticle
			} else {
				kind = corpus.ChunkParagraph
			}
		}
		ref := r.SourceRef
		if ref == "" {
			ref = sectionRef(doc, kind, r.Text)
		}
		out = append(out, piece{
			kind: kind,
			text: normalizeText(r.Text),
			ref:  ref,
			url:  r.SourceURL,
			meta: r.Metadata,
		})
	}
	return out
}

func joinRough(rough []RoughChunk) string {
	parts := make([]string, 0, len(rough))
	for _, r := range rough {
		if t := strings.TrimSpace(r.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return normalizeText(strings.Join(parts, "\n\n"))
}

// bound は上下限を適用する。上限超過は文境界で分割し、下限未満は捨てる
func (c *Chunker) bound(doc *corpus.Document, pieces []piece) []*corpus.Chunk {
	var out []*corpus.Chunk
	for _, p := range pieces {
		text := strings.TrimSpace(p.text)
		parts := []string{text}
		if runeLen(text) > c.cfg.MaxChars {
			parts = splitText(text, c.cfg.MaxChars, c.cfg.MinChars)
		}

		url := p.url
		if url == "" {
			url = doc.URL
		}
		for i, part := range parts {
			if runeLen(part) < c.cfg.MinChars {
				continue
			}
			meta := p.meta.Clone()
			if len(parts) > 1 {
				meta["part"] = i + 1
				meta["parts"] = len(parts)
			}
			out = append(out, &corpus.Chunk{
				Kind:      p.kind,
				Text:      part,
				SourceRef: p.ref,
				SourceURL: url,
				Metadata:  meta,
			})
		}
	}
	return out
}

func (c *Chunker) number(doc *corpus.Document, chunks []*corpus.Chunk) []*corpus.Chunk {
	for i, ch := range chunks {
		ch.Index = i
		ch.DocumentID = doc.ID
	}
	return chunks
}

// docRef は文書の短い引用名（なければタイトル）
func docRef(doc *corpus.Document) string {
	if r := strings.TrimSpace(doc.Reference); r != "" {
		return r
	}
	return strings.TrimSpace(doc.Title)
}
