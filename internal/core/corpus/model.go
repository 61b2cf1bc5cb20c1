package corpus

import (
	"time"

	"github.com/google/uuid"
)

// DocKind は文書の種別（法令 / 判例）
type DocKind string

const (
	KindLegislation   DocKind = "legislation"
	KindJurisprudence DocKind = "jurisprudence"
)

// ChunkKind は法令テキスト構造上のチャンク位置を表す
type ChunkKind string

const (
	ChunkArticle      ChunkKind = "article"
	ChunkRegeste      ChunkKind = "regeste"
	ChunkConsiderant  ChunkKind = "considerant"
	ChunkDispositif   ChunkKind = "dispositif"
	ChunkHeader       ChunkKind = "header"
	ChunkParagraph    ChunkKind = "paragraph"
	ChunkFullText     ChunkKind = "full_text"
	ChunkMetadataOnly ChunkKind = "metadata_only"
)

// FederalJurisdiction は連邦法の管轄コード
const FederalJurisdiction = "CH"

// Metadata は取り込み元ごとに異なる任意属性。
// コアロジックはこのマップのキーを参照しない。
type Metadata map[string]any

// Clone はシャローコピーを返す
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Document は1つの法的ソース（法令、判決、州法）
type Document struct {
	ID           uuid.UUID
	Origin       string // "fedlex", "entscheidsuche", "cantonal" など
	ExternalID   string // Origin 内で一意
	Kind         DocKind
	Jurisdiction string // "CH" または州コード
	LegalDomain  string
	Language     string
	Title        string
	Reference    string // "CO", "ATF 151 III 160" など短い引用名
	Abstract     string
	Content      string
	URL          string
	PublishedAt  *time.Time
	Metadata     Metadata
	ContentHash  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Chunk は検索単位となる文書の断片
type Chunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Seq        int64 // ストアが採番する挿入順（同スコア時の並び順に使う）
	Index      int
	Kind       ChunkKind
	Text       string
	SourceRef  string
	SourceURL  string
	Embedding  []float32 // バックフィル前は nil
	Metadata   Metadata
}

// RetrievedChunk は検索結果のチャンクと所属文書の型付き属性。永続化されない。
type RetrievedChunk struct {
	Chunk
	Similarity   float64
	DocKind      DocKind
	Jurisdiction string
	LegalDomain  string
	Title        string
	Reference    string
	Abstract     string
	DocURL       string
}

// Filter は検索時の属性フィルタ（空文字は条件なし、指定項目はAND）
type Filter struct {
	Jurisdiction string
	LegalDomain  string
	Kind         DocKind
}

// IsEmpty は絞り込み条件が1つもないかを返す
func (f Filter) IsEmpty() bool {
	return f.Jurisdiction == "" && f.LegalDomain == "" && f.Kind == ""
}

// Matches はフィルタ条件を満たすかを返す
func (f Filter) Matches(doc *Document) bool {
	if f.Jurisdiction != "" && doc.Jurisdiction != f.Jurisdiction {
		return false
	}
	if f.LegalDomain != "" && doc.LegalDomain != f.LegalDomain {
		return false
	}
	if f.Kind != "" && doc.Kind != f.Kind {
		return false
	}
	return true
}

// SearchParams はベクトル検索のパラメータ
type SearchParams struct {
	Vector        []float32
	K             int
	Filter        Filter
	MinSimilarity float64
}

// PendingChunk は埋め込み未生成のチャンク
type PendingChunk struct {
	ID   uuid.UUID
	Seq  int64
	Text string
}

// EmbeddingUpdate はバックフィルで書き戻すベクトル
type EmbeddingUpdate struct {
	ChunkID uuid.UUID
	Vector  []float32
}

// Stats はコーパスの統計情報
type Stats struct {
	Documents      int
	Chunks         int
	Embedded       int
	ByKind         map[DocKind]int
	ByJurisdiction map[string]int
}

// Pending は埋め込み未生成のチャンク数
func (s *Stats) Pending() int {
	return s.Chunks - s.Embedded
}
