package ask

import (
	"github.com/soluris/lexrag/internal/core/generation"
	"github.com/soluris/lexrag/internal/core/retrieval"
)

// Turn は会話履歴の1ターン（入力専用）
type Turn struct {
	Role      generation.Role `json:"role"`
	Text      string          `json:"content"`
	Citations []Citation      `json:"sources,omitempty"`
}

// Request は質問応答のパラメータを表す
type Request struct {
	Question     string
	Jurisdiction string // 州コード（任意）
	LegalDomain  string // 法分野タグ（任意）
	History      []Turn
}

// Citation は回答の根拠として示す出典
type Citation struct {
	Reference string `json:"reference"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	// Verified は検索で得た文脈に基づく回答かどうか。モデルの出力からは設定しない
	Verified bool `json:"verified"`
}

// Answer は質問応答の結果を表す。失敗時も常に整った値を返す
type Answer struct {
	Text       string                   `json:"answer"`
	Citations  []Citation               `json:"citations"`
	Confidence retrieval.Confidence     `json:"confidence"`
	ChunksUsed int                      `json:"chunks_used"`
	Tokens     int                      `json:"tokens"`
	Grounded   bool                     `json:"grounded"`
	Degraded   retrieval.DegradedReason `json:"degraded,omitempty"`
}
