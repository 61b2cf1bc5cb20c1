package corpus

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrStoreUnavailable は接続失敗や拡張未導入でストアが使えない場合のエラー
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrDimensionMismatch はベクトル次元がストアの次元と一致しない場合のエラー
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrDocumentNotFound は指定された文書が存在しない場合のエラー
	ErrDocumentNotFound = errors.New("document not found")
)

// Store はコーパスの永続化とベクトル検索を提供する
type Store interface {
	// UpsertDocument は (Origin, ExternalID) をキーに文書を作成・更新し、IDを返す。
	// 保存済みの ContentHash は空に戻る。ハッシュを確定させるのは ReplaceChunks だけ。
	UpsertDocument(ctx context.Context, doc *Document) (uuid.UUID, error)

	// DocumentHash は既存文書の ContentHash を返す（未登録なら空文字）
	DocumentHash(ctx context.Context, origin, externalID string) (string, error)

	// ReplaceChunks は文書のチャンクを全削除して新しい集合に置き換え、
	// 同じ操作の中で文書の ContentHash を contentHash にする（原子的）
	ReplaceChunks(ctx context.Context, documentID uuid.UUID, contentHash string, chunks []*Chunk) error

	// Search はコサイン類似度の降順、同点は挿入順で最大K件を返す
	Search(ctx context.Context, params SearchParams) ([]*RetrievedChunk, error)

	// PendingEmbeddings は afterSeq より後の埋め込み未生成チャンクを Seq 順に返す。
	// all が true の場合は埋め込み済みも含める（再埋め込み用）
	PendingEmbeddings(ctx context.Context, afterSeq int64, limit int, all bool) ([]*PendingChunk, error)

	// SetEmbeddings はチャンクのベクトルを書き込む
	SetEmbeddings(ctx context.Context, updates []EmbeddingUpdate) error

	// EnsureVectorIndex は近似最近傍インデックスを作成する（作成済みなら何もしない）
	EnsureVectorIndex(ctx context.Context) error

	// Stats はコーパス統計を返す
	Stats(ctx context.Context) (*Stats, error)
}
