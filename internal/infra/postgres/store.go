package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/soluris/lexrag/internal/core/corpus"
	"github.com/soluris/lexrag/internal/platform/database"
	"github.com/soluris/lexrag/pkg/db"
)

const (
	// DefaultExactSearchBelow 未満の埋め込み件数では全件走査で厳密に検索する
	DefaultExactSearchBelow = 20000

	minEfSearch = 40
	maxEfSearch = 1000
)

// Options は Store の接続・検索設定
type Options struct {
	ConnString       string
	MaxConns         int
	AcquireTimeout   time.Duration
	Dimensions       int
	ExactSearchBelow int
}

// Store は corpus.Store の PostgreSQL + pgvector 実装
type Store struct {
	db         *db.DB
	dims       int
	exactBelow int64
	embedded   atomic.Int64
	logger     *slog.Logger
}

var _ corpus.Store = (*Store)(nil)

// StoreOption は Store のオプション設定
type StoreOption func(*Store)

// WithStoreLogger は Store にロガーを設定する
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open は接続プールを作成し、スキーマを適用する。
// 接続できない場合や pgvector 拡張がない場合は corpus.ErrStoreUnavailable を返す。
func Open(ctx context.Context, opts Options, storeOpts ...StoreOption) (*Store, error) {
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension: %d", opts.Dimensions)
	}
	if opts.ExactSearchBelow <= 0 {
		opts.ExactSearchBelow = DefaultExactSearchBelow
	}

	database, err := db.New(ctx, db.ConnectionParams{
		ConnString:     opts.ConnString,
		MaxConns:       opts.MaxConns,
		AcquireTimeout: opts.AcquireTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", corpus.ErrStoreUnavailable, err)
	}

	s := &Store{
		db:         database,
		dims:       opts.Dimensions,
		exactBelow: int64(opts.ExactSearchBelow),
		logger:     slog.Default(),
	}
	for _, opt := range storeOpts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	if err := s.migrate(ctx); err != nil {
		database.Close()
		return nil, err
	}
	if err := s.refreshEmbeddedCount(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return s, nil
}

// Close は接続プールを閉じる
func (s *Store) Close() {
	s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	typmod, err := database.Transact(ctx, conn, func(tx pgx.Tx) (int32, error) {
		if err := lockTx(ctx, tx, schemaLockID); err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx, schemaDDL(s.dims)); err != nil {
			return 0, err
		}
		var typmod int32
		err := tx.QueryRow(ctx, embeddingDimsSQL).Scan(&typmod)
		return typmod, err
	})
	if err != nil {
		return s.wrap("apply schema", err)
	}
	if typmod > 0 && int(typmod) != s.dims {
		return fmt.Errorf("%w: column is vector(%d), configured %d", corpus.ErrDimensionMismatch, typmod, s.dims)
	}
	return nil
}

func (s *Store) UpsertDocument(ctx context.Context, doc *corpus.Document) (uuid.UUID, error) {
	meta, err := MetadataToJSONB(doc.Metadata)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode document metadata: %w", err)
	}
	id := doc.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	conn, err := s.acquire(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer conn.Release()

	var stored pgtype.UUID
	err = conn.QueryRow(ctx, upsertDocumentSQL,
		UUIDToPgtype(id),
		doc.Origin,
		doc.ExternalID,
		string(doc.Kind),
		doc.Jurisdiction,
		doc.LegalDomain,
		doc.Language,
		doc.Title,
		doc.Reference,
		doc.Abstract,
		doc.Content,
		doc.URL,
		DateToPgtype(doc.PublishedAt),
		meta,
	).Scan(&stored)
	if err != nil {
		return uuid.Nil, s.wrap("upsert document", err)
	}

	doc.ID = PgtypeToUUID(stored)
	return doc.ID, nil
}

func (s *Store) DocumentHash(ctx context.Context, origin, externalID string) (string, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Release()

	var hash string
	err = conn.QueryRow(ctx,
		`SELECT content_hash FROM legal_documents WHERE origin = $1 AND external_id = $2`,
		origin, externalID,
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", s.wrap("get document hash", err)
	}
	return hash, nil
}

// ReplaceChunks は1トランザクション内で既存チャンクを削除して挿入し直し、
// コミットと同時に content_hash を確定させる
func (s *Store) ReplaceChunks(ctx context.Context, documentID uuid.UUID, contentHash string, chunks []*corpus.Chunk) error {
	for _, c := range chunks {
		if c.Embedding != nil && len(c.Embedding) != s.dims {
			return fmt.Errorf("%w: got %d, want %d", corpus.ErrDimensionMismatch, len(c.Embedding), s.dims)
		}
	}

	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	ids := make([]uuid.UUID, len(chunks))
	_, err = database.Transact(ctx, conn, func(tx pgx.Tx) (struct{}, error) {
		// 行ロックで同じ文書への並行した置換を直列化する
		var locked pgtype.UUID
		err := tx.QueryRow(ctx,
			`UPDATE legal_documents SET content_hash = $2, updated_at = NOW() WHERE id = $1 RETURNING id`,
			UUIDToPgtype(documentID), contentHash,
		).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return struct{}{}, fmt.Errorf("%w: %s", corpus.ErrDocumentNotFound, documentID)
		}
		if err != nil {
			return struct{}{}, err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM legal_chunks WHERE document_id = $1`, UUIDToPgtype(documentID)); err != nil {
			return struct{}{}, err
		}
		if len(chunks) == 0 {
			return struct{}{}, nil
		}

		batch := &pgx.Batch{}
		for i, c := range chunks {
			meta, err := MetadataToJSONB(c.Metadata)
			if err != nil {
				return struct{}{}, fmt.Errorf("failed to encode chunk metadata: %w", err)
			}
			ids[i] = uuid.New()
			batch.Queue(insertChunkSQL,
				UUIDToPgtype(ids[i]),
				UUIDToPgtype(documentID),
				c.Index,
				string(c.Kind),
				c.Text,
				c.SourceRef,
				c.SourceURL,
				VectorParam(c.Embedding),
				meta,
			)
		}
		results := tx.SendBatch(ctx, batch)
		for range chunks {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return struct{}{}, err
			}
		}
		return struct{}{}, results.Close()
	})
	if err != nil {
		if errors.Is(err, corpus.ErrDocumentNotFound) {
			return err
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s", corpus.ErrDocumentNotFound, documentID)
		}
		return s.wrap("replace chunks", err)
	}

	for i, c := range chunks {
		c.ID = ids[i]
		c.DocumentID = documentID
	}
	return nil
}

// Search はコサイン類似度の降順（同点は挿入順）で最大K件を返す。
// 埋め込み件数が少ないうちは索引を使わず厳密に、それ以降は HNSW で検索する。
// HNSW は ef_search 件の候補を取ってから WHERE を適用するため、
// フィルタ付きの検索は件数に関係なく厳密検索にする。
func (s *Store) Search(ctx context.Context, params corpus.SearchParams) ([]*corpus.RetrievedChunk, error) {
	if params.K <= 0 {
		return nil, nil
	}
	if len(params.Vector) != s.dims {
		return nil, fmt.Errorf("%w: got %d, want %d", corpus.ErrDimensionMismatch, len(params.Vector), s.dims)
	}

	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	exact := s.exactSearch() || !params.Filter.IsEmpty()
	hits, err := database.ReadOnly(ctx, conn, func(tx pgx.Tx) ([]*corpus.RetrievedChunk, error) {
		tuning := fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", efSearch(params.K))
		if exact {
			tuning = "SET LOCAL enable_indexscan = off"
		}
		if _, err := tx.Exec(ctx, tuning); err != nil {
			return nil, err
		}

		rows, err := tx.Query(ctx, searchSQL,
			pgvector.NewVector(params.Vector),
			params.Filter.Jurisdiction,
			params.Filter.LegalDomain,
			string(params.Filter.Kind),
			params.K,
		)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []*corpus.RetrievedChunk
		for rows.Next() {
			hit, err := scanHit(rows)
			if err != nil {
				return nil, err
			}
			// 下限は LIMIT の後で適用する
			if hit.Similarity < params.MinSimilarity {
				continue
			}
			out = append(out, hit)
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, s.wrap("search chunks", err)
	}

	s.logger.Debug("vector search completed", "exact", exact, "k", params.K, "hits", len(hits))
	return hits, nil
}

func scanHit(rows pgx.Rows) (*corpus.RetrievedChunk, error) {
	var (
		id, docID pgtype.UUID
		kind      string
		docKind   string
		meta      []byte
		hit       corpus.RetrievedChunk
	)
	err := rows.Scan(
		&id, &hit.Seq, &docID, &hit.Index, &kind, &hit.Text, &hit.SourceRef, &hit.SourceURL, &meta,
		&docKind, &hit.Jurisdiction, &hit.LegalDomain, &hit.Title, &hit.Reference, &hit.Abstract, &hit.DocURL,
		&hit.Similarity,
	)
	if err != nil {
		return nil, err
	}
	hit.ID = PgtypeToUUID(id)
	hit.DocumentID = PgtypeToUUID(docID)
	hit.Kind = corpus.ChunkKind(kind)
	hit.DocKind = corpus.DocKind(docKind)
	hit.Metadata = MetadataFromJSONB(meta)
	return &hit, nil
}

func (s *Store) PendingEmbeddings(ctx context.Context, afterSeq int64, limit int, all bool) ([]*corpus.PendingChunk, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, pendingSQL, afterSeq, limit, all)
	if err != nil {
		return nil, s.wrap("list pending chunks", err)
	}
	defer rows.Close()

	var out []*corpus.PendingChunk
	for rows.Next() {
		var (
			id pgtype.UUID
			p  corpus.PendingChunk
		)
		if err := rows.Scan(&id, &p.Seq, &p.Text); err != nil {
			return nil, s.wrap("scan pending chunk", err)
		}
		p.ID = PgtypeToUUID(id)
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("list pending chunks", err)
	}
	return out, nil
}

func (s *Store) SetEmbeddings(ctx context.Context, updates []corpus.EmbeddingUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	for _, u := range updates {
		if len(u.Vector) != s.dims {
			return fmt.Errorf("%w: got %d, want %d", corpus.ErrDimensionMismatch, len(u.Vector), s.dims)
		}
	}

	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	_, err = database.Transact(ctx, conn, func(tx pgx.Tx) (struct{}, error) {
		batch := &pgx.Batch{}
		for _, u := range updates {
			batch.Queue(`UPDATE legal_chunks SET embedding = $2::vector WHERE id = $1`,
				UUIDToPgtype(u.ChunkID), pgvector.NewVector(u.Vector))
		}
		results := tx.SendBatch(ctx, batch)
		for range updates {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return struct{}{}, err
			}
		}
		return struct{}{}, results.Close()
	})
	if err != nil {
		return s.wrap("set embeddings", err)
	}
	return nil
}

// EnsureVectorIndex は HNSW インデックスを作成する（作成済みなら何もしない）
func (s *Store) EnsureVectorIndex(ctx context.Context) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	started := time.Now()
	_, err = database.Transact(ctx, conn, func(tx pgx.Tx) (struct{}, error) {
		if err := lockTx(ctx, tx, indexLockID); err != nil {
			return struct{}{}, err
		}
		_, err := tx.Exec(ctx, hnswDDL)
		return struct{}{}, err
	})
	if err != nil {
		return s.wrap("create vector index", err)
	}
	s.logger.Info("Vector index ready", "index", hnswIndexName, "elapsed", time.Since(started))

	return s.refreshEmbeddedCount(ctx)
}

func (s *Store) Stats(ctx context.Context) (*corpus.Stats, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	st := &corpus.Stats{
		ByKind:         make(map[corpus.DocKind]int),
		ByJurisdiction: make(map[string]int),
	}
	if err := conn.QueryRow(ctx, `SELECT count(*) FROM legal_documents`).Scan(&st.Documents); err != nil {
		return nil, s.wrap("count documents", err)
	}
	if err := conn.QueryRow(ctx, `SELECT count(*), count(embedding) FROM legal_chunks`).Scan(&st.Chunks, &st.Embedded); err != nil {
		return nil, s.wrap("count chunks", err)
	}
	s.embedded.Store(int64(st.Embedded))

	groups := []struct {
		sql string
		put func(key string, n int)
	}{
		{`SELECT kind, count(*) FROM legal_documents GROUP BY kind`, func(k string, n int) { st.ByKind[corpus.DocKind(k)] = n }},
		{`SELECT jurisdiction, count(*) FROM legal_documents GROUP BY jurisdiction`, func(k string, n int) { st.ByJurisdiction[k] = n }},
	}
	for _, g := range groups {
		rows, err := conn.Query(ctx, g.sql)
		if err != nil {
			return nil, s.wrap("group documents", err)
		}
		for rows.Next() {
			var (
				key string
				n   int
			)
			if err := rows.Scan(&key, &n); err != nil {
				rows.Close()
				return nil, s.wrap("scan document group", err)
			}
			g.put(key, n)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, s.wrap("group documents", err)
		}
	}
	return st, nil
}

func (s *Store) refreshEmbeddedCount(ctx context.Context) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	var n int64
	if err := conn.QueryRow(ctx, `SELECT count(embedding) FROM legal_chunks`).Scan(&n); err != nil {
		return s.wrap("count embedded chunks", err)
	}
	s.embedded.Store(n)
	return nil
}

func (s *Store) exactSearch() bool {
	return s.embedded.Load() < s.exactBelow
}

func efSearch(k int) int {
	return min(max(4*k, minEfSearch), maxEfSearch)
}

func (s *Store) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return nil, s.wrap("acquire connection", err)
	}
	return conn, nil
}

// wrap は接続系の失敗を corpus.ErrStoreUnavailable として返す
func (s *Store) wrap(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%w: %s: %w", corpus.ErrStoreUnavailable, op, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

const upsertDocumentSQL = `
INSERT INTO legal_documents (
    id, origin, external_id, kind, jurisdiction, legal_domain, language,
    title, reference, abstract, content, url, published_at, metadata, content_hash
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::jsonb, '')
ON CONFLICT (origin, external_id) DO UPDATE SET
    kind         = EXCLUDED.kind,
    jurisdiction = EXCLUDED.jurisdiction,
    legal_domain = EXCLUDED.legal_domain,
    language     = EXCLUDED.language,
    title        = EXCLUDED.title,
    reference    = EXCLUDED.reference,
    abstract     = EXCLUDED.abstract,
    content      = EXCLUDED.content,
    url          = EXCLUDED.url,
    published_at = EXCLUDED.published_at,
    metadata     = EXCLUDED.metadata,
    content_hash = '',
    updated_at   = NOW()
RETURNING id`

const insertChunkSQL = `
INSERT INTO legal_chunks (id, document_id, chunk_index, kind, text, source_ref, source_url, embedding, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector, $9::jsonb)`

const searchSQL = `
SELECT c.id, c.seq, c.document_id, c.chunk_index, c.kind, c.text, c.source_ref, c.source_url, c.metadata,
       d.kind, d.jurisdiction, d.legal_domain, d.title, d.reference, d.abstract, d.url,
       1 - (c.embedding <=> $1::vector) AS similarity
FROM legal_chunks c
JOIN legal_documents d ON d.id = c.document_id
WHERE c.embedding IS NOT NULL
  AND ($2::text = '' OR d.jurisdiction = $2)
  AND ($3::text = '' OR d.legal_domain = $3)
  AND ($4::text = '' OR d.kind = $4)
ORDER BY c.embedding <=> $1::vector, c.seq
LIMIT $5`

const pendingSQL = `
SELECT id, seq, text
FROM legal_chunks
WHERE seq > $1 AND ($3::boolean OR embedding IS NULL)
ORDER BY seq
LIMIT $2`
