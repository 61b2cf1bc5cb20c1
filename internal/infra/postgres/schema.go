package postgres

import "fmt"

const (
	// hnswIndexName は埋め込み列の近似最近傍インデックス名
	hnswIndexName = "idx_legal_chunks_embedding_hnsw"

	hnswM              = 16
	hnswEfConstruction = 64
)

// schemaDDL は vector(N) の次元を埋め込んだ DDL を返す
func schemaDDL(dims int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS legal_documents (
    id            UUID PRIMARY KEY,
    origin        TEXT NOT NULL,
    external_id   TEXT NOT NULL,
    kind          TEXT NOT NULL,
    jurisdiction  TEXT NOT NULL DEFAULT 'CH',
    legal_domain  TEXT NOT NULL DEFAULT '',
    language      TEXT NOT NULL DEFAULT 'fr',
    title         TEXT NOT NULL DEFAULT '',
    reference     TEXT NOT NULL DEFAULT '',
    abstract      TEXT NOT NULL DEFAULT '',
    content       TEXT NOT NULL DEFAULT '',
    url           TEXT NOT NULL DEFAULT '',
    published_at  DATE,
    metadata      JSONB NOT NULL DEFAULT '{}',
    content_hash  TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (origin, external_id)
);

CREATE TABLE IF NOT EXISTS legal_chunks (
    id           UUID PRIMARY KEY,
    seq          BIGINT GENERATED ALWAYS AS IDENTITY UNIQUE,
    document_id  UUID NOT NULL REFERENCES legal_documents(id) ON DELETE CASCADE,
    chunk_index  INTEGER NOT NULL,
    kind         TEXT NOT NULL,
    text         TEXT NOT NULL,
    source_ref   TEXT NOT NULL DEFAULT '',
    source_url   TEXT NOT NULL DEFAULT '',
    embedding    VECTOR(%d),
    metadata     JSONB NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_legal_chunks_document_id ON legal_chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_legal_chunks_pending ON legal_chunks(seq) WHERE embedding IS NULL;
CREATE INDEX IF NOT EXISTS idx_legal_documents_kind ON legal_documents(kind);
CREATE INDEX IF NOT EXISTS idx_legal_documents_jurisdiction ON legal_documents(jurisdiction);
CREATE INDEX IF NOT EXISTS idx_legal_documents_legal_domain ON legal_documents(legal_domain);
`, dims)
}

// hnswDDL は一括投入後に作るインデックスの DDL
var hnswDDL = fmt.Sprintf(
	`CREATE INDEX IF NOT EXISTS %s ON legal_chunks USING hnsw (embedding vector_cosine_ops) WITH (m = %d, ef_construction = %d)`,
	hnswIndexName, hnswM, hnswEfConstruction,
)

// embeddingDimsSQL は既存の embedding 列の次元（pgvector の typmod）を返す
const embeddingDimsSQL = `
SELECT a.atttypmod
FROM pg_attribute a
WHERE a.attrelid = 'legal_chunks'::regclass AND a.attname = 'embedding' AND NOT a.attisdropped`
