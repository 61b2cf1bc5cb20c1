// Package memory はプロセス内で完結するコーパスストア。
// オフライン評価とテストで使う。
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soluris/lexrag/internal/core/corpus"
)

// Store は corpus.Store のメモリ実装（全件走査の厳密検索）
type Store struct {
	mu     sync.RWMutex
	dims   int
	seq    int64
	docs   map[uuid.UUID]*corpus.Document
	keys   map[string]uuid.UUID
	chunks map[uuid.UUID][]*corpus.Chunk // documentID -> chunks
	byID   map[uuid.UUID]*corpus.Chunk
	now    func() time.Time
}

var _ corpus.Store = (*Store)(nil)

// New は新しい Store を作成する。dims が 0 の場合は次元を検証しない。
func New(dims int) *Store {
	return &Store{
		dims:   dims,
		docs:   make(map[uuid.UUID]*corpus.Document),
		keys:   make(map[string]uuid.UUID),
		chunks: make(map[uuid.UUID][]*corpus.Chunk),
		byID:   make(map[uuid.UUID]*corpus.Chunk),
		now:    time.Now,
	}
}

func docKey(origin, externalID string) string {
	return origin + "\x00" + externalID
}

func (s *Store) UpsertDocument(ctx context.Context, doc *corpus.Document) (uuid.UUID, error) {
	if doc == nil {
		return uuid.Nil, fmt.Errorf("document is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cp := *doc
	cp.Metadata = doc.Metadata.Clone()
	cp.ContentHash = ""

	key := docKey(doc.Origin, doc.ExternalID)
	if id, ok := s.keys[key]; ok {
		prev := s.docs[id]
		cp.ID = id
		cp.CreatedAt = prev.CreatedAt
		cp.UpdatedAt = now
		s.docs[id] = &cp
		doc.ID = id
		return id, nil
	}

	cp.ID = doc.ID
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.docs[cp.ID] = &cp
	s.keys[key] = cp.ID
	doc.ID = cp.ID
	return cp.ID, nil
}

func (s *Store) DocumentHash(ctx context.Context, origin, externalID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.keys[docKey(origin, externalID)]
	if !ok {
		return "", nil
	}
	return s.docs[id].ContentHash, nil
}

// ReplaceChunks は検証がすべて通ってから差し替えるため、途中失敗で中間状態は残らない
func (s *Store) ReplaceChunks(ctx context.Context, documentID uuid.UUID, contentHash string, chunks []*corpus.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[documentID]
	if !ok {
		return fmt.Errorf("%w: %s", corpus.ErrDocumentNotFound, documentID)
	}
	for _, c := range chunks {
		if c.Embedding != nil {
			if err := s.checkDims(c.Embedding); err != nil {
				return err
			}
		}
	}

	for _, old := range s.chunks[documentID] {
		delete(s.byID, old.ID)
	}

	stored := make([]*corpus.Chunk, 0, len(chunks))
	for _, c := range chunks {
		s.seq++
		cp := *c
		cp.ID = uuid.New()
		cp.DocumentID = documentID
		cp.Seq = s.seq
		cp.Metadata = c.Metadata.Clone()
		if c.Embedding != nil {
			cp.Embedding = append([]float32(nil), c.Embedding...)
		}
		stored = append(stored, &cp)
		s.byID[cp.ID] = &cp

		c.ID = cp.ID
		c.DocumentID = documentID
		c.Seq = cp.Seq
	}
	s.chunks[documentID] = stored
	doc.ContentHash = contentHash
	return nil
}

func (s *Store) Search(ctx context.Context, params corpus.SearchParams) ([]*corpus.RetrievedChunk, error) {
	if params.K <= 0 {
		return nil, nil
	}
	if err := s.checkDims(params.Vector); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []*corpus.RetrievedChunk
	for docID, chunks := range s.chunks {
		doc := s.docs[docID]
		if !params.Filter.Matches(doc) {
			continue
		}
		for _, c := range chunks {
			if c.Embedding == nil {
				continue
			}
			sim := cosine(params.Vector, c.Embedding)
			if sim < params.MinSimilarity {
				continue
			}
			hits = append(hits, &corpus.RetrievedChunk{
				Chunk:        *c,
				Similarity:   sim,
				DocKind:      doc.Kind,
				Jurisdiction: doc.Jurisdiction,
				LegalDomain:  doc.LegalDomain,
				Title:        doc.Title,
				Reference:    doc.Reference,
				Abstract:     doc.Abstract,
				DocURL:       doc.URL,
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Seq < hits[j].Seq
	})
	if len(hits) > params.K {
		hits = hits[:params.K]
	}
	return hits, nil
}

func (s *Store) PendingEmbeddings(ctx context.Context, afterSeq int64, limit int, all bool) ([]*corpus.PendingChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*corpus.PendingChunk
	for _, c := range s.byID {
		if c.Seq <= afterSeq || (!all && c.Embedding != nil) {
			continue
		}
		out = append(out, &corpus.PendingChunk{ID: c.ID, Seq: c.Seq, Text: c.Text})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SetEmbeddings(ctx context.Context, updates []corpus.EmbeddingUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range updates {
		if err := s.checkDims(u.Vector); err != nil {
			return err
		}
	}
	for _, u := range updates {
		c, ok := s.byID[u.ChunkID]
		if !ok {
			continue
		}
		c.Embedding = append([]float32(nil), u.Vector...)
	}
	return nil
}

// EnsureVectorIndex は全件走査のため何もしない
func (s *Store) EnsureVectorIndex(ctx context.Context) error {
	return nil
}

func (s *Store) Stats(ctx context.Context) (*corpus.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &corpus.Stats{
		Documents:      len(s.docs),
		ByKind:         make(map[corpus.DocKind]int),
		ByJurisdiction: make(map[string]int),
	}
	for _, d := range s.docs {
		st.ByKind[d.Kind]++
		st.ByJurisdiction[d.Jurisdiction]++
	}
	for _, c := range s.byID {
		st.Chunks++
		if c.Embedding != nil {
			st.Embedded++
		}
	}
	return st, nil
}

// Close は何もしない（インターフェース互換のため）
func (s *Store) Close() {}

func (s *Store) checkDims(v []float32) error {
	if s.dims > 0 && len(v) != s.dims {
		return fmt.Errorf("%w: got %d, want %d", corpus.ErrDimensionMismatch, len(v), s.dims)
	}
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
