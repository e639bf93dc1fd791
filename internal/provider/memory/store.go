// Package memory implements an in-process vector store. Intended for local
// development and tests; everything lives in one mutex-guarded map.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kailas-cloud/ragd/internal/domain"
)

type entry struct {
	doc       domain.Document
	embedding []float32
}

// Store is an in-memory vector store with brute-force similarity search.
type Store struct {
	dim    int
	metric string

	mu      sync.RWMutex
	entries map[string]entry
	order   []string // insertion order for stable listing
}

var _ domain.VectorStore = (*Store)(nil)

// New creates a store that accepts vectors of the given dimension.
// metric is "cosine" (default) or "dot".
func New(dim int, metric string) *Store {
	if metric == "" {
		metric = "cosine"
	}
	return &Store{
		dim:     dim,
		metric:  metric,
		entries: make(map[string]entry),
	}
}

// AddDocuments implements domain.VectorStore. The write is all-or-nothing:
// validation runs over the full batch before anything is stored.
func (s *Store) AddDocuments(
	_ context.Context,
	docs []domain.Document,
	embeddings [][]float32,
) ([]string, error) {
	if len(docs) != len(embeddings) {
		return nil, fmt.Errorf("got %d documents and %d embeddings", len(docs), len(embeddings))
	}
	for i, emb := range embeddings {
		if len(emb) != s.dim {
			return nil, fmt.Errorf("document %d: expected dimension %d, got %d: %w",
				i, s.dim, len(emb), domain.ErrVectorDimMismatch)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		if _, exists := s.entries[doc.ID]; !exists {
			s.order = append(s.order, doc.ID)
		}
		s.entries[doc.ID] = entry{doc: doc, embedding: embeddings[i]}
		ids[i] = doc.ID
	}
	return ids, nil
}

// Search implements domain.VectorStore.
func (s *Store) Search(
	_ context.Context,
	queryEmbedding []float32,
	topK int,
	filter map[string]any,
) ([]domain.SearchResult, error) {
	if len(queryEmbedding) != s.dim {
		return nil, fmt.Errorf("query: expected dimension %d, got %d: %w",
			s.dim, len(queryEmbedding), domain.ErrVectorDimMismatch)
	}
	if topK <= 0 {
		topK = 10
	}

	s.mu.RLock()
	results := make([]domain.SearchResult, 0, len(s.entries))
	for _, e := range s.entries {
		if !domain.MatchesFilter(e.doc.Metadata, filter) {
			continue
		}
		results = append(results, domain.SearchResult{
			Document: e.doc,
			Score:    similarity(queryEmbedding, e.embedding, s.metric),
		})
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteDocuments implements domain.VectorStore. Missing ids are ignored.
func (s *Store) DeleteDocuments(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.entries[id]; !ok {
			continue
		}
		delete(s.entries, id)
		for i, o := range s.order {
			if o == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	return nil
}

// UpdateDocument implements domain.VectorStore.
func (s *Store) UpdateDocument(_ context.Context, id string, doc domain.Document, embedding []float32) error {
	if len(embedding) != s.dim {
		return fmt.Errorf("expected dimension %d, got %d: %w", s.dim, len(embedding), domain.ErrVectorDimMismatch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return domain.ErrDocumentNotFound
	}
	doc.ID = id
	s.entries[id] = entry{doc: doc, embedding: embedding}
	return nil
}

// GetDocument implements domain.VectorStore.
func (s *Store) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	doc := e.doc
	return &doc, nil
}

// ListDocuments implements domain.VectorStore. Documents come back in
// insertion order. limit <= 0 means no limit.
func (s *Store) ListDocuments(_ context.Context, filter map[string]any, limit int) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]domain.Document, 0, len(s.entries))
	for _, id := range s.order {
		e := s.entries[id]
		if !domain.MatchesFilter(e.doc.Metadata, filter) {
			continue
		}
		docs = append(docs, e.doc)
		if limit > 0 && len(docs) >= limit {
			break
		}
	}
	return docs, nil
}

// Stats implements domain.VectorStore.
func (s *Store) Stats(_ context.Context) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"documents": len(s.entries),
		"dimension": s.dim,
		"metric":    s.metric,
	}, nil
}

// CheckConnection implements domain.VectorStore. An in-process store is
// always reachable.
func (s *Store) CheckConnection(_ context.Context) bool { return true }

func similarity(a, b []float32, metric string) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if metric == "dot" {
		return dot
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
