package domain

import "context"

// RetrievalStrategy turns a text query into a ranked set of stored
// documents. The strategy owns the embed-then-search composition; the
// vector store only ever sees vectors.
type RetrievalStrategy interface {
	Retrieve(ctx context.Context, query string, topK int, filter map[string]any) ([]SearchResult, error)
	Name() string
}
