package domain

import "context"

// VectorStore is the nearest-neighbor document storage contract.
// Mutating operations are atomic per call: no partial multi-document write
// is ever reported as success.
type VectorStore interface {
	// AddDocuments stores documents with their embeddings and returns the
	// assigned identifiers in input order. Embeddings whose length differs
	// from the store's configured dimension are rejected with
	// ErrVectorDimMismatch.
	AddDocuments(ctx context.Context, docs []Document, embeddings [][]float32) ([]string, error)

	// Search returns up to topK results sorted by descending score.
	Search(ctx context.Context, queryEmbedding []float32, topK int, filter map[string]any) ([]SearchResult, error)

	DeleteDocuments(ctx context.Context, ids []string) error
	UpdateDocument(ctx context.Context, id string, doc Document, embedding []float32) error

	// GetDocument returns ErrDocumentNotFound for unknown ids.
	GetDocument(ctx context.Context, id string) (*Document, error)

	ListDocuments(ctx context.Context, filter map[string]any, limit int) ([]Document, error)
	Stats(ctx context.Context) (map[string]any, error)

	// CheckConnection probes the backing store. Never panics.
	CheckConnection(ctx context.Context) bool
}
