package domain

import "context"

// EmbeddingResponse carries one embedding vector with its token usage.
// The vector length is fixed per model and must match the configured
// vector store dimension.
type EmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
	Usage     Usage     `json:"usage"`
}

// EmbeddingsService is the text vectorization contract.
//
// EmbedTexts batches internally to respect upstream limits and paces
// between batches; the result is aligned 1:1 with the input order. A
// failure in any batch fails the whole call.
type EmbeddingsService interface {
	EmbedText(ctx context.Context, text, model string) (*EmbeddingResponse, error)
	EmbedTexts(ctx context.Context, texts []string, model string, batchSize int) ([]EmbeddingResponse, error)

	// Dimension returns the fixed vector length for the model.
	Dimension(model string) int

	// CheckConnection probes the upstream API. Never panics.
	CheckConnection(ctx context.Context) bool
}
