package health

import (
	"context"

	"github.com/kailas-cloud/ragd/internal/domain"
)

// ProviderSource yields the active provider singletons to probe. Satisfied
// by *registry.Registry; Get lazily builds the instance on first use.
type ProviderSource interface {
	GetLLM(ctx context.Context, name string) (domain.LLMProvider, error)
	GetEmbeddings(ctx context.Context, name string) (domain.EmbeddingsService, error)
	GetVectorStore(ctx context.Context, name string) (domain.VectorStore, error)
}
