// Package retrieval implements retrieval strategies over a vector store.
package retrieval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragd/internal/config"
	"github.com/kailas-cloud/ragd/internal/domain"
)

// SimilarityStrategy retrieves documents by embedding the query and running
// nearest-neighbor search against the vector store.
type SimilarityStrategy struct {
	store      domain.VectorStore
	embeddings domain.EmbeddingsService
	topK       int
	minScore   float64
	logger     *zap.Logger
}

var _ domain.RetrievalStrategy = (*SimilarityStrategy)(nil)

// NewSimilarity creates a similarity retrieval strategy.
func NewSimilarity(
	store domain.VectorStore,
	embeddings domain.EmbeddingsService,
	cfg config.RetrievalConfig,
	logger *zap.Logger,
) *SimilarityStrategy {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	return &SimilarityStrategy{
		store:      store,
		embeddings: embeddings,
		topK:       topK,
		minScore:   cfg.MinScore,
		logger:     logger,
	}
}

// Name implements domain.RetrievalStrategy.
func (s *SimilarityStrategy) Name() string { return "similarity" }

// Retrieve implements domain.RetrievalStrategy. topK <= 0 falls back to the
// configured default. Results below the minimum score are dropped.
func (s *SimilarityStrategy) Retrieve(
	ctx context.Context,
	query string,
	topK int,
	filter map[string]any,
) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = s.topK
	}

	emb, err := s.embeddings.EmbedText(ctx, query, "")
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := s.store.Search(ctx, emb.Embedding, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	if s.minScore > 0 {
		kept := results[:0]
		for _, res := range results {
			if res.Score >= s.minScore {
				kept = append(kept, res)
			}
		}
		results = kept
	}

	s.logger.Debug("retrieved documents",
		zap.Int("top_k", topK),
		zap.Int("results", len(results)),
	)
	return results, nil
}
