package openai

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragd/internal/config"
	"github.com/kailas-cloud/ragd/internal/domain"
	"github.com/kailas-cloud/ragd/internal/metrics"
)

const defaultEmbeddingDim = 1536

var embeddingDimensions = map[string]int{
	"text-embedding-ada-002": 1536,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
}

// Embeddings is a text vectorization service using the OpenAI embeddings API.
type Embeddings struct {
	client     *openai.Client
	model      string
	batchDelay time.Duration
	logger     *zap.Logger
}

var _ domain.EmbeddingsService = (*Embeddings)(nil)

// NewEmbeddings creates an OpenAI embeddings service. The API key is required.
func NewEmbeddings(cfg config.EmbeddingsConfig, logger *zap.Logger) (*Embeddings, error) {
	if cfg.APIKey == "" {
		return nil, domain.ErrMissingCredentials
	}
	return &Embeddings{
		client:     newClient(cfg.APIKey, cfg.BaseURL),
		model:      cfg.Model,
		batchDelay: time.Duration(cfg.BatchDelayMs) * time.Millisecond,
		logger:     logger,
	}, nil
}

// EmbedText implements domain.EmbeddingsService.
func (e *Embeddings) EmbedText(ctx context.Context, text, model string) (*domain.EmbeddingResponse, error) {
	if model == "" {
		model = e.model
	}
	responses, err := e.embedBatch(ctx, []string{text}, model)
	if err != nil {
		return nil, err
	}
	return &responses[0], nil
}

// EmbedTexts implements domain.EmbeddingsService. Input is split into
// batches of at most batchSize texts; a bounded pacing delay runs between
// batches to avoid upstream throttling. A failure in any batch fails the
// whole call.
func (e *Embeddings) EmbedTexts(
	ctx context.Context,
	texts []string,
	model string,
	batchSize int,
) ([]domain.EmbeddingResponse, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if model == "" {
		model = e.model
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	all := make([]domain.EmbeddingResponse, 0, len(texts))
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := e.embedBatch(ctx, texts[i:end], model)
		if err != nil {
			return nil, fmt.Errorf("batch starting at %d: %w", i, err)
		}
		all = append(all, batch...)

		if end < len(texts) && e.batchDelay > 0 {
			select {
			case <-time.After(e.batchDelay):
			case <-ctx.Done():
				return nil, fmt.Errorf("pacing between batches: %w", ctx.Err())
			}
		}
	}

	e.logger.Debug("embedded texts in batches",
		zap.Int("texts", len(texts)),
		zap.Int("batch_size", batchSize),
	)
	return all, nil
}

func (e *Embeddings) embedBatch(ctx context.Context, texts []string, model string) ([]domain.EmbeddingResponse, error) {
	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          openai.EmbeddingModel(model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, model, "error").Inc()
		e.logger.Error("embedding request failed",
			zap.String("model", model),
			zap.Int("batch_size", len(texts)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, parseAPIError("embed", err)
	}

	if len(resp.Data) != len(texts) {
		metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, model, "error").Inc()
		return nil, fmt.Errorf("embed: got %d embeddings for %d inputs: %w",
			len(resp.Data), len(texts), domain.ErrUpstreamProvider)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(providerName, model).Observe(duration.Seconds())
	metrics.EmbeddingTokensTotal.WithLabelValues(providerName, model).Add(float64(resp.Usage.TotalTokens))

	// Usage is reported per batch; attribute an even share to each item.
	perItem := domain.Usage{
		PromptTokens: resp.Usage.PromptTokens / len(texts),
		TotalTokens:  resp.Usage.TotalTokens / len(texts),
	}

	out := make([]domain.EmbeddingResponse, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = domain.EmbeddingResponse{
			Embedding: d.Embedding,
			Model:     model,
			Usage:     perItem,
		}
	}
	return out, nil
}

// Dimension implements domain.EmbeddingsService.
func (e *Embeddings) Dimension(model string) int {
	if model == "" {
		model = e.model
	}
	if dim, ok := embeddingDimensions[model]; ok {
		return dim
	}
	return defaultEmbeddingDim
}

// CheckConnection verifies API availability via ListModels (free endpoint).
func (e *Embeddings) CheckConnection(ctx context.Context) bool {
	if _, err := e.client.ListModels(ctx); err != nil {
		e.logger.Warn("embeddings connection check failed", zap.Error(err))
		return false
	}
	return true
}
