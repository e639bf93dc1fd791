package health

import (
	"context"

	"go.uber.org/zap"
)

// Probed service names, also used as keys in the readiness response.
const (
	ServiceLLM         = "llm"
	ServiceEmbeddings  = "embeddings"
	ServiceVectorStore = "vectorstore"
)

// Report aggregates connection validation results. Ready is the logical AND
// of all probed services.
type Report struct {
	Ready    bool
	Services map[string]bool
}

// Service runs independent connection probes against the registry's active
// provider singletons.
type Service struct {
	providers ProviderSource
	logger    *zap.Logger
}

// New creates a readiness service.
func New(providers ProviderSource, logger *zap.Logger) *Service {
	return &Service{providers: providers, logger: logger}
}

// ValidateAll probes the LLM, embeddings and vector store roles. Each probe
// is independent: a construction failure or a failed connection check is
// recorded as false for that role only and never propagated, so one broken
// dependency cannot mask the state of the others.
func (s *Service) ValidateAll(ctx context.Context) Report {
	services := map[string]bool{
		ServiceLLM:         s.probeLLM(ctx),
		ServiceEmbeddings:  s.probeEmbeddings(ctx),
		ServiceVectorStore: s.probeVectorStore(ctx),
	}

	ready := true
	for _, ok := range services {
		if !ok {
			ready = false
			break
		}
	}
	return Report{Ready: ready, Services: services}
}

func (s *Service) probeLLM(ctx context.Context) bool {
	p, err := s.providers.GetLLM(ctx, "")
	if err != nil {
		s.logger.Warn("llm provider unavailable", zap.Error(err))
		return false
	}
	if !p.CheckConnection(ctx) {
		s.logger.Warn("llm connection check failed")
		return false
	}
	return true
}

func (s *Service) probeEmbeddings(ctx context.Context) bool {
	p, err := s.providers.GetEmbeddings(ctx, "")
	if err != nil {
		s.logger.Warn("embeddings service unavailable", zap.Error(err))
		return false
	}
	if !p.CheckConnection(ctx) {
		s.logger.Warn("embeddings connection check failed")
		return false
	}
	return true
}

func (s *Service) probeVectorStore(ctx context.Context) bool {
	p, err := s.providers.GetVectorStore(ctx, "")
	if err != nil {
		s.logger.Warn("vector store unavailable", zap.Error(err))
		return false
	}
	if !p.CheckConnection(ctx) {
		s.logger.Warn("vector store connection check failed")
		return false
	}
	return true
}
