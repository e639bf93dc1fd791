package health

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragd/internal/domain"
)

type fakeLLM struct{ ok bool }

func (f *fakeLLM) Generate(context.Context, []domain.Message, domain.GenerateOptions) (*domain.LLMResponse, error) {
	return nil, nil
}

func (f *fakeLLM) GenerateStream(context.Context, []domain.Message, domain.GenerateOptions) (<-chan domain.StreamChunk, error) {
	return nil, nil
}

func (f *fakeLLM) CountTokens(string, string) int { return 0 }
func (f *fakeLLM) Models() []string { return nil }
func (f *fakeLLM) CheckConnection(context.Context) bool { return f.ok }

type fakeEmbeddings struct{ ok bool }

func (f *fakeEmbeddings) EmbedText(context.Context, string, string) (*domain.EmbeddingResponse, error) {
	return nil, nil
}

func (f *fakeEmbeddings) EmbedTexts(context.Context, []string, string, int) ([]domain.EmbeddingResponse, error) {
	return nil, nil
}

func (f *fakeEmbeddings) Dimension(string) int { return 0 }
func (f *fakeEmbeddings) CheckConnection(context.Context) bool { return f.ok }

type fakeStore struct{ ok bool }

func (f *fakeStore) AddDocuments(context.Context, []domain.Document, [][]float32) ([]string, error) {
	return nil, nil
}

func (f *fakeStore) Search(context.Context, []float32, int, map[string]any) ([]domain.SearchResult, error) {
	return nil, nil
}

func (f *fakeStore) DeleteDocuments(context.Context, []string) error { return nil }
func (f *fakeStore) UpdateDocument(context.Context, string, domain.Document, []float32) error {
	return nil
}
func (f *fakeStore) GetDocument(context.Context, string) (*domain.Document, error) { return nil, nil }
func (f *fakeStore) ListDocuments(context.Context, map[string]any, int) ([]domain.Document, error) {
	return nil, nil
}
func (f *fakeStore) Stats(context.Context) (map[string]any, error) { return nil, nil }
func (f *fakeStore) CheckConnection(context.Context) bool { return f.ok }

type fakeSource struct {
	llm          domain.LLMProvider
	llmErr       error
	embeddings   domain.EmbeddingsService
	embErr       error
	store        domain.VectorStore
	storeErr     error
}

func (f *fakeSource) GetLLM(context.Context, string) (domain.LLMProvider, error) {
	return f.llm, f.llmErr
}

func (f *fakeSource) GetEmbeddings(context.Context, string) (domain.EmbeddingsService, error) {
	return f.embeddings, f.embErr
}

func (f *fakeSource) GetVectorStore(context.Context, string) (domain.VectorStore, error) {
	return f.store, f.storeErr
}

func allHealthySource() *fakeSource {
	return &fakeSource{
		llm:        &fakeLLM{ok: true},
		embeddings: &fakeEmbeddings{ok: true},
		store:      &fakeStore{ok: true},
	}
}

func TestValidateAll_AllHealthy(t *testing.T) {
	svc := New(allHealthySource(), zap.NewNop())

	report := svc.ValidateAll(context.Background())

	if !report.Ready {
		t.Error("report should be ready when every probe passes")
	}
	for name, ok := range report.Services {
		if !ok {
			t.Errorf("service %s: got false, want true", name)
		}
	}
}

func TestValidateAll_OneFailedCheck(t *testing.T) {
	src := allHealthySource()
	src.store = &fakeStore{ok: false}
	svc := New(src, zap.NewNop())

	report := svc.ValidateAll(context.Background())

	if report.Ready {
		t.Error("report should not be ready with a failing probe")
	}
	if report.Services[ServiceVectorStore] {
		t.Error("vectorstore should be reported unhealthy")
	}
	if !report.Services[ServiceLLM] || !report.Services[ServiceEmbeddings] {
		t.Error("healthy services must not be masked by the failing one")
	}
}

func TestValidateAll_ConstructionFailure(t *testing.T) {
	src := allHealthySource()
	src.llm = nil
	src.llmErr = errors.New("no api key")
	svc := New(src, zap.NewNop())

	report := svc.ValidateAll(context.Background())

	if report.Ready {
		t.Error("report should not be ready when a provider cannot be built")
	}
	if report.Services[ServiceLLM] {
		t.Error("llm should be reported unhealthy")
	}
}

func TestValidateAll_ReportsAllServices(t *testing.T) {
	svc := New(allHealthySource(), zap.NewNop())

	report := svc.ValidateAll(context.Background())

	for _, name := range []string{ServiceLLM, ServiceEmbeddings, ServiceVectorStore} {
		if _, ok := report.Services[name]; !ok {
			t.Errorf("service %s missing from report", name)
		}
	}
}
