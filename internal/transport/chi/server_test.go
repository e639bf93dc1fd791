package chi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chirouter "github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kailas-cloud/ragd/internal/config"
	"github.com/kailas-cloud/ragd/internal/domain"
	logpkg "github.com/kailas-cloud/ragd/internal/logger"
	"github.com/kailas-cloud/ragd/internal/registry"
	healthuc "github.com/kailas-cloud/ragd/internal/usecase/health"
)

type stubLLM struct{ connected bool }

func (s *stubLLM) Generate(context.Context, []domain.Message, domain.GenerateOptions) (*domain.LLMResponse, error) {
	return &domain.LLMResponse{Content: "generated", Model: "stub"}, nil
}

func (s *stubLLM) GenerateStream(context.Context, []domain.Message, domain.GenerateOptions) (<-chan domain.StreamChunk, error) {
	return nil, nil
}

func (s *stubLLM) CountTokens(string, string) int { return 0 }
func (s *stubLLM) Models() []string { return []string{"stub"} }
func (s *stubLLM) CheckConnection(context.Context) bool { return s.connected }

type stubEmbeddings struct{ connected bool }

func (s *stubEmbeddings) EmbedText(context.Context, string, string) (*domain.EmbeddingResponse, error) {
	return &domain.EmbeddingResponse{Embedding: []float32{1, 0}}, nil
}

func (s *stubEmbeddings) EmbedTexts(_ context.Context, texts []string, _ string, _ int) ([]domain.EmbeddingResponse, error) {
	out := make([]domain.EmbeddingResponse, len(texts))
	for i := range out {
		out[i] = domain.EmbeddingResponse{Embedding: []float32{1, 0}}
	}
	return out, nil
}

func (s *stubEmbeddings) Dimension(string) int { return 2 }
func (s *stubEmbeddings) CheckConnection(context.Context) bool { return s.connected }

type stubVectorStore struct {
	connected bool
	added     [][]domain.Document
}

func (s *stubVectorStore) AddDocuments(_ context.Context, docs []domain.Document, _ [][]float32) ([]string, error) {
	s.added = append(s.added, docs)
	ids := make([]string, len(docs))
	for i := range docs {
		ids[i] = docs[i].ID
		if ids[i] == "" {
			ids[i] = "generated"
		}
	}
	return ids, nil
}

func (s *stubVectorStore) Search(context.Context, []float32, int, map[string]any) ([]domain.SearchResult, error) {
	return []domain.SearchResult{
		{Document: domain.Document{ID: "d1", Content: "match"}, Score: 0.8},
	}, nil
}

func (s *stubVectorStore) DeleteDocuments(context.Context, []string) error { return nil }
func (s *stubVectorStore) UpdateDocument(context.Context, string, domain.Document, []float32) error {
	return nil
}
func (s *stubVectorStore) GetDocument(context.Context, string) (*domain.Document, error) {
	return nil, nil
}
func (s *stubVectorStore) ListDocuments(context.Context, map[string]any, int) ([]domain.Document, error) {
	return nil, nil
}
func (s *stubVectorStore) Stats(context.Context) (map[string]any, error) { return nil, nil }
func (s *stubVectorStore) CheckConnection(context.Context) bool { return s.connected }

type stubRetrieval struct{}

func (s *stubRetrieval) Retrieve(context.Context, string, int, map[string]any) ([]domain.SearchResult, error) {
	return []domain.SearchResult{
		{Document: domain.Document{ID: "d1", Content: "match"}, Score: 0.8},
	}, nil
}

func (s *stubRetrieval) Name() string { return "stub" }

type stubChat struct{}

func (s *stubChat) Chat(_ context.Context, message, conversationID string, _ map[string]any) (*domain.ChatResult, error) {
	if conversationID == "" {
		conversationID = "conv-new"
	}
	return &domain.ChatResult{Response: "answer to " + message, ConversationID: conversationID}, nil
}

func (s *stubChat) History(_ context.Context, id string, _ int) ([]domain.Message, error) {
	if id == "missing" {
		return nil, domain.ErrConversationNotFound
	}
	return []domain.Message{{Role: "user", Content: "hi"}}, nil
}

func (s *stubChat) Clear(_ context.Context, id string) error {
	if id == "missing" {
		return domain.ErrConversationNotFound
	}
	return nil
}

func testConfig() config.Config {
	cfg := config.Config{}
	cfg.LLM.Provider = "stub"
	cfg.Embeddings.Provider = "stub"
	cfg.Embeddings.BatchSize = 100
	cfg.VectorStore.Provider = "stub"
	cfg.Retrieval.Strategy = "stub"
	cfg.Chat.Service = "stub"
	return cfg
}

// newTestRouter wires a full server over stub providers. storeConnected
// controls the vector store readiness probe.
func newTestRouter(t *testing.T, storeConnected bool) chirouter.Router {
	t.Helper()
	cfg := testConfig()
	reg := registry.New(cfg, zap.NewNop())

	reg.RegisterLLM("stub", func(context.Context, config.LLMConfig) (domain.LLMProvider, error) {
		return &stubLLM{connected: true}, nil
	})
	reg.RegisterEmbeddings("stub", func(context.Context, config.EmbeddingsConfig) (domain.EmbeddingsService, error) {
		return &stubEmbeddings{connected: true}, nil
	})
	reg.RegisterVectorStore("stub", func(context.Context, config.VectorStoreConfig) (domain.VectorStore, error) {
		return &stubVectorStore{connected: storeConnected}, nil
	})
	reg.RegisterRetrieval("stub", func(
		context.Context, domain.VectorStore, domain.EmbeddingsService, config.RetrievalConfig,
	) (domain.RetrievalStrategy, error) {
		return &stubRetrieval{}, nil
	})
	reg.RegisterChat("stub", func(
		context.Context, domain.LLMProvider, domain.RetrievalStrategy, config.ChatConfig,
	) (domain.ChatService, error) {
		return &stubChat{}, nil
	})

	server := NewServer(reg, healthuc.New(reg, zap.NewNop()), cfg)
	r := chirouter.NewRouter()
	server.Routes(r)
	return r
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHealth_AlwaysOK(t *testing.T) {
	router := newTestRouter(t, false)

	rr := doRequest(t, router, "GET", "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusOK)
	}

	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("status: got %v, want healthy", resp["status"])
	}
	if resp["timestamp"] == nil {
		t.Error("health response should carry a timestamp")
	}
}

func TestReady_AllHealthy(t *testing.T) {
	router := newTestRouter(t, true)

	rr := doRequest(t, router, "GET", "/ready", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusOK)
	}

	var resp struct {
		Status   string          `json:"status"`
		Services map[string]bool `json:"services"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ready" {
		t.Errorf("status: got %q, want ready", resp.Status)
	}
	for name, ok := range resp.Services {
		if !ok {
			t.Errorf("service %s reported unhealthy", name)
		}
	}
}

func TestReady_FailingStore_503(t *testing.T) {
	router := newTestRouter(t, false)

	rr := doRequest(t, router, "GET", "/ready", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}

	var resp struct {
		Status   string          `json:"status"`
		Services map[string]bool `json:"services"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "not_ready" {
		t.Errorf("status: got %q, want not_ready", resp.Status)
	}
	if resp.Services["vectorstore"] {
		t.Error("vectorstore should be reported unhealthy")
	}
	if !resp.Services["llm"] {
		t.Error("llm should still be reported healthy")
	}
}

func TestInfo_ListsProviders(t *testing.T) {
	router := newTestRouter(t, true)

	rr := doRequest(t, router, "GET", "/info", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusOK)
	}

	var resp struct {
		Name      string              `json:"name"`
		Providers map[string][]string `json:"providers"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Name != "ragd" {
		t.Errorf("name: got %q, want ragd", resp.Name)
	}
	if len(resp.Providers["llm"]) != 1 || resp.Providers["llm"][0] != "stub" {
		t.Errorf("llm providers: got %v", resp.Providers["llm"])
	}
}

func TestChat_HappyPath(t *testing.T) {
	router := newTestRouter(t, true)

	rr := doRequest(t, router, "POST", "/api/v1/chat", `{"message": "what is ragd?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp domain.ChatResult
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Response != "answer to what is ragd?" {
		t.Errorf("response: got %q", resp.Response)
	}
	if resp.ConversationID != "conv-new" {
		t.Errorf("conversation id: got %q", resp.ConversationID)
	}
}

func TestChat_EmptyMessage_400(t *testing.T) {
	router := newTestRouter(t, true)

	rr := doRequest(t, router, "POST", "/api/v1/chat", `{"message": ""}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusBadRequest)
	}

	var errResp errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errResp.Code != codeValidationFailed {
		t.Errorf("code: got %q, want %q", errResp.Code, codeValidationFailed)
	}
}

func TestChat_InvalidJSON_400(t *testing.T) {
	router := newTestRouter(t, true)

	rr := doRequest(t, router, "POST", "/api/v1/chat", `not json`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestSearch_HappyPath(t *testing.T) {
	router := newTestRouter(t, true)

	rr := doRequest(t, router, "POST", "/api/v1/search", `{"query": "find me", "top_k": 3}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp searchResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || len(resp.Results) != 1 {
		t.Fatalf("results: got %d", resp.Total)
	}
	if resp.Results[0].Document.ID != "d1" {
		t.Errorf("result id: got %q", resp.Results[0].Document.ID)
	}
}

func TestSearch_EmptyQuery_400(t *testing.T) {
	router := newTestRouter(t, true)

	rr := doRequest(t, router, "POST", "/api/v1/search", `{"query": ""}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestAddDocuments_HappyPath(t *testing.T) {
	router := newTestRouter(t, true)

	rr := doRequest(t, router, "POST", "/api/v1/documents",
		`{"documents": [{"content": "first"}, {"content": "second"}]}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("got %d, want %d: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}

	var resp addDocumentsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Added != 2 || len(resp.IDs) != 2 {
		t.Errorf("added: got %d ids %v", resp.Added, resp.IDs)
	}
}

func TestAddDocuments_EmptyBatch_400(t *testing.T) {
	router := newTestRouter(t, true)

	rr := doRequest(t, router, "POST", "/api/v1/documents", `{"documents": []}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestAddDocuments_MissingContent_400(t *testing.T) {
	router := newTestRouter(t, true)

	rr := doRequest(t, router, "POST", "/api/v1/documents", `{"documents": [{"content": ""}]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestGetConversation(t *testing.T) {
	router := newTestRouter(t, true)

	rr := doRequest(t, router, "GET", "/api/v1/conversations/conv-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusOK)
	}

	var resp conversationResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ConversationID != "conv-1" || len(resp.Messages) != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestGetConversation_NotFound_404(t *testing.T) {
	router := newTestRouter(t, true)

	rr := doRequest(t, router, "GET", "/api/v1/conversations/missing", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusNotFound)
	}

	var errResp errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errResp.Code != codeConversationNotFound {
		t.Errorf("code: got %q, want %q", errResp.Code, codeConversationNotFound)
	}
}

func TestGetConversation_BadLimit_400(t *testing.T) {
	router := newTestRouter(t, true)

	rr := doRequest(t, router, "GET", "/api/v1/conversations/conv-1?limit=abc", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestDeleteConversation(t *testing.T) {
	router := newTestRouter(t, true)

	rr := doRequest(t, router, "DELETE", "/api/v1/conversations/conv-1", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusNoContent)
	}
}

func TestDeleteConversation_NotFound_404(t *testing.T) {
	router := newTestRouter(t, true)

	rr := doRequest(t, router, "DELETE", "/api/v1/conversations/missing", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestHandleDomainError_Mapping(t *testing.T) {
	cfg := testConfig()
	reg := registry.New(cfg, zap.NewNop())
	server := NewServer(reg, healthuc.New(reg, zap.NewNop()), cfg)

	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrDocumentNotFound, http.StatusNotFound},
		{domain.ErrConversationNotFound, http.StatusNotFound},
		{domain.ErrVectorDimMismatch, http.StatusBadRequest},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrUpstreamProvider, http.StatusBadGateway},
		{domain.ErrUnknownProvider, http.StatusInternalServerError},
		{domain.ErrConstruction, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", http.NoBody)
		server.handleDomainError(rr, req, tc.err)
		if rr.Code != tc.want {
			t.Errorf("%v: got %d, want %d", tc.err, rr.Code, tc.want)
		}
	}
}

// An unregistered provider must surface as a server-side configuration
// error, never a 404.
func TestChat_NoProvidersRegistered_500(t *testing.T) {
	cfg := testConfig()
	reg := registry.New(cfg, zap.NewNop())
	server := NewServer(reg, healthuc.New(reg, zap.NewNop()), cfg)
	r := chirouter.NewRouter()
	server.Routes(r)

	rr := doRequest(t, r, "POST", "/api/v1/chat", `{"message": "hi"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusInternalServerError)
	}

	var errResp errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errResp.Code != codeConfigurationError {
		t.Errorf("code: got %q, want %q", errResp.Code, codeConfigurationError)
	}
}

// Handler errors must log through the request-scoped logger so entries carry
// the request_id of the canonical log line.
func TestHandleDomainError_UsesRequestScopedLogger(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	reqLogger := zap.New(core).With(zap.String("request_id", "req-123"))

	server := NewServer(nil, nil, config.Config{})
	req := httptest.NewRequest("GET", "/api/v1/search", http.NoBody)
	req = req.WithContext(logpkg.ContextWithLogger(req.Context(), reqLogger))
	rr := httptest.NewRecorder()

	server.handleDomainError(rr, req, domain.ErrDocumentNotFound)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusNotFound)
	}

	entries := logs.FilterMessage("domain error").All()
	if len(entries) != 1 {
		t.Fatalf("domain error entries: got %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["request_id"]; got != "req-123" {
		t.Errorf("request_id: got %v, want req-123", got)
	}
}
