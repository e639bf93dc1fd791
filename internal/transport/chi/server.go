// Package chi implements the HTTP API on the chi router.
package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	chirouter "github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragd/internal/config"
	"github.com/kailas-cloud/ragd/internal/domain"
	logpkg "github.com/kailas-cloud/ragd/internal/logger"
	"github.com/kailas-cloud/ragd/internal/registry"
	healthuc "github.com/kailas-cloud/ragd/internal/usecase/health"
	"github.com/kailas-cloud/ragd/internal/version"
)

const maxDocumentBatch = 100

// Error codes returned to API clients.
const (
	codeBadRequest           = "bad_request"
	codeValidationFailed     = "validation_failed"
	codeDocumentNotFound     = "document_not_found"
	codeConversationNotFound = "conversation_not_found"
	codeVectorDimMismatch    = "vector_dim_mismatch"
	codeRateLimited          = "rate_limited"
	codeUpstreamError        = "upstream_provider_error"
	codeConfigurationError   = "configuration_error"
	codeProviderUnavailable  = "provider_unavailable"
	codeInternalError        = "internal_error"
)

// errorResponse is the uniform error body. RequestID lets clients correlate
// with the canonical request log.
type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, r *http.Request, err error, msg string) bool

// Server exposes the chat, search and document APIs. Providers are resolved
// through the registry per request so the configured defaults apply.
type Server struct {
	providers     *registry.Registry
	health        *healthuc.Service
	cfg           config.Config
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. Handlers log through the
// request-scoped logger placed in context by the wide-event middleware.
func NewServer(
	providers *registry.Registry,
	health *healthuc.Service,
	cfg config.Config,
) *Server {
	s := &Server{
		providers: providers,
		health:    health,
		cfg:       cfg,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, codeDocumentNotFound),
		sentinelHandler(domain.ErrConversationNotFound, http.StatusNotFound, codeConversationNotFound),
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, codeVectorDimMismatch),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, codeRateLimited),
		sentinelHandler(domain.ErrUpstreamProvider, http.StatusBadGateway, codeUpstreamError),
		sentinelHandler(domain.ErrUnknownProvider, http.StatusInternalServerError, codeConfigurationError),
		sentinelHandler(domain.ErrConstruction, http.StatusServiceUnavailable, codeProviderUnavailable),
	}
	return s
}

// Routes mounts all handlers on the given router.
func (s *Server) Routes(r chirouter.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/ready", s.ReadyCheck)
	r.Get("/info", s.Info)
	r.Get("/metrics", s.Metrics)

	r.Route("/api/v1", func(r chirouter.Router) {
		r.Post("/chat", s.Chat)
		r.Post("/search", s.Search)
		r.Post("/documents", s.AddDocuments)
		r.Get("/conversations/{id}", s.GetConversation)
		r.Delete("/conversations/{id}", s.DeleteConversation)
	})
}

// HealthCheck handles GET /health. Pure liveness; no dependency probes.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ReadyCheck handles GET /ready. Probes every configured provider and
// returns 503 until all of them respond.
func (s *Server) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.ValidateAll(r.Context())

	status := "ready"
	httpStatus := http.StatusOK
	if !report.Ready {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"services":  report.Services,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Info handles GET /info.
func (s *Server) Info(w http.ResponseWriter, r *http.Request) {
	providers := make(map[string][]string)
	for role, names := range s.providers.Available() {
		providers[string(role)] = names
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"name":      "ragd",
		"version":   version.Version,
		"commit":    version.Commit,
		"providers": providers,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

type chatRequest struct {
	Message        string         `json:"message"`
	ConversationID string         `json:"conversation_id"`
	Extra          map[string]any `json:"extra"`
}

// Chat handles POST /api/v1/chat.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, r, http.StatusBadRequest, codeValidationFailed, "message is required")
		return
	}

	chat, err := s.providers.GetChat(r.Context(), "")
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	result, err := chat.Chat(r.Context(), req.Message, req.ConversationID, req.Extra)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type searchRequest struct {
	Query  string         `json:"query"`
	TopK   int            `json:"top_k"`
	Filter map[string]any `json:"filter"`
}

type searchResponse struct {
	Results []domain.SearchResult `json:"results"`
	Total   int                   `json:"total"`
}

// Search handles POST /api/v1/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, r, http.StatusBadRequest, codeValidationFailed, "query is required")
		return
	}

	strategy, err := s.providers.GetRetrieval(r.Context(), "")
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	results, err := strategy.Retrieve(r.Context(), req.Query, req.TopK, req.Filter)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Results: results,
		Total:   len(results),
	})
}

type addDocumentsRequest struct {
	Documents []domain.Document `json:"documents"`
}

type addDocumentsResponse struct {
	IDs   []string `json:"ids"`
	Added int      `json:"added"`
}

// AddDocuments handles POST /api/v1/documents: embeds the batch and writes
// it to the vector store.
func (s *Server) AddDocuments(w http.ResponseWriter, r *http.Request) {
	var req addDocumentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if len(req.Documents) == 0 || len(req.Documents) > maxDocumentBatch {
		writeError(w, r, http.StatusBadRequest, codeValidationFailed,
			fmt.Sprintf("documents count must be between 1 and %d", maxDocumentBatch))
		return
	}
	for i, doc := range req.Documents {
		if doc.Content == "" {
			writeError(w, r, http.StatusBadRequest, codeValidationFailed,
				fmt.Sprintf("document %d: content is required", i))
			return
		}
	}

	embeddings, err := s.providers.GetEmbeddings(r.Context(), "")
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	store, err := s.providers.GetVectorStore(r.Context(), "")
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	texts := make([]string, len(req.Documents))
	for i, doc := range req.Documents {
		texts[i] = doc.Content
	}

	embedded, err := embeddings.EmbedTexts(r.Context(), texts, "", s.cfg.Embeddings.BatchSize)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	vectors := make([][]float32, len(embedded))
	for i, e := range embedded {
		vectors[i] = e.Embedding
	}

	ids, err := store.AddDocuments(r.Context(), req.Documents, vectors)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, addDocumentsResponse{
		IDs:   ids,
		Added: len(ids),
	})
}

type conversationResponse struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []domain.Message `json:"messages"`
}

// GetConversation handles GET /api/v1/conversations/{id}.
func (s *Server) GetConversation(w http.ResponseWriter, r *http.Request) {
	id := chirouter.URLParam(r, "id")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, codeValidationFailed, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	chat, err := s.providers.GetChat(r.Context(), "")
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	messages, err := chat.History(r.Context(), id, limit)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, conversationResponse{
		ConversationID: id,
		Messages:       messages,
	})
}

// DeleteConversation handles DELETE /api/v1/conversations/{id}.
func (s *Server) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chirouter.URLParam(r, "id")

	chat, err := s.providers.GetChat(r.Context(), "")
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	if err := chat.Clear(r.Context(), id); err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	// The request-scoped logger carries request_id for correlation with the
	// canonical request log line.
	log := logpkg.FromContext(r.Context())
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, r, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, r, http.StatusInternalServerError, codeInternalError, "internal error")
}

// safeDomainMessage returns a sentinel error message for the client without
// exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrDocumentNotFound,
		domain.ErrConversationNotFound,
		domain.ErrVectorDimMismatch,
		domain.ErrRateLimited,
		domain.ErrUpstreamProvider,
		domain.ErrUnknownProvider,
		domain.ErrConstruction,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, r *http.Request, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, r, status, code, msg)
		return true
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	resp := errorResponse{
		Code:    code,
		Message: message,
	}
	if r != nil {
		resp.RequestID = chiMiddleware.GetReqID(r.Context())
	}
	writeJSON(w, status, resp)
}
