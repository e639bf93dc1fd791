// Package chat implements retrieval-augmented chat orchestration.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragd/internal/config"
	"github.com/kailas-cloud/ragd/internal/domain"
)

const systemPromptTemplate = `You are a helpful assistant. Answer the question using the provided context.
If the context does not contain the answer, say so instead of guessing.

Context:
%s`

// Service is the default chat orchestrator: it retrieves relevant documents,
// builds a grounded prompt with conversation history, and generates an answer.
// Conversation history is held in process.
type Service struct {
	llm          domain.LLMProvider
	retrieval    domain.RetrievalStrategy
	historyLimit int
	logger       *zap.Logger

	mu            sync.Mutex
	conversations map[string][]domain.Message
}

var _ domain.ChatService = (*Service)(nil)

// New creates the default chat service.
func New(
	llm domain.LLMProvider,
	retrieval domain.RetrievalStrategy,
	cfg config.ChatConfig,
	logger *zap.Logger,
) *Service {
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Service{
		llm:           llm,
		retrieval:     retrieval,
		historyLimit:  historyLimit,
		logger:        logger,
		conversations: make(map[string][]domain.Message),
	}
}

// Chat implements domain.ChatService.
func (s *Service) Chat(
	ctx context.Context,
	message, conversationID string,
	extra map[string]any,
) (*domain.ChatResult, error) {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	start := time.Now()

	sources, err := s.retrieval.Retrieve(ctx, message, 0, retrievalFilter(extra))
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}

	messages := s.buildMessages(conversationID, message, sources)

	resp, err := s.llm.Generate(ctx, messages, domain.GenerateOptions{})
	if err != nil {
		return nil, fmt.Errorf("generate response: %w", err)
	}

	s.appendTurn(conversationID, message, resp.Content)

	duration := time.Since(start)
	s.logger.Info("chat turn completed",
		zap.String("conversation_id", conversationID),
		zap.Int("sources", len(sources)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("duration", duration),
	)

	return &domain.ChatResult{
		Response:       resp.Content,
		ConversationID: conversationID,
		Sources:        sources,
		Metadata: map[string]any{
			"model":           resp.Model,
			"strategy":        s.retrieval.Name(),
			"retrieved_count": len(sources),
			"usage":           resp.Usage,
			"duration_ms":     duration.Milliseconds(),
		},
	}, nil
}

// History implements domain.ChatService.
func (s *Service) History(_ context.Context, conversationID string, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns, ok := s.conversations[conversationID]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]domain.Message, len(turns))
	copy(out, turns)
	return out, nil
}

// Clear implements domain.ChatService.
func (s *Service) Clear(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return domain.ErrConversationNotFound
	}
	delete(s.conversations, conversationID)
	return nil
}

// buildMessages assembles the prompt: grounded system message, recent
// history, then the current user message.
func (s *Service) buildMessages(conversationID, message string, sources []domain.SearchResult) []domain.Message {
	s.mu.Lock()
	history := s.conversations[conversationID]
	recent := make([]domain.Message, len(history))
	copy(recent, history)
	s.mu.Unlock()

	messages := make([]domain.Message, 0, len(recent)+2)
	messages = append(messages, domain.Message{
		Role:    "system",
		Content: fmt.Sprintf(systemPromptTemplate, formatContext(sources)),
	})
	messages = append(messages, recent...)
	messages = append(messages, domain.Message{Role: "user", Content: message})
	return messages
}

// appendTurn records a user/assistant exchange, trimming the oldest turns
// past the history limit.
func (s *Service) appendTurn(conversationID, userMsg, assistantMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.conversations[conversationID],
		domain.Message{Role: "user", Content: userMsg},
		domain.Message{Role: "assistant", Content: assistantMsg},
	)
	if len(turns) > s.historyLimit {
		turns = turns[len(turns)-s.historyLimit:]
	}
	s.conversations[conversationID] = turns
}

func formatContext(sources []domain.SearchResult) string {
	if len(sources) == 0 {
		return "(no relevant documents found)"
	}
	var b strings.Builder
	for i, src := range sources {
		fmt.Fprintf(&b, "[%d] %s", i+1, src.Document.Content)
		if src.Document.Source != "" {
			fmt.Fprintf(&b, " (source: %s)", src.Document.Source)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// retrievalFilter extracts a metadata filter from caller-supplied extra
// context, if present.
func retrievalFilter(extra map[string]any) map[string]any {
	if extra == nil {
		return nil
	}
	filter, _ := extra["filter"].(map[string]any)
	return filter
}
