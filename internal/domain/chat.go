package domain

import "context"

// ChatResult is the outcome of one chat turn: the generated answer, the
// retrieved sources it was grounded on, and call metadata.
type ChatResult struct {
	Response       string         `json:"response"`
	ConversationID string         `json:"conversation_id"`
	Sources        []SearchResult `json:"sources,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ChatService orchestrates retrieval-augmented chat over an LLMProvider and
// a RetrievalStrategy.
type ChatService interface {
	// Chat processes one user message. An empty conversationID starts a new
	// conversation; extra carries optional caller context merged into the
	// prompt assembly.
	Chat(ctx context.Context, message, conversationID string, extra map[string]any) (*ChatResult, error)

	// History returns the most recent turns, oldest first. limit <= 0 means
	// no limit.
	History(ctx context.Context, conversationID string, limit int) ([]Message, error)

	// Clear forgets a conversation. Unknown ids return ErrConversationNotFound.
	Clear(ctx context.Context, conversationID string) error
}
