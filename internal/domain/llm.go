package domain

import "context"

// Message is a single turn in a model conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage holds token accounting for a single model call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LLMResponse is the result of a non-streaming generation call. Immutable
// once created. Metadata carries provider extras such as finish reason,
// cost and latency.
type LLMResponse struct {
	Content  string         `json:"content"`
	Model    string         `json:"model"`
	Usage    Usage          `json:"usage"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// StreamChunk is one item of a streamed generation. A chunk with Err set is
// terminal; the channel is closed after it. A normally finished stream is
// closed without an error chunk.
type StreamChunk struct {
	Delta string
	Err   error
}

// GenerateOptions tunes a single generation call. Zero values fall back to
// the provider's configured defaults.
type GenerateOptions struct {
	Model       string
	MaxTokens   int
	Temperature float32
}

// LLMProvider is the language model generation contract.
//
// GenerateStream returns a finite, single-consumer sequence of text deltas.
// The channel is closed when the stream ends; a mid-stream failure is
// delivered as a final StreamChunk with Err set. Cancelling ctx terminates
// the stream.
type LLMProvider interface {
	Generate(ctx context.Context, messages []Message, opts GenerateOptions) (*LLMResponse, error)
	GenerateStream(ctx context.Context, messages []Message, opts GenerateOptions) (<-chan StreamChunk, error)

	// CountTokens is deterministic for a given model and never negative.
	CountTokens(text, model string) int

	// Models returns the static set of model identifiers this instance serves.
	Models() []string

	// CheckConnection probes the upstream API. It never panics; internal
	// failures are reported as false.
	CheckConnection(ctx context.Context) bool
}
