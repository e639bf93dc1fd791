package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragd/internal/config"
	"github.com/kailas-cloud/ragd/internal/domain"
	"github.com/kailas-cloud/ragd/internal/metrics"
)

const providerName = "openai"

// modelPricing holds approximate USD cost per 1K tokens.
type modelPricing struct {
	input  float64
	output float64
}

var llmPricing = map[string]modelPricing{
	"gpt-4":               {input: 0.03, output: 0.06},
	"gpt-4-turbo-preview": {input: 0.01, output: 0.03},
	"gpt-3.5-turbo":       {input: 0.001, output: 0.002},
	"gpt-3.5-turbo-16k":   {input: 0.003, output: 0.004},
}

// defaultContextLength is assumed for models missing from the table.
const defaultContextLength = 4096

var llmContextLengths = map[string]int{
	"gpt-4":               8192,
	"gpt-4-32k":           32768,
	"gpt-4-turbo-preview": 128000,
	"gpt-3.5-turbo":       4096,
	"gpt-3.5-turbo-16k":   16384,
}

// LLM is a language model provider using the OpenAI chat completions API.
type LLM struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	logger      *zap.Logger
}

var _ domain.LLMProvider = (*LLM)(nil)

// NewLLM creates an OpenAI LLM provider. The API key is required.
func NewLLM(cfg config.LLMConfig, logger *zap.Logger) (*LLM, error) {
	if cfg.APIKey == "" {
		return nil, domain.ErrMissingCredentials
	}
	return &LLM{
		client:      newClient(cfg.APIKey, cfg.BaseURL),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger,
	}, nil
}

// Generate implements domain.LLMProvider.
func (l *LLM) Generate(
	ctx context.Context,
	messages []domain.Message,
	opts domain.GenerateOptions,
) (*domain.LLMResponse, error) {
	req := l.buildRequest(messages, opts)

	start := time.Now()
	resp, err := l.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(providerName, req.Model, "error").Inc()
		l.logger.Error("llm generation failed",
			zap.String("model", req.Model),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, parseAPIError("generate", err)
	}

	metrics.LLMRequestsTotal.WithLabelValues(providerName, req.Model, "success").Inc()
	metrics.LLMRequestDuration.WithLabelValues(providerName, req.Model).Observe(duration.Seconds())
	metrics.LLMTokensTotal.WithLabelValues(providerName, req.Model, "prompt").
		Add(float64(resp.Usage.PromptTokens))
	metrics.LLMTokensTotal.WithLabelValues(providerName, req.Model, "completion").
		Add(float64(resp.Usage.CompletionTokens))

	var content, finishReason string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		finishReason = string(resp.Choices[0].FinishReason)
	}

	usage := domain.Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}

	meta := map[string]any{
		"finish_reason": finishReason,
		"duration_ms":   duration.Milliseconds(),
	}
	if cost, ok := generationCost(req.Model, usage); ok {
		meta["cost_usd"] = cost
	}

	return &domain.LLMResponse{
		Content:  content,
		Model:    req.Model,
		Usage:    usage,
		Metadata: meta,
	}, nil
}

// GenerateStream implements domain.LLMProvider. The returned channel is
// closed when the stream finishes; a mid-stream failure arrives as a final
// chunk with Err set.
func (l *LLM) GenerateStream(
	ctx context.Context,
	messages []domain.Message,
	opts domain.GenerateOptions,
) (<-chan domain.StreamChunk, error) {
	req := l.buildRequest(messages, opts)
	req.Stream = true

	start := time.Now()
	stream, err := l.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(providerName, req.Model, "error").Inc()
		return nil, parseAPIError("generate stream", err)
	}

	out := make(chan domain.StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				metrics.LLMRequestsTotal.WithLabelValues(providerName, req.Model, "success").Inc()
				metrics.LLMRequestDuration.WithLabelValues(providerName, req.Model).
					Observe(time.Since(start).Seconds())
				return
			}
			if err != nil {
				metrics.LLMRequestsTotal.WithLabelValues(providerName, req.Model, "error").Inc()
				l.logger.Error("llm stream failed",
					zap.String("model", req.Model),
					zap.Duration("duration", time.Since(start)),
					zap.Error(err),
				)
				select {
				case out <- domain.StreamChunk{Err: parseAPIError("generate stream", err)}:
				case <-ctx.Done():
				}
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case out <- domain.StreamChunk{Delta: resp.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// CountTokens implements domain.LLMProvider with a deterministic
// approximation: cl100k-family encodings average roughly four characters per
// token for English text.
func (l *LLM) CountTokens(text, _ string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// Models implements domain.LLMProvider.
func (l *LLM) Models() []string {
	return []string{
		"gpt-4",
		"gpt-4-turbo-preview",
		"gpt-3.5-turbo",
		"gpt-3.5-turbo-16k",
	}
}

// ContextLength returns the maximum context window in tokens for a model.
// An empty model means the configured default model.
func (l *LLM) ContextLength(model string) int {
	if model == "" {
		model = l.model
	}
	if n, ok := llmContextLengths[model]; ok {
		return n
	}
	return defaultContextLength
}

// ModerationResult is the upstream content policy verdict for a text.
type ModerationResult struct {
	Flagged        bool
	Categories     map[string]bool
	CategoryScores map[string]float64
}

// Moderate checks text against the OpenAI moderation endpoint.
func (l *LLM) Moderate(ctx context.Context, text string) (*ModerationResult, error) {
	resp, err := l.client.Moderations(ctx, openai.ModerationRequest{Input: text})
	if err != nil {
		l.logger.Error("moderation failed", zap.Error(err))
		return nil, parseAPIError("moderate", err)
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("moderate: empty results: %w", domain.ErrUpstreamProvider)
	}

	res := resp.Results[0]
	return &ModerationResult{
		Flagged:        res.Flagged,
		Categories:     moderationCategories(res.Categories),
		CategoryScores: moderationScores(res.CategoryScores),
	}, nil
}

func moderationCategories(c openai.ResultCategories) map[string]bool {
	return map[string]bool{
		"hate":                   c.Hate,
		"hate/threatening":       c.HateThreatening,
		"harassment":             c.Harassment,
		"harassment/threatening": c.HarassmentThreatening,
		"self-harm":              c.SelfHarm,
		"self-harm/intent":       c.SelfHarmIntent,
		"self-harm/instructions": c.SelfHarmInstructions,
		"sexual":                 c.Sexual,
		"sexual/minors":          c.SexualMinors,
		"violence":               c.Violence,
		"violence/graphic":       c.ViolenceGraphic,
	}
}

func moderationScores(c openai.ResultCategoryScores) map[string]float64 {
	return map[string]float64{
		"hate":                   float64(c.Hate),
		"hate/threatening":       float64(c.HateThreatening),
		"harassment":             float64(c.Harassment),
		"harassment/threatening": float64(c.HarassmentThreatening),
		"self-harm":              float64(c.SelfHarm),
		"self-harm/intent":       float64(c.SelfHarmIntent),
		"self-harm/instructions": float64(c.SelfHarmInstructions),
		"sexual":                 float64(c.Sexual),
		"sexual/minors":          float64(c.SexualMinors),
		"violence":               float64(c.Violence),
		"violence/graphic":       float64(c.ViolenceGraphic),
	}
}

// CheckConnection verifies API availability via ListModels (free endpoint).
func (l *LLM) CheckConnection(ctx context.Context) bool {
	if _, err := l.client.ListModels(ctx); err != nil {
		l.logger.Warn("llm connection check failed", zap.Error(err))
		return false
	}
	return true
}

func (l *LLM) buildRequest(messages []domain.Message, opts domain.GenerateOptions) openai.ChatCompletionRequest {
	model := opts.Model
	if model == "" {
		model = l.model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = l.maxTokens
	}
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = l.temperature
	}

	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

func generationCost(model string, usage domain.Usage) (float64, bool) {
	p, ok := llmPricing[model]
	if !ok {
		return 0, false
	}
	cost := float64(usage.PromptTokens)/1000*p.input + float64(usage.CompletionTokens)/1000*p.output
	return cost, true
}
