package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chatrelay-backend/internal/models"
)

// Completion is the result of one upstream model call.
type Completion struct {
	Content string
	Model   string
	Usage   models.Usage
}

// OpenRouterService talks to the OpenRouter gateway over its
// OpenAI-compatible chat completions API.
type OpenRouterService struct {
	client       *openai.Client
	apiKey       string
	defaultModel string
	rateChan     chan struct{} // bounds concurrent upstream calls
	tracer       trace.Tracer
}

// headerTransport attaches the attribution headers OpenRouter expects.
type headerTransport struct {
	base http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("HTTP-Referer", "http://localhost:8080")
	req.Header.Set("X-Title", "Chatrelay Backend")
	return t.base.RoundTrip(req)
}

func NewOpenRouterService(apiKey, baseURL, defaultModel string, timeout time.Duration, concurrentReqs int) *OpenRouterService {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = &http.Client{
		Timeout:   timeout,
		Transport: &headerTransport{base: http.DefaultTransport},
	}

	if concurrentReqs < 1 {
		concurrentReqs = 1
	}
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &OpenRouterService{
		client:       openai.NewClientWithConfig(cfg),
		apiKey:       apiKey,
		defaultModel: defaultModel,
		rateChan:     rateChan,
		tracer:       otel.Tracer("chatrelay/openrouter"),
	}
}

func (s *OpenRouterService) DefaultModel() string {
	return s.defaultModel
}

func (s *OpenRouterService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *OpenRouterService) releaseRate() {
	s.rateChan <- struct{}{}
}

// Complete sends the history window plus the new message to the gateway and
// returns the assistant reply. Errors come back classified; the caller never
// retries here.
func (s *OpenRouterService) Complete(ctx context.Context, modelName string, history []models.Turn, message string) (*Completion, error) {
	if s.apiKey == "" {
		return nil, &ConfigError{Message: "OpenRouter API key is not configured. Please set OPENROUTER_API_KEY"}
	}
	if modelName == "" {
		modelName = s.defaultModel
	}

	ctx, span := s.tracer.Start(ctx, "openrouter.completion",
		trace.WithAttributes(
			attribute.String("chat.model", modelName),
			attribute.Int("chat.history_length", len(history)),
		))
	defer span.End()

	if err := s.acquireRate(ctx); err != nil {
		span.SetStatus(codes.Error, "rate slot wait canceled")
		return nil, &UnavailableError{Message: "request canceled while waiting for an upstream slot"}
	}
	defer s.releaseRate()

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	for _, t := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: messages,
	})
	latency := time.Since(start)
	span.SetAttributes(attribute.Int64("chat.upstream_latency_ms", latency.Milliseconds()))

	if err != nil {
		classified := classifyUpstreamError(err, modelName)
		span.SetStatus(codes.Error, classified.Error())
		span.RecordError(classified)
		log.Warn().Err(err).Str("model", modelName).Msg("OpenRouter call failed")
		return nil, classified
	}

	if len(resp.Choices) == 0 {
		err := &UpstreamError{Message: "OpenRouter returned no completion choices"}
		span.SetStatus(codes.Error, err.Message)
		return nil, err
	}

	usage := models.Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		LatencyMs:        latency.Milliseconds(),
	}
	span.SetAttributes(
		attribute.Int("chat.prompt_tokens", usage.PromptTokens),
		attribute.Int("chat.completion_tokens", usage.CompletionTokens),
	)
	span.SetStatus(codes.Ok, "")

	model := resp.Model
	if model == "" {
		model = modelName
	}

	return &Completion{
		Content: resp.Choices[0].Message.Content,
		Model:   model,
		Usage:   usage,
	}, nil
}

func classifyUpstreamError(err error, modelName string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &ConfigError{Message: "OpenRouter API key is invalid"}
		case http.StatusTooManyRequests:
			return &RateLimitError{Message: "OpenRouter rate limit exceeded. Please try again later."}
		case http.StatusNotFound:
			return &InvalidModelError{Model: modelName}
		default:
			if apiErr.HTTPStatusCode >= 500 {
				return &UnavailableError{Message: "OpenRouter is temporarily unavailable"}
			}
			return &UpstreamError{Message: apiErr.Message, StatusCode: apiErr.HTTPStatusCode}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return &UnavailableError{Message: "request to OpenRouter timed out"}
	}
	return &UnavailableError{Message: "failed to connect to OpenRouter"}
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return strings.Contains(err.Error(), "Client.Timeout")
}
