package models

import (
	"time"

	"github.com/google/uuid"
)

// Turn roles. RoleError exists only in client transcripts and is never
// accepted by the store.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleError     = "error"
)

// MaxMessageLength caps the user message size accepted by the chat endpoint.
const MaxMessageLength = 10000

type Session struct {
	ID             uuid.UUID `json:"id"`
	Title          string    `json:"title"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// SessionSummary is one row of the session list, ordered by recency.
type SessionSummary struct {
	SessionID     uuid.UUID `json:"session_id"`
	Title         string    `json:"title"`
	LastMessageAt time.Time `json:"last_message_at"`
	MessageCount  int       `json:"message_count"`
}

// Usage carries the token counts and latency reported for an assistant turn.
type Usage struct {
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	LatencyMs        int64 `json:"latency_ms"`
}

// Turn is a single message within a session.
type Turn struct {
	ID        int64     `json:"id,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ModelName string    `json:"model_name,omitempty"`
	Usage     *Usage    `json:"usage,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatRequest is the payload of POST /api/v1/chat/send.
type ChatRequest struct {
	Message   string `json:"message"`
	ModelName string `json:"model_name,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is the reply for a successful send.
type ChatResponse struct {
	Response  string    `json:"response"`
	Model     string    `json:"model"`
	SessionID uuid.UUID `json:"session_id"`
	Usage     *Usage    `json:"usage,omitempty"`
}

// HistoryResponse wraps a session's full transcript.
type HistoryResponse struct {
	SessionID uuid.UUID `json:"session_id"`
	Messages  []Turn    `json:"messages"`
}

// API error envelope. SessionID is set on failed sends that still created
// or touched a session, so the client can adopt the id and resend.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
