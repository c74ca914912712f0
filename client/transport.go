package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Turn mirrors one message of a session as the server serializes it. The
// "error" role is client-local and never sent to or returned by the server.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ModelName string    `json:"model_name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type SessionSummary struct {
	SessionID     string    `json:"session_id"`
	Title         string    `json:"title"`
	LastMessageAt time.Time `json:"last_message_at"`
	MessageCount  int       `json:"message_count"`
}

type Usage struct {
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	LatencyMs        int64 `json:"latency_ms"`
}

// SendResult is the success payload of a send.
type SendResult struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"response"`
	Model     string `json:"model"`
	Usage     *Usage `json:"usage,omitempty"`
}

// Transport is the boundary to the message relay service.
type Transport interface {
	SendMessage(ctx context.Context, message, model, sessionID string) (*SendResult, error)
	ListSessions(ctx context.Context) ([]SessionSummary, error)
	GetHistory(ctx context.Context, sessionID string) ([]Turn, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// HTTPTransport talks to the relay's JSON API. All failures come back as
// *Error with a classification; callers never see raw transport errors.
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPTransport builds a transport for the given server base URL
// (e.g. "http://localhost:8080"). The timeout bounds the whole request and
// should match the expected worst case of a model completion.
func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) SendMessage(ctx context.Context, message, model, sessionID string) (*SendResult, error) {
	body := map[string]string{"message": message}
	if model != "" {
		body["model_name"] = model
	}
	if sessionID != "" {
		body["session_id"] = sessionID
	}

	var result SendResult
	if err := t.do(ctx, http.MethodPost, "/api/v1/chat/send", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (t *HTTPTransport) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	var sessions []SessionSummary
	if err := t.do(ctx, http.MethodGet, "/api/v1/chat/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (t *HTTPTransport) GetHistory(ctx context.Context, sessionID string) ([]Turn, error) {
	var resp struct {
		SessionID string `json:"session_id"`
		Messages  []Turn `json:"messages"`
	}
	path := fmt.Sprintf("/api/v1/chat/sessions/%s/history", url.PathEscape(sessionID))
	if err := t.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (t *HTTPTransport) DeleteSession(ctx context.Context, sessionID string) error {
	path := fmt.Sprintf("/api/v1/chat/sessions/%s", url.PathEscape(sessionID))
	return t.do(ctx, http.MethodDelete, path, nil, nil)
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Class: ClassInternal, Message: err.Error()}
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reqBody)
	if err != nil {
		return &Error{Class: ClassInternal, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeErrorResponse(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Class: ClassInternal, Message: "malformed response from server"}
		}
	}
	return nil
}

// classifyTransportError distinguishes a client-observed timeout from a
// failure to reach the server at all.
func classifyTransportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Class: ClassTimeout, Message: "request timed out"}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &Error{Class: ClassTimeout, Message: "request timed out"}
	}
	return &Error{Class: ClassNetworkUnreachable, Message: "could not reach the server"}
}

func decodeErrorResponse(resp *http.Response) *Error {
	var wire struct {
		Error struct {
			Code      string `json:"code"`
			Message   string `json:"message"`
			SessionID string `json:"session_id"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil || wire.Error.Code == "" {
		return &Error{
			Class:   ClassUpstreamUnavailable,
			Message: fmt.Sprintf("server returned HTTP %d", resp.StatusCode),
		}
	}
	return &Error{
		Class:     classFromCode(wire.Error.Code),
		Message:   wire.Error.Message,
		SessionID: wire.Error.SessionID,
	}
}
