package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func errorBody(code, message, sessionID string) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"code":       code,
			"message":    message,
			"session_id": sessionID,
			"request_id": "req-1",
		},
	}
}

func TestHTTPTransport_SendMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chat/send" || r.Method != http.MethodPost {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["message"] != "Hello" || req["model_name"] != "model-a" {
			t.Errorf("Unexpected request body: %v", req)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"response":   "Hi!",
			"model":      "model-a",
			"session_id": "11111111-1111-1111-1111-111111111111",
			"usage":      map[string]int{"prompt_tokens": 5, "completion_tokens": 7},
		})
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL, 5*time.Second)
	result, err := transport.SendMessage(context.Background(), "Hello", "model-a", "")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if result.Reply != "Hi!" || result.Model != "model-a" {
		t.Errorf("Unexpected result: %+v", result)
	}
	if result.SessionID != "11111111-1111-1111-1111-111111111111" {
		t.Errorf("Unexpected session id %q", result.SessionID)
	}
	if result.Usage == nil || result.Usage.CompletionTokens != 7 {
		t.Errorf("Expected usage, got %+v", result.Usage)
	}
}

func TestHTTPTransport_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		code      string
		wantClass Class
	}{
		{"validation", http.StatusBadRequest, "VALIDATION_ERROR", ClassInvalidInput},
		{"not found", http.StatusNotFound, "NOT_FOUND", ClassNotFound},
		{"rate limited", http.StatusTooManyRequests, "RATE_LIMITED", ClassRateLimited},
		{"invalid model", http.StatusBadRequest, "INVALID_MODEL", ClassInvalidModel},
		{"upstream unavailable", http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", ClassUpstreamUnavailable},
		{"upstream error", http.StatusBadGateway, "UPSTREAM_ERROR", ClassUpstreamUnavailable},
		{"unknown code", http.StatusInternalServerError, "INTERNAL_ERROR", ClassInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				json.NewEncoder(w).Encode(errorBody(tc.code, "boom", "sess-1"))
			}))
			defer server.Close()

			transport := NewHTTPTransport(server.URL, 5*time.Second)
			_, err := transport.SendMessage(context.Background(), "Hello", "", "")

			var cerr *Error
			if !errors.As(err, &cerr) {
				t.Fatalf("Expected *Error, got %v", err)
			}
			if cerr.Class != tc.wantClass {
				t.Errorf("Expected class %q, got %q", tc.wantClass, cerr.Class)
			}
			if cerr.SessionID != "sess-1" {
				t.Errorf("Expected session id passthrough, got %q", cerr.SessionID)
			}
		})
	}
}

func TestHTTPTransport_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL, 30*time.Millisecond)
	_, err := transport.SendMessage(context.Background(), "Hello", "", "")

	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Class != ClassTimeout {
		t.Fatalf("Expected timeout classification, got %v", err)
	}
}

func TestHTTPTransport_NetworkUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing listening anymore

	transport := NewHTTPTransport(server.URL, time.Second)
	_, err := transport.SendMessage(context.Background(), "Hello", "", "")

	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Class != ClassNetworkUnreachable {
		t.Fatalf("Expected network-unreachable classification, got %v", err)
	}
}

func TestHTTPTransport_GetHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chat/sessions/sess-1/history" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"session_id": "sess-1",
			"messages": []map[string]string{
				{"role": "user", "content": "Hello"},
				{"role": "assistant", "content": "Hi!", "model_name": "model-a"},
			},
		})
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL, time.Second)
	turns, err := transport.GetHistory(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(turns) != 2 || turns[1].ModelName != "model-a" {
		t.Errorf("Unexpected turns: %+v", turns)
	}
}

func TestHTTPTransport_ListSessions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"session_id": "sess-1", "title": "First chat", "message_count": 2},
		})
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL, time.Second)
	sessions, err := transport.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Title != "First chat" {
		t.Errorf("Unexpected sessions: %+v", sessions)
	}
}

func TestHTTPTransport_DeleteSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/v1/chat/sessions/sess-1" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"message": "Session deleted"})
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL, time.Second)
	if err := transport.DeleteSession(context.Background(), "sess-1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
}
