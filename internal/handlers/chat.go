package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/repository"
	"chatrelay-backend/internal/services"
)

type sessionReader interface {
	List(ctx context.Context) ([]models.SessionSummary, error)
	History(ctx context.Context, sessionID uuid.UUID) ([]models.Turn, error)
}

type chatSender interface {
	Send(ctx context.Context, message, modelName, sessionID string) (*services.SendResult, error)
	DeleteSession(ctx context.Context, sessionID uuid.UUID) error
}

type ChatHandler struct {
	sessionRepo sessionReader
	chatService chatSender
}

func NewChatHandler(sessionRepo sessionReader, chatService chatSender) *ChatHandler {
	return &ChatHandler{
		sessionRepo: sessionRepo,
		chatService: chatService,
	}
}

// SendMessage handles POST /api/v1/chat/send.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	result, err := h.chatService.Send(r.Context(), req.Message, req.ModelName, req.SessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	usage := result.Usage
	writeJSON(w, http.StatusOK, models.ChatResponse{
		Response:  result.Reply,
		Model:     result.Model,
		SessionID: result.SessionID,
		Usage:     &usage,
	})
}

// ListSessions handles GET /api/v1/chat/sessions.
func (h *ChatHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessionRepo.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to list sessions", r))
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetHistory handles GET /api/v1/chat/sessions/{id}/history.
func (h *ChatHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return
	}

	turns, err := h.sessionRepo.History(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Session not found", r))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to fetch history", r))
		return
	}

	writeJSON(w, http.StatusOK, models.HistoryResponse{SessionID: sessionID, Messages: turns})
}

// DeleteSession handles DELETE /api/v1/chat/sessions/{id}.
func (h *ChatHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return
	}

	if err := h.chatService.DeleteSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Session not found", r))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to delete session", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Session deleted"})
}

// Shared helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

func errorRespWithSession(code, message, sessionID string, r *http.Request) models.ErrorResponse {
	resp := errorResp(code, message, r)
	resp.Error.SessionID = sessionID
	return resp
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	// A SendError means a session was touched before the failure; keep its
	// id in the payload so the client can adopt it and resend.
	sessionID := ""
	var sendErr *services.SendError
	if errors.As(err, &sendErr) {
		sessionID = sendErr.SessionID
		err = sendErr.Err
	}

	switch e := err.(type) {
	case *services.ValidationError:
		writeJSON(w, http.StatusBadRequest, errorRespWithSession("VALIDATION_ERROR", e.Message, sessionID, r))
	case *services.NotFoundError:
		writeJSON(w, http.StatusNotFound, errorRespWithSession("NOT_FOUND", e.Message, sessionID, r))
	case *services.RateLimitError:
		writeJSON(w, http.StatusTooManyRequests, errorRespWithSession("RATE_LIMITED", e.Message, sessionID, r))
	case *services.InvalidModelError:
		writeJSON(w, http.StatusBadRequest, errorRespWithSession("INVALID_MODEL", e.Error(), sessionID, r))
	case *services.UnavailableError:
		writeJSON(w, http.StatusServiceUnavailable, errorRespWithSession("UPSTREAM_UNAVAILABLE", e.Message, sessionID, r))
	case *services.ConfigError:
		writeJSON(w, http.StatusServiceUnavailable, errorRespWithSession("CONFIG_ERROR", e.Message, sessionID, r))
	case *services.UpstreamError:
		writeJSON(w, http.StatusBadGateway, errorRespWithSession("UPSTREAM_ERROR", e.Message, sessionID, r))
	default:
		writeJSON(w, http.StatusInternalServerError, errorRespWithSession("INTERNAL_ERROR", "An unexpected error occurred", sessionID, r))
	}
}
