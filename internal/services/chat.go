package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chatrelay-backend/internal/models"
)

// historyWindow is how many prior turns are sent upstream for context.
const historyWindow = 10

// SessionStore is the persistence contract the orchestrator needs.
type SessionStore interface {
	Create(ctx context.Context) (*models.Session, error)
	Append(ctx context.Context, sessionID uuid.UUID, turn *models.Turn) error
	History(ctx context.Context, sessionID uuid.UUID) ([]models.Turn, error)
	Delete(ctx context.Context, sessionID uuid.UUID) error
	Exists(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

// Completer is the model-completion collaborator.
type Completer interface {
	Complete(ctx context.Context, modelName string, history []models.Turn, message string) (*Completion, error)
	DefaultModel() string
}

// EventSink receives session-change notifications. It is a side channel:
// sinks must not fail the operation that triggered them.
type EventSink interface {
	MessageAppended(ctx context.Context, sessionID uuid.UUID)
	SessionDeleted(ctx context.Context, sessionID uuid.UUID)
}

// SendResult is the outcome of a successful send.
type SendResult struct {
	SessionID uuid.UUID
	Reply     string
	Model     string
	Usage     models.Usage
}

// ChatService mediates one "send message" exchange: validate, resolve the
// session, persist the user turn, call the model, persist the reply.
type ChatService struct {
	store  SessionStore
	llm    Completer
	locker SessionLocker
	events EventSink
	tracer trace.Tracer
}

func NewChatService(store SessionStore, llm Completer, locker SessionLocker, events EventSink) *ChatService {
	return &ChatService{
		store:  store,
		llm:    llm,
		locker: locker,
		events: events,
		tracer: otel.Tracer("chatrelay/chat"),
	}
}

// Send relays one user message and returns the assistant reply.
//
// Session policy: a missing or unknown session id allocates a fresh session;
// a send never fails for lack of one. History policy: the last 10 prior
// turns are submitted upstream along with the new message.
//
// The user turn is appended before the upstream call. If the call fails the
// turn stays persisted and the classified error is returned wrapped in a
// SendError carrying the session id; no assistant turn is written. No
// retries happen here.
func (s *ChatService) Send(ctx context.Context, message, modelName, sessionID string) (*SendResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, &ValidationError{Message: "Message cannot be empty or contain only whitespace"}
	}
	if len(message) > models.MaxMessageLength {
		return nil, &ValidationError{Message: "Message exceeds the maximum length"}
	}
	if modelName == "" {
		modelName = s.llm.DefaultModel()
	}

	ctx, span := s.tracer.Start(ctx, "chat.send",
		trace.WithAttributes(
			attribute.String("chat.model", modelName),
			attribute.Int("chat.message_length", len(message)),
		))
	defer span.End()

	sid, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		span.SetStatus(codes.Error, "session resolution failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("chat.session_id", sid.String()))

	unlock, err := s.locker.Lock(ctx, sid)
	if err != nil {
		span.SetStatus(codes.Error, "session lock failed")
		return nil, &UnavailableError{Message: "could not serialize access to the session"}
	}
	defer unlock()

	history, err := s.store.History(ctx, sid)
	if err != nil {
		span.SetStatus(codes.Error, "history fetch failed")
		return nil, err
	}

	userTurn := &models.Turn{Role: models.RoleUser, Content: message, ModelName: modelName}
	if err := s.store.Append(ctx, sid, userTurn); err != nil {
		span.SetStatus(codes.Error, "user turn append failed")
		return nil, err
	}
	s.notifyAppend(ctx, sid)

	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	completion, err := s.llm.Complete(ctx, modelName, history, message)
	if err != nil {
		// The user turn stays persisted; the session now ends with an
		// unanswered user turn and a resend simply appends a new exchange.
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return nil, &SendError{SessionID: sid.String(), Err: err}
	}

	assistantTurn := &models.Turn{
		Role:      models.RoleAssistant,
		Content:   completion.Content,
		ModelName: completion.Model,
		Usage:     &completion.Usage,
	}
	if err := s.store.Append(ctx, sid, assistantTurn); err != nil {
		span.SetStatus(codes.Error, "assistant turn append failed")
		return nil, &SendError{SessionID: sid.String(), Err: err}
	}
	s.notifyAppend(ctx, sid)

	span.SetAttributes(
		attribute.Int("chat.response_length", len(completion.Content)),
		attribute.Int("chat.prompt_tokens", completion.Usage.PromptTokens),
		attribute.Int("chat.completion_tokens", completion.Usage.CompletionTokens),
	)
	span.SetStatus(codes.Ok, "")

	return &SendResult{
		SessionID: sid,
		Reply:     completion.Content,
		Model:     completion.Model,
		Usage:     completion.Usage,
	}, nil
}

// DeleteSession removes a session. Deleting an unknown id returns NotFound,
// consistently across repeated calls.
func (s *ChatService) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	if s.events != nil {
		s.events.SessionDeleted(ctx, sessionID)
	}
	return nil
}

// resolveSession maps the caller-supplied id to a live session, creating
// one when the id is empty, unparseable, or unknown to the store.
func (s *ChatService) resolveSession(ctx context.Context, sessionID string) (uuid.UUID, error) {
	if sessionID != "" {
		sid, err := uuid.Parse(sessionID)
		if err == nil {
			exists, err := s.store.Exists(ctx, sid)
			if err != nil {
				return uuid.Nil, err
			}
			if exists {
				return sid, nil
			}
		}
		log.Debug().Str("session_id", sessionID).Msg("unknown session id on send, creating a fresh session")
	}

	session, err := s.store.Create(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	return session.ID, nil
}

func (s *ChatService) notifyAppend(ctx context.Context, sessionID uuid.UUID) {
	if s.events != nil {
		s.events.MessageAppended(ctx, sessionID)
	}
}
