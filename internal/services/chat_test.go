package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"chatrelay-backend/internal/models"
)

// ─── Fakes ───

var errFakeNotFound = errors.New("session not found")

type fakeStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID][]models.Turn
	clock    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[uuid.UUID][]models.Turn)}
}

func (s *fakeStore) Create(ctx context.Context) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.sessions[id] = []models.Turn{}
	return &models.Session{ID: id, Title: "New Chat"}, nil
}

func (s *fakeStore) Append(ctx context.Context, sessionID uuid.UUID, turn *models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns, ok := s.sessions[sessionID]
	if !ok {
		return errFakeNotFound
	}
	s.clock++
	turn.ID = s.clock
	turn.Timestamp = time.Unix(s.clock, 0)
	s.sessions[sessionID] = append(turns, *turn)
	return nil
}

func (s *fakeStore) History(ctx context.Context, sessionID uuid.UUID) ([]models.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns, ok := s.sessions[sessionID]
	if !ok {
		return nil, errFakeNotFound
	}
	out := make([]models.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *fakeStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return errFakeNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *fakeStore) Exists(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sessionID]
	return ok, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

type fakeCompleter struct {
	reply       string
	err         error
	lastModel   string
	lastMessage string
	lastHistory []models.Turn
}

func (c *fakeCompleter) Complete(ctx context.Context, modelName string, history []models.Turn, message string) (*Completion, error) {
	c.lastModel = modelName
	c.lastMessage = message
	c.lastHistory = history
	if c.err != nil {
		return nil, c.err
	}
	return &Completion{
		Content: c.reply,
		Model:   modelName,
		Usage:   models.Usage{PromptTokens: 7, CompletionTokens: 3, LatencyMs: 120},
	}, nil
}

func (c *fakeCompleter) DefaultModel() string { return "openai/gpt-3.5-turbo" }

type countingSink struct {
	mu       sync.Mutex
	appended int
	deleted  int
}

func (s *countingSink) MessageAppended(ctx context.Context, sessionID uuid.UUID) {
	s.mu.Lock()
	s.appended++
	s.mu.Unlock()
}

func (s *countingSink) SessionDeleted(ctx context.Context, sessionID uuid.UUID) {
	s.mu.Lock()
	s.deleted++
	s.mu.Unlock()
}

func newTestService(store *fakeStore, llm *fakeCompleter) *ChatService {
	return NewChatService(store, llm, NewMemoryLocker(), nil)
}

// ─── Send ───

func TestSend_FirstMessageCreatesSession(t *testing.T) {
	store := newFakeStore()
	llm := &fakeCompleter{reply: "Hello there!"}
	svc := newTestService(store, llm)

	result, err := svc.Send(context.Background(), "Hello", "model-a", "")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if result.SessionID == uuid.Nil {
		t.Error("Expected a non-empty session ID")
	}
	if result.Reply != "Hello there!" {
		t.Errorf("Expected reply 'Hello there!', got %q", result.Reply)
	}
	if result.Model != "model-a" {
		t.Errorf("Expected model 'model-a', got %q", result.Model)
	}

	history, err := store.History(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(history))
	}
	if history[0].Role != models.RoleUser || history[0].Content != "Hello" {
		t.Errorf("Unexpected first turn: %+v", history[0])
	}
	if history[1].Role != models.RoleAssistant || history[1].Content != "Hello there!" {
		t.Errorf("Unexpected second turn: %+v", history[1])
	}
	if history[1].ModelName != "model-a" {
		t.Errorf("Expected assistant model 'model-a', got %q", history[1].ModelName)
	}
	if history[1].Usage == nil || history[1].Usage.PromptTokens != 7 {
		t.Errorf("Expected usage metrics on assistant turn, got %+v", history[1].Usage)
	}
}

func TestSend_EmptyMessage(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeCompleter{reply: "x"})

	for _, message := range []string{"", "   ", "\n\t"} {
		_, err := svc.Send(context.Background(), message, "model-a", "")
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("Send(%q): expected ValidationError, got %v", message, err)
		}
	}

	if store.count() != 0 {
		t.Errorf("Expected no sessions created, got %d", store.count())
	}
}

func TestSend_MessageTooLong(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeCompleter{reply: "x"})

	_, err := svc.Send(context.Background(), strings.Repeat("a", models.MaxMessageLength+1), "model-a", "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if store.count() != 0 {
		t.Errorf("Expected no sessions created, got %d", store.count())
	}
}

func TestSend_UpstreamFailureKeepsUserTurn(t *testing.T) {
	store := newFakeStore()
	llm := &fakeCompleter{err: &UnavailableError{Message: "gateway down"}}
	svc := newTestService(store, llm)

	_, err := svc.Send(context.Background(), "Hello", "model-a", "")
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("Expected SendError, got %v", err)
	}
	var unavailable *UnavailableError
	if !errors.As(sendErr, &unavailable) {
		t.Fatalf("Expected wrapped UnavailableError, got %v", sendErr.Err)
	}

	sid, err := uuid.Parse(sendErr.SessionID)
	if err != nil {
		t.Fatalf("SendError carries invalid session id %q", sendErr.SessionID)
	}

	history, err := store.History(context.Background(), sid)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("Expected only the user turn to persist, got %d turns", len(history))
	}
	if history[0].Role != models.RoleUser {
		t.Errorf("Expected persisted user turn, got role %q", history[0].Role)
	}
}

func TestSend_UnknownSessionAutoCreates(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeCompleter{reply: "ok"})

	unknown := uuid.NewString()
	result, err := svc.Send(context.Background(), "Hi", "model-a", unknown)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if result.SessionID.String() == unknown {
		t.Error("Expected a fresh session, got the unknown id back")
	}

	// Same unknown id again behaves the same way: another fresh session.
	result2, err := svc.Send(context.Background(), "Hi again", "model-a", unknown)
	if err != nil {
		t.Fatalf("Second send failed: %v", err)
	}
	if result2.SessionID == result.SessionID {
		t.Error("Expected a second fresh session for the still-unknown id")
	}
}

func TestSend_ExistingSessionAppendsAndSubmitsHistory(t *testing.T) {
	store := newFakeStore()
	llm := &fakeCompleter{reply: "reply"}
	svc := newTestService(store, llm)

	first, err := svc.Send(context.Background(), "First", "model-a", "")
	if err != nil {
		t.Fatalf("First send failed: %v", err)
	}

	_, err = svc.Send(context.Background(), "Second", "model-a", first.SessionID.String())
	if err != nil {
		t.Fatalf("Second send failed: %v", err)
	}

	history, _ := store.History(context.Background(), first.SessionID)
	if len(history) != 4 {
		t.Fatalf("Expected 4 turns, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].Timestamp.Before(history[i-1].Timestamp) {
			t.Errorf("Turn %d is out of order", i)
		}
	}

	// The second upstream call saw the first exchange as context.
	if len(llm.lastHistory) != 2 {
		t.Fatalf("Expected 2 context turns upstream, got %d", len(llm.lastHistory))
	}
	if llm.lastMessage != "Second" {
		t.Errorf("Expected upstream message 'Second', got %q", llm.lastMessage)
	}
}

func TestSend_HistoryWindowIsBounded(t *testing.T) {
	store := newFakeStore()
	llm := &fakeCompleter{reply: "reply"}
	svc := newTestService(store, llm)

	session, _ := store.Create(context.Background())
	for i := 0; i < 15; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		store.Append(context.Background(), session.ID, &models.Turn{Role: role, Content: "turn"})
	}

	_, err := svc.Send(context.Background(), "latest", "model-a", session.ID.String())
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(llm.lastHistory) != historyWindow {
		t.Errorf("Expected history window of %d turns, got %d", historyWindow, len(llm.lastHistory))
	}
}

func TestSend_DefaultModelWhenUnspecified(t *testing.T) {
	store := newFakeStore()
	llm := &fakeCompleter{reply: "reply"}
	svc := newTestService(store, llm)

	result, err := svc.Send(context.Background(), "Hello", "", "")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if result.Model != "openai/gpt-3.5-turbo" {
		t.Errorf("Expected default model, got %q", result.Model)
	}
	if llm.lastModel != "openai/gpt-3.5-turbo" {
		t.Errorf("Expected default model upstream, got %q", llm.lastModel)
	}
}

func TestSend_EmitsEvents(t *testing.T) {
	store := newFakeStore()
	sink := &countingSink{}
	svc := NewChatService(store, &fakeCompleter{reply: "ok"}, NewMemoryLocker(), sink)

	if _, err := svc.Send(context.Background(), "Hello", "model-a", ""); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if sink.appended != 2 {
		t.Errorf("Expected 2 append events (user + assistant), got %d", sink.appended)
	}
}

// ─── DeleteSession ───

func TestDeleteSession(t *testing.T) {
	store := newFakeStore()
	sink := &countingSink{}
	svc := NewChatService(store, &fakeCompleter{reply: "ok"}, NewMemoryLocker(), sink)

	result, err := svc.Send(context.Background(), "Hello", "model-a", "")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if err := svc.DeleteSession(context.Background(), result.SessionID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if store.count() != 0 {
		t.Errorf("Expected session to be gone, %d remain", store.count())
	}
	if sink.deleted != 1 {
		t.Errorf("Expected 1 delete event, got %d", sink.deleted)
	}

	// Second delete surfaces the store's not-found, consistently.
	if err := svc.DeleteSession(context.Background(), result.SessionID); !errors.Is(err, errFakeNotFound) {
		t.Errorf("Expected not-found on second delete, got %v", err)
	}
	if sink.deleted != 1 {
		t.Errorf("Delete event must not fire for a failed delete, got %d", sink.deleted)
	}
}

// ─── Locking ───

func TestMemoryLocker_SerializesSameSession(t *testing.T) {
	locker := NewMemoryLocker()
	sessionID := uuid.New()

	var inCritical, maxConcurrent int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), sessionID)
			if err != nil {
				t.Errorf("Lock failed: %v", err)
				return
			}
			defer unlock()

			mu.Lock()
			inCritical++
			if inCritical > maxConcurrent {
				maxConcurrent = inCritical
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inCritical--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxConcurrent != 1 {
		t.Errorf("Expected serialized critical sections, saw %d concurrent holders", maxConcurrent)
	}
}
