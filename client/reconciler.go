package client

import (
	"context"
	"strings"
	"sync"
	"time"
)

// State of the reconciler's send machine. Settled and Failed are
// transitions, not resting states: both return to Idle after updating the
// transcript.
type State int

const (
	StateIdle State = iota
	StateSending
)

// Reconciler keeps an optimistic local transcript for the active session and
// reconciles it against the server's authoritative responses.
//
// The transcript may hold at most one unconfirmed trailing user turn (the
// optimistic entry) and, after a failure, one local "error" turn. It is
// disposable: switching sessions rebuilds it from the server's history.
type Reconciler struct {
	mu        sync.Mutex
	transport Transport
	model     string

	sessionID  string
	transcript []Turn
	state      State

	// gen increments whenever the active session changes; an in-flight send
	// whose captured gen no longer matches has its result discarded.
	gen int
}

func NewReconciler(transport Transport, model string) *Reconciler {
	return &Reconciler{transport: transport, model: model}
}

// Send submits one message for the active session. The user turn appears in
// the transcript immediately; on success the assistant turn is appended, on
// failure a local error turn is appended and the user turn is kept, since
// the server may have durably recorded it. Only one send may be in flight.
//
// The returned error reports the outcome to the caller; every failure is
// already reflected in the transcript, so ignoring it is safe for UIs that
// render only the transcript.
func (r *Reconciler) Send(ctx context.Context, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return &Error{Class: ClassInvalidInput, Message: "Message cannot be empty"}
	}

	r.mu.Lock()
	if r.state == StateSending {
		r.mu.Unlock()
		return ErrSendInFlight
	}
	r.state = StateSending
	submittedGen := r.gen
	submittedSession := r.sessionID
	r.transcript = append(r.transcript, Turn{Role: "user", Content: message, Timestamp: time.Now()})
	r.mu.Unlock()

	result, err := r.transport.SendMessage(ctx, message, r.model, submittedSession)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateIdle

	if r.gen != submittedGen {
		// The active session changed while the request was in flight; the
		// outcome belongs to a transcript that no longer exists.
		return nil
	}

	if err != nil {
		cerr, ok := err.(*Error)
		if !ok {
			cerr = &Error{Class: ClassInternal, Message: err.Error()}
		}
		// A failed send may still have created the session server-side;
		// adopt the id so a resend lands in the same conversation.
		if cerr.SessionID != "" && cerr.SessionID != r.sessionID {
			r.sessionID = cerr.SessionID
		}
		r.transcript = append(r.transcript, Turn{Role: "error", Content: displayMessage(cerr), Timestamp: time.Now()})
		return cerr
	}

	if result.SessionID != r.sessionID {
		r.sessionID = result.SessionID
	}
	r.transcript = append(r.transcript, Turn{
		Role:      "assistant",
		Content:   result.Reply,
		ModelName: result.Model,
		Timestamp: time.Now(),
	})
	return nil
}

// SwitchSession makes sessionID the active session, replacing the local
// transcript with the server's history. An in-flight send for the previous
// session is not canceled; its eventual result is discarded.
func (r *Reconciler) SwitchSession(ctx context.Context, sessionID string) error {
	history, err := r.transport.GetHistory(ctx, sessionID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = sessionID
	r.transcript = history
	r.gen++
	return nil
}

// Refresh refetches the active session's history, dropping any local
// error annotations. A session that was never confirmed has no server
// state; the transcript is simply cleared.
func (r *Reconciler) Refresh(ctx context.Context) error {
	r.mu.Lock()
	sessionID := r.sessionID
	r.mu.Unlock()

	if sessionID == "" {
		r.NewChat()
		return nil
	}
	return r.SwitchSession(ctx, sessionID)
}

// NewChat clears the transcript and the held session id; the next send
// creates a fresh session server-side.
func (r *Reconciler) NewChat() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = ""
	r.transcript = nil
	r.gen++
}

// DeleteSession removes a session server-side. Deleting the active session
// also resets the local transcript. A NotFound outcome counts as success:
// the session is gone either way.
func (r *Reconciler) DeleteSession(ctx context.Context, sessionID string) error {
	err := r.transport.DeleteSession(ctx, sessionID)
	if cerr, ok := err.(*Error); ok && cerr.Class == ClassNotFound {
		err = nil
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	active := r.sessionID == sessionID
	r.mu.Unlock()
	if active {
		r.NewChat()
	}
	return nil
}

// Sessions lists the server's sessions, most recently active first.
func (r *Reconciler) Sessions(ctx context.Context) ([]SessionSummary, error) {
	return r.transport.ListSessions(ctx)
}

// Transcript returns a copy of the current local transcript.
func (r *Reconciler) Transcript() []Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Turn, len(r.transcript))
	copy(out, r.transcript)
	return out
}

// SessionID returns the active session id, empty before the first
// confirmed send of a new chat.
func (r *Reconciler) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}
