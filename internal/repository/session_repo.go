package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatrelay-backend/internal/models"
)

// ErrSessionNotFound is returned for operations against an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

const titleMaxLen = 50

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

// Create allocates a fresh session with no messages.
func (r *SessionRepo) Create(ctx context.Context) (*models.Session, error) {
	s := &models.Session{
		ID:    uuid.New(),
		Title: "New Chat",
	}

	query := `INSERT INTO chat_sessions (id, title) VALUES ($1, $2)
		RETURNING created_at, last_activity_at`

	if err := r.pool.QueryRow(ctx, query, s.ID, s.Title).Scan(&s.CreatedAt, &s.LastActivityAt); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return s, nil
}

// Append adds a turn to a session and bumps its last-activity timestamp.
// The session row is locked for the duration of the transaction, so two-turn
// append sequences from concurrent sends against the same session cannot
// interleave. The first user turn becomes the session title, truncated.
func (r *SessionRepo) Append(ctx context.Context, sessionID uuid.UUID, turn *models.Turn) error {
	if turn.Role != models.RoleUser && turn.Role != models.RoleAssistant {
		return fmt.Errorf("role %q cannot be persisted", turn.Role)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var title string
	err = tx.QueryRow(ctx, "SELECT title FROM chat_sessions WHERE id = $1 FOR UPDATE", sessionID).Scan(&title)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock session: %w", err)
	}

	var promptTokens, completionTokens *int
	var latencyMs *int64
	if turn.Usage != nil {
		promptTokens = &turn.Usage.PromptTokens
		completionTokens = &turn.Usage.CompletionTokens
		latencyMs = &turn.Usage.LatencyMs
	}

	var modelName *string
	if turn.ModelName != "" {
		modelName = &turn.ModelName
	}

	query := `INSERT INTO chat_messages (session_id, role, content, model_name, prompt_tokens, completion_tokens, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`

	err = tx.QueryRow(ctx, query,
		sessionID, turn.Role, turn.Content, modelName, promptTokens, completionTokens, latencyMs,
	).Scan(&turn.ID, &turn.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	if title == "New Chat" && turn.Role == models.RoleUser {
		_, err = tx.Exec(ctx, "UPDATE chat_sessions SET title = $1, last_activity_at = NOW() WHERE id = $2",
			truncateTitle(turn.Content), sessionID)
	} else {
		_, err = tx.Exec(ctx, "UPDATE chat_sessions SET last_activity_at = NOW() WHERE id = $1", sessionID)
	}
	if err != nil {
		return fmt.Errorf("failed to update session activity: %w", err)
	}

	return tx.Commit(ctx)
}

// List returns all sessions ordered by most recent activity first.
func (r *SessionRepo) List(ctx context.Context) ([]models.SessionSummary, error) {
	query := `SELECT s.id, s.title, s.last_activity_at, COUNT(m.id)
		FROM chat_sessions s
		LEFT JOIN chat_messages m ON m.session_id = s.id
		GROUP BY s.id, s.title, s.last_activity_at
		ORDER BY s.last_activity_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.SessionSummary{}
	for rows.Next() {
		var s models.SessionSummary
		if err := rows.Scan(&s.SessionID, &s.Title, &s.LastMessageAt, &s.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// History returns a session's turns in creation order.
func (r *SessionRepo) History(ctx context.Context, sessionID uuid.UUID) ([]models.Turn, error) {
	exists, err := r.Exists(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrSessionNotFound
	}

	query := `SELECT id, role, content, model_name, prompt_tokens, completion_tokens, latency_ms, created_at
		FROM chat_messages WHERE session_id = $1 ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	defer rows.Close()

	turns := []models.Turn{}
	for rows.Next() {
		var t models.Turn
		var modelName *string
		var promptTokens, completionTokens *int
		var latencyMs *int64
		if err := rows.Scan(&t.ID, &t.Role, &t.Content, &modelName, &promptTokens, &completionTokens, &latencyMs, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if modelName != nil {
			t.ModelName = *modelName
		}
		if promptTokens != nil || completionTokens != nil || latencyMs != nil {
			t.Usage = &models.Usage{}
			if promptTokens != nil {
				t.Usage.PromptTokens = *promptTokens
			}
			if completionTokens != nil {
				t.Usage.CompletionTokens = *completionTokens
			}
			if latencyMs != nil {
				t.Usage.LatencyMs = *latencyMs
			}
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Delete removes a session and its messages. Deleting an absent session
// returns ErrSessionNotFound; repeated deletes behave the same way.
func (r *SessionRepo) Delete(ctx context.Context, sessionID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM chat_sessions WHERE id = $1", sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepo) Exists(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM chat_sessions WHERE id = $1)", sessionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return exists, nil
}

func truncateTitle(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= titleMaxLen {
		return content
	}
	return string(runes[:titleMaxLen]) + "..."
}
