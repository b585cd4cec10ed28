package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ldinca/danbot/internal/danbot/store"
)

// HistoryLog is the bounded rolling transcript of user/assistant turns.
// The underlying log is complete; truncation to the working window happens
// at read time. A user turn and its assistant reply are appended together
// in one transaction, so a failed model call leaves no orphaned user turn.
type HistoryLog struct {
	store *store.Store
}

// NewHistoryLog creates a HistoryLog backed by the application store.
func NewHistoryLog(s *store.Store) *HistoryLog {
	return &HistoryLog{store: s}
}

// AppendExchange appends the user turn and the assistant reply as one
// logical unit. Both rows share a generated exchange id; either both are
// committed or neither is.
func (h *HistoryLog) AppendExchange(ctx context.Context, userID string, userMsg Payload, assistantText string) error {
	userJSON, err := json.Marshal(userMsg)
	if err != nil {
		return fmt.Errorf("history: marshal user payload: %w", err)
	}
	assistantJSON, err := json.Marshal(Payload{Text: assistantText})
	if err != nil {
		return fmt.Errorf("history: marshal assistant payload: %w", err)
	}

	exchangeID := uuid.New().String()
	ts := now()

	tx, err := h.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return store.Unavailable("history: begin", err)
	}

	for _, row := range []struct {
		role    string
		content []byte
	}{
		{RoleUser, userJSON},
		{RoleAssistant, assistantJSON},
	} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO history (user_id, exchange_id, role, content, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, userID, exchangeID, row.role, string(row.content), ts); err != nil {
			tx.Rollback()
			return store.Unavailable("history: append", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return store.Unavailable("history: commit", err)
	}
	return nil
}

// Window returns the most recent maxTurns turns in chronological order.
// Storage is queried newest-first; re-ordering is this component's job,
// not the caller's.
func (h *HistoryLog) Window(ctx context.Context, userID string, maxTurns int) ([]Turn, error) {
	if maxTurns <= 0 {
		return nil, nil
	}

	rows, err := h.store.DB().QueryContext(ctx, `
		SELECT role, content, created_at
		FROM history
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, userID, maxTurns)
	if err != nil {
		return nil, store.Unavailable("history: window", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var content, ts string
		if err := rows.Scan(&t.Role, &content, &ts); err != nil {
			return nil, store.Unavailable("history: scan", err)
		}
		if err := json.Unmarshal([]byte(content), &t.Payload); err != nil {
			return nil, fmt.Errorf("history: unmarshal payload: %w", err)
		}
		t.CreatedAt = parseTime(ts)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("history: iterate", err)
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Reset clears the conversation transcript for the user. Facts, notes and
// the profile are untouched: conversational continuity and long-term memory
// are independently resettable.
func (h *HistoryLog) Reset(ctx context.Context, userID string) error {
	_, err := h.store.DB().ExecContext(ctx, `
		DELETE FROM history WHERE user_id = ?
	`, userID)
	return store.Unavailable("history: reset", err)
}
