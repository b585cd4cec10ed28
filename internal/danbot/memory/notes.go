package memory

import (
	"context"
	"strings"

	"github.com/ldinca/danbot/internal/danbot/store"
)

// NoteLog is the append-only freeform memory. Notes are a non-authoritative
// supplement to facts: losing an old note once it scrolls out of the recent
// window is acceptable, so there is no per-note delete, only ClearAll.
type NoteLog struct {
	store *store.Store
}

// NewNoteLog creates a NoteLog backed by the application store.
func NewNoteLog(s *store.Store) *NoteLog {
	return &NoteLog{store: s}
}

// Append records a note verbatim (no dedup, no size processing).
func (n *NoteLog) Append(ctx context.Context, userID, text string) error {
	_, err := n.store.DB().ExecContext(ctx, `
		INSERT INTO notes (user_id, note, created_at)
		VALUES (?, ?, ?)
	`, userID, strings.TrimSpace(text), now())
	return store.Unavailable("notes: append", err)
}

// Recent returns the last limit notes in chronological order. The query
// reads newest-first and the slice is reversed here, so callers can paste
// the result straight into a prompt.
func (n *NoteLog) Recent(ctx context.Context, userID string, limit int) ([]Note, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := n.store.DB().QueryContext(ctx, `
		SELECT note, created_at
		FROM notes
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, store.Unavailable("notes: recent", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var nt Note
		var ts string
		if err := rows.Scan(&nt.Text, &ts); err != nil {
			return nil, store.Unavailable("notes: scan", err)
		}
		nt.CreatedAt = parseTime(ts)
		notes = append(notes, nt)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("notes: iterate", err)
	}

	// Reverse newest-first into chronological order.
	for i, j := 0, len(notes)-1; i < j; i, j = i+1, j-1 {
		notes[i], notes[j] = notes[j], notes[i]
	}
	return notes, nil
}

// ClearAll deletes every note for the user.
func (n *NoteLog) ClearAll(ctx context.Context, userID string) error {
	_, err := n.store.DB().ExecContext(ctx, `
		DELETE FROM notes WHERE user_id = ?
	`, userID)
	return store.Unavailable("notes: clear", err)
}
