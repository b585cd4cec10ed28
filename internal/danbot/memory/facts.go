package memory

import (
	"context"
	"strings"

	"github.com/ldinca/danbot/internal/danbot/store"
)

// FactLedger is the audit-trailed key/value memory. Every Upsert appends a
// new row; the current value of a key is the row with the highest id. The
// full correction history is kept until the key is forgotten.
type FactLedger struct {
	store *store.Store
}

// NewFactLedger creates a FactLedger backed by the application store.
func NewFactLedger(s *store.Store) *FactLedger {
	return &FactLedger{store: s}
}

// NormalizeKey canonicalizes a fact key: surrounding whitespace is trimmed
// and the key is case-folded so "Greutate" and "greutate " address the same
// fact.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Upsert records a new value for key. The previous value, if any, stays in
// the ledger as an audit row. Upserting an existing key is never an error.
func (l *FactLedger) Upsert(ctx context.Context, userID, key, value string) error {
	_, err := l.store.DB().ExecContext(ctx, `
		INSERT INTO facts (user_id, key, value, created_at)
		VALUES (?, ?, ?, ?)
	`, userID, NormalizeKey(key), strings.TrimSpace(value), now())
	return store.Unavailable("facts: upsert", err)
}

// Forget hard-deletes every historical row for key. Forgetting a key that
// was never remembered is a no-op.
func (l *FactLedger) Forget(ctx context.Context, userID, key string) error {
	_, err := l.store.DB().ExecContext(ctx, `
		DELETE FROM facts WHERE user_id = ? AND key = ?
	`, userID, NormalizeKey(key))
	return store.Unavailable("facts: forget", err)
}

// ClearAll deletes every fact row for the user.
func (l *FactLedger) ClearAll(ctx context.Context, userID string) error {
	_, err := l.store.DB().ExecContext(ctx, `
		DELETE FROM facts WHERE user_id = ?
	`, userID)
	return store.Unavailable("facts: clear", err)
}

// CurrentSnapshot returns the latest value of the maxKeys most-recently-
// touched keys, most recent first. "Latest" is resolved by MAX(id) per key,
// so equal timestamps can never make the result ambiguous: insertion order
// is the ultimate tie-break.
func (l *FactLedger) CurrentSnapshot(ctx context.Context, userID string, maxKeys int) ([]Fact, error) {
	if maxKeys <= 0 {
		return nil, nil
	}

	rows, err := l.store.DB().QueryContext(ctx, `
		SELECT f.key, f.value, f.created_at
		FROM facts f
		JOIN (
			SELECT MAX(id) AS latest_id
			FROM facts
			WHERE user_id = ?
			GROUP BY key
		) latest ON f.id = latest.latest_id
		ORDER BY f.id DESC
		LIMIT ?
	`, userID, maxKeys)
	if err != nil {
		return nil, store.Unavailable("facts: snapshot", err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		var f Fact
		var ts string
		if err := rows.Scan(&f.Key, &f.Value, &ts); err != nil {
			return nil, store.Unavailable("facts: scan", err)
		}
		f.UpdatedAt = parseTime(ts)
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("facts: iterate", err)
	}
	return facts, nil
}

// History returns every audit row recorded for key, oldest first. Used by
// tests and the operator surface; the prompt only ever sees the snapshot.
func (l *FactLedger) History(ctx context.Context, userID, key string) ([]Fact, error) {
	rows, err := l.store.DB().QueryContext(ctx, `
		SELECT key, value, created_at
		FROM facts
		WHERE user_id = ? AND key = ?
		ORDER BY id ASC
	`, userID, NormalizeKey(key))
	if err != nil {
		return nil, store.Unavailable("facts: history", err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		var f Fact
		var ts string
		if err := rows.Scan(&f.Key, &f.Value, &ts); err != nil {
			return nil, store.Unavailable("facts: scan", err)
		}
		f.UpdatedAt = parseTime(ts)
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("facts: iterate", err)
	}
	return facts, nil
}
