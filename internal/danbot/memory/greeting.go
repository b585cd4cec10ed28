package memory

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ldinca/danbot/internal/danbot/store"
)

// GreetingGate records the last calendar day each user was greeted, so the
// assistant greets at most once per day. The stored value is a YYYY-MM-DD
// string; because that format sorts lexicographically, a stored date >= today
// means "already greeted today", which also covers a future date written
// under clock skew.
type GreetingGate struct {
	store *store.Store
}

// NewGreetingGate creates a GreetingGate backed by the application store.
func NewGreetingGate(s *store.Store) *GreetingGate {
	return &GreetingGate{store: s}
}

// FirstOfDay reports whether this is the user's first interaction of the
// calendar day of now, recording the transition when it is. Same-day calls
// after the first return false without writing. A new day needs no reset
// write: the comparison against today's date does it implicitly.
func (g *GreetingGate) FirstOfDay(ctx context.Context, userID string, now time.Time) (bool, error) {
	today := now.UTC().Format(time.DateOnly)

	var last string
	err := g.store.DB().QueryRowContext(ctx, `
		SELECT last_greeted FROM greetings WHERE user_id = ?
	`, userID).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, store.Unavailable("greetings: read", err)
	}

	if last >= today && last != "" {
		return false, nil
	}

	_, err = g.store.DB().ExecContext(ctx, `
		INSERT INTO greetings (user_id, last_greeted)
		VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET last_greeted = excluded.last_greeted
	`, userID, today)
	if err != nil {
		return false, store.Unavailable("greetings: write", err)
	}
	return true, nil
}
