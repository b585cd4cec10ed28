package memory

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/ldinca/danbot/internal/danbot/store"
)

// ProfileStore holds the single durable free-text profile per user.
// There is exactly one row per user (upsert semantics); the profile is
// overwritten wholesale or appended to, never edited in place.
type ProfileStore struct {
	store *store.Store
}

// NewProfileStore creates a ProfileStore backed by the application store.
func NewProfileStore(s *store.Store) *ProfileStore {
	return &ProfileStore{store: s}
}

// Get returns the user's profile text, or "" when none has been saved.
func (p *ProfileStore) Get(ctx context.Context, userID string) (string, error) {
	var profile string
	err := p.store.DB().QueryRowContext(ctx, `
		SELECT profile FROM profiles WHERE user_id = ?
	`, userID).Scan(&profile)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", store.Unavailable("profile: get", err)
	}
	return profile, nil
}

// Set overwrites the profile wholesale.
func (p *ProfileStore) Set(ctx context.Context, userID, profile string) error {
	_, err := p.store.DB().ExecContext(ctx, `
		INSERT INTO profiles (user_id, profile, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			profile    = excluded.profile,
			updated_at = excluded.updated_at
	`, userID, strings.TrimSpace(profile), now())
	return store.Unavailable("profile: set", err)
}

// Append adds text to the end of the existing profile, separated by a blank
// line. An empty existing profile becomes exactly the new text.
func (p *ProfileStore) Append(ctx context.Context, userID, text string) error {
	existing, err := p.Get(ctx, userID)
	if err != nil {
		return err
	}

	text = strings.TrimSpace(text)
	combined := text
	if strings.TrimSpace(existing) != "" {
		combined = strings.TrimSpace(existing) + "\n\n" + text
	}
	return p.Set(ctx, userID, combined)
}

// Clear empties the profile but keeps the row.
func (p *ProfileStore) Clear(ctx context.Context, userID string) error {
	return p.Set(ctx, userID, "")
}
