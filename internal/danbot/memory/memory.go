// Package memory implements danbot's per-user durable memory: a wholesale
// profile, an audit-logged fact ledger, an append-only note log, a bounded
// chat history, and a once-per-day greeting gate. All components share the
// SQLite store and expose the snapshots the context assembler projects into
// each model call.
package memory

import "time"

// Role identifies who produced a history turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Fact is the current value of one remembered key, as returned by
// FactLedger.CurrentSnapshot. Keys are normalized (trimmed, lower-cased)
// on write.
type Fact struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Note is one freeform memory snippet, captured verbatim.
type Note struct {
	Text      string
	CreatedAt time.Time
}

// Payload is the content of a single history turn. Text-only turns leave
// ImageURL empty; image turns carry the homeserver URL and optional caption.
// The history log stores it as opaque JSON and never interprets it.
type Payload struct {
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// Turn is a single user or assistant entry in the history window.
type Turn struct {
	Role      string
	Payload   Payload
	CreatedAt time.Time
}

// timestamps are stored as RFC3339 UTC strings, matching the rest of the
// schema (lexicographic order equals chronological order).
func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
