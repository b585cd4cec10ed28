package memory

import (
	"context"
	"fmt"
	"testing"
)

func TestNoteLog_RecentIsChronological(t *testing.T) {
	notes := NewNoteLog(newTestStore(t))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if err := notes.Append(ctx, testUser, fmt.Sprintf("nota %d", i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recent, err := notes.Recent(ctx, testUser, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("limit not honored: got %d notes", len(recent))
	}
	// Last 3 notes, oldest of the window first.
	for i, want := range []string{"nota 3", "nota 4", "nota 5"} {
		if recent[i].Text != want {
			t.Errorf("recent[%d]: got %q, want %q", i, recent[i].Text, want)
		}
	}
}

func TestNoteLog_VerbatimCapture(t *testing.T) {
	notes := NewNoteLog(newTestStore(t))
	ctx := context.Background()

	// No dedup: the same text appended twice yields two notes.
	for range 2 {
		if err := notes.Append(ctx, testUser, "azi am mancat pizza"); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recent, err := notes.Recent(ctx, testUser, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("expected 2 notes, got %d", len(recent))
	}
}

func TestNoteLog_ClearAll(t *testing.T) {
	notes := NewNoteLog(newTestStore(t))
	ctx := context.Background()

	if err := notes.Append(ctx, testUser, "ceva"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := notes.ClearAll(ctx, testUser); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}

	recent, err := notes.Recent(ctx, testUser, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 0 {
		t.Errorf("notes after clear: %d", len(recent))
	}
}
