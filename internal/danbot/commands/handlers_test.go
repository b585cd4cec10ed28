package commands

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/ldinca/danbot/internal/danbot/config"
	"github.com/ldinca/danbot/internal/danbot/memory"
	"github.com/ldinca/danbot/internal/danbot/store"
)

type handlerFixture struct {
	router  *Router
	facts   *memory.FactLedger
	notes   *memory.NoteLog
	history *memory.HistoryLog
	profile *memory.ProfileStore
	cfg     config.Store
	evt     *event.Event
}

func newFixture(t *testing.T) *handlerFixture {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "commands-test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	f := &handlerFixture{
		router:  NewRouter("!dan"),
		facts:   memory.NewFactLedger(s),
		notes:   memory.NewNoteLog(s),
		history: memory.NewHistoryLog(s),
		profile: memory.NewProfileStore(s),
		cfg:     config.New(s),
		evt:     &event.Event{Sender: id.UserID("@laurentiu:example.org")},
	}
	h := NewHandlers(f.profile, f.facts, f.notes, f.history, f.cfg, "!dan")
	h.RegisterAll(f.router)
	return f
}

func (f *handlerFixture) route(t *testing.T, text string) string {
	t.Helper()
	reply, err := f.router.Route(context.Background(), text, f.evt)
	if err != nil {
		t.Fatalf("Route(%q): %v", text, err)
	}
	return reply
}

func TestHandleRememberAndFacts(t *testing.T) {
	f := newFixture(t)

	reply := f.route(t, "!dan remember Greutate = 81")
	if reply != "Am retinut: greutate = 81" {
		t.Errorf("remember reply: %q", reply)
	}

	reply = f.route(t, "!dan facts")
	if !strings.Contains(reply, "greutate = 81") {
		t.Errorf("facts reply: %q", reply)
	}
}

func TestHandleRemember_MalformedMutatesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.router.Route(context.Background(), "!dan remember doar o valoare", f.evt)
	var usage *UsageError
	if !errors.As(err, &usage) {
		t.Fatalf("expected UsageError, got %v", err)
	}

	facts, _ := f.facts.CurrentSnapshot(context.Background(), f.evt.Sender.String(), 10)
	if len(facts) != 0 {
		t.Errorf("malformed remember wrote a fact: %+v", facts)
	}
}

func TestHandleForget(t *testing.T) {
	f := newFixture(t)

	f.route(t, "!dan remember greutate = 81")
	reply := f.route(t, "!dan forget greutate")
	if reply != "Am uitat: greutate" {
		t.Errorf("forget reply: %q", reply)
	}

	reply = f.route(t, "!dan facts")
	if reply != "Nu am fapte memorate." {
		t.Errorf("facts after forget: %q", reply)
	}
}

func TestHandleProfileLifecycle(t *testing.T) {
	f := newFixture(t)

	if reply := f.route(t, "!dan profile"); reply != "Nu am inca profil salvat." {
		t.Errorf("empty profile reply: %q", reply)
	}

	f.route(t, "!dan profile set Laurentiu, 38 ani")
	f.route(t, "!dan profile add Tinta: 77-78 kg")

	reply := f.route(t, "!dan profile")
	if !strings.Contains(reply, "Laurentiu, 38 ani") || !strings.Contains(reply, "Tinta: 77-78 kg") {
		t.Errorf("profile reply: %q", reply)
	}

	if reply := f.route(t, "!dan profile clear"); reply != "Profil sters." {
		t.Errorf("clear reply: %q", reply)
	}
	if reply := f.route(t, "!dan profile"); reply != "Nu am inca profil salvat." {
		t.Errorf("profile after clear: %q", reply)
	}
}

func TestHandleNoteAndNotes(t *testing.T) {
	f := newFixture(t)

	if reply := f.route(t, "!dan note azi sala, spate"); reply != "Nota salvata." {
		t.Errorf("note reply: %q", reply)
	}
	reply := f.route(t, "!dan notes")
	if !strings.Contains(reply, "azi sala, spate") {
		t.Errorf("notes reply: %q", reply)
	}
}

func TestHandleReset_KeepsFactsAndNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.evt.Sender.String()

	f.route(t, "!dan remember greutate = 81")
	f.route(t, "!dan note azi sala")
	if err := f.history.AppendExchange(ctx, user, memory.Payload{Text: "salut"}, "Salut!"); err != nil {
		t.Fatalf("AppendExchange: %v", err)
	}

	f.route(t, "!dan reset")

	window, _ := f.history.Window(ctx, user, 10)
	if len(window) != 0 {
		t.Errorf("history survived reset: %d turns", len(window))
	}
	facts, _ := f.facts.CurrentSnapshot(ctx, user, 10)
	if len(facts) != 1 {
		t.Errorf("facts lost on reset: %+v", facts)
	}
	notes, _ := f.notes.Recent(ctx, user, 10)
	if len(notes) != 1 {
		t.Errorf("notes lost on reset: %+v", notes)
	}
}

func TestHandleWipe_ClearsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.evt.Sender.String()

	f.route(t, "!dan remember greutate = 81")
	f.route(t, "!dan note azi sala")
	f.route(t, "!dan profile set Laurentiu")
	if err := f.history.AppendExchange(ctx, user, memory.Payload{Text: "salut"}, "Salut!"); err != nil {
		t.Fatalf("AppendExchange: %v", err)
	}

	f.route(t, "!dan wipe")

	if facts, _ := f.facts.CurrentSnapshot(ctx, user, 10); len(facts) != 0 {
		t.Errorf("facts after wipe: %+v", facts)
	}
	if notes, _ := f.notes.Recent(ctx, user, 10); len(notes) != 0 {
		t.Errorf("notes after wipe: %+v", notes)
	}
	if profile, _ := f.profile.Get(ctx, user); profile != "" {
		t.Errorf("profile after wipe: %q", profile)
	}
	if window, _ := f.history.Window(ctx, user, 10); len(window) != 0 {
		t.Errorf("history after wipe: %d turns", len(window))
	}
}

func TestHandleConfig(t *testing.T) {
	f := newFixture(t)

	if reply := f.route(t, "!dan config"); !strings.Contains(reply, "Nicio setare") {
		t.Errorf("empty config list: %q", reply)
	}

	reply := f.route(t, "!dan config set history_window 8")
	if reply != "Setat: history_window = 8" {
		t.Errorf("config set reply: %q", reply)
	}
	if reply := f.route(t, "!dan config get history_window"); reply != "history_window = 8" {
		t.Errorf("config get reply: %q", reply)
	}
	if reply := f.route(t, "!dan config get model"); reply != "model nu este setat." {
		t.Errorf("unset config get reply: %q", reply)
	}

	// Rejected values never land in the store.
	for _, text := range []string{
		"!dan config set history_window zece",
		"!dan config set history_window -1",
		"!dan config set culoare rosu",
	} {
		_, err := f.router.Route(context.Background(), text, f.evt)
		var usage *UsageError
		if !errors.As(err, &usage) {
			t.Errorf("Route(%q): expected UsageError, got %v", text, err)
		}
	}
	if got := f.cfg.GetInt(context.Background(), "history_window", 0); got != 8 {
		t.Errorf("history_window changed by rejected set: %d", got)
	}

	// Unset removes the override; the persona default applies again.
	reply = f.route(t, "!dan config unset history_window")
	if !strings.Contains(reply, "Sters: history_window") {
		t.Errorf("config unset reply: %q", reply)
	}
	if got := f.cfg.GetInt(context.Background(), "history_window", 20); got != 20 {
		t.Errorf("history_window still set after unset: %d", got)
	}

	_, err := f.router.Route(context.Background(), "!dan config unset", f.evt)
	var usage *UsageError
	if !errors.As(err, &usage) {
		t.Errorf("config unset without key: expected UsageError, got %v", err)
	}
}

func TestHandleHelpListsCommands(t *testing.T) {
	f := newFixture(t)
	reply := f.route(t, "!dan help")
	for _, cmd := range []string{"remember", "forget", "facts", "note", "reset", "wipe", "config"} {
		if !strings.Contains(reply, cmd) {
			t.Errorf("help missing %q", cmd)
		}
	}
}
