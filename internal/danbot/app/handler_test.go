package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/ldinca/danbot/internal/danbot/capture"
	"github.com/ldinca/danbot/internal/danbot/commands"
	botconfig "github.com/ldinca/danbot/internal/danbot/config"
	"github.com/ldinca/danbot/internal/danbot/llm"
	"github.com/ldinca/danbot/internal/danbot/matrix"
	"github.com/ldinca/danbot/internal/danbot/memory"
	"github.com/ldinca/danbot/internal/danbot/persona"
	"github.com/ldinca/danbot/internal/danbot/store"
)

type fakeTransport struct {
	messages []string
	notices  []string
}

func (f *fakeTransport) SendMessage(ctx context.Context, roomID, message string) error {
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeTransport) SendNotice(ctx context.Context, roomID, message string) error {
	f.notices = append(f.notices, message)
	return nil
}

func (f *fakeTransport) SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error {
	return nil
}

type fakeProvider struct {
	reply    string
	err      error
	requests []llm.CompletionRequest
}

func (f *fakeProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Text: f.reply}, nil
}

func newTestApp(t *testing.T) (*App, *fakeTransport, *fakeProvider) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "app-test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	p := persona.Default()
	sender := &fakeTransport{}
	provider := &fakeProvider{reply: "Raspuns de la model."}

	a := &App{
		cfg:        &Config{},
		persona:    p,
		store:      s,
		runtimeCfg: botconfig.New(s),
		profile:    memory.NewProfileStore(s),
		facts:      memory.NewFactLedger(s),
		notes:      memory.NewNoteLog(s),
		history:    memory.NewHistoryLog(s),
		gate:       memory.NewGreetingGate(s),
		locks:      memory.NewUserLocks(),
		provider:   provider,
		sender:     sender,
		clock:      func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) },
	}

	detector := &capture.Detector{
		RememberPrefixes: p.Triggers.Remember,
		ForgetPrefixes:   p.Triggers.Forget,
		NotePrefixes:     p.Triggers.Note,
		NoteKeywords:     p.Triggers.NoteKeywords,
	}
	a.assembler = &memory.ContextAssembler{
		Profile: a.profile,
		Facts:   a.facts,
		Notes:   a.notes,
		History: a.history,
		Detect:  detector.Detect,
		Config: memory.AssemblerConfig{
			SystemPrompt: p.SystemPrompt,
			MaxFacts:     p.FactsLimit,
			MaxNotes:     p.NotesLimit,
			MaxTurns:     p.HistoryWindow,
		},
	}

	a.router = commands.NewRouter(CommandPrefix)
	handlers := commands.NewHandlers(a.profile, a.facts, a.notes, a.history, a.runtimeCfg, CommandPrefix)
	handlers.RegisterAll(a.router)

	return a, sender, provider
}

func inbound(text string) *matrix.InboundMessage {
	sender := "@laurentiu:example.org"
	return &matrix.InboundMessage{
		RoomID: "!room:example.org",
		Sender: sender,
		Event:  &event.Event{Sender: id.UserID(sender)},
		Text:   text,
	}
}

func TestHandleMessage_ChatAppendsExchange(t *testing.T) {
	a, sender, _ := newTestApp(t)
	ctx := context.Background()
	msg := inbound("ce mananc la cina?")

	a.HandleMessage(ctx, msg)

	if len(sender.messages) != 1 {
		t.Fatalf("messages sent: %d", len(sender.messages))
	}
	if !strings.Contains(sender.messages[0], "Raspuns de la model.") {
		t.Errorf("reply: %q", sender.messages[0])
	}

	window, err := a.history.Window(ctx, msg.Sender, 10)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if len(window) != 2 {
		t.Fatalf("history turns: got %d, want 2", len(window))
	}
	if window[0].Payload.Text != "ce mananc la cina?" {
		t.Errorf("user turn: %+v", window[0].Payload)
	}
	if !strings.Contains(window[1].Payload.Text, "Raspuns de la model.") {
		t.Errorf("assistant turn: %+v", window[1].Payload)
	}
}

func TestHandleMessage_ModelFailureLeavesHistoryUntouched(t *testing.T) {
	a, sender, provider := newTestApp(t)
	ctx := context.Background()
	msg := inbound("salut")

	a.HandleMessage(ctx, msg)
	before, _ := a.history.Window(ctx, msg.Sender, 10)

	provider.err = errors.New("upstream 500")
	a.HandleMessage(ctx, inbound("si acum?"))

	after, _ := a.history.Window(ctx, msg.Sender, 10)
	if len(after) != len(before) {
		t.Errorf("failed exchange wrote history: %d -> %d turns", len(before), len(after))
	}
	if len(sender.notices) != 1 || sender.notices[0] != replyTemporaryError {
		t.Errorf("error notice: %+v", sender.notices)
	}
}

func TestHandleMessage_CaptureSurvivesModelFailure(t *testing.T) {
	a, _, provider := newTestApp(t)
	ctx := context.Background()
	provider.err = errors.New("upstream 500")

	a.HandleMessage(ctx, inbound("retine: greutate = 81"))

	facts, err := a.facts.CurrentSnapshot(ctx, "@laurentiu:example.org", 10)
	if err != nil {
		t.Fatalf("CurrentSnapshot: %v", err)
	}
	if len(facts) != 1 || facts[0].Key != "greutate" || facts[0].Value != "81" {
		t.Errorf("captured fact lost on model failure: %+v", facts)
	}
}

func TestHandleMessage_GreetingOncePerDay(t *testing.T) {
	a, sender, _ := newTestApp(t)
	ctx := context.Background()

	a.HandleMessage(ctx, inbound("salut"))
	a.HandleMessage(ctx, inbound("inca una"))

	if len(sender.messages) != 2 {
		t.Fatalf("messages sent: %d", len(sender.messages))
	}
	if !strings.HasPrefix(sender.messages[0], a.persona.Greeting) {
		t.Errorf("first reply of the day missing greeting: %q", sender.messages[0])
	}
	if strings.Contains(sender.messages[1], a.persona.Greeting) {
		t.Errorf("second reply repeats the greeting: %q", sender.messages[1])
	}

	// Next day: the greeting comes back.
	a.clock = func() time.Time { return time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC) }
	a.HandleMessage(ctx, inbound("buna dimineata"))
	if !strings.HasPrefix(sender.messages[2], a.persona.Greeting) {
		t.Errorf("new-day reply missing greeting: %q", sender.messages[2])
	}
}

func TestHandleMessage_CommandBypassesModel(t *testing.T) {
	a, sender, provider := newTestApp(t)
	ctx := context.Background()

	a.HandleMessage(ctx, inbound("!dan remember greutate = 81"))

	if len(provider.requests) != 0 {
		t.Errorf("command reached the model: %d calls", len(provider.requests))
	}
	if len(sender.notices) != 1 || !strings.Contains(sender.notices[0], "Am retinut") {
		t.Errorf("command reply: %+v", sender.notices)
	}
	if window, _ := a.history.Window(ctx, "@laurentiu:example.org", 10); len(window) != 0 {
		t.Errorf("command wrote history: %d turns", len(window))
	}
}

func TestHandleMessage_MalformedCommandGetsHint(t *testing.T) {
	a, sender, provider := newTestApp(t)

	a.HandleMessage(context.Background(), inbound("!dan remember fara egal"))

	if len(provider.requests) != 0 {
		t.Errorf("malformed command reached the model")
	}
	if len(sender.notices) != 1 || !strings.Contains(sender.notices[0], "remember <cheie> = <valoare>") {
		t.Errorf("usage hint: %+v", sender.notices)
	}
}

func TestHandleMessage_ContextIncludesCapturedFact(t *testing.T) {
	a, _, provider := newTestApp(t)
	ctx := context.Background()

	a.HandleMessage(ctx, inbound("retine: greutate = 81"))

	if len(provider.requests) != 1 {
		t.Fatalf("model calls: %d", len(provider.requests))
	}
	var joined strings.Builder
	for _, m := range provider.requests[0].Messages {
		for _, p := range m.Parts {
			joined.WriteString(p.Text)
			joined.WriteString("\n")
		}
	}
	// Capture runs before assembly, so the new fact is already visible.
	if !strings.Contains(joined.String(), "greutate: 81") {
		t.Errorf("prompt missing captured fact:\n%s", joined.String())
	}
}

func TestHandleMessage_RuntimeConfigBoundsWindow(t *testing.T) {
	a, _, provider := newTestApp(t)
	ctx := context.Background()

	if err := a.runtimeCfg.Set(ctx, botconfig.KeyHistoryWindow, "2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	for i := 0; i < 4; i++ {
		a.HandleMessage(ctx, inbound("mesaj"))
	}

	last := provider.requests[len(provider.requests)-1]
	var historyTurns int
	for _, m := range last.Messages {
		if m.Role == llm.RoleAssistant {
			historyTurns++
		}
	}
	// MaxTurns=2 means at most one full exchange from the past.
	if historyTurns != 1 {
		t.Errorf("assistant turns in prompt: got %d, want 1", historyTurns)
	}
}

func TestHandleMessage_EmptyMessageIgnored(t *testing.T) {
	a, sender, provider := newTestApp(t)

	a.HandleMessage(context.Background(), inbound(""))

	if len(provider.requests) != 0 || len(sender.messages) != 0 || len(sender.notices) != 0 {
		t.Error("empty message should be dropped silently")
	}
}

func TestHandleMessage_SameUserMessagesDoNotInterleave(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, text := range []string{"primul mesaj", "al doilea mesaj"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			a.HandleMessage(ctx, inbound(text))
		}(text)
	}
	wg.Wait()

	window, err := a.history.Window(ctx, "@laurentiu:example.org", 10)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if len(window) != 4 {
		t.Fatalf("history turns: got %d, want 4", len(window))
	}

	// Whichever message won the lock, each exchange stays a contiguous
	// user/assistant pair.
	for i := 0; i < 4; i += 2 {
		if window[i].Role != memory.RoleUser || window[i+1].Role != memory.RoleAssistant {
			t.Errorf("turns %d/%d interleaved: %s then %s",
				i, i+1, window[i].Role, window[i+1].Role)
		}
	}
	if window[0].Payload.Text == window[2].Payload.Text {
		t.Errorf("both exchanges carry the same user text %q", window[0].Payload.Text)
	}
}

func TestHandleMessage_FailedImageDownloadStillPrompts(t *testing.T) {
	a, _, provider := newTestApp(t)
	ctx := context.Background()

	msg := inbound("")
	msg.HasImage = true
	msg.ImageMXC = "mxc://example.org/abc"
	// ImageDataURL stays empty: the media download failed.

	a.HandleMessage(ctx, msg)

	if len(provider.requests) != 1 {
		t.Fatalf("model calls: %d", len(provider.requests))
	}
	req := provider.requests[0]
	current := req.Messages[len(req.Messages)-1]
	if len(current.Parts) != 1 || current.Parts[0].Text == "" {
		t.Errorf("current message should be non-empty text: %+v", current.Parts)
	}

	// With a caption, the caption is the stand-in text.
	msg = inbound("")
	msg.HasImage = true
	msg.ImageMXC = "mxc://example.org/def"
	msg.Caption = "cina de azi"
	a.HandleMessage(ctx, msg)

	req = provider.requests[1]
	current = req.Messages[len(req.Messages)-1]
	if len(current.Parts) != 1 || current.Parts[0].Text != "cina de azi" {
		t.Errorf("caption should stand in for the image: %+v", current.Parts)
	}
}

func TestHandleMessage_ImageUsesVisionPath(t *testing.T) {
	a, _, provider := newTestApp(t)
	ctx := context.Background()
	a.persona.VisionModel = "gpt-4.1"

	msg := inbound("")
	msg.HasImage = true
	msg.ImageDataURL = "data:image/jpeg;base64,AAAA"
	msg.ImageMXC = "mxc://example.org/abc"
	msg.Caption = "cina de azi"

	a.HandleMessage(ctx, msg)

	if len(provider.requests) != 1 {
		t.Fatalf("model calls: %d", len(provider.requests))
	}
	req := provider.requests[0]
	if req.Model != "gpt-4.1" {
		t.Errorf("model: got %q, want vision model", req.Model)
	}
	current := req.Messages[len(req.Messages)-1]
	if len(current.Parts) != 2 || current.Parts[0].ImageURL != "data:image/jpeg;base64,AAAA" {
		t.Errorf("current message parts: %+v", current.Parts)
	}

	// History keeps the homeserver reference, never the inline bytes.
	window, _ := a.history.Window(ctx, msg.Sender, 10)
	if len(window) != 2 {
		t.Fatalf("history turns: %d", len(window))
	}
	if window[0].Payload.ImageURL != "mxc://example.org/abc" {
		t.Errorf("stored image reference: %q", window[0].Payload.ImageURL)
	}
}
