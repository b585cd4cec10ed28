package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"maunium.net/go/mautrix/event"

	"github.com/ldinca/danbot/internal/danbot/config"
	"github.com/ldinca/danbot/internal/danbot/memory"
)

// Handlers holds the command handlers and their memory dependencies.
type Handlers struct {
	profile *memory.ProfileStore
	facts   *memory.FactLedger
	notes   *memory.NoteLog
	history *memory.HistoryLog
	cfg     config.Store
	prefix  string
}

// NewHandlers creates a Handlers instance and leaves registration to
// RegisterAll.
func NewHandlers(profile *memory.ProfileStore, facts *memory.FactLedger, notes *memory.NoteLog, history *memory.HistoryLog, cfg config.Store, prefix string) *Handlers {
	return &Handlers{
		profile: profile,
		facts:   facts,
		notes:   notes,
		history: history,
		cfg:     cfg,
		prefix:  prefix,
	}
}

// RegisterAll wires every handler into the router.
func (h *Handlers) RegisterAll(r *Router) {
	r.Register("help", h.HandleHelp)
	r.Register("profile", h.HandleProfileShow)
	r.Register("profile.set", h.HandleProfileSet)
	r.Register("profile.add", h.HandleProfileAdd)
	r.Register("profile.clear", h.HandleProfileClear)
	r.Register("remember", h.HandleRemember)
	r.Register("forget", h.HandleForget)
	r.Register("facts", h.HandleFacts)
	r.Register("note", h.HandleNote)
	r.Register("notes", h.HandleNotes)
	r.Register("reset", h.HandleReset)
	r.Register("wipe", h.HandleWipe)
	r.Register("config", h.HandleConfigList)
	r.Register("config.get", h.HandleConfigGet)
	r.Register("config.set", h.HandleConfigSet)
	r.Register("config.unset", h.HandleConfigUnset)
}

// HandleHelp shows the command surface.
func (h *Handlers) HandleHelp(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	p := h.prefix
	return fmt.Sprintf(`Comenzi:
%[1]s help - acest mesaj
%[1]s profile - arata profilul salvat
%[1]s profile set <text> - rescrie profilul
%[1]s profile add <text> - adauga la profil
%[1]s profile clear - sterge profilul
%[1]s remember <cheie> = <valoare> - salveaza un fapt
%[1]s forget <cheie> - uita un fapt
%[1]s facts - arata faptele curente
%[1]s note <text> - salveaza o nota scurta
%[1]s notes - arata notele recente
%[1]s reset - sterge conversatia (faptele si notele raman)
%[1]s wipe - sterge toata memoria
%[1]s config [get|set|unset] - configurare`, p), nil
}

// HandleProfileShow shows the saved profile.
func (h *Handlers) HandleProfileShow(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	profile, err := h.profile.Get(ctx, evt.Sender.String())
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(profile) == "" {
		return "Nu am inca profil salvat.", nil
	}
	return "Profil salvat:\n\n" + profile, nil
}

// HandleProfileSet overwrites the profile wholesale.
func (h *Handlers) HandleProfileSet(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	if strings.TrimSpace(cmd.Rest) == "" {
		return "", &UsageError{Hint: "Scrie: " + h.prefix + " profile set <text>"}
	}
	if err := h.profile.Set(ctx, evt.Sender.String(), cmd.Rest); err != nil {
		return "", err
	}
	return "Profil rescris.", nil
}

// HandleProfileAdd appends to the profile.
func (h *Handlers) HandleProfileAdd(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	if strings.TrimSpace(cmd.Rest) == "" {
		return "", &UsageError{Hint: "Scrie: " + h.prefix + " profile add <text>"}
	}
	if err := h.profile.Append(ctx, evt.Sender.String(), cmd.Rest); err != nil {
		return "", err
	}
	return "Am salvat in profil (memorie permanenta).", nil
}

// HandleProfileClear empties the profile.
func (h *Handlers) HandleProfileClear(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	if err := h.profile.Clear(ctx, evt.Sender.String()); err != nil {
		return "", err
	}
	return "Profil sters.", nil
}

// HandleRemember upserts a fact from "<key> = <value>".
func (h *Handlers) HandleRemember(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	key, value, found := strings.Cut(cmd.Rest, "=")
	if !found || strings.TrimSpace(key) == "" || strings.TrimSpace(value) == "" {
		return "", &UsageError{Hint: "Scrie: " + h.prefix + " remember <cheie> = <valoare>"}
	}
	if err := h.facts.Upsert(ctx, evt.Sender.String(), key, value); err != nil {
		return "", err
	}
	return fmt.Sprintf("Am retinut: %s = %s", memory.NormalizeKey(key), strings.TrimSpace(value)), nil
}

// HandleForget deletes a fact key and its audit history.
func (h *Handlers) HandleForget(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	key := strings.TrimSpace(cmd.Rest)
	if key == "" {
		return "", &UsageError{Hint: "Scrie: " + h.prefix + " forget <cheie>"}
	}
	if err := h.facts.Forget(ctx, evt.Sender.String(), key); err != nil {
		return "", err
	}
	return fmt.Sprintf("Am uitat: %s", memory.NormalizeKey(key)), nil
}

// HandleFacts lists the current fact snapshot.
func (h *Handlers) HandleFacts(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	limit := h.cfg.GetInt(ctx, config.KeyFactsLimit, 30)
	facts, err := h.facts.CurrentSnapshot(ctx, evt.Sender.String(), limit)
	if err != nil {
		return "", err
	}
	if len(facts) == 0 {
		return "Nu am fapte memorate.", nil
	}

	var b strings.Builder
	b.WriteString("Fapte memorate:")
	for _, f := range facts {
		fmt.Fprintf(&b, "\n- %s = %s", f.Key, f.Value)
	}
	return b.String(), nil
}

// HandleNote appends a freeform note.
func (h *Handlers) HandleNote(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	if strings.TrimSpace(cmd.Rest) == "" {
		return "", &UsageError{Hint: "Scrie: " + h.prefix + " note <nota>"}
	}
	if err := h.notes.Append(ctx, evt.Sender.String(), cmd.Rest); err != nil {
		return "", err
	}
	return "Nota salvata.", nil
}

// HandleNotes lists the recent notes chronologically.
func (h *Handlers) HandleNotes(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	limit := h.cfg.GetInt(ctx, config.KeyNotesLimit, 10)
	notes, err := h.notes.Recent(ctx, evt.Sender.String(), limit)
	if err != nil {
		return "", err
	}
	if len(notes) == 0 {
		return "Nu am note salvate.", nil
	}

	var b strings.Builder
	b.WriteString("Note recente:")
	for _, n := range notes {
		fmt.Fprintf(&b, "\n- [%s] %s", n.CreatedAt.Format(time.DateOnly), n.Text)
	}
	return b.String(), nil
}

// HandleReset clears the conversation history only.
func (h *Handlers) HandleReset(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	if err := h.history.Reset(ctx, evt.Sender.String()); err != nil {
		return "", err
	}
	return "Conversatia a fost stearsa. Faptele si notele raman.", nil
}

// HandleWipe clears facts, notes, profile and history for the sender.
func (h *Handlers) HandleWipe(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	userID := evt.Sender.String()
	if err := h.facts.ClearAll(ctx, userID); err != nil {
		return "", err
	}
	if err := h.notes.ClearAll(ctx, userID); err != nil {
		return "", err
	}
	if err := h.profile.Clear(ctx, userID); err != nil {
		return "", err
	}
	if err := h.history.Reset(ctx, userID); err != nil {
		return "", err
	}
	return "Toata memoria a fost stearsa.", nil
}

// HandleConfigList shows all runtime config knobs.
func (h *Handlers) HandleConfigList(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	values, err := h.cfg.List(ctx)
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return "Nicio setare modificata (se folosesc valorile din persona).", nil
	}

	var b strings.Builder
	b.WriteString("Setari:")
	for _, key := range []string{config.KeyModel, config.KeyHistoryWindow, config.KeyNotesLimit, config.KeyFactsLimit} {
		if v, ok := values[key]; ok {
			fmt.Fprintf(&b, "\n- %s = %s", key, v)
		}
	}
	return b.String(), nil
}

// HandleConfigGet shows one config knob.
func (h *Handlers) HandleConfigGet(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	key := strings.TrimSpace(cmd.Rest)
	if key == "" {
		return "", &UsageError{Hint: "Scrie: " + h.prefix + " config get <cheie>"}
	}
	value, err := h.cfg.Get(ctx, key)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return fmt.Sprintf("%s nu este setat.", key), nil
		}
		return "", err
	}
	return fmt.Sprintf("%s = %s", key, value), nil
}

// HandleConfigUnset removes one config knob, so the persona value applies
// again.
func (h *Handlers) HandleConfigUnset(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	key := strings.TrimSpace(cmd.Rest)
	if key == "" {
		return "", &UsageError{Hint: "Scrie: " + h.prefix + " config unset <cheie>"}
	}
	if err := h.cfg.Delete(ctx, key); err != nil {
		return "", err
	}
	return fmt.Sprintf("Sters: %s (se foloseste valoarea din persona).", key), nil
}

// HandleConfigSet updates one config knob.
func (h *Handlers) HandleConfigSet(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	fields := strings.Fields(cmd.Rest)
	if len(fields) < 2 {
		return "", &UsageError{Hint: "Scrie: " + h.prefix + " config set <cheie> <valoare>"}
	}
	key, value := fields[0], strings.Join(fields[1:], " ")

	switch key {
	case config.KeyModel:
		// free-form model name
	case config.KeyHistoryWindow, config.KeyNotesLimit, config.KeyFactsLimit:
		if n, err := strconv.Atoi(value); err != nil || n <= 0 {
			return "", &UsageError{Hint: key + " trebuie sa fie un numar pozitiv"}
		}
	default:
		return "", &UsageError{Hint: "Cheie necunoscuta: " + key}
	}

	if err := h.cfg.Set(ctx, key, value); err != nil {
		return "", err
	}
	return fmt.Sprintf("Setat: %s = %s", key, value), nil
}
