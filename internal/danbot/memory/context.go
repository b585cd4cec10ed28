package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ldinca/danbot/internal/danbot/capture"
	"github.com/ldinca/danbot/internal/danbot/llm"
)

// AssemblerConfig bounds how much of each store is projected into a prompt.
type AssemblerConfig struct {
	SystemPrompt string
	MaxFacts     int
	MaxNotes     int
	MaxTurns     int
}

// DefaultAssemblerConfig returns the limits used when a field is zero.
func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		MaxFacts: 30,
		MaxNotes: 10,
		MaxTurns: 20,
	}
}

// ContextAssembler composes profile, fact snapshot, recent notes and the
// history window into the ordered context payload for one model call.
// Empty sections are omitted entirely: the model is never conditioned on
// placeholder blocks.
//
// A store read that fails degrades that section to empty (logged, not
// fatal): a broken store must cost the user memory, not the reply.
type ContextAssembler struct {
	Profile *ProfileStore
	Facts   *FactLedger
	Notes   *NoteLog
	History *HistoryLog

	// Detect is the caller-supplied predicate deciding whether a message
	// should also be captured as a fact or note before the reply.
	Detect func(text string) capture.Action

	Config AssemblerConfig
}

// Capture applies the memory action the current message asks for, if any.
// It runs synchronously before the model call and its writes deliberately
// survive a later model failure: an explicit "remember" must not be lost
// because the chat reply failed.
func (a *ContextAssembler) Capture(ctx context.Context, userID, text string) (capture.Action, error) {
	if a.Detect == nil || text == "" {
		return capture.Action{Kind: capture.KindNone}, nil
	}

	action := a.Detect(text)
	switch action.Kind {
	case capture.KindFact:
		return action, a.Facts.Upsert(ctx, userID, action.Key, action.Value)
	case capture.KindForget:
		return action, a.Facts.Forget(ctx, userID, action.Key)
	case capture.KindNote:
		return action, a.Notes.Append(ctx, userID, action.Text)
	default:
		return action, nil
	}
}

// Assemble produces the ordered context payload for the current message:
// [system persona] [profile] [facts] [notes] [history window] [current
// message]. The current message is always last and always present.
func (a *ContextAssembler) Assemble(ctx context.Context, userID string, msg Payload) []llm.Message {
	cfg := a.Config
	def := DefaultAssemblerConfig()
	if cfg.MaxFacts <= 0 {
		cfg.MaxFacts = def.MaxFacts
	}
	if cfg.MaxNotes <= 0 {
		cfg.MaxNotes = def.MaxNotes
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = def.MaxTurns
	}

	var msgs []llm.Message
	if cfg.SystemPrompt != "" {
		msgs = append(msgs, llm.Text(llm.RoleSystem, cfg.SystemPrompt))
	}

	if block := a.profileBlock(ctx, userID); block != "" {
		msgs = append(msgs, llm.Text(llm.RoleSystem, block))
	}
	if block := a.factsBlock(ctx, userID, cfg.MaxFacts); block != "" {
		msgs = append(msgs, llm.Text(llm.RoleSystem, block))
	}
	if block := a.notesBlock(ctx, userID, cfg.MaxNotes); block != "" {
		msgs = append(msgs, llm.Text(llm.RoleSystem, block))
	}

	msgs = append(msgs, a.historyMessages(ctx, userID, cfg.MaxTurns)...)
	msgs = append(msgs, currentMessage(msg))
	return msgs
}

func (a *ContextAssembler) profileBlock(ctx context.Context, userID string) string {
	if a.Profile == nil {
		return ""
	}
	profile, err := a.Profile.Get(ctx, userID)
	if err != nil {
		slog.Warn("context: profile read failed, omitting section", "err", err, "user_id", userID)
		return ""
	}
	if strings.TrimSpace(profile) == "" {
		return ""
	}
	return "MEMORIE PROFIL (permanenta):\n" + strings.TrimSpace(profile)
}

func (a *ContextAssembler) factsBlock(ctx context.Context, userID string, maxFacts int) string {
	if a.Facts == nil {
		return ""
	}
	facts, err := a.Facts.CurrentSnapshot(ctx, userID, maxFacts)
	if err != nil {
		slog.Warn("context: fact snapshot failed, omitting section", "err", err, "user_id", userID)
		return ""
	}
	if len(facts) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("FAPTE MEMORATE (cheie: valoare):")
	for _, f := range facts {
		fmt.Fprintf(&b, "\n- %s: %s", f.Key, f.Value)
	}
	return b.String()
}

func (a *ContextAssembler) notesBlock(ctx context.Context, userID string, maxNotes int) string {
	if a.Notes == nil {
		return ""
	}
	notes, err := a.Notes.Recent(ctx, userID, maxNotes)
	if err != nil {
		slog.Warn("context: notes read failed, omitting section", "err", err, "user_id", userID)
		return ""
	}
	if len(notes) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("NOTE RECENTE (cronologic):")
	for _, n := range notes {
		fmt.Fprintf(&b, "\n- [%s] %s", n.CreatedAt.Format(time.DateOnly), n.Text)
	}
	return b.String()
}

func (a *ContextAssembler) historyMessages(ctx context.Context, userID string, maxTurns int) []llm.Message {
	if a.History == nil {
		return nil
	}
	turns, err := a.History.Window(ctx, userID, maxTurns)
	if err != nil {
		slog.Warn("context: history read failed, omitting window", "err", err, "user_id", userID)
		return nil
	}

	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		role := llm.RoleUser
		if t.Role == RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Text(role, turnText(t.Payload)))
	}
	return msgs
}

// turnText renders a past turn as plain text. Images from earlier turns are
// not re-sent to the model; the caption (or a marker) stands in for them.
func turnText(p Payload) string {
	if p.ImageURL == "" {
		return p.Text
	}
	if p.Caption != "" {
		return "(imagine trimisa) " + p.Caption
	}
	return "(imagine trimisa)"
}

// currentMessage renders the inbound message, keeping the image reference
// as a multimodal part so vision-capable models can read it.
func currentMessage(p Payload) llm.Message {
	if p.ImageURL == "" {
		return llm.Text(llm.RoleUser, p.Text)
	}

	text := p.Caption
	if strings.TrimSpace(text) == "" {
		text = "Analizeaza poza si spune-mi ce vezi + recomandari potrivite pentru obiectivele mele."
	}
	return llm.Message{
		Role: llm.RoleUser,
		Parts: []llm.ContentPart{
			{ImageURL: p.ImageURL},
			{Text: text},
		},
	}
}
