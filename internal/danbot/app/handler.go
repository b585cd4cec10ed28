package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ldinca/danbot/common/trace"
	"github.com/ldinca/danbot/internal/danbot/capture"
	"github.com/ldinca/danbot/internal/danbot/commands"
	botconfig "github.com/ldinca/danbot/internal/danbot/config"
	"github.com/ldinca/danbot/internal/danbot/llm"
	"github.com/ldinca/danbot/internal/danbot/matrix"
	"github.com/ldinca/danbot/internal/danbot/memory"
	"github.com/ldinca/danbot/internal/danbot/observability"
	"github.com/ldinca/danbot/internal/danbot/store"
)

// User-visible error strings, in the bot's voice.
const (
	replyTemporaryError = "Am o eroare temporara. Mai incearca o data."
	replyNoMemory       = "Memoria nu este disponibila momentan."
)

// HandleMessage is the entry point for every inbound message. It runs on
// its own goroutine per message (the transport guarantees that), so one
// slow model call never stalls other users.
func (a *App) HandleMessage(ctx context.Context, msg *matrix.InboundMessage) {
	ctx = trace.WithTraceID(ctx, trace.GenerateID())
	logger := observability.WithTrace(ctx).With("room_id", msg.RoomID, "sender", msg.Sender)

	if msg.Text == "" && !msg.HasImage {
		return
	}

	// Operator commands bypass the model path entirely.
	if msg.Text != "" {
		reply, err := a.router.Route(ctx, msg.Text, msg.Event)
		switch {
		case errors.Is(err, commands.ErrNotACommand):
			// Plain chat; fall through.
		case err != nil:
			a.replyCommandError(ctx, logger, msg.RoomID, err)
			return
		default:
			a.sendNotice(ctx, logger, msg.RoomID, reply)
			return
		}
	}

	a.answer(ctx, logger, msg)
}

// answer runs the chat pipeline: greeting gate → capture → assemble →
// model call → history append → send. The whole pipeline holds the user's
// lock so two near-simultaneous messages from one user can never interleave
// their history pairs.
func (a *App) answer(ctx context.Context, logger *slog.Logger, msg *matrix.InboundMessage) {
	userID := msg.Sender
	unlock := a.locks.Lock(userID)
	defer unlock()

	firstToday, err := a.gate.FirstOfDay(ctx, userID, a.clock())
	if err != nil {
		// Greeting is cosmetic; a store failure here must not kill the reply.
		logger.Warn("greeting gate unavailable", "err", err)
		firstToday = false
	}

	// Explicit memory requests are captured before the model call and
	// survive a later model failure.
	if msg.Text != "" {
		if action, err := a.assembler.Capture(ctx, userID, msg.Text); err != nil {
			logger.Warn("memory capture failed", "err", err, "kind", int(action.Kind))
		} else if action.Kind != capture.KindNone {
			logger.Info("captured memory action", "kind", int(action.Kind), "key", action.Key)
		}
	}

	promptPayload := memory.Payload{
		Text:     msg.Text,
		ImageURL: msg.ImageDataURL,
		Caption:  msg.Caption,
	}
	if msg.HasImage && msg.ImageDataURL == "" && promptPayload.Text == "" {
		// The download failed, so the image never reaches the model. The
		// current message must still carry some text.
		promptPayload.Text = msg.Caption
		if promptPayload.Text == "" {
			promptPayload.Text = "(imagine indisponibila)"
		}
	}
	messages := a.assemblerForRequest(ctx).Assemble(ctx, userID, promptPayload)

	a.setTyping(ctx, msg.RoomID, true)
	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		Model:    a.modelFor(ctx, msg.HasImage),
		Messages: messages,
	})
	a.setTyping(ctx, msg.RoomID, false)
	if err != nil {
		// No history rows for a failed exchange: the window after this
		// request must be identical to the window before it.
		logger.Error("model call failed", "err", err)
		a.sendNotice(ctx, logger, msg.RoomID, replyTemporaryError)
		return
	}

	reply := strings.TrimSpace(resp.Text)
	if firstToday && a.persona.Greeting != "" {
		reply = a.persona.Greeting + "\n\n" + reply
	}

	// History stores the homeserver URL, not the inline image bytes.
	storedPayload := memory.Payload{
		Text:     msg.Text,
		ImageURL: msg.ImageMXC,
		Caption:  msg.Caption,
	}
	if err := a.history.AppendExchange(ctx, userID, storedPayload, reply); err != nil {
		// The reply was produced; losing the transcript row is the lesser
		// failure. Log it and deliver the answer anyway.
		logger.Error("history append failed", "err", err)
	}

	logger.Info("answered",
		"prompt_tokens", resp.PromptTokens,
		"completion_tokens", resp.CompletionTokens,
		"first_today", firstToday,
	)
	if err := a.sender.SendMessage(ctx, msg.RoomID, reply); err != nil {
		logger.Error("failed to send reply", "err", err)
	}
}

// assemblerForRequest returns a copy of the assembler with runtime config
// overrides applied, so chat-time "config set" changes take effect without
// a restart and without racing other goroutines.
func (a *App) assemblerForRequest(ctx context.Context) *memory.ContextAssembler {
	asm := *a.assembler
	asm.Config.MaxTurns = a.runtimeCfg.GetInt(ctx, botconfig.KeyHistoryWindow, asm.Config.MaxTurns)
	asm.Config.MaxNotes = a.runtimeCfg.GetInt(ctx, botconfig.KeyNotesLimit, asm.Config.MaxNotes)
	asm.Config.MaxFacts = a.runtimeCfg.GetInt(ctx, botconfig.KeyFactsLimit, asm.Config.MaxFacts)
	return &asm
}

// modelFor picks the persona model for the message kind, honoring the
// runtime override.
func (a *App) modelFor(ctx context.Context, hasImage bool) string {
	if override, err := a.runtimeCfg.Get(ctx, botconfig.KeyModel); err == nil && override != "" {
		return override
	}
	if hasImage {
		return a.persona.VisionModel
	}
	return a.persona.TextModel
}

func (a *App) replyCommandError(ctx context.Context, logger *slog.Logger, roomID string, err error) {
	var ue *commands.UsageError
	switch {
	case errors.As(err, &ue):
		a.sender.SendNotice(ctx, roomID, ue.Hint)
	case errors.Is(err, store.ErrUnavailable):
		logger.Error("command failed: store unavailable", "err", err)
		a.sender.SendNotice(ctx, roomID, replyNoMemory)
	default:
		logger.Error("command failed", "err", err)
		a.sender.SendNotice(ctx, roomID, replyTemporaryError)
	}
}

func (a *App) sendNotice(ctx context.Context, logger *slog.Logger, roomID, text string) {
	if err := a.sender.SendNotice(ctx, roomID, text); err != nil {
		logger.Error("failed to send notice", "err", err)
	}
}

func (a *App) setTyping(ctx context.Context, roomID string, typing bool) {
	timeout := 30 * time.Second
	if !typing {
		timeout = 0
	}
	if err := a.sender.SetTyping(ctx, roomID, typing, timeout); err != nil {
		observability.WithTrace(ctx).Debug("failed to set typing indicator", "err", err)
	}
}
