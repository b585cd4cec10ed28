// Package app wires danbot together: the SQLite store, the memory
// components, the context assembler, the command router, the Matrix
// transport and the model provider.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ldinca/danbot/internal/danbot/capture"
	"github.com/ldinca/danbot/internal/danbot/commands"
	botconfig "github.com/ldinca/danbot/internal/danbot/config"
	"github.com/ldinca/danbot/internal/danbot/llm"
	"github.com/ldinca/danbot/internal/danbot/matrix"
	"github.com/ldinca/danbot/internal/danbot/memory"
	"github.com/ldinca/danbot/internal/danbot/persona"
	"github.com/ldinca/danbot/internal/danbot/store"
)

// CommandPrefix starts every operator command.
const CommandPrefix = "!dan"

// Config holds application configuration.
type Config struct {
	DatabasePath string
	PersonaPath  string
	Matrix       matrix.Config
	OpenAI       llm.OpenAIConfig
}

// App is the assembled application.
type App struct {
	cfg     *Config
	persona *persona.Persona

	store      *store.Store
	runtimeCfg botconfig.Store

	profile *memory.ProfileStore
	facts   *memory.FactLedger
	notes   *memory.NoteLog
	history *memory.HistoryLog
	gate    *memory.GreetingGate
	locks   *memory.UserLocks

	assembler *memory.ContextAssembler
	provider  llm.Provider
	router    *commands.Router
	matrix    *matrix.Client
	sender    transport

	// clock is injectable for greeting-gate tests.
	clock func() time.Time
}

// transport is the outbound surface the message pipeline needs.
// *matrix.Client implements it; tests substitute a fake.
type transport interface {
	SendMessage(ctx context.Context, roomID, message string) error
	SendNotice(ctx context.Context, roomID, message string) error
	SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error
}

// New creates the application. The store must be reachable at startup;
// per-request store failures later degrade gracefully instead.
func New(cfg *Config) (*App, error) {
	p, err := persona.Load(cfg.PersonaPath)
	if err != nil {
		return nil, err
	}

	s, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	a := &App{
		cfg:        cfg,
		persona:    p,
		store:      s,
		runtimeCfg: botconfig.New(s),
		profile:    memory.NewProfileStore(s),
		facts:      memory.NewFactLedger(s),
		notes:      memory.NewNoteLog(s),
		history:    memory.NewHistoryLog(s),
		gate:       memory.NewGreetingGate(s),
		locks:      memory.NewUserLocks(),
		provider:   llm.NewOpenAI(cfg.OpenAI),
		clock:      time.Now,
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

	cfg.Matrix.DB = s.DB()
	client, err := matrix.New(&cfg.Matrix)
	if err != nil {
		s.Close()
		return nil, err
	}
	a.matrix = client
	a.sender = client

	return a, nil
}

// Run starts the Matrix sync loop and blocks until SIGINT/SIGTERM.
func (a *App) Run() error {
	if err := a.matrix.Start(context.Background(), a.HandleMessage); err != nil {
		return fmt.Errorf("failed to start Matrix client: %w", err)
	}

	slog.Info("danbot is running",
		"persona", a.persona.Name,
		"rooms", len(a.cfg.Matrix.Rooms),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())
	return nil
}

// Stop releases the transport and the store.
func (a *App) Stop() {
	if a.matrix != nil {
		a.matrix.Stop()
	}
	if a.store != nil {
		a.store.Close()
	}
}
