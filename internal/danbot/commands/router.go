// Package commands provides parsing and routing for the operator command
// surface (the "!dan ..." messages that manage memory directly).
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"maunium.net/go/mautrix/event"
)

// Command represents a parsed command.
type Command struct {
	Name       string
	Subcommand string
	Args       []string
	// Rest is the raw text after the command (and subcommand) tokens, with
	// original spacing inside preserved. Free-text commands (remember,
	// note, profile set) use it instead of Args.
	Rest string
}

// ErrNotACommand is returned by Parse when the message does not start with
// the command prefix. Callers use errors.Is to distinguish this expected
// case from real errors.
var ErrNotACommand = errors.New("not a command (missing prefix)")

// UsageError reports a malformed command. The hint is shown to the sender;
// no state is mutated when a handler returns it.
type UsageError struct {
	Hint string
}

func (e *UsageError) Error() string { return e.Hint }

// Handler is a function that handles a command.
type Handler func(ctx context.Context, cmd *Command, evt *event.Event) (string, error)

// Router routes commands to handlers.
type Router struct {
	handlers map[string]Handler
	prefix   string
}

// NewRouter creates a command router for the given prefix (e.g. "!dan").
func NewRouter(prefix string) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		prefix:   prefix,
	}
}

// Register registers a handler under a command key ("facts") or a
// command.subcommand key ("profile.set").
func (r *Router) Register(command string, handler Handler) {
	r.handlers[command] = handler
}

// Parse parses a message into a command.
func (r *Router) Parse(text string) (*Command, error) {
	text = strings.TrimSpace(text)

	if !strings.HasPrefix(text, r.prefix) {
		return nil, ErrNotACommand
	}

	text = strings.TrimSpace(strings.TrimPrefix(text, r.prefix))
	if text == "" {
		return nil, &UsageError{Hint: "Scrie: " + r.prefix + " help"}
	}

	parts := strings.Fields(text)
	cmd := &Command{
		Name: strings.ToLower(parts[0]),
		Rest: strings.TrimSpace(strings.TrimPrefix(text, parts[0])),
	}

	if len(parts) > 1 {
		cmd.Subcommand = strings.ToLower(parts[1])
		cmd.Args = parts[1:]
	}

	return cmd, nil
}

// Route parses text and dispatches it. Handler lookup tries
// "name.subcommand" first, then bare "name"; when the bare handler wins,
// the subcommand token is part of the free text.
func (r *Router) Route(ctx context.Context, text string, evt *event.Event) (string, error) {
	cmd, err := r.Parse(text)
	if err != nil {
		return "", err
	}

	if cmd.Subcommand != "" {
		if handler, ok := r.handlers[cmd.Name+"."+cmd.Subcommand]; ok {
			// Rest excludes the subcommand token for dotted handlers.
			cmd.Rest = strings.TrimSpace(strings.TrimPrefix(cmd.Rest, cmd.Args[0]))
			cmd.Args = cmd.Args[1:]
			return handler(ctx, cmd, evt)
		}
	}

	handler, ok := r.handlers[cmd.Name]
	if !ok {
		key := cmd.Name
		if cmd.Subcommand != "" {
			key = cmd.Name + " " + cmd.Subcommand
		}
		return "", &UsageError{Hint: fmt.Sprintf("Comanda necunoscuta: %s. Scrie %s help.", key, r.prefix)}
	}
	return handler(ctx, cmd, evt)
}
