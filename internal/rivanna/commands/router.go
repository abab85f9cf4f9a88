// Package commands parses "/rivanna ..." chat commands and routes them to
// their handlers.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"maunium.net/go/mautrix/event"
)

// Prefix starts every command.
const Prefix = "/rivanna"

// Command is a parsed chat command.
type Command struct {
	Name string
	Args []string
	// Text is everything after the command name with its spacing kept.
	Text    string
	RawText string
}

// ErrNotACommand is returned by Parse when the message does not start with the
// command prefix. Callers should use errors.Is to distinguish this expected
// case from real errors.
var ErrNotACommand = errors.New("not a command (missing prefix)")

// ErrUnknownCommand is returned by Route for names without a handler.
var ErrUnknownCommand = errors.New("unknown command")

// Handler handles a command and returns the text to post back.
type Handler func(ctx context.Context, cmd *Command, evt *event.Event) (string, error)

// Router routes commands to handlers
type Router struct {
	handlers map[string]Handler
	prefix   string
}

// NewRouter creates a new command router
func NewRouter(prefix string) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		prefix:   prefix,
	}
}

// Register registers a command handler
func (r *Router) Register(name string, handler Handler) {
	r.handlers[name] = handler
}

// Parse parses a message into a command
func (r *Router) Parse(text string) (*Command, error) {
	text = strings.TrimSpace(text)

	// "/rivannax" is not ours.
	rest, ok := strings.CutPrefix(text, r.prefix)
	if !ok || (rest != "" && !unicode.IsSpace(rune(rest[0]))) {
		return nil, ErrNotACommand
	}

	rest = strings.TrimSpace(rest)
	if rest == "" {
		return nil, fmt.Errorf("empty command")
	}

	name, args := rest, ""
	if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
		name, args = rest[:i], strings.TrimSpace(rest[i:])
	}
	return &Command{
		Name:    strings.ToLower(name),
		Args:    strings.Fields(args),
		Text:    args,
		RawText: rest,
	}, nil
}

// Route parses and routes a command to its handler
func (r *Router) Route(ctx context.Context, text string, evt *event.Event) (string, error) {
	cmd, err := r.Parse(text)
	if err != nil {
		return "", err
	}

	handler, ok := r.handlers[cmd.Name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Name)
	}
	return handler(ctx, cmd, evt)
}

// GetArg returns an argument by index
func (c *Command) GetArg(index int) (string, bool) {
	if index < 0 || index >= len(c.Args) {
		return "", false
	}
	return c.Args[index], true
}
