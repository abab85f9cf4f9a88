package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/rivanna/common/trace"
	"github.com/bdobrica/rivanna/common/version"
	"github.com/bdobrica/rivanna/internal/rivanna/memory"
	"github.com/bdobrica/rivanna/internal/rivanna/persona"
	"github.com/bdobrica/rivanna/internal/rivanna/session"
)

// DefaultChatTimeout is how long a chat stays open without messages.
const DefaultChatTimeout = 15 * time.Minute

// ScopeResolver maps a room to the space whose memories it uses.
type ScopeResolver interface {
	ResolveParentScope(ctx context.Context, roomID string) (string, error)
}

// Notifier posts bot notices outside of a command reply.
type Notifier interface {
	PostNotice(ctx context.Context, roomID, text string) error
}

// HandlersConfig holds the dependencies of Handlers.
type HandlersConfig struct {
	Sessions *session.Orchestrator
	Memories *memory.Library
	Persona  *persona.Persona
	Scopes   ScopeResolver
	Notifier Notifier

	ChatTimeout time.Duration // DefaultChatTimeout when zero
	// Context is used for work started by timers after the command
	// returned.
	Context context.Context
	Logger  *slog.Logger
}

// Handlers holds all command handlers and dependencies
type Handlers struct {
	sessions    *session.Orchestrator
	memories    *memory.Library
	persona     *persona.Persona
	scopes      ScopeResolver
	notifier    Notifier
	chatTimeout time.Duration
	ctx         context.Context
	logger      *slog.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(cfg HandlersConfig) *Handlers {
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = DefaultChatTimeout
	}
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handlers{
		sessions:    cfg.Sessions,
		memories:    cfg.Memories,
		persona:     cfg.Persona,
		scopes:      cfg.Scopes,
		notifier:    cfg.Notifier,
		chatTimeout: cfg.ChatTimeout,
		ctx:         cfg.Context,
		logger:      cfg.Logger,
	}
}

// Register wires every handler into r.
func (h *Handlers) Register(r *Router) {
	r.Register("help", h.HandleHelp)
	r.Register("start", h.HandleStart)
	r.Register("stop", h.HandleStop)
	r.Register("reset", h.HandleReset)
	r.Register("teach", h.HandleTeach)
	r.Register("memories", h.HandleMemories)
	r.Register("forget", h.HandleForget)
	r.Register("status", h.HandleStatus)
}

// Key returns the session key of the room evt was sent in.
func (h *Handlers) Key(ctx context.Context, evt *event.Event) (session.Key, error) {
	roomID := evt.RoomID.String()
	scope, err := h.scopes.ResolveParentScope(ctx, roomID)
	if err != nil {
		return session.Key{}, fmt.Errorf("resolve scope of %s: %w", roomID, err)
	}
	return session.Key{SpaceID: scope, RoomID: roomID}, nil
}

// HandleHelp shows available commands
func (h *Handlers) HandleHelp(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	name := h.persona.Name
	return fmt.Sprintf(`**%[1]s**

• /rivanna start - Start chatting with %[1]s (ends after %[2]s of silence)
• /rivanna stop - Stop chatting
• /rivanna reset - Clear the recent conversation
• /rivanna teach <text> - Teach %[1]s something to remember
• /rivanna memories - List what %[1]s remembers here
• /rivanna forget <n> - Forget memory number n
• /rivanna status - Show status
`, name, h.chatTimeout), nil
}

// HandleStart opens a chat in the room and lets the persona greet it.
func (h *Handlers) HandleStart(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	key, err := h.Key(ctx, evt)
	if err != nil {
		return "", err
	}
	if h.sessions.IsActive(key) {
		return fmt.Sprintf("%s is already here.", h.persona.Name), nil
	}

	h.sessions.Activate(key)
	if err := h.sessions.SendMessage(ctx, key, h.persona.Cues.Enter); err != nil {
		h.sessions.Deactivate(key)
		if errors.Is(err, session.ErrConfiguration) {
			trace.Logger(ctx, h.logger).Warn("commands: chat not started", "room_id", key.RoomID, "err", err)
			return session.FallbackMessage, nil
		}
		return "", err
	}
	if err := h.sessions.ArmTimer(key, h.chatTimeout, func() { h.endChat(key) }); err != nil {
		trace.Logger(ctx, h.logger).Warn("commands: idle timer not armed", "room_id", key.RoomID, "err", err)
	}
	trace.Logger(ctx, h.logger).Info("commands: chat started",
		"space_id", key.SpaceID, "room_id", key.RoomID, "sender", evt.Sender.String())
	return h.persona.EnterChat(), nil
}

// HandleStop ends the chat in the room.
func (h *Handlers) HandleStop(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	key, err := h.Key(ctx, evt)
	if err != nil {
		return "", err
	}
	if !h.sessions.IsActive(key) {
		return fmt.Sprintf("%s is not chatting here.", h.persona.Name), nil
	}
	h.sessions.Deactivate(key)
	return h.persona.LeaveChat(), nil
}

// endChat runs when the idle timer expires.
func (h *Handlers) endChat(key session.Key) {
	h.sessions.Deactivate(key)
	if err := h.notifier.PostNotice(h.ctx, key.RoomID, h.persona.LeaveChat()); err != nil {
		h.logger.Warn("commands: leave notice failed", "room_id", key.RoomID, "err", err)
	}
}

// HandleReset discards the room's recent conversation. An active chat
// carries on from the reset cue.
func (h *Handlers) HandleReset(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	key, err := h.Key(ctx, evt)
	if err != nil {
		return "", err
	}
	if err := h.sessions.ResetHistory(key); err != nil && !errors.Is(err, session.ErrNoHistory) {
		return "", err
	}
	if h.sessions.IsActive(key) {
		if err := h.sessions.SendMessage(ctx, key, h.persona.Cues.Reset); err != nil && !errors.Is(err, session.ErrConfiguration) {
			return "", err
		}
	}
	return fmt.Sprintf("%s's recent conversation has been cleared!", h.persona.Name), nil
}

// HandleTeach stores the command text as a memory of the space.
func (h *Handlers) HandleTeach(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	if strings.TrimSpace(cmd.Text) == "" {
		return "Usage: /rivanna teach <something to remember>", nil
	}
	key, err := h.Key(ctx, evt)
	if err != nil {
		return "", err
	}
	if err := h.memories.Teach(ctx, key.SpaceID, cmd.Text); err != nil {
		return "", fmt.Errorf("teach: %w", err)
	}
	return fmt.Sprintf("%q\n\nThank you. I will remember this.", strings.TrimSpace(cmd.Text)), nil
}

// HandleMemories lists the memories of the space, numbered for forget.
func (h *Handlers) HandleMemories(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	key, err := h.Key(ctx, evt)
	if err != nil {
		return "", err
	}
	records, err := h.memories.List(ctx, key.SpaceID)
	if err != nil {
		return "", fmt.Errorf("list memories: %w", err)
	}
	if len(records) == 0 {
		return fmt.Sprintf("%s doesn't remember anything here yet. Use /rivanna teach <text>.", h.persona.Name), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**Memories (%d)**\n\n", len(records)))
	for i, rec := range records {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, rec.Text))
	}
	return sb.String(), nil
}

// HandleForget deletes a memory by its number in the memories listing.
func (h *Handlers) HandleForget(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	arg, ok := cmd.GetArg(0)
	if !ok {
		return "Usage: /rivanna forget <n>", nil
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Sprintf("%q is not a memory number.", arg), nil
	}
	key, err := h.Key(ctx, evt)
	if err != nil {
		return "", err
	}

	rec, err := h.memories.Forget(ctx, key.SpaceID, n)
	if errors.Is(err, memory.ErrIndexOutOfRange) {
		return fmt.Sprintf("There is no memory number %d. See /rivanna memories.", n), nil
	}
	if err != nil {
		return "", fmt.Errorf("forget: %w", err)
	}
	return fmt.Sprintf("Forgot: %q", rec.Text), nil
}

// HandleStatus reports version and chat activity.
func (h *Handlers) HandleStatus(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	key, err := h.Key(ctx, evt)
	if err != nil {
		return "", err
	}
	here := "no"
	if h.sessions.IsActive(key) {
		here = "yes"
	}
	return fmt.Sprintf("**%s**\nVersion: %s\nActive chats: %d\nChatting here: %s",
		h.persona.Name, version.Version, h.sessions.ActiveSessions(), here), nil
}
