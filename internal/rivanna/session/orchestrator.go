// Package session tracks which Matrix rooms have an active chat with the
// persona and routes their messages into per-room conversation state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/rivanna/common/clock"
	"github.com/bdobrica/rivanna/common/trace"
	"github.com/bdobrica/rivanna/internal/rivanna/chat"
	"github.com/bdobrica/rivanna/internal/rivanna/conversation"
)

// ErrConfiguration is wrapped by every guard error. Guard errors are
// reported to users with FallbackMessage and never retried.
var ErrConfiguration = errors.New("session: configuration error")

var (
	ErrInactive      = fmt.Errorf("%w: chat is not active", ErrConfiguration)
	ErrNotConfigured = fmt.Errorf("%w: persona or credentials missing", ErrConfiguration)
	ErrTimerExists   = fmt.Errorf("%w: timer already armed", ErrConfiguration)
	ErrNoTimer       = fmt.Errorf("%w: no timer armed", ErrConfiguration)
	ErrNoHistory     = fmt.Errorf("%w: no conversation history", ErrConfiguration)
)

// FallbackMessage is posted in place of a reply when a guard rejects a
// message.
const FallbackMessage = "Sorry, I can't chat right now. Try `/rivanna start` or ask an admin to check my configuration."

// Key identifies a conversation: the Matrix space that owns the memory
// index, and the room the conversation happens in. A room without a parent
// space uses its own ID as SpaceID.
type Key struct {
	SpaceID string
	RoomID  string
}

func (k Key) String() string { return k.SpaceID + "/" + k.RoomID }

// Transport delivers output to a room.
type Transport interface {
	SendTyping(ctx context.Context, roomID string) error
	PostMessage(ctx context.Context, roomID, text string) error
}

// Responder produces the persona's reply to a batch of messages.
type Responder interface {
	Respond(ctx context.Context, scope string, buf *conversation.Buffer, batch []string) (string, bool, error)
}

var _ Responder = (*chat.Pipeline)(nil)

// Config holds the Orchestrator settings.
type Config struct {
	// Persona is the system prompt of every conversation.
	Persona string
	// APIKey is only checked for presence.
	APIKey string

	HistoryCapacity int           // turns per buffer, conversation.DefaultCapacity when zero
	Debounce        time.Duration // chat.DefaultDebounce when zero

	Clock  clock.Clock
	Logger *slog.Logger
	// Context is the parent of every processing cycle. Cycles are not
	// cancelled when a chat ends.
	Context context.Context
}

// session is the state of one active conversation.
type session struct {
	id  string
	buf *conversation.Buffer // nil after a reset until the next cycle
}

type idleTimer struct {
	timer    *clock.Timer
	duration time.Duration
}

// Orchestrator owns the active flags, conversation state, and idle timers of
// all rooms. It is safe for concurrent use.
//
// Each key has one collector for as long as it has a session or a running
// cycle, so a chat restarted during a cycle queues behind that cycle. A
// cycle serves the session current when it starts and its reply is dropped
// if that session has ended by the time the reply is ready.
type Orchestrator struct {
	cfg       Config
	responder Responder
	transport Transport
	logger    *slog.Logger

	mu         sync.Mutex
	active     map[Key]struct{}
	sessions   map[Key]*session
	collectors map[Key]*chat.BurstCollector
	timers     map[Key]*idleTimer
}

// New returns an Orchestrator with no active chats.
func New(cfg Config, responder Responder, transport Transport) *Orchestrator {
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = conversation.DefaultCapacity
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = chat.DefaultDebounce
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	return &Orchestrator{
		cfg:        cfg,
		responder:  responder,
		transport:  transport,
		logger:     cfg.Logger,
		active:     make(map[Key]struct{}),
		sessions:   make(map[Key]*session),
		collectors: make(map[Key]*chat.BurstCollector),
		timers:     make(map[Key]*idleTimer),
	}
}

// Activate marks key as chatting. Activating an active key is a no-op.
func (o *Orchestrator) Activate(key Key) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active[key] = struct{}{}
}

// Deactivate ends the chat in key: the idle timer is cleared, pending
// messages are dropped, and the conversation history is discarded. A cycle
// already running finishes but its reply is not posted.
func (o *Orchestrator) Deactivate(key Key) {
	o.mu.Lock()
	delete(o.active, key)
	o.clearTimerLocked(key)
	sess := o.sessions[key]
	delete(o.sessions, key)
	if col := o.collectors[key]; col != nil {
		col.Stop()
		if col.Phase() == chat.PhaseIdle {
			delete(o.collectors, key)
		}
	}
	o.mu.Unlock()

	if sess != nil {
		o.logger.Info("session: chat ended", "space_id", key.SpaceID, "room_id", key.RoomID, "session_id", sess.id)
	}
}

// IsActive reports whether key is chatting.
func (o *Orchestrator) IsActive(key Key) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[key]
	return ok
}

// AnySessionActive reports whether any room is chatting.
func (o *Orchestrator) AnySessionActive() bool {
	return o.ActiveSessions() > 0
}

// ActiveSessions returns the number of rooms chatting.
func (o *Orchestrator) ActiveSessions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// ArmTimer runs onExpire once d has passed without a RefreshTimer call.
// The timer is removed before onExpire runs.
func (o *Orchestrator) ArmTimer(key Key, d time.Duration, onExpire func()) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.timers[key]; ok {
		return fmt.Errorf("arm %s: %w", key, ErrTimerExists)
	}
	it := &idleTimer{duration: d}
	it.timer = o.cfg.Clock.AfterFunc(d, func() {
		o.mu.Lock()
		if o.timers[key] != it {
			o.mu.Unlock()
			return
		}
		delete(o.timers, key)
		o.mu.Unlock()

		o.logger.Info("session: idle timer expired", "space_id", key.SpaceID, "room_id", key.RoomID)
		onExpire()
	})
	o.timers[key] = it
	return nil
}

// RefreshTimer restarts the idle timer of key with its original duration.
func (o *Orchestrator) RefreshTimer(key Key) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	it, ok := o.timers[key]
	if !ok {
		return fmt.Errorf("refresh %s: %w", key, ErrNoTimer)
	}
	it.timer.Reset(it.duration)
	return nil
}

// ClearTimer cancels the idle timer of key.
func (o *Orchestrator) ClearTimer(key Key) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.clearTimerLocked(key) {
		return fmt.Errorf("clear %s: %w", key, ErrNoTimer)
	}
	return nil
}

func (o *Orchestrator) clearTimerLocked(key Key) bool {
	it, ok := o.timers[key]
	if !ok {
		return false
	}
	it.timer.Stop()
	delete(o.timers, key)
	return true
}

// ResetHistory discards the conversation history of key. The next cycle
// starts from the persona prompt alone.
func (o *Orchestrator) ResetHistory(key Key) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	sess := o.sessions[key]
	if sess == nil || sess.buf == nil {
		return fmt.Errorf("reset %s: %w", key, ErrNoHistory)
	}
	sess.buf = nil
	return nil
}

// History returns the conversation buffer of key, or nil when there is none.
func (o *Orchestrator) History(key Key) *conversation.Buffer {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sess := o.sessions[key]; sess != nil {
		return sess.buf
	}
	return nil
}

// Route queues raw for the next processing cycle of key and refreshes its
// idle timer. The conversation state is created on first use.
func (o *Orchestrator) Route(ctx context.Context, key Key, raw string) error {
	o.mu.Lock()
	if _, ok := o.active[key]; !ok {
		o.mu.Unlock()
		return fmt.Errorf("route %s: %w", key, ErrInactive)
	}
	if o.sessions[key] == nil {
		sess := &session{id: uuid.NewString()}
		o.sessions[key] = sess
		trace.Logger(ctx, o.logger).Info("session: conversation created",
			"space_id", key.SpaceID, "room_id", key.RoomID, "session_id", sess.id)
	}
	col := o.collectors[key]
	if col == nil {
		col = o.newCollectorLocked(key)
		o.collectors[key] = col
	}
	if it, ok := o.timers[key]; ok {
		it.timer.Reset(it.duration)
	}
	o.mu.Unlock()

	col.Add(raw)
	return nil
}

// SendMessage is the guarded entry point for chat messages. It fails with
// ErrInactive or ErrNotConfigured before doing any I/O.
func (o *Orchestrator) SendMessage(ctx context.Context, key Key, raw string) error {
	if !o.IsActive(key) {
		return fmt.Errorf("send %s: %w", key, ErrInactive)
	}
	if o.cfg.Persona == "" || o.cfg.APIKey == "" {
		return fmt.Errorf("send %s: %w", key, ErrNotConfigured)
	}
	return o.Route(ctx, key, raw)
}

// Wait blocks until no processing cycle is running in any room, including
// rooms whose chat has ended.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	cols := make([]*chat.BurstCollector, 0, len(o.collectors))
	for _, c := range o.collectors {
		cols = append(cols, c)
	}
	o.mu.Unlock()

	for _, c := range cols {
		c.Wait()
	}
}

// Close ends every chat and waits for running cycles.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	keys := make([]Key, 0, len(o.active)+len(o.sessions))
	for k := range o.active {
		keys = append(keys, k)
	}
	for k := range o.sessions {
		if _, ok := o.active[k]; !ok {
			keys = append(keys, k)
		}
	}
	o.mu.Unlock()

	for _, k := range keys {
		o.Deactivate(k)
	}
	o.Wait()
}

func (o *Orchestrator) newCollectorLocked(key Key) *chat.BurstCollector {
	var col *chat.BurstCollector
	col = chat.NewBurstCollector(chat.CollectorConfig{
		Window:  o.cfg.Debounce,
		Clock:   o.cfg.Clock,
		Logger:  o.logger.With("space_id", key.SpaceID, "room_id", key.RoomID),
		Context: o.cfg.Context,
		OnIdle:  func() { o.release(key, col) },
	}, func(ctx context.Context, batch []string) error {
		return o.process(ctx, key, batch)
	})
	return col
}

// release drops the collector of an ended chat once its last cycle is done.
func (o *Orchestrator) release(key Key, col *chat.BurstCollector) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sessions[key] == nil && o.collectors[key] == col && col.Phase() == chat.PhaseIdle {
		delete(o.collectors, key)
	}
}

// current reports whether sess is still the live session of key.
func (o *Orchestrator) current(key Key, sess *session) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[key] == sess
}

// buffer returns the current buffer of sess, creating a fresh one after a
// reset.
func (o *Orchestrator) buffer(sess *session) *conversation.Buffer {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sess.buf == nil {
		sess.buf = conversation.NewBuffer(conversation.System(o.cfg.Persona), o.cfg.HistoryCapacity)
	}
	return sess.buf
}

func (o *Orchestrator) process(ctx context.Context, key Key, batch []string) error {
	o.mu.Lock()
	sess := o.sessions[key]
	o.mu.Unlock()
	if sess == nil {
		trace.Logger(ctx, o.logger).Info("session: chat ended before cycle, batch dropped",
			"space_id", key.SpaceID, "room_id", key.RoomID, "messages", len(batch))
		return nil
	}
	log := trace.Logger(ctx, o.logger).With("space_id", key.SpaceID, "room_id", key.RoomID, "session_id", sess.id)

	if err := o.transport.SendTyping(ctx, key.RoomID); err != nil {
		log.Warn("session: typing indicator failed", "err", err)
	}

	reply, ok, err := o.responder.Respond(ctx, key.SpaceID, o.buffer(sess), batch)
	if err != nil {
		return fmt.Errorf("session %s: respond: %w", sess.id, err)
	}
	if !ok {
		log.Debug("session: persona stayed silent", "messages", len(batch))
		return nil
	}
	if !o.current(key, sess) {
		log.Info("session: chat ended during cycle, reply dropped")
		return nil
	}
	if err := o.transport.PostMessage(ctx, key.RoomID, reply); err != nil {
		return fmt.Errorf("session %s: post reply: %w", sess.id, err)
	}
	return nil
}
