// Package matrix is rivanna's chat transport: it receives room messages from
// a Matrix homeserver and posts the persona's replies back.
//
// Every outbound call is retried by the caller-side policy in Config.Retry
// (three attempts, fixed 100ms delay by default). Delivery is at-least-once
// at best; a message that fails all attempts is dropped and logged.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/rivanna/common/clock"
	"github.com/bdobrica/rivanna/common/retry"
)

// DefaultRetry is the caller-side policy for outbound calls.
var DefaultRetry = retry.Fixed(3, 100*time.Millisecond)

// typingTimeout is how long the typing indicator stays up unless a message
// is posted first.
const typingTimeout = 30 * time.Second

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms are joined at start-up. Invites to other rooms are accepted
	// when AutoJoin is set.
	Rooms    []string
	AutoJoin bool
	// DB persists the sync token across restarts. When nil, mautrix's
	// in-memory store is used and history replays on restart.
	DB *sql.DB
	// Retry overrides DefaultRetry.
	Retry *retry.Config
	// Clock paces sync reconnects. Defaults to clock.Real().
	Clock clock.Clock
}

// MessageHandler processes an inbound text message.
type MessageHandler func(ctx context.Context, evt *event.Event)

// Client wraps a mautrix client.
type Client struct {
	client     *mautrix.Client
	config     *Config
	retry      retry.Config
	clock      clock.Clock
	stopCh     chan struct{}
	msgHandler MessageHandler

	scopeMu sync.RWMutex
	scopes  map[string]string // room ID → parent space ID
}

// New creates a Matrix client.
func New(config *Config) (*Client, error) {
	client, err := mautrix.NewClient(config.Homeserver, id.UserID(config.UserID), config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}

	rc := DefaultRetry
	if config.Retry != nil {
		rc = *config.Retry
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}

	if config.DB != nil {
		client.Store = newDBSyncStore(config.DB)
		slog.Info("matrix: using persistent sync store")
	} else {
		slog.Warn("matrix: no DB configured, sync token is not persisted")
	}

	return &Client{
		client: client,
		config: config,
		retry:  rc,
		clock:  clk,
		stopCh: make(chan struct{}),
		scopes: make(map[string]string),
	}, nil
}

// Start joins the configured rooms and begins syncing in the background.
func (c *Client) Start(ctx context.Context, handler MessageHandler) error {
	c.msgHandler = handler

	syncer := c.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.handleMessage)
	syncer.OnEventType(event.StateMember, c.handleMembership)

	for _, roomID := range c.config.Rooms {
		if err := c.joinRoom(ctx, id.RoomID(roomID)); err != nil {
			return fmt.Errorf("matrix: join %s: %w", roomID, err)
		}
	}

	go c.syncLoop(c.client.Sync)
	return nil
}

const (
	syncBackoffMin = 2 * time.Second
	syncBackoffMax = 5 * time.Minute
)

// syncLoop keeps sync running, reconnecting with exponential backoff. It
// returns when sync returns nil or Stop is called.
func (c *Client) syncLoop(sync func() error) {
	backoff := syncBackoffMin
	for {
		err := sync()
		if err == nil {
			return // StopSync
		}
		select {
		case <-c.stopCh:
			return
		default:
		}
		slog.Error("matrix: sync stopped, reconnecting", "err", err, "backoff", backoff)
		select {
		case <-c.stopCh:
			return
		case <-c.clock.After(backoff):
		}
		backoff *= 2
		if backoff > syncBackoffMax {
			backoff = syncBackoffMax
		}
	}
}

// Stop ends syncing.
func (c *Client) Stop() {
	close(c.stopCh)
	c.client.StopSync()
}

// UserID returns the bot's Matrix ID.
func (c *Client) UserID() string {
	return c.config.UserID
}

// SendTyping shows the typing indicator in roomID.
func (c *Client) SendTyping(ctx context.Context, roomID string) error {
	return retry.Do(ctx, c.retry, func() error {
		if _, err := c.client.UserTyping(ctx, id.RoomID(roomID), true, typingTimeout); err != nil {
			return fmt.Errorf("matrix: typing in %s: %w", roomID, err)
		}
		return nil
	})
}

// PostMessage sends text to roomID, rendering light markdown as HTML.
func (c *Client) PostMessage(ctx context.Context, roomID, text string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	if html, ok := renderHTML(text); ok {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}
	return c.send(ctx, roomID, &content)
}

// PostNotice sends text as an m.notice, used for command replies.
func (c *Client) PostNotice(ctx context.Context, roomID, text string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    text,
	}
	if html, ok := renderHTML(text); ok {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}
	return c.send(ctx, roomID, &content)
}

func (c *Client) send(ctx context.Context, roomID string, content *event.MessageEventContent) error {
	return retry.Do(ctx, c.retry, func() error {
		if _, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, content); err != nil {
			return fmt.Errorf("matrix: send to %s: %w", roomID, err)
		}
		return nil
	})
}

// ResolveParentScope returns the space that roomID belongs to, or roomID
// itself when it has no m.space.parent. Results are cached for the life of
// the process.
func (c *Client) ResolveParentScope(ctx context.Context, roomID string) (string, error) {
	c.scopeMu.RLock()
	scope, ok := c.scopes[roomID]
	c.scopeMu.RUnlock()
	if ok {
		return scope, nil
	}

	var state mautrix.RoomStateMap
	err := retry.Do(ctx, c.retry, func() error {
		var err error
		state, err = c.client.State(ctx, id.RoomID(roomID))
		if err != nil {
			return fmt.Errorf("matrix: state of %s: %w", roomID, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	scope = pickParent(roomID, state[event.StateSpaceParent])

	c.scopeMu.Lock()
	c.scopes[roomID] = scope
	c.scopeMu.Unlock()
	return scope, nil
}

// pickParent prefers a canonical parent, then the lowest space ID, and
// falls back to the room itself.
func pickParent(roomID string, parents map[string]*event.Event) string {
	var candidates []string
	for stateKey, evt := range parents {
		if stateKey == "" || evt == nil {
			continue
		}
		if content := evt.Content.AsSpaceParent(); content != nil && content.Canonical {
			return stateKey
		}
		candidates = append(candidates, stateKey)
	}
	if len(candidates) == 0 {
		return roomID
	}
	sort.Strings(candidates)
	return candidates[0]
}

func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(c.config.UserID) {
		return
	}
	msg := evt.Content.AsMessage()
	if msg == nil || (msg.MsgType != event.MsgText && msg.MsgType != event.MsgEmote) {
		return
	}
	if c.msgHandler != nil {
		c.msgHandler(ctx, evt)
	}
}

func (c *Client) handleMembership(ctx context.Context, evt *event.Event) {
	if !c.config.AutoJoin || evt.GetStateKey() != c.config.UserID {
		return
	}
	if evt.Content.AsMember().Membership != event.MembershipInvite {
		return
	}
	if err := c.joinRoom(ctx, evt.RoomID); err != nil {
		slog.Warn("matrix: failed to accept invite", "room_id", evt.RoomID, "inviter", evt.Sender, "err", err)
		return
	}
	slog.Info("matrix: accepted invite", "room_id", evt.RoomID, "inviter", evt.Sender)
}

func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("matrix: join forbidden or already a member, continuing", "room_id", roomID)
			return nil
		}
		return err
	}
	return nil
}
