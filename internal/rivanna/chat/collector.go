package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/rivanna/common/clock"
	"github.com/bdobrica/rivanna/common/trace"
)

// DefaultDebounce is how long a room must stay quiet before a burst is
// processed.
const DefaultDebounce = 5 * time.Second

// Phase is the state of a BurstCollector.
type Phase int

const (
	PhaseIdle       Phase = iota // no pending messages
	PhaseCollecting              // debounce timer running
	PhaseProcessing              // a batch is being processed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCollecting:
		return "collecting"
	case PhaseProcessing:
		return "processing"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// ProcessFunc handles one coalesced batch of messages.
type ProcessFunc func(ctx context.Context, batch []string) error

// CollectorConfig configures a BurstCollector.
type CollectorConfig struct {
	Window time.Duration // sliding debounce window, DefaultDebounce when zero
	Clock  clock.Clock   // real clock when nil
	Logger *slog.Logger
	// Context is the parent of every processing cycle. Background when nil.
	Context context.Context
	// OnIdle, when set, runs after a cycle returns and no messages are held.
	// It is called without the collector's lock.
	OnIdle func()
}

// BurstCollector coalesces rapid messages into one processing cycle and
// guarantees at most one cycle runs at a time.
//
// Messages arriving while a cycle is processing are held and start a new
// debounce window once the cycle returns. The mutex only guards the phase
// and the pending basket; ProcessFunc runs without it.
type BurstCollector struct {
	process ProcessFunc
	window  time.Duration
	clock   clock.Clock
	logger  *slog.Logger
	ctx     context.Context
	onIdle  func()

	mu       sync.Mutex
	phase    Phase
	pending  []string
	timer    *clock.Timer
	deadline time.Time
	cycles   int

	inflight sync.WaitGroup
}

// NewBurstCollector returns an idle collector that hands batches to process.
func NewBurstCollector(cfg CollectorConfig, process ProcessFunc) *BurstCollector {
	if cfg.Window <= 0 {
		cfg.Window = DefaultDebounce
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
	return &BurstCollector{
		process: process,
		window:  cfg.Window,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		ctx:     cfg.Context,
		onIdle:  cfg.OnIdle,
	}
}

// Add queues msg. From Idle it starts the debounce window; while Collecting
// it restarts the window; while Processing it only queues.
func (c *BurstCollector) Add(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = append(c.pending, msg)
	switch c.phase {
	case PhaseIdle:
		c.phase = PhaseCollecting
		c.armLocked()
	case PhaseCollecting:
		c.armLocked()
	case PhaseProcessing:
	}
}

func (c *BurstCollector) armLocked() {
	c.deadline = c.clock.Now().Add(c.window)
	if c.timer == nil {
		c.timer = c.clock.AfterFunc(c.window, c.fire)
		return
	}
	c.timer.Reset(c.window)
}

// fire runs when the debounce window closes.
func (c *BurstCollector) fire() {
	c.mu.Lock()
	// A timer that fired just before being re-armed is stale.
	if c.phase != PhaseCollecting || len(c.pending) == 0 || c.clock.Now().Before(c.deadline) {
		c.mu.Unlock()
		return
	}
	batch := c.pending
	c.pending = nil
	c.phase = PhaseProcessing
	c.cycles++
	cycle := c.cycles
	c.inflight.Add(1)
	c.mu.Unlock()

	go c.run(cycle, batch)
}

func (c *BurstCollector) run(cycle int, batch []string) {
	ctx := trace.WithTraceID(c.ctx, trace.GenerateID())
	log := trace.Logger(ctx, c.logger)

	defer c.inflight.Done()
	defer c.finish()
	defer func() {
		if r := recover(); r != nil {
			log.Error("collector: cycle panicked", "cycle", cycle, "panic", r)
		}
	}()

	log.Debug("collector: processing burst", "cycle", cycle, "messages", len(batch))
	if err := c.process(ctx, batch); err != nil {
		log.Error("collector: cycle failed", "cycle", cycle, "messages", len(batch), "err", err)
	}
}

// finish leaves Processing: back to Idle, or straight into a new window when
// messages arrived meanwhile.
func (c *BurstCollector) finish() {
	c.mu.Lock()
	if len(c.pending) > 0 {
		c.phase = PhaseCollecting
		c.armLocked()
		c.mu.Unlock()
		return
	}
	c.phase = PhaseIdle
	c.mu.Unlock()

	if c.onIdle != nil {
		c.onIdle()
	}
}

// Phase returns the current phase.
func (c *BurstCollector) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Pending returns the number of queued messages not yet processed.
func (c *BurstCollector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Cycles returns how many processing cycles have started.
func (c *BurstCollector) Cycles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycles
}

// Stop cancels a pending debounce window. Queued messages are dropped; a
// running cycle is not interrupted.
func (c *BurstCollector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.pending = nil
	if c.phase == PhaseCollecting {
		c.phase = PhaseIdle
	}
}

// Wait blocks until no processing cycle is running.
func (c *BurstCollector) Wait() {
	c.inflight.Wait()
}
