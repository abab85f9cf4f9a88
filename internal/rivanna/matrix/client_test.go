package matrix

import (
	"errors"
	"testing"
	"time"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/rivanna/common/clock"
)

func TestPickParent(t *testing.T) {
	plain := &event.Event{}
	canonical := &event.Event{Content: event.Content{Parsed: &event.SpaceParentEventContent{Canonical: true}}}

	tests := []struct {
		name    string
		parents map[string]*event.Event
		want    string
	}{
		{"no parents", nil, "!room:example.com"},
		{"single", map[string]*event.Event{"!space:example.com": plain}, "!space:example.com"},
		{"lowest wins", map[string]*event.Event{
			"!b:example.com": plain,
			"!a:example.com": plain,
		}, "!a:example.com"},
		{"canonical wins", map[string]*event.Event{
			"!a:example.com": plain,
			"!z:example.com": canonical,
		}, "!z:example.com"},
		{"empty state key ignored", map[string]*event.Event{"": plain}, "!room:example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pickParent("!room:example.com", tt.parents); got != tt.want {
				t.Fatalf("pickParent = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSyncLoop_BacksOffUntilSyncReturns(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	c := &Client{clock: clk, stopCh: make(chan struct{})}

	const failures = 9
	calls := make(chan struct{}, failures+1)
	n := 0
	sync := func() error {
		n++
		calls <- struct{}{}
		if n <= failures {
			return errors.New("connection refused")
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		c.syncLoop(sync)
		close(done)
	}()

	waitCall := func() {
		t.Helper()
		select {
		case <-calls:
		case <-time.After(time.Second):
			t.Fatalf("sync was not retried")
		}
	}
	waitCall()

	want := []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
		32 * time.Second, 64 * time.Second, 128 * time.Second, 256 * time.Second,
		5 * time.Minute,
	}
	for i, backoff := range want {
		waitPending(t, clk)
		clk.Advance(backoff - time.Millisecond)
		if clk.PendingCount() != 1 {
			t.Fatalf("retry %d fired before %v", i+1, backoff)
		}
		clk.Advance(time.Millisecond)
		waitCall()
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("syncLoop did not return after a clean sync")
	}
}

func TestSyncLoop_StopDuringBackoff(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	c := &Client{clock: clk, stopCh: make(chan struct{})}

	done := make(chan struct{})
	go func() {
		c.syncLoop(func() error { return errors.New("down") })
		close(done)
	}()

	waitPending(t, clk)
	close(c.stopCh)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("syncLoop ignored Stop while backing off")
	}
}

// waitPending blocks until the loop has armed its backoff timer.
func waitPending(t *testing.T, clk *clock.FakeClock) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for clk.PendingCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no backoff timer armed")
		}
		time.Sleep(time.Millisecond)
	}
}
