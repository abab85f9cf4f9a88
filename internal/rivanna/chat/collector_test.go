package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/rivanna/common/clock"
	"github.com/bdobrica/rivanna/common/trace"
)

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]string
}

func (r *batchRecorder) process(_ context.Context, batch []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]string(nil), batch...))
	return nil
}

func (r *batchRecorder) get() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.batches...)
}

func newTestCollector(clk clock.Clock, process ProcessFunc) *BurstCollector {
	return NewBurstCollector(CollectorConfig{Window: 5 * time.Second, Clock: clk}, process)
}

func TestCollector_CoalescesBurst(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	rec := &batchRecorder{}
	c := newTestCollector(clk, rec.process)

	c.Add("m1")
	if c.Phase() != PhaseCollecting {
		t.Fatalf("phase after first message = %s", c.Phase())
	}
	clk.Advance(2 * time.Second)
	c.Add("m2")

	// The window slid to t=7s.
	clk.Advance(4900 * time.Millisecond)
	c.Wait()
	if got := rec.get(); len(got) != 0 {
		t.Fatalf("processed before the window closed: %v", got)
	}

	clk.Advance(100 * time.Millisecond)
	c.Wait()
	got := rec.get()
	if len(got) != 1 || fmt.Sprint(got[0]) != "[m1 m2]" {
		t.Fatalf("batches = %v, want [[m1 m2]]", got)
	}
	if c.Phase() != PhaseIdle || c.Pending() != 0 {
		t.Fatalf("after cycle: phase %s, pending %d", c.Phase(), c.Pending())
	}
}

func TestCollector_SingleFlight(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	rec := &batchRecorder{}
	var running, maxRunning int
	var mu sync.Mutex

	c := newTestCollector(clk, func(ctx context.Context, batch []string) error {
		mu.Lock()
		running++
		maxRunning = max(maxRunning, running)
		mu.Unlock()
		started <- struct{}{}
		<-release
		mu.Lock()
		running--
		mu.Unlock()
		return rec.process(ctx, batch)
	})

	c.Add("m1")
	clk.Advance(5 * time.Second)
	<-started
	if c.Phase() != PhaseProcessing {
		t.Fatalf("phase = %s, want processing", c.Phase())
	}

	// Messages during processing are held and do not start a cycle.
	c.Add("m2")
	c.Add("m3")
	clk.Advance(time.Minute)
	if c.Cycles() != 1 || c.Pending() != 2 {
		t.Fatalf("cycles %d pending %d, want 1 and 2", c.Cycles(), c.Pending())
	}

	release <- struct{}{}
	c.Wait()
	if c.Phase() != PhaseCollecting {
		t.Fatalf("phase after cycle with held messages = %s", c.Phase())
	}

	clk.Advance(5 * time.Second)
	<-started
	release <- struct{}{}
	c.Wait()

	got := rec.get()
	if len(got) != 2 || fmt.Sprint(got[1]) != "[m2 m3]" {
		t.Fatalf("batches = %v", got)
	}
	if maxRunning != 1 {
		t.Fatalf("max concurrent cycles = %d", maxRunning)
	}
	if c.Phase() != PhaseIdle {
		t.Fatalf("final phase = %s", c.Phase())
	}
}

func TestCollector_RecoversFromFailures(t *testing.T) {
	tests := []struct {
		name    string
		process ProcessFunc
	}{
		{"error", func(context.Context, []string) error { return errBoom }},
		{"panic", func(context.Context, []string) error { panic("kaboom") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clock.Fake(time.Unix(0, 0))
			c := newTestCollector(clk, tt.process)

			c.Add("m1")
			clk.Advance(5 * time.Second)
			c.Wait()
			if c.Phase() != PhaseIdle {
				t.Fatalf("phase after failed cycle = %s", c.Phase())
			}

			// The collector keeps working.
			c.Add("m2")
			clk.Advance(5 * time.Second)
			c.Wait()
			if c.Cycles() != 2 {
				t.Fatalf("cycles = %d, want 2", c.Cycles())
			}
		})
	}
}

func TestCollector_CycleCarriesTraceID(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	var ids []string
	c := newTestCollector(clk, func(ctx context.Context, _ []string) error {
		ids = append(ids, trace.FromContext(ctx))
		return nil
	})

	for range 2 {
		c.Add("m")
		clk.Advance(5 * time.Second)
		c.Wait()
	}
	if len(ids) != 2 || ids[0] == "" || ids[0] == ids[1] {
		t.Fatalf("trace ids = %v", ids)
	}
}

func TestCollector_Stop(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	rec := &batchRecorder{}
	c := newTestCollector(clk, rec.process)

	c.Add("m1")
	c.Stop()
	clk.Advance(time.Minute)
	c.Wait()

	if len(rec.get()) != 0 || c.Phase() != PhaseIdle || c.Pending() != 0 {
		t.Fatalf("stopped collector processed %v (phase %s)", rec.get(), c.Phase())
	}
}

func TestPhaseString(t *testing.T) {
	tests := map[Phase]string{
		PhaseIdle:       "idle",
		PhaseCollecting: "collecting",
		PhaseProcessing: "processing",
		Phase(9):        "Phase(9)",
	}
	for p, want := range tests {
		if got := p.String(); got != want {
			t.Fatalf("Phase(%d).String() = %q, want %q", int(p), got, want)
		}
	}
}

func TestCollector_OnIdleAfterLastCycle(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	var idle int
	var mu sync.Mutex

	c := NewBurstCollector(CollectorConfig{
		Window: 5 * time.Second,
		Clock:  clk,
		OnIdle: func() {
			mu.Lock()
			idle++
			mu.Unlock()
		},
	}, func(ctx context.Context, batch []string) error {
		started <- struct{}{}
		<-release
		return nil
	})
	idleCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return idle
	}

	c.Add("m1")
	clk.Advance(5 * time.Second)
	<-started
	c.Add("m2") // held, so the first cycle does not end Idle
	close(release)
	c.Wait()
	if got := idleCount(); got != 0 {
		t.Fatalf("OnIdle ran %d times while messages were held", got)
	}

	clk.Advance(5 * time.Second)
	<-started
	c.Wait()
	if got := idleCount(); got != 1 || c.Phase() != PhaseIdle {
		t.Fatalf("OnIdle ran %d times, phase %s", got, c.Phase())
	}
}
