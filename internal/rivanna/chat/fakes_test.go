package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bdobrica/rivanna/common/retry"
	"github.com/bdobrica/rivanna/internal/rivanna/llm"
)

// fakeCompleter answers with respond(call number, request).
type fakeCompleter struct {
	mu       sync.Mutex
	requests []llm.Request
	respond  func(n int, req llm.Request) (*llm.Result, error)
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (*llm.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	f.mu.Unlock()
	return f.respond(n, req)
}

func (f *fakeCompleter) calls() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.requests...)
}

func replyWith(text string) func(int, llm.Request) (*llm.Result, error) {
	return func(int, llm.Request) (*llm.Result, error) {
		return &llm.Result{ShouldRespond: text != "", Response: text, Usage: llm.Usage{TotalTokens: 10}}, nil
	}
}

// fakeEmbedder maps known texts to vectors; anything else embeds to the
// fallback vector.
type fakeEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
	err      error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return f.fallback, nil
}

var errBoom = errors.New("boom")

// fastRetry keeps the attempt count of cfg but never sleeps.
func fastRetry(cfg retry.Config) retry.Config {
	cfg.Sleep = func(context.Context, time.Duration) error { return nil }
	return cfg
}
