package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/rivanna/common/trace"
	"github.com/bdobrica/rivanna/internal/rivanna/conversation"
	"github.com/bdobrica/rivanna/internal/rivanna/memory"
)

// Speculator predicts the reply to a buffer so that the prediction itself
// can be used as a retrieval query.
type Speculator interface {
	Speculate(ctx context.Context, buf *conversation.Buffer, extra string) (string, error)
}

// Defaults for AugmenterConfig.
const (
	DefaultSeedCount           = 10
	DefaultSearchK             = 10
	DefaultResultCount         = 10
	DefaultRecencyDecay        = 0.05
	DefaultSpeculativeDiscount = 0.80
)

// AugmenterConfig tunes RetrievalAugmenter. Zero values select the defaults.
type AugmenterConfig struct {
	SeedCount           int     // recent turns used as queries
	SearchK             int     // hits requested per query
	ResultCount         int     // memories kept after merging
	RecencyDecay        float64 // score penalty per step back in history
	SpeculativeDiscount float64 // weight of hits found via the predicted reply
}

// RetrievalAugmenter recalls the memories most relevant to the recent
// conversation and renders them as extra context for the prompt.
type RetrievalAugmenter struct {
	store      memory.Store
	embedder   memory.Embedder
	speculator Speculator
	cfg        AugmenterConfig
	logger     *slog.Logger
}

// NewRetrievalAugmenter returns an augmenter. speculator may be nil to skip
// the self-consistency pass.
func NewRetrievalAugmenter(store memory.Store, embedder memory.Embedder, speculator Speculator, cfg AugmenterConfig, logger *slog.Logger) *RetrievalAugmenter {
	if cfg.SeedCount <= 0 {
		cfg.SeedCount = DefaultSeedCount
	}
	if cfg.SearchK <= 0 {
		cfg.SearchK = DefaultSearchK
	}
	if cfg.ResultCount <= 0 {
		cfg.ResultCount = DefaultResultCount
	}
	if cfg.RecencyDecay <= 0 {
		cfg.RecencyDecay = DefaultRecencyDecay
	}
	if cfg.SpeculativeDiscount <= 0 {
		cfg.SpeculativeDiscount = DefaultSpeculativeDiscount
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrievalAugmenter{store: store, embedder: embedder, speculator: speculator, cfg: cfg, logger: logger}
}

// scoredMemory is a memory text with its merged relevance score.
type scoredMemory struct {
	text  string
	score float64
}

// Augment returns the extra-context string for buf in scope. buf is not
// modified.
func (r *RetrievalAugmenter) Augment(ctx context.Context, scope string, buf *conversation.Buffer) (string, error) {
	if err := r.store.CreateIndex(ctx, scope); err != nil {
		return "", err
	}

	// --- 1. Seed queries: recent turns, most recent first ------------------
	history := buf.History()
	n := min(r.cfg.SeedCount, len(history))
	seeds := make([]string, n)
	for i := range n {
		seeds[i] = history[len(history)-1-i].Content
	}

	merged := make(map[string]float64)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, seed := range seeds {
		weight := 1 - r.cfg.RecencyDecay*float64(i)
		g.Go(func() error {
			matches, err := r.search(gctx, scope, seed)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			mergeMatches(merged, matches, weight)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	first := rank(merged, r.cfg.ResultCount)
	extra := renderMemories(first)

	// --- 2. Self-consistency: search with the predicted reply --------------
	if r.speculator != nil {
		predicted, err := r.speculator.Speculate(ctx, buf.Clone(), extra)
		if err != nil {
			return "", fmt.Errorf("augmenter: speculate: %w", err)
		}
		if predicted != "" {
			matches, err := r.search(ctx, scope, predicted)
			if err != nil {
				return "", err
			}
			mergeMatches(merged, matches, r.cfg.SpeculativeDiscount)
		}
	}

	final := rank(merged, r.cfg.ResultCount)
	trace.Logger(ctx, r.logger).Debug("augmenter: recalled memories",
		"scope", scope, "seeds", len(seeds), "candidates", len(merged), "kept", len(final))
	return renderMemories(final), nil
}

func (r *RetrievalAugmenter) search(ctx context.Context, scope, text string) ([]memory.Match, error) {
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("augmenter: embed: %w", err)
	}
	matches, err := r.store.SimilaritySearch(ctx, scope, vec, r.cfg.SearchK)
	if err != nil {
		return nil, fmt.Errorf("augmenter: search: %w", err)
	}
	return matches, nil
}

// mergeMatches folds matches into merged, scaling each similarity by weight
// and keeping the maximum score per text.
func mergeMatches(merged map[string]float64, matches []memory.Match, weight float64) {
	for _, m := range matches {
		score := m.Similarity * weight
		if prev, ok := merged[m.Text]; !ok || score > prev {
			merged[m.Text] = score
		}
	}
}

// rank returns the top n entries of merged by descending score, ties broken
// by text.
func rank(merged map[string]float64, n int) []scoredMemory {
	out := make([]scoredMemory, 0, len(merged))
	for text, score := range merged {
		out = append(out, scoredMemory{text: text, score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].text < out[j].text
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// renderMemories turns ranked memories into a paragraph for the prompt. No
// memories render as the empty string.
func renderMemories(mems []scoredMemory) string {
	if len(mems) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Things you remember that may be relevant:")
	for _, m := range mems {
		b.WriteString(" ")
		b.WriteString(terminate(m.text))
	}
	return b.String()
}

// terminate ensures text ends with sentence punctuation.
func terminate(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}
	switch text[len(text)-1] {
	case '.', '!', '?':
		return text
	}
	return text + "."
}
