package llm

import (
	"sync"
	"time"

	"github.com/bdobrica/rivanna/common/clock"
)

// DefaultTokenBudget is the number of completion tokens a scope (Matrix
// space) may spend per UTC day when no explicit budget is configured.
const DefaultTokenBudget = 200_000

// TokenBudget enforces a per-scope daily token allocation. Counters reset at
// midnight UTC.
//
//  1. Call Allow before starting a completion cycle.
//  2. Call RecordUsage with the tokens the API reported.
//
// TokenBudget is safe for concurrent use.
type TokenBudget struct {
	mu     sync.Mutex
	clock  clock.Clock
	budget int
	usage  map[string]*dailyUsage
}

type dailyUsage struct {
	tokens  int
	resetAt time.Time
}

// NewTokenBudget returns a TokenBudget allowing dailyBudget tokens per scope.
// A non-positive dailyBudget selects DefaultTokenBudget; a nil clk uses the
// real clock.
func NewTokenBudget(dailyBudget int, clk clock.Clock) *TokenBudget {
	if dailyBudget <= 0 {
		dailyBudget = DefaultTokenBudget
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &TokenBudget{
		clock:  clk,
		budget: dailyBudget,
		usage:  make(map[string]*dailyUsage),
	}
}

// Budget returns the configured daily limit.
func (tb *TokenBudget) Budget() int { return tb.budget }

// Allow reports whether scope has tokens left today. It consumes nothing.
func (tb *TokenBudget) Allow(scope string) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	u := tb.currentLocked(scope)
	return u == nil || u.tokens < tb.budget
}

// RecordUsage adds tokens to scope's running total for today.
func (tb *TokenBudget) RecordUsage(scope string, tokens int) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	u := tb.currentLocked(scope)
	if u == nil {
		u = &dailyUsage{resetAt: nextMidnightUTC(tb.clock.Now())}
		tb.usage[scope] = u
	}
	u.tokens += tokens
}

// Remaining returns the tokens scope may still spend today.
func (tb *TokenBudget) Remaining(scope string) int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	u := tb.currentLocked(scope)
	if u == nil {
		return tb.budget
	}
	if rem := tb.budget - u.tokens; rem > 0 {
		return rem
	}
	return 0
}

// currentLocked returns today's counter for scope, dropping yesterday's.
func (tb *TokenBudget) currentLocked(scope string) *dailyUsage {
	u := tb.usage[scope]
	if u == nil {
		return nil
	}
	if !tb.clock.Now().UTC().Before(u.resetAt) {
		delete(tb.usage, scope)
		return nil
	}
	return u
}

func nextMidnightUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}
