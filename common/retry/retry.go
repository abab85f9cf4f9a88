// Package retry runs an operation repeatedly until it succeeds, the attempt
// budget is spent, or the context is cancelled.
//
// Usage:
//
//	err := retry.Do(ctx, retry.Fixed(3, 100*time.Millisecond), func() error {
//	    return transport.Post(ctx, roomID, text)
//	})
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config controls the retry behaviour.
type Config struct {
	// MaxAttempts is the total number of attempts (including the first).
	// Zero or negative values are treated as 1 (no retries).
	MaxAttempts int
	// InitialDelay is the wait before the second attempt.
	// Subsequent delays are doubled up to MaxDelay.
	InitialDelay time.Duration
	// MaxDelay caps the per-attempt wait. Setting it equal to InitialDelay
	// gives a fixed backoff.
	MaxDelay time.Duration
	// ShouldRetry classifies errors as retryable. When nil, all non-nil
	// errors are retried.
	ShouldRetry func(err error) bool
	// Sleep waits for d or until ctx is done. Defaults to a timer-based
	// wait; tests substitute a no-op.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig provides sensible defaults for short-lived network calls.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
}

// Fixed returns a Config that makes attempts tries with the same delay
// between each of them.
func Fixed(attempts int, delay time.Duration) Config {
	return Config{MaxAttempts: attempts, InitialDelay: delay, MaxDelay: delay}
}

// Do calls fn up to cfg.MaxAttempts times, backing off between attempts.
// It stops early when ctx is cancelled, fn returns nil, or ShouldRetry
// rejects the error. The error from the last attempt is returned.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultConfig.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(error) bool { return true }
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) || attempt == cfg.MaxAttempts {
			break
		}

		slog.Debug("retry: attempt failed, retrying",
			"attempt", attempt, "max", cfg.MaxAttempts,
			"err", lastErr, "delay", delay)

		if err := sleep(ctx, delay); err != nil {
			return errors.Join(lastErr, err)
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
