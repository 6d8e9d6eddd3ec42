package retry

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RETRY - Bounded exponential backoff for venue and RPC calls
// ═══════════════════════════════════════════════════════════════════════════════
//
// Applied only at the I/O boundary. Decision logic never retries: a failed
// order surfaces as FAILED and the next cycle recomputes from scratch.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Config controls the backoff schedule.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultConfig retries three times with doubling delays.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// Do runs fn until it succeeds, attempts are exhausted, or the context is
// cancelled. The last error is returned.
func Do(ctx context.Context, cfg Config, op string, fn func() error) error {
	delay := cfg.InitialDelay

	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying after failure")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return err
}

// DoWithResult is Do for calls that return a value.
func DoWithResult[T any](ctx context.Context, cfg Config, op string, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, op, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}
