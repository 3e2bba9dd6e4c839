// Package retry provides exponential backoff for transient failures.
//
// Operations that fail with an invalid or fatal error class are not
// retried; only transient failures back off and try again.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/c360/timemerge/errors"
)

// Config controls backoff behavior for Do.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration

	// Multiplier scales the delay after each failed attempt.
	Multiplier float64

	// AddJitter randomizes each delay by up to 25% to avoid
	// synchronized retries across instances.
	AddJitter bool
}

// DefaultConfig returns a config suitable for connection establishment:
// 3 attempts starting at 100ms, doubling, capped at 5s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

func (c Config) validate() error {
	if c.MaxAttempts < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Config", "validate")
	}
	if c.InitialDelay <= 0 || c.MaxDelay < c.InitialDelay {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Config", "validate")
	}
	if c.Multiplier < 1.0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Config", "validate")
	}
	return nil
}

// Do runs fn until it succeeds, the attempts are exhausted, the error is
// not retryable, or the context is canceled. The last error is returned
// wrapped with the attempt count.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.IsInvalid(lastErr) || errors.IsFatal(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		wait := delay
		if cfg.AddJitter {
			wait += time.Duration(rand.Int63n(int64(delay)/4 + 1))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
