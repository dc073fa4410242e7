package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config is an exponential backoff policy.
type Config struct {
	Enabled      bool
	MaxAttempts  int // total calls, including the first
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool // spread each delay over [0.75d, 1.25d)
}

func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  4,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Backoff is the wait after the given failed attempt, counting from 1.
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	m := c.Multiplier
	if m < 1 {
		m = 1
	}
	d := float64(c.InitialDelay) * math.Pow(m, float64(attempt-1))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	delay := time.Duration(d)
	if c.Jitter && delay >= 2 {
		delay = delay*3/4 + time.Duration(rand.Int63n(int64(delay/2)))
	}
	return delay
}

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent stops Do after the current attempt. Do returns err unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err}
}

// ExhaustedError is returned once every attempt has failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls fn until it succeeds, returns a Permanent error, the attempts
// run out or ctx is done. fn receives the attempt number starting at 1.
func Do(ctx context.Context, cfg Config, fn func(attempt int) error) error {
	_, err := DoValue(ctx, cfg, func(attempt int) (struct{}, error) {
		return struct{}{}, fn(attempt)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, cfg Config, fn func(attempt int) (T, error)) (T, error) {
	var zero T

	attempts := cfg.MaxAttempts
	if !cfg.Enabled || attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(attempt)
		if err == nil {
			return v, nil
		}

		var p permanent
		if errors.As(err, &p) {
			return zero, p.err
		}
		if attempt >= attempts {
			if attempts == 1 {
				return zero, err
			}
			return zero, &ExhaustedError{Attempts: attempt, Err: err}
		}

		t := time.NewTimer(cfg.Backoff(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}
}
