package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func quick(attempts int) Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  attempts,
		InitialDelay: 2 * time.Millisecond,
		MaxDelay:     8 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestDoSucceedsOnLaterAttempt(t *testing.T) {
	var seen []int
	err := Do(context.Background(), quick(3), func(attempt int) error {
		seen = append(seen, attempt)
		if attempt < 3 {
			return errFlaky
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestDoGivesUp(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quick(3), func(int) error {
		calls++
		return errFlaky
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quick(5), func(int) error {
		calls++
		return Permanent(errFlaky)
	})

	assert.Equal(t, errFlaky, err)
	assert.Equal(t, 1, calls)
}

func TestDoDisabledCallsOnce(t *testing.T) {
	cfg := quick(5)
	cfg.Enabled = false

	calls := 0
	err := Do(context.Background(), cfg, func(int) error {
		calls++
		return errFlaky
	})

	assert.Equal(t, errFlaky, err)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursCancellationWhileWaiting(t *testing.T) {
	cfg := quick(10)
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Do(ctx, cfg, func(int) error {
		calls++
		return errFlaky
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDoSkipsWorkOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, quick(3), func(int) error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoValueReturnsResult(t *testing.T) {
	v, err := DoValue(context.Background(), quick(2), func(attempt int) (string, error) {
		if attempt == 1 {
			return "", errFlaky
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestBackoff(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, cfg.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, cfg.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, cfg.Backoff(3))
	assert.Equal(t, time.Second, cfg.Backoff(10))

	cfg.Jitter = true
	for i := 0; i < 50; i++ {
		d := cfg.Backoff(2)
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.Less(t, d, 250*time.Millisecond)
	}
}
