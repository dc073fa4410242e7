package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without calling the guarded function while the
// breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// SuccessThreshold successes in half-open close it again.
	SuccessThreshold int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// MaxProbes bounds concurrent calls while half-open.
	MaxProbes int
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         10 * time.Second,
		MaxProbes:        1,
	}
}

// CircuitBreaker fails calls fast after repeated failures of a dependency.
type CircuitBreaker struct {
	config Config
	now    func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	probes    int
	openedAt  time.Time

	onStateChange func(from, to State)
}

func New(config Config) *CircuitBreaker {
	def := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.MaxProbes <= 0 {
		config.MaxProbes = def.MaxProbes
	}
	return &CircuitBreaker{config: config, now: time.Now}
}

// OnStateChange registers fn, called synchronously on every transition.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute runs fn unless the breaker is open. Cancellation of ctx is not
// counted as a failure of the dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do is Execute for functions with a result.
func Do[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.acquire(); err != nil {
		return zero, err
	}

	result, err := fn(ctx)
	switch {
	case err == nil:
		cb.record(true)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		cb.release()
	default:
		cb.record(false)
	}
	return result, err
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.Cooldown {
			return ErrOpen
		}
		cb.transition(StateHalfOpen)
		cb.probes++
		return nil
	case StateHalfOpen:
		if cb.probes >= cb.config.MaxProbes {
			return ErrOpen
		}
		cb.probes++
	}
	return nil
}

func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}
}

func (cb *CircuitBreaker) record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}

	if !ok {
		cb.successes = 0
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.config.FailureThreshold {
			cb.transition(StateOpen)
		}
		return
	}

	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transition(StateClosed)
		}
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	cb.probes = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	if cb.onStateChange != nil {
		cb.onStateChange(from, to)
	}
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
}
