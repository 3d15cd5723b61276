package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/clock"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
)

// CircuitState is the state of a CircuitBreaker
type CircuitState int

const (
	// StateClosed lets every send through
	StateClosed CircuitState = iota
	// StateHalfOpen lets a limited number of trial sends through
	StateHalfOpen
	// StateOpen rejects sends until the cooldown passes
	StateOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned while the push services are considered down.
var ErrCircuitOpen = errors.NewStd("push circuit breaker is open")

// CircuitBreakerConfig holds the breaker thresholds
type CircuitBreakerConfig struct {
	MaxFailures         int           // consecutive failures before opening
	Cooldown            time.Duration // open to half-open delay
	HalfOpenMaxRequests int
}

// DefaultCircuitBreakerConfig returns 5 failures, 30s cooldown, 1 trial send.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:         5,
		Cooldown:            30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	d := DefaultCircuitBreakerConfig()
	if c.MaxFailures < 1 {
		c.MaxFailures = d.MaxFailures
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.HalfOpenMaxRequests < 1 {
		c.HalfOpenMaxRequests = d.HalfOpenMaxRequests
	}
	return c
}

// CircuitBreaker stops hammering push services that keep failing. A
// detection burst while the network is down would otherwise spend the whole
// rate limit on sends that cannot succeed.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	clock  clock.Clock

	mu               sync.Mutex
	state            CircuitState
	failures         int
	openedAt         time.Time
	halfOpenRequests int
}

// NewCircuitBreaker returns a closed breaker. A nil clock means wall time.
func NewCircuitBreaker(config CircuitBreakerConfig, c clock.Clock) *CircuitBreaker {
	if c == nil {
		c = clock.Real{}
	}
	return &CircuitBreaker{config: config.withDefaults(), clock: c}
}

// Call runs fn unless the circuit is open and records its result.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.before(); err != nil {
		return fmt.Errorf("%w (%d consecutive failures)", err, cb.Failures())
	}
	err := fn(ctx)
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.clock.Now().Sub(cb.openedAt) < cb.config.Cooldown {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.halfOpenRequests = 1
		return nil
	default:
		if cb.halfOpenRequests >= cb.config.HalfOpenMaxRequests {
			return ErrCircuitOpen
		}
		cb.halfOpenRequests++
		return nil
	}
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.state = StateClosed
		cb.failures = 0
		cb.halfOpenRequests = 0
		return
	}

	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.config.MaxFailures {
		cb.state = StateOpen
		cb.openedAt = cb.clock.Now()
		cb.halfOpenRequests = 0
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
