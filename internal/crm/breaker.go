package crm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a request
// because the CRM has been failing consecutively.
var ErrCircuitOpen = errors.New("crm circuit breaker is open")

// BreakerConfig holds the circuit breaker tuning knobs.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that trips the circuit.
	MaxFailures uint32

	// Timeout is how long the circuit stays open before allowing test requests.
	Timeout time.Duration

	// HalfOpenMaxSuccesses is the number of successes in half-open state
	// required to close the circuit again.
	HalfOpenMaxSuccesses uint32
}

// DefaultBreakerConfig returns the tuning used when the caller does not
// supply one: trip after 5 consecutive failures, probe again after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:          5,
		Timeout:              30 * time.Second,
		HalfOpenMaxSuccesses: 2,
	}
}

// Breaker wraps gobreaker so that a misbehaving CRM endpoint fails fast
// instead of holding every tool call for the full HTTP timeout.
type Breaker struct {
	breaker *gobreaker.CircuitBreaker
}

// NewBreaker creates a Breaker with the given configuration.
func NewBreaker(cfg BreakerConfig) *Breaker {
	settings := gobreaker.Settings{
		Name:        "crm-api",
		MaxRequests: cfg.HalfOpenMaxSuccesses,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
	}
	return &Breaker{breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the circuit breaker. When the circuit is open it
// returns ErrCircuitOpen without invoking fn. The context is checked before
// execution so cancelled calls never count against the circuit.
func (b *Breaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	result, err := b.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return result, err
}

// State returns the current breaker state as a string: closed, open, or
// half-open.
func (b *Breaker) State() string {
	switch b.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
