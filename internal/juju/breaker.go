package juju

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jujuci/bundleverify/internal/models"
	"github.com/jujuci/bundleverify/internal/observability"
)

// BreakerState is the breaker state (Closed, Open, HalfOpen).
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned while the breaker is open and the cooldown has
// not elapsed.
var ErrBreakerOpen = fmt.Errorf("%w: breaker open", ErrStatusFailed)

// BreakerConfig holds breaker parameters.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
	OnStateChange    func(from, to BreakerState) // optional, for metrics
}

// BreakerClient wraps a Client so that consecutive status failures open a
// circuit: while open, Status fast-fails instead of spawning another juju
// process against a controller that is already wedged. After the cooldown a
// single probe call is allowed through.
type BreakerClient struct {
	inner Client

	mu               sync.Mutex
	state            BreakerState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	onStateChange    func(from, to BreakerState)
}

// NewBreakerClient wraps inner with the given breaker config.
func NewBreakerClient(inner Client, cfg BreakerConfig) *BreakerClient {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	onChange := cfg.OnStateChange
	if onChange == nil {
		onChange = func(_, to BreakerState) {
			observability.JujuBreakerState.Set(float64(to))
		}
	}
	return &BreakerClient{
		inner:            inner,
		state:            BreakerClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		cooldown:         cfg.Cooldown,
		onStateChange:    onChange,
	}
}

func (b *BreakerClient) ModelName() string {
	return b.inner.ModelName()
}

// Status forwards to the wrapped client when the circuit allows it.
func (b *BreakerClient) Status(ctx context.Context) (*models.Status, error) {
	b.mu.Lock()
	if b.state == BreakerOpen {
		if time.Since(b.lastFailureTime) < b.cooldown {
			b.mu.Unlock()
			return nil, ErrBreakerOpen
		}
		b.transition(BreakerHalfOpen)
		b.successCount = 0
	}
	b.mu.Unlock()

	status, err := b.inner.Status(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failureCount++
		b.lastFailureTime = time.Now()
		if b.state == BreakerHalfOpen || b.failureCount >= b.failureThreshold {
			b.transition(BreakerOpen)
			b.failureCount = 0
		}
		return nil, err
	}

	b.successCount++
	b.failureCount = 0
	if b.state == BreakerHalfOpen && b.successCount >= b.successThreshold {
		b.transition(BreakerClosed)
		b.successCount = 0
	}
	return status, nil
}

// State returns the current state (for health reporting).
func (b *BreakerClient) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition must be called with the lock held.
func (b *BreakerClient) transition(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}
