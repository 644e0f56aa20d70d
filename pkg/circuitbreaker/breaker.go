// Package circuitbreaker stops calls to a failing provider for a cool-down
// period. It never retries; a rejected or failed call is returned as is.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
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

type Config struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// OpenTimeout is how long the breaker rejects calls before letting one probe through.
	OpenTimeout   time.Duration
	OnStateChange func(name string, from, to State)
	Logger        *zap.Logger
}

type Breaker struct {
	name          string
	threshold     int
	openTimeout   time.Duration
	onStateChange func(name string, from, to State)
	logger        *zap.Logger
	now           func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

func New(name string, cfg Config) *Breaker {
	b := &Breaker{
		name:          name,
		threshold:     cfg.FailureThreshold,
		openTimeout:   cfg.OpenTimeout,
		onStateChange: cfg.OnStateChange,
		logger:        cfg.Logger,
		now:           time.Now,
	}
	if b.threshold <= 0 {
		b.threshold = 5
	}
	if b.openTimeout <= 0 {
		b.openTimeout = 30 * time.Second
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	return b
}

// Execute runs fn unless the breaker is open. Failures caused by the caller
// cancelling ctx do not count against the provider.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.acquire(); err != nil {
		return err
	}

	err := fn(ctx)
	callerGaveUp := err != nil && ctx.Err() != nil
	b.release(err == nil, callerGaveUp)
	return err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.state
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()

	switch b.state {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) release(success, ignore bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
	}
	if ignore {
		return
	}
	if success {
		b.failures = 0
		if b.state != StateClosed {
			b.transition(StateClosed)
		}
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

// refresh moves an expired open breaker to half-open. Callers hold mu.
func (b *Breaker) refresh() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.openTimeout {
		b.transition(StateHalfOpen)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}

	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
	b.logger.Info("Circuit breaker state changed",
		zap.String("name", b.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("failures", b.failures),
	)
}
