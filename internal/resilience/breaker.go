// Package resilience keeps a session usable while one speech or model backend
// misbehaves.
//
// Every configured backend sits behind its own [Breaker], a three-state
// circuit breaker (closed → open → half-open). A [Group] holds the backends
// of one kind in preference order and fails over to the next one whose
// breaker admits the call. [LLMFallback], [STTFallback] and [TTSFallback]
// wrap a Group behind the regular provider interfaces.
//
// A call abandoned by its caller (context cancelled) is neither a failure
// nor a success for the breaker, and it stops the failover loop. A deadline
// hit is counted as a backend failure.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrOpen] until the cooldown elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successful probes close the breaker; any failed probe re-opens it.
	StateHalfOpen
)

// String returns the state name used in logs and health reports.
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

// BreakerConfig tunes a [Breaker]. Zero fields take their defaults.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 3.
	MaxFailures int

	// Cooldown is how long the breaker stays open before probing.
	// Default: 30s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close
	// the breaker. Default: 1.
	Probes int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Probes <= 0 {
		c.Probes = 1
	}
	return c
}

// Breaker is a circuit breaker guarding one backend.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	inFlight int // half-open probes admitted and not yet settled
	probesOK int
}

// NewBreaker returns a closed Breaker. name labels its log lines.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{name: name, cfg: cfg.withDefaults(), now: time.Now}
}

// Name returns the label given to NewBreaker.
func (b *Breaker) Name() string { return b.name }

// Do runs fn if the breaker admits the call and records its result.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.settle(ctx, probe, err)
	return err
}

// State returns the current state. An open breaker whose cooldown has
// elapsed reports [StateHalfOpen]; the switch happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cooled() {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.close()
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if !b.cooled() {
			return false, ErrOpen
		}
		b.state = StateHalfOpen
		b.inFlight, b.probesOK = 0, 0
		slog.Info("resilience: breaker half-open", "backend", b.name)
	}
	if b.inFlight >= b.cfg.Probes {
		return false, ErrOpen
	}
	b.inFlight++
	return true, nil
}

func (b *Breaker) settle(ctx context.Context, probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.inFlight--
	}
	switch {
	case err != nil && errors.Is(ctx.Err(), context.Canceled):
		return
	case err != nil:
		b.failures++
		if probe || b.state == StateHalfOpen || b.failures >= b.cfg.MaxFailures {
			b.trip()
		}
	case probe && b.state == StateHalfOpen:
		b.probesOK++
		if b.probesOK >= b.cfg.Probes {
			b.close()
			slog.Info("resilience: breaker closed", "backend", b.name)
		}
	case b.state == StateClosed:
		b.failures = 0
	}
}

// trip opens the breaker. b.mu must be held.
func (b *Breaker) trip() {
	if b.state != StateOpen {
		slog.Warn("resilience: breaker opened", "backend", b.name, "failures", b.failures)
	}
	b.state = StateOpen
	b.openedAt = b.now()
}

// close resets the breaker to closed. b.mu must be held.
func (b *Breaker) close() {
	b.state = StateClosed
	b.failures = 0
	b.inFlight, b.probesOK = 0, 0
}

func (b *Breaker) cooled() bool {
	return b.now().Sub(b.openedAt) >= b.cfg.Cooldown
}
