package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ragcore/ragcore"
)

// CircuitBreaker wraps sony/gobreaker to reproduce the exact state machine:
// closed decrements its failure counter by one (floored at 0) on success
// rather than clearing it, which gobreaker's own Counts cannot express, so
// the counter is tracked alongside the library breaker and consulted from
// ReadyToTrip instead of gobreaker's built-in consecutive-failure count.
type CircuitBreaker struct {
	name string
	cfg  Config
	cb   *gobreaker.CircuitBreaker[any]

	mu           sync.Mutex
	failureCount int
	failureTimes []time.Time
	lastFailure  time.Time
	lastSuccess  time.Time
}

// NewCircuitBreaker builds a named breaker from cfg.
func NewCircuitBreaker(name string, cfg Config) *CircuitBreaker {
	b := &CircuitBreaker{name: name, cfg: cfg}
	b.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(cfg.SuccessThreshold),
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(gobreaker.Counts) bool {
			b.mu.Lock()
			defer b.mu.Unlock()
			return b.failureCount >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("resilience: circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return b
}

// Execute runs op under a per-call timeout and the breaker's protection. If
// the breaker is open the wrapped op is never invoked and KindCircuitOpen is
// returned immediately.
func (b *CircuitBreaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	_, err := b.cb.Execute(func() (any, error) {
		opErr := op(opCtx)
		if opErr != nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) {
			opErr = ragcore.NewError(ragcore.KindTimeout, fmt.Sprintf("%s: operation exceeded %s", b.name, b.cfg.Timeout), opErr)
		}
		b.recordResult(opErr)
		return nil, opErr
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ragcore.NewError(ragcore.KindCircuitOpen, fmt.Sprintf("circuit breaker %q is open", b.name), err)
		}
		return err
	}
	return nil
}

func (b *CircuitBreaker) recordResult(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()

	if err == nil {
		b.lastSuccess = now
		if b.cb.State() == gobreaker.StateClosed && b.failureCount > 0 {
			b.failureCount--
			if len(b.failureTimes) > 0 {
				b.failureTimes = b.failureTimes[1:]
			}
		}
		return
	}

	b.lastFailure = now
	b.failureTimes = append(b.failureTimes, now)
	cutoff := now.Add(-b.cfg.RollingWindow)
	kept := b.failureTimes[:0]
	for _, t := range b.failureTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failureTimes = kept
	b.failureCount = len(b.failureTimes)
}

// State reports the breaker's current state name ("closed", "open", "half-open").
func (b *CircuitBreaker) State() string {
	return b.cb.State().String()
}

// Reset manually returns the breaker to closed with cleared counters,
// mirroring the original source's CircuitBreaker.reset.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	b.failureCount = 0
	b.failureTimes = nil
	b.lastFailure = time.Time{}
	b.lastSuccess = time.Time{}
	b.mu.Unlock()
	b.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        b.name,
		MaxRequests: uint32(b.cfg.SuccessThreshold),
		Timeout:     b.cfg.RecoveryTimeout,
		ReadyToTrip: func(gobreaker.Counts) bool {
			b.mu.Lock()
			defer b.mu.Unlock()
			return b.failureCount >= b.cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("resilience: circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	slog.Info("resilience: circuit breaker manually reset", "breaker", b.name)
}

// Snapshot reports the breaker's state for status/diagnostics endpoints.
type Snapshot struct {
	Name         string
	State        string
	FailureCount int
	LastFailure  time.Time
	LastSuccess  time.Time
}

func (b *CircuitBreaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:         b.name,
		State:        b.cb.State().String(),
		FailureCount: b.failureCount,
		LastFailure:  b.lastFailure,
		LastSuccess:  b.lastSuccess,
	}
}

// Manager owns the set of named breakers, grounded on the original source's
// CircuitBreakerManager.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	defaults Config
}

// NewManager builds a Manager with the given default Config for breakers
// created without an explicit one.
func NewManager(defaults Config) *Manager {
	return &Manager{breakers: make(map[string]*CircuitBreaker), defaults: defaults}
}

// Get returns the named breaker, creating it with defaults on first use.
func (m *Manager) Get(name string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b
	}
	b := NewCircuitBreaker(name, m.defaults)
	m.breakers[name] = b
	return b
}

// Snapshots returns a snapshot of every breaker the manager has created.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.breakers))
	for _, b := range m.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}

// ResetAll resets every breaker the manager has created.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		breakers = append(breakers, b)
	}
	m.mu.Unlock()
	for _, b := range breakers {
		b.Reset()
	}
	slog.Info("resilience: all circuit breakers reset")
}
