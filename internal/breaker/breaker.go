// Package breaker gates outbound agent calls behind a per-agent circuit
// breaker so a dead agent costs one timeout, not one per hunt.
package breaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen is returned instead of invoking the operation while an
// agent's circuit is open. Callers can distinguish "agent known unhealthy"
// from "this call failed" with errors.Is.
var ErrCircuitOpen = errors.New("circuit open")

const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

type circuit struct {
	state       string
	failures    int
	lastFailure time.Time
	lastSuccess time.Time
	openedAt    time.Time
	probing     bool // a half-open probe is in flight
}

// Snapshot is a read-only view of one agent's circuit for status endpoints.
type Snapshot struct {
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	OpenedAt    time.Time `json:"opened_at,omitempty"`
}

// Breaker holds one circuit per agent key. Circuits are created on first
// use and never destroyed.
type Breaker struct {
	mu        sync.Mutex
	circuits  map[string]*circuit
	threshold int
	openFor   time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

func New(threshold int, openFor time.Duration, logger *zap.Logger) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		openFor:   openFor,
		now:       time.Now,
		logger:    logger.Named("breaker"),
	}
}

// Guard runs op for the given agent unless its circuit is open. The
// operation itself executes outside the lock; only the admit/record
// bookkeeping is serialized.
func (b *Breaker) Guard(agentKey string, op func() error) error {
	probe, err := b.admit(agentKey)
	if err != nil {
		return err
	}

	opErr := op()
	b.record(agentKey, opErr == nil, probe)
	return opErr
}

// admit decides whether a call may proceed. It returns probe=true when the
// call is the single allowed half-open probe.
func (b *Breaker) admit(agentKey string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(agentKey)
	switch c.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if b.now().Sub(c.openedAt) < b.openFor {
			return false, ErrCircuitOpen
		}
		c.state = StateHalfOpen
		c.probing = true
		b.logger.Info("circuit half-open, allowing probe", zap.String("agent", agentKey))
		return true, nil
	case StateHalfOpen:
		if c.probing {
			return false, ErrCircuitOpen
		}
		c.probing = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) record(agentKey string, success, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(agentKey)
	if probe {
		c.probing = false
	}

	if success {
		c.failures = 0
		c.lastSuccess = b.now()
		if c.state != StateClosed {
			b.logger.Info("circuit closed", zap.String("agent", agentKey))
		}
		c.state = StateClosed
		return
	}

	c.lastFailure = b.now()
	if c.state == StateHalfOpen {
		// Failed probe reopens with a fresh cool-down.
		c.state = StateOpen
		c.openedAt = b.now()
		b.logger.Warn("probe failed, circuit reopened", zap.String("agent", agentKey))
		return
	}

	c.failures++
	if c.failures >= b.threshold && c.state == StateClosed {
		c.state = StateOpen
		c.openedAt = b.now()
		b.logger.Warn("circuit opened",
			zap.String("agent", agentKey),
			zap.Int("failures", c.failures))
	}
}

// Reset closes an agent's circuit and clears its counters.
func (b *Breaker) Reset(agentKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.circuits[agentKey] = &circuit{state: StateClosed}
}

// Snapshots returns the current state of every known circuit.
func (b *Breaker) Snapshots() map[string]Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]Snapshot, len(b.circuits))
	for key, c := range b.circuits {
		out[key] = Snapshot{
			State:       c.state,
			Failures:    c.failures,
			LastFailure: c.lastFailure,
			LastSuccess: c.lastSuccess,
			OpenedAt:    c.openedAt,
		}
	}
	return out
}

func (b *Breaker) circuit(agentKey string) *circuit {
	c, ok := b.circuits[agentKey]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[agentKey] = c
	}
	return c
}
