// Package autopilot is the self-rescheduling hunt loop. It rotates through
// a fixed topic list and retunes its own interval from each hunt's
// confidence: strong consensus slows it down, weak consensus speeds it up,
// anything in between drifts back toward the configured baseline.
package autopilot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sigmafold/alphahunt/internal/bus"
	"github.com/sigmafold/alphahunt/models"
)

const adaptationHistoryCap = 30

// Hunter runs one hunt and returns its report. Satisfied by the service
// coordinator.
type Hunter interface {
	Hunt(ctx context.Context, topic string) *models.HuntReport
}

// Options tune the adaptive loop. Confidence thresholds are on the report's
// 0-100 scale.
type Options struct {
	BaseInterval   time.Duration
	MinInterval    time.Duration
	MaxInterval    time.Duration
	HighConfidence float64
	LowConfidence  float64
	SlowdownFactor float64
	SpeedupFactor  float64
	DriftRate      float64 // per-cycle fraction of the gap to baseline closed
	Topics         []string
}

func (o *Options) normalize() {
	if o.BaseInterval <= 0 {
		o.BaseInterval = 5 * time.Minute
	}
	if o.MinInterval <= 0 {
		o.MinInterval = time.Minute
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 30 * time.Minute
	}
	if o.HighConfidence <= 0 {
		o.HighConfidence = 70
	}
	if o.LowConfidence <= 0 {
		o.LowConfidence = 30
	}
	if o.SlowdownFactor <= 1 {
		o.SlowdownFactor = 1.5
	}
	if o.SpeedupFactor <= 0 || o.SpeedupFactor >= 1 {
		o.SpeedupFactor = 0.6
	}
	if o.DriftRate <= 0 || o.DriftRate > 1 {
		o.DriftRate = 0.5
	}
	if len(o.Topics) == 0 {
		o.Topics = []string{"bitcoin"}
	}
}

// Autopilot owns the loop state. Start and Stop are idempotent.
type Autopilot struct {
	mu      sync.Mutex
	opts    Options
	state   models.AutopilotState
	hunter  Hunter
	bus     *bus.Bus
	cancel  context.CancelFunc
	done    chan struct{}
	onDirty func()
	logger  *zap.Logger
}

func New(hunter Hunter, b *bus.Bus, opts Options, logger *zap.Logger) *Autopilot {
	opts.normalize()
	return &Autopilot{
		opts:   opts,
		hunter: hunter,
		bus:    b,
		state: models.AutopilotState{
			Phase:    models.PhaseIdle,
			Interval: opts.BaseInterval,
		},
		logger: logger.Named("autopilot"),
	}
}

// SetDirtyHook registers a callback fired after every state mutation.
func (a *Autopilot) SetDirtyHook(fn func()) {
	a.mu.Lock()
	a.onDirty = fn
	a.mu.Unlock()
}

// Start launches the loop. Starting a running autopilot is a no-op that
// returns the current state.
func (a *Autopilot) Start(ctx context.Context) models.AutopilotState {
	a.mu.Lock()
	if a.state.Running {
		state := a.stateLocked()
		a.mu.Unlock()
		return state
	}

	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.state.Running = true
	a.setPhaseLocked(models.PhaseWaiting, "")
	state := a.stateLocked()
	a.mu.Unlock()

	a.logger.Info("autopilot started",
		zap.Duration("interval", state.Interval),
		zap.Int("topics", len(a.opts.Topics)))
	go a.loop(loopCtx)
	return state
}

// Stop cancels the pending timer and waits for the loop to exit. Stopping
// an idle autopilot is a no-op.
func (a *Autopilot) Stop() models.AutopilotState {
	a.mu.Lock()
	if !a.state.Running {
		state := a.stateLocked()
		a.mu.Unlock()
		return state
	}
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	cancel()
	<-done

	a.mu.Lock()
	a.state.Running = false
	a.cancel, a.done = nil, nil
	a.setPhaseLocked(models.PhaseIdle, "")
	state := a.stateLocked()
	a.mu.Unlock()

	a.logger.Info("autopilot stopped", zap.Int("hunts", state.HuntCount))
	return state
}

// State returns a copy of the loop state.
func (a *Autopilot) State() models.AutopilotState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stateLocked()
}

func (a *Autopilot) loop(ctx context.Context) {
	defer close(a.done)
	for {
		a.mu.Lock()
		interval := a.state.Interval
		a.setPhaseLocked(models.PhaseWaiting, "")
		a.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		a.runCycle(ctx)
	}
}

func (a *Autopilot) runCycle(ctx context.Context) {
	a.mu.Lock()
	topic := a.opts.Topics[a.state.TopicIndex%len(a.opts.Topics)]
	a.state.TopicIndex = (a.state.TopicIndex + 1) % len(a.opts.Topics)
	a.state.LastTopic = topic
	a.setPhaseLocked(models.PhaseHunting, topic)
	a.mu.Unlock()

	report := a.hunter.Hunt(ctx, topic)
	if ctx.Err() != nil {
		return
	}

	a.mu.Lock()
	a.state.HuntCount++
	a.setPhaseLocked(models.PhaseAdapting, topic)
	if report != nil {
		a.adaptLocked(report.Confidence)
	}
	a.markDirtyLocked()
	a.mu.Unlock()
}

// adaptLocked retunes the interval from the last hunt's confidence. The
// result always lands inside [MinInterval, MaxInterval].
func (a *Autopilot) adaptLocked(confidence float64) {
	old := a.state.Interval
	var next time.Duration
	var reason string

	switch {
	case confidence >= a.opts.HighConfidence:
		next = time.Duration(float64(old) * a.opts.SlowdownFactor)
		reason = fmt.Sprintf("confidence %.0f high, slowing down", confidence)
	case confidence <= a.opts.LowConfidence:
		next = time.Duration(float64(old) * a.opts.SpeedupFactor)
		reason = fmt.Sprintf("confidence %.0f low, speeding up", confidence)
	default:
		gap := float64(a.opts.BaseInterval - old)
		next = old + time.Duration(gap*a.opts.DriftRate)
		reason = fmt.Sprintf("confidence %.0f moderate, drifting to baseline", confidence)
	}

	if next > a.opts.MaxInterval {
		next = a.opts.MaxInterval
	}
	if next < a.opts.MinInterval {
		next = a.opts.MinInterval
	}
	a.state.Interval = next

	a.state.History = append(a.state.History, models.Adaptation{
		OldInterval: old,
		NewInterval: next,
		Confidence:  confidence,
		Reason:      reason,
		At:          time.Now().UTC(),
	})
	if len(a.state.History) > adaptationHistoryCap {
		a.state.History = a.state.History[len(a.state.History)-adaptationHistoryCap:]
	}

	if next != old {
		a.logger.Info("interval adapted",
			zap.Duration("old", old),
			zap.Duration("new", next),
			zap.Float64("confidence", confidence))
	}
}

func (a *Autopilot) setPhaseLocked(phase, topic string) {
	if a.state.Phase == phase {
		return
	}
	a.state.Phase = phase
	if a.bus != nil {
		a.bus.Publish(models.TopicAutopilotPhase, models.PhaseEvent{
			Phase:    phase,
			Interval: a.state.Interval.Milliseconds(),
			Topic:    topic,
		})
	}
}

func (a *Autopilot) markDirtyLocked() {
	if a.onDirty != nil {
		a.onDirty()
	}
}

func (a *Autopilot) stateLocked() models.AutopilotState {
	state := a.state
	state.History = append([]models.Adaptation(nil), a.state.History...)
	return state
}

// StateDoc serializes the loop state for persistence. The running flag is
// stored as-is; restart policy is the caller's call.
func (a *Autopilot) StateDoc() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return json.Marshal(a.stateLocked())
}

// Restore loads persisted state. The loop always comes back stopped;
// interval and cursor survive, phase resets to idle.
func (a *Autopilot) Restore(doc []byte) error {
	var state models.AutopilotState
	if err := json.Unmarshal(doc, &state); err != nil {
		return fmt.Errorf("restore autopilot state: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Running {
		return fmt.Errorf("cannot restore while running")
	}
	state.Running = false
	state.Phase = models.PhaseIdle
	if state.Interval < a.opts.MinInterval || state.Interval > a.opts.MaxInterval {
		state.Interval = a.opts.BaseInterval
	}
	if len(a.opts.Topics) > 0 {
		state.TopicIndex = state.TopicIndex % len(a.opts.Topics)
	}
	a.state = state
	return nil
}
