// Package reputation tracks per-agent trust scores. Scores move through
// two feedback paths: immediate stake settlement against consensus, and
// delayed ground-truth settlement from the oracle.
package reputation

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sigmafold/alphahunt/models"
)

const (
	// DefaultScore is the starting trust for an unknown agent.
	DefaultScore = 0.5
	historyCap   = 50
)

// Ledger owns the reputation records. All mutation goes through it;
// updates are small bounded deltas, so concurrent hunts may interleave
// freely (last-write-wins on the same agent is acceptable).
type Ledger struct {
	mu        sync.RWMutex
	records   map[string]*models.ReputationRecord
	stakeStep float64 // nudge per stake settlement
	truthStep float64 // nudge per ground-truth settlement
	logger    *zap.Logger
	now       func() time.Time
	onDirty   func()
}

func NewLedger(stakeStep, truthStep float64, logger *zap.Logger) *Ledger {
	if stakeStep <= 0 {
		stakeStep = 0.02
	}
	if truthStep <= 0 {
		truthStep = 0.05
	}
	return &Ledger{
		records:   make(map[string]*models.ReputationRecord),
		stakeStep: stakeStep,
		truthStep: truthStep,
		logger:    logger.Named("reputation"),
		now:       time.Now,
	}
}

// SetDirtyHook registers a callback invoked after every mutation, used by
// the coordinator to schedule debounced persistence.
func (l *Ledger) SetDirtyHook(fn func()) {
	l.mu.Lock()
	l.onDirty = fn
	l.mu.Unlock()
}

// Score returns the agent's current trust, creating nothing.
func (l *Ledger) Score(agentKey string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if rec, ok := l.records[agentKey]; ok {
		return rec.Score
	}
	return DefaultScore
}

// Record returns a copy of the agent's record.
func (l *Ledger) Record(agentKey string) models.ReputationRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if rec, ok := l.records[agentKey]; ok {
		return cloneRecord(rec)
	}
	return models.ReputationRecord{AgentKey: agentKey, Score: DefaultScore, PnL: decimal.Zero}
}

// RecordStake applies the immediate, consensus-relative nudge from one
// stake settlement and returns the score before and after.
func (l *Ledger) RecordStake(agentKey string, agreed bool, pnl decimal.Decimal) (before, after float64) {
	delta := l.stakeStep
	reason := "stake:agree"
	if !agreed {
		delta = -l.stakeStep
		reason = "stake:disagree"
	}
	return l.nudge(agentKey, delta, reason, pnl, true, false)
}

// RecordOutcome applies the delayed ground-truth nudge from the oracle.
// This is the second, reality-anchored signal layered on top of staking.
func (l *Ledger) RecordOutcome(agentKey string, correct bool) {
	delta := l.truthStep
	reason := "truth:correct"
	if !correct {
		delta = -l.truthStep
		reason = "truth:incorrect"
	}
	l.nudge(agentKey, delta, reason, decimal.Zero, false, correct)
}

// nudge applies one bounded score change. Each hunt touches the ledger
// twice (stake now, ground truth later), so only the stake path counts
// toward the hunt total.
func (l *Ledger) nudge(agentKey string, delta float64, reason string, pnl decimal.Decimal, countHunt, countCorrect bool) (before, after float64) {
	l.mu.Lock()
	rec := l.record(agentKey)
	before = rec.Score
	rec.Score = clamp01(rec.Score + delta)
	after = rec.Score
	if countHunt {
		rec.Hunts++
	}
	if countCorrect {
		rec.Correct++
	}
	rec.PnL = rec.PnL.Add(pnl)
	rec.History = append(rec.History, models.ScoreChange{
		Delta:  delta,
		Score:  rec.Score,
		Reason: reason,
		At:     l.now(),
	})
	if len(rec.History) > historyCap {
		rec.History = rec.History[len(rec.History)-historyCap:]
	}
	dirty := l.onDirty
	l.mu.Unlock()

	l.logger.Debug("score nudged",
		zap.String("agent", agentKey),
		zap.String("reason", reason),
		zap.Float64("score", after))
	if dirty != nil {
		dirty()
	}
	return before, after
}

// EffectivePrice scales an agent's base price by its trust: well-trusted
// agents are cheaper to consult, distrusted ones cost a premium. The
// result stays within [0.5x, 1.5x] of base.
func (l *Ledger) EffectivePrice(agentKey string, base decimal.Decimal) decimal.Decimal {
	score := l.Score(agentKey)
	factor := 1.5 - score // score 1.0 -> 0.5x, score 0.0 -> 1.5x
	return base.Mul(decimal.NewFromFloat(factor))
}

// Snapshot returns a copy of every record, keyed by agent.
func (l *Ledger) Snapshot() map[string]models.ReputationRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]models.ReputationRecord, len(l.records))
	for key, rec := range l.records {
		out[key] = cloneRecord(rec)
	}
	return out
}

// StateDoc serializes the ledger for persistence.
func (l *Ledger) StateDoc() ([]byte, error) {
	return json.Marshal(l.Snapshot())
}

// Restore loads a previously persisted ledger document.
func (l *Ledger) Restore(doc []byte) error {
	var records map[string]models.ReputationRecord
	if err := json.Unmarshal(doc, &records); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = make(map[string]*models.ReputationRecord, len(records))
	for key, rec := range records {
		rec := rec
		rec.Score = clamp01(rec.Score)
		l.records[key] = &rec
	}
	return nil
}

func (l *Ledger) record(agentKey string) *models.ReputationRecord {
	rec, ok := l.records[agentKey]
	if !ok {
		rec = &models.ReputationRecord{
			AgentKey: agentKey,
			Score:    DefaultScore,
			PnL:      decimal.Zero,
		}
		l.records[agentKey] = rec
	}
	return rec
}

func cloneRecord(rec *models.ReputationRecord) models.ReputationRecord {
	out := *rec
	out.History = append([]models.ScoreChange(nil), rec.History...)
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
