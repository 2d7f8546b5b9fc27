// Package oracle verifies hunt consensus against delayed ground truth:
// real price movement of the topic's proxy asset. A majority consensus can
// still be wrong; this is the signal that catches it.
package oracle

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sigmafold/alphahunt/models"
)

// OutcomeSink receives per-agent ground-truth correctness. The coordinator
// wires it to the reputation ledger; the oracle never imports reputation.
type OutcomeSink interface {
	RecordOutcome(agentKey string, correct bool)
}

// Settler schedules and performs delayed settlements.
type Settler struct {
	mu      sync.Mutex
	pending map[string]*models.PendingSettlement
	history []models.SettlementResult

	prices        PriceSource
	sink          OutcomeSink
	delay         time.Duration
	sweepInterval time.Duration
	retryInterval time.Duration
	minMovePct    float64
	pendingCap    int
	historyCap    int

	publish func(models.SettlementResult)
	onDirty func()
	logger  *zap.Logger
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Options bundles settler tuning knobs.
type Options struct {
	Delay         time.Duration
	SweepInterval time.Duration
	RetryInterval time.Duration
	MinMovePct    float64
	PendingCap    int
	HistoryCap    int
}

func NewSettler(prices PriceSource, sink OutcomeSink, opts Options, logger *zap.Logger) *Settler {
	if opts.Delay <= 0 {
		opts.Delay = 5 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 15 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 30 * time.Second
	}
	if opts.MinMovePct <= 0 {
		opts.MinMovePct = 0.3
	}
	if opts.PendingCap <= 0 {
		opts.PendingCap = 200
	}
	if opts.HistoryCap <= 0 {
		opts.HistoryCap = 500
	}
	return &Settler{
		pending:       make(map[string]*models.PendingSettlement),
		prices:        prices,
		sink:          sink,
		delay:         opts.Delay,
		sweepInterval: opts.SweepInterval,
		retryInterval: opts.RetryInterval,
		minMovePct:    opts.MinMovePct,
		pendingCap:    opts.PendingCap,
		historyCap:    opts.HistoryCap,
		logger:        logger.Named("oracle"),
		now:           time.Now,
		stop:          make(chan struct{}),
	}
}

func (s *Settler) SetDirtyHook(fn func())                    { s.mu.Lock(); s.onDirty = fn; s.mu.Unlock() }
func (s *Settler) SetPublishHook(fn func(models.SettlementResult)) { s.mu.Lock(); s.publish = fn; s.mu.Unlock() }

// Schedule snapshots the proxy asset's current price and enqueues the hunt
// for delayed verification. A failed snapshot fetch skips scheduling; the
// hunt simply goes unverified rather than settling against a bogus base.
func (s *Settler) Schedule(ctx context.Context, huntID, topic string, consensus models.Direction, declared map[string]models.Direction) error {
	assetID := ProxyAsset(topic)
	snapshot, err := s.prices.Price(ctx, assetID)
	if err != nil {
		s.logger.Warn("snapshot price unavailable, hunt not scheduled for settlement",
			zap.String("hunt", huntID), zap.String("asset", assetID), zap.Error(err))
		return err
	}

	declaredCopy := make(map[string]models.Direction, len(declared))
	for k, v := range declared {
		declaredCopy[k] = v
	}

	s.mu.Lock()
	if len(s.pending) >= s.pendingCap {
		s.evictOldestPendingLocked()
	}
	s.pending[huntID] = &models.PendingSettlement{
		HuntID:        huntID,
		Topic:         topic,
		AssetID:       assetID,
		Consensus:     consensus,
		SnapshotPrice: snapshot,
		SettleAt:      s.now().Add(s.delay),
		CreatedAt:     s.now(),
		Declared:      declaredCopy,
	}
	dirty := s.onDirty
	s.mu.Unlock()

	s.logger.Info("settlement scheduled",
		zap.String("hunt", huntID),
		zap.String("asset", assetID),
		zap.Float64("snapshot", snapshot))
	if dirty != nil {
		dirty()
	}
	return nil
}

// Start launches the periodic sweep.
func (s *Settler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the sweep goroutine.
func (s *Settler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// Sweep settles every due pending entry. Price failures defer the entry by
// the retry interval instead of discarding it.
func (s *Settler) Sweep(ctx context.Context) int {
	s.mu.Lock()
	now := s.now()
	var due []*models.PendingSettlement
	for _, p := range s.pending {
		if !p.Settled && !p.SettleAt.After(now) {
			due = append(due, p)
		}
	}
	s.mu.Unlock()

	settled := 0
	for _, p := range due {
		if s.settleOne(ctx, p) {
			settled++
		}
	}
	return settled
}

func (s *Settler) settleOne(ctx context.Context, p *models.PendingSettlement) bool {
	price, err := s.prices.Price(ctx, p.AssetID)
	if err != nil {
		s.mu.Lock()
		p.SettleAt = s.now().Add(s.retryInterval)
		p.Attempts++
		dirty := s.onDirty
		s.mu.Unlock()

		s.logger.Warn("settlement deferred, price unavailable",
			zap.String("hunt", p.HuntID),
			zap.Int("attempts", p.Attempts),
			zap.Error(err))
		if dirty != nil {
			dirty()
		}
		return false
	}

	changePct := (price - p.SnapshotPrice) / p.SnapshotPrice * 100
	actual := s.Classify(changePct)

	result := models.SettlementResult{
		HuntID:        p.HuntID,
		Topic:         p.Topic,
		AssetID:       p.AssetID,
		SnapshotPrice: p.SnapshotPrice,
		SettledPrice:  price,
		ChangePct:     changePct,
		Actual:        actual,
		AgentCorrect:  make(map[string]bool, len(p.Declared)),
		SettledAt:     s.now(),
	}
	// A neutral outcome marks every bet correct: nobody is punished for a
	// choppy, directionless market.
	for agent, dir := range p.Declared {
		result.AgentCorrect[agent] = actual == models.DirectionNeutral || dir == actual
	}
	result.ConsensusCorrect = actual == models.DirectionNeutral || p.Consensus == actual

	s.mu.Lock()
	if p.Settled {
		s.mu.Unlock()
		return false // another sweep got here first
	}
	p.Settled = true
	delete(s.pending, p.HuntID)
	s.history = append(s.history, result)
	if len(s.history) > s.historyCap {
		s.history = s.history[len(s.history)-s.historyCap:]
	}
	dirty := s.onDirty
	publish := s.publish
	s.mu.Unlock()

	for agent, correct := range result.AgentCorrect {
		s.sink.RecordOutcome(agent, correct)
	}

	s.logger.Info("hunt settled against ground truth",
		zap.String("hunt", p.HuntID),
		zap.Float64("change_pct", changePct),
		zap.String("actual", string(actual)),
		zap.Bool("consensus_correct", result.ConsensusCorrect))
	if publish != nil {
		publish(result)
	}
	if dirty != nil {
		dirty()
	}
	return true
}

// Classify maps a percentage move to a direction using the symmetric
// dead-zone: moves within +-minMovePct are neutral.
func (s *Settler) Classify(changePct float64) models.Direction {
	switch {
	case changePct > s.minMovePct:
		return models.DirectionBullish
	case changePct < -s.minMovePct:
		return models.DirectionBearish
	default:
		return models.DirectionNeutral
	}
}

// Pending lists unsettled entries, oldest first.
func (s *Settler) Pending() []models.PendingSettlement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PendingSettlement, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// History lists completed settlements, oldest first.
func (s *Settler) History() []models.SettlementResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SettlementResult(nil), s.history...)
}

func (s *Settler) evictOldestPendingLocked() {
	var oldestID string
	var oldest time.Time
	for id, p := range s.pending {
		if oldestID == "" || p.CreatedAt.Before(oldest) {
			oldestID = id
			oldest = p.CreatedAt
		}
	}
	if oldestID != "" {
		delete(s.pending, oldestID)
		s.logger.Warn("pending set full, oldest settlement dropped", zap.String("hunt", oldestID))
	}
}

type settlerState struct {
	Pending []models.PendingSettlement `json:"pending"`
	History []models.SettlementResult  `json:"history"`
}

// StateDoc serializes pending and settled sets for persistence.
func (s *Settler) StateDoc() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := settlerState{History: append([]models.SettlementResult(nil), s.history...)}
	for _, p := range s.pending {
		state.Pending = append(state.Pending, *p)
	}
	sort.Slice(state.Pending, func(i, j int) bool {
		return state.Pending[i].CreatedAt.Before(state.Pending[j].CreatedAt)
	})
	return json.Marshal(state)
}

// Restore loads a persisted settlement document. Pending entries resume
// sweeping; already due entries settle on the next sweep.
func (s *Settler) Restore(doc []byte) error {
	var state settlerState
	if err := json.Unmarshal(doc, &state); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = state.History
	if len(s.history) > s.historyCap {
		s.history = s.history[len(s.history)-s.historyCap:]
	}
	s.pending = make(map[string]*models.PendingSettlement, len(state.Pending))
	for _, p := range state.Pending {
		if p.Settled {
			continue
		}
		p := p
		s.pending[p.HuntID] = &p
	}
	return nil
}
