// Package service wires the core together: agents, breaker, staking,
// oracle, cache, autopilot, persistence, and the event bus. Nothing here
// lives in a package global; the Coordinator owns every component.
package service

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sigmafold/alphahunt/config"
	"github.com/sigmafold/alphahunt/internal/agents"
	"github.com/sigmafold/alphahunt/internal/autopilot"
	"github.com/sigmafold/alphahunt/internal/breaker"
	"github.com/sigmafold/alphahunt/internal/bus"
	"github.com/sigmafold/alphahunt/internal/cache"
	"github.com/sigmafold/alphahunt/internal/oracle"
	"github.com/sigmafold/alphahunt/internal/orchestrator"
	"github.com/sigmafold/alphahunt/internal/reputation"
	"github.com/sigmafold/alphahunt/internal/staking"
	"github.com/sigmafold/alphahunt/internal/storage"
	"github.com/sigmafold/alphahunt/models"
)

// Persisted module names.
const (
	moduleReputation = "reputation"
	moduleOracle     = "oracle"
	moduleCache      = "cache"
	moduleAutopilot  = "autopilot"
)

// Coordinator is the composition root and public surface of the core.
type Coordinator struct {
	cfg    config.Config
	logger *zap.Logger

	store     *storage.Store
	persister *storage.Persister
	bus       *bus.Bus

	ledger  *reputation.Ledger
	engine  *staking.Engine
	breaker *breaker.Breaker
	client  *agents.Client
	orch    *orchestrator.Orchestrator
	settler *oracle.Settler
	cache   *cache.ReportCache
	pilot   *autopilot.Autopilot

	closeOnce sync.Once
}

// Option customizes coordinator construction, mainly for tests.
type Option func(*options)

type options struct {
	prices   oracle.PriceSource
	caller   orchestrator.AgentCaller
	payments agents.PaymentSettler
}

// WithPriceSource replaces the HTTP price client.
func WithPriceSource(ps oracle.PriceSource) Option {
	return func(o *options) { o.prices = ps }
}

// WithAgentCaller replaces the HTTP agent client.
func WithAgentCaller(ac orchestrator.AgentCaller) Option {
	return func(o *options) { o.caller = ac }
}

// WithPaymentSettler installs a real payment handshake for priced agents.
func WithPaymentSettler(ps agents.PaymentSettler) Option {
	return func(o *options) { o.payments = ps }
}

func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*Coordinator, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	store, err := storage.Open(filepath.Join(cfg.DataDir, "alphahunt.db"), logger)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:    cfg,
		logger: logger.Named("service"),
		store:  store,
		bus:    bus.New(cfg.BusBufferSize, logger),
	}

	c.persister = storage.NewPersister(store, cfg.PersistDebounce(), logger)
	c.ledger = reputation.NewLedger(cfg.StakeStep, cfg.TruthStep, logger)
	c.engine = staking.NewEngine(c.ledger, decimal.NewFromFloat(cfg.MaxStake), cfg.BonusRate, cfg.SlashRate, logger)
	c.breaker = breaker.New(cfg.FailureThreshold, cfg.OpenDuration(), logger)

	c.client = agents.NewClient(c.breaker, o.payments, cfg.AgentTimeout(), logger)

	caller := o.caller
	if caller == nil {
		caller = c.client
	}
	c.orch = orchestrator.New(caller, c.ledger, c.engine, cfg.AgentTimeout(), logger)
	for _, a := range cfg.Agents {
		c.orch.Register(models.AgentDescriptor{
			Key:       a.Key,
			Name:      a.Name,
			Endpoint:  a.Endpoint,
			Category:  a.Category,
			BasePrice: decimal.NewFromFloat(a.BasePrice),
		})
	}

	prices := o.prices
	if prices == nil {
		prices = oracle.NewPriceClient(cfg.PriceAPIURL, cfg.AgentTimeout())
	}
	c.settler = oracle.NewSettler(prices, c.ledger, oracle.Options{
		Delay:         cfg.SettleDelay(),
		SweepInterval: cfg.SweepInterval(),
		RetryInterval: cfg.RetryInterval(),
		MinMovePct:    cfg.MinMovePct,
		PendingCap:    cfg.PendingCap,
		HistoryCap:    cfg.SettlementHistory,
	}, logger)
	c.settler.SetPublishHook(func(res models.SettlementResult) {
		c.bus.Publish(models.TopicSettlement, res)
	})

	c.cache = cache.New(cfg.CacheCapacity, cfg.CacheTTL(), cfg.CacheSweep(), logger)

	c.pilot = autopilot.New(c, c.bus, autopilot.Options{
		BaseInterval:   cfg.AutopilotBase(),
		MinInterval:    cfg.AutopilotMin(),
		MaxInterval:    cfg.AutopilotMax(),
		HighConfidence: cfg.AutopilotHighConf,
		LowConfidence:  cfg.AutopilotLowConf,
		SlowdownFactor: cfg.AutopilotSlowdown,
		SpeedupFactor:  cfg.AutopilotSpeedup,
		DriftRate:      cfg.AutopilotDrift,
		Topics:         cfg.AutopilotTopics,
	}, logger)

	c.restoreState()
	c.wirePersistence()

	return c, nil
}

// Start launches the background loops: cache sweep and settlement sweep.
// The autopilot is started separately on demand.
func (c *Coordinator) Start(ctx context.Context) {
	c.cache.Start()
	c.settler.Start(ctx)
	c.logger.Info("coordinator started",
		zap.Int("agents", len(c.cfg.Agents)),
		zap.String("data_dir", c.cfg.DataDir))
}

// restoreState loads persisted documents for every stateful module.
// A failed restore logs and continues with a fresh module.
func (c *Coordinator) restoreState() {
	restore := map[string]func([]byte) error{
		moduleReputation: c.ledger.Restore,
		moduleOracle:     c.settler.Restore,
		moduleCache:      c.cache.Restore,
		moduleAutopilot:  c.pilot.Restore,
	}
	for module, fn := range restore {
		doc, err := c.store.Load(module)
		if err != nil {
			c.logger.Error("state load failed", zap.String("module", module), zap.Error(err))
			continue
		}
		if doc == nil {
			continue
		}
		if err := fn(doc); err != nil {
			c.logger.Error("state restore failed", zap.String("module", module), zap.Error(err))
		}
	}
}

func (c *Coordinator) wirePersistence() {
	c.persister.Register(moduleReputation, c.ledger.StateDoc)
	c.persister.Register(moduleOracle, c.settler.StateDoc)
	c.persister.Register(moduleCache, c.cache.StateDoc)
	c.persister.Register(moduleAutopilot, c.pilot.StateDoc)

	c.ledger.SetDirtyHook(func() { c.persister.MarkDirty(moduleReputation) })
	c.settler.SetDirtyHook(func() { c.persister.MarkDirty(moduleOracle) })
	c.cache.SetDirtyHook(func() { c.persister.MarkDirty(moduleCache) })
	c.pilot.SetDirtyHook(func() { c.persister.MarkDirty(moduleAutopilot) })
}

// Hunt runs a synchronous hunt: fan out, synthesize, schedule the delayed
// settlement, and cache the report. Satisfies the autopilot's Hunter.
func (c *Coordinator) Hunt(ctx context.Context, topic string) *models.HuntReport {
	return c.runHunt(ctx, topic, nil)
}

// StreamHunt runs a hunt while emitting ordered stage events to emit.
// The final event is always done, even when the hunt degrades.
func (c *Coordinator) StreamHunt(ctx context.Context, topic string, emit orchestrator.EmitFunc) *models.HuntReport {
	report := c.runHunt(ctx, topic, emit)
	emit(models.StageEvent{Stage: models.StageDone, HuntID: report.HuntID, Topic: topic})
	return report
}

func (c *Coordinator) runHunt(ctx context.Context, topic string, emit orchestrator.EmitFunc) *models.HuntReport {
	forward := func(ev models.StageEvent) {
		c.bus.Publish(models.TopicHuntStage, ev)
		if emit != nil {
			emit(ev)
		}
	}

	report := c.orch.RunHunt(ctx, topic, forward)

	declared := make(map[string]models.Direction, len(report.Signals))
	for _, sig := range report.Signals {
		if !sig.Excluded {
			declared[sig.AgentKey] = sig.Direction
		}
	}
	if len(declared) > 0 {
		if err := c.settler.Schedule(ctx, report.HuntID, topic, report.Consensus, declared); err != nil {
			report.Warnings = append(report.Warnings, "settlement not scheduled: snapshot price unavailable")
		}
	}

	id := c.cache.Put(report)
	forward(models.StageEvent{Stage: models.StageCached, HuntID: report.HuntID, Message: id})
	return report
}

// Status accessors.

func (c *Coordinator) Reputation() map[string]models.ReputationRecord { return c.ledger.Snapshot() }
func (c *Coordinator) Breakers() map[string]breaker.Snapshot          { return c.breaker.Snapshots() }
func (c *Coordinator) PendingSettlements() []models.PendingSettlement { return c.settler.Pending() }
func (c *Coordinator) SettlementHistory() []models.SettlementResult   { return c.settler.History() }
func (c *Coordinator) AutopilotState() models.AutopilotState          { return c.pilot.State() }
func (c *Coordinator) Agents() []models.AgentDescriptor               { return c.orch.Agents() }
func (c *Coordinator) CachedReport(id string) (*models.HuntReport, bool) {
	return c.cache.Get(id)
}

// Subscribe exposes the event bus for external observers.
func (c *Coordinator) Subscribe(topics ...string) (<-chan bus.Event, func()) {
	return c.bus.Subscribe(topics...)
}

// StartAutopilot launches the adaptive loop; idempotent.
func (c *Coordinator) StartAutopilot(ctx context.Context) models.AutopilotState {
	return c.pilot.Start(ctx)
}

// StopAutopilot halts the loop; idempotent.
func (c *Coordinator) StopAutopilot() models.AutopilotState {
	return c.pilot.Stop()
}

// Close stops every loop and flushes state synchronously.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.pilot.Stop()
		c.settler.Stop()
		c.cache.Stop()
		c.persister.Close()
		c.bus.Close()
		if err := c.store.Close(); err != nil {
			c.logger.Error("store close failed", zap.Error(err))
		}
		c.logger.Info("coordinator closed")
	})
}
