// Package orchestrator runs hunts: one concurrent guarded call per agent,
// settle-all collection, competition resolution, and synthesis of the
// final confidence-scored recommendation.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sigmafold/alphahunt/internal/agents"
	"github.com/sigmafold/alphahunt/internal/cache"
	"github.com/sigmafold/alphahunt/internal/reputation"
	"github.com/sigmafold/alphahunt/internal/staking"
	"github.com/sigmafold/alphahunt/models"
)

// AgentCaller abstracts the guarded HTTP caller for testability.
type AgentCaller interface {
	Call(ctx context.Context, agent models.AgentDescriptor, body any) (*models.AgentResult, error)
}

// EmitFunc receives stream stages as a hunt progresses. May be nil.
type EmitFunc func(ev models.StageEvent)

// Orchestrator fans a topic out to every registered agent.
type Orchestrator struct {
	mu          sync.RWMutex
	agents      []models.AgentDescriptor
	caller      AgentCaller
	ledger      *reputation.Ledger
	staking     *staking.Engine
	callTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

func New(caller AgentCaller, ledger *reputation.Ledger, engine *staking.Engine, callTimeout time.Duration, logger *zap.Logger) *Orchestrator {
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	return &Orchestrator{
		caller:      caller,
		ledger:      ledger,
		staking:     engine,
		callTimeout: callTimeout,
		logger:      logger.Named("orchestrator"),
		now:         time.Now,
	}
}

// Register adds an agent to the fan-out set. Safe to call at runtime.
func (o *Orchestrator) Register(agent models.AgentDescriptor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, existing := range o.agents {
		if existing.Key == agent.Key {
			o.agents[i] = agent
			return
		}
	}
	o.agents = append(o.agents, agent)
}

// Agents returns the current fan-out set.
func (o *Orchestrator) Agents() []models.AgentDescriptor {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]models.AgentDescriptor(nil), o.agents...)
}

// RunHunt issues one guarded call per agent concurrently and waits for all
// of them to settle; a single agent's failure never aborts the hunt. The
// hunt context is shared by every call, so cancelling it (client
// disconnect, stream timeout) aborts all outstanding calls at once.
func (o *Orchestrator) RunHunt(ctx context.Context, topic string, emit EmitFunc) *models.HuntReport {
	huntID := uuid.New().String()
	roster := o.Agents()
	started := o.now()
	emit = serializeEmit(emit)

	// Payment notifications fire from inside agent-call goroutines; tying
	// them to this hunt's context keeps them off other hunts' streams.
	ctx = agents.WithPayingNotify(ctx, func(agentKey string) {
		o.emit(emit, models.StageEvent{Stage: models.StagePaying, HuntID: huntID, Agent: agentKey})
	})

	o.emit(emit, models.StageEvent{Stage: models.StageStart, HuntID: huntID, Topic: topic,
		Message: fmt.Sprintf("hunting %q across %d agents", topic, len(roster))})
	o.logger.Info("hunt started",
		zap.String("hunt", huntID),
		zap.String("topic", topic),
		zap.Int("agents", len(roster)))

	results := make([]*models.AgentResult, len(roster))
	warnings := make([]string, len(roster))

	var wg sync.WaitGroup
	for i, agent := range roster {
		wg.Add(1)
		go func(i int, agent models.AgentDescriptor) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
			defer cancel()

			res, err := o.caller.Call(callCtx, agent, map[string]string{"topic": topic})
			if err != nil {
				warnings[i] = warningFor(err)
				return
			}
			results[i] = res
		}(i, agent)
	}
	wg.Wait()

	for i, res := range results {
		if res != nil {
			o.emit(emit, models.StageEvent{Stage: models.StageResult, HuntID: huntID,
				Agent: roster[i].Key, Payload: res})
		} else if warnings[i] != "" {
			o.emit(emit, models.StageEvent{Stage: models.StageError, HuntID: huntID,
				Agent: roster[i].Key, Message: warnings[i]})
		}
	}

	report := o.synthesize(huntID, topic, started, roster, results, warnings, emit)
	o.logger.Info("hunt finished",
		zap.String("hunt", huntID),
		zap.String("consensus", string(report.Consensus)),
		zap.Float64("confidence", report.Confidence),
		zap.Int("warnings", len(report.Warnings)))
	return report
}

// synthesize resolves competitions, settles stakes, and builds the report.
// Zero successful agents still yields a degraded report, never an error.
func (o *Orchestrator) synthesize(huntID, topic string, started time.Time, roster []models.AgentDescriptor, results []*models.AgentResult, warnings []string, emit EmitFunc) *models.HuntReport {
	report := &models.HuntReport{
		HuntID:    huntID,
		Topic:     topic,
		Timestamp: started,
	}
	report.ID = cache.ReportID(topic, started)

	for _, w := range warnings {
		if w != "" {
			report.Warnings = append(report.Warnings, w)
		}
	}

	excluded := o.resolveCompetitions(roster, results, report, emit)

	var surviving []models.AgentResult
	for i, res := range results {
		if res == nil {
			continue
		}
		signal := models.Signal{
			AgentKey:   res.AgentKey,
			Direction:  res.Direction,
			Confidence: res.Confidence,
			Summary:    res.Summary,
			Excluded:   excluded[res.AgentKey],
		}
		report.Signals = append(report.Signals, signal)
		if !signal.Excluded {
			surviving = append(surviving, *results[i])
		}
	}
	sort.Slice(report.Signals, func(i, j int) bool {
		return report.Signals[i].AgentKey < report.Signals[j].AgentKey
	})

	report.Staking = o.staking.Settle(huntID, surviving)
	report.Consensus = report.Staking.Consensus
	report.Confidence = o.confidence(report.Staking, surviving, len(roster))
	report.Recommendation = recommendation(report.Consensus, report.Confidence)
	report.Reputation = o.ledger.Snapshot()
	for _, agent := range roster {
		report.Pricing = append(report.Pricing, models.PriceQuote{
			AgentKey:  agent.Key,
			Base:      agent.BasePrice,
			Effective: o.ledger.EffectivePrice(agent.Key, agent.BasePrice),
		})
	}

	o.emit(emit, models.StageEvent{Stage: models.StageAlpha, HuntID: huntID, Payload: report})
	return report
}

// resolveCompetitions picks a winner per multi-agent category by the
// reputation / effective-price ratio. Ties favor the earlier-registered
// agent. Losers stay in the report but are excluded from synthesis.
func (o *Orchestrator) resolveCompetitions(roster []models.AgentDescriptor, results []*models.AgentResult, report *models.HuntReport, emit EmitFunc) map[string]bool {
	excluded := make(map[string]bool)
	byCategory := make(map[string][]int)
	for i, agent := range roster {
		if results[i] == nil {
			continue
		}
		byCategory[agent.Category] = append(byCategory[agent.Category], i)
	}

	for category, indexes := range byCategory {
		if len(indexes) < 2 {
			continue
		}
		winner := indexes[0]
		winnerRatio := o.ratio(roster[winner])
		for _, i := range indexes[1:] {
			// Strict > keeps the tie with the primary (lower index) agent.
			if r := o.ratio(roster[i]); r > winnerRatio {
				winner = i
				winnerRatio = r
			}
		}
		for _, i := range indexes {
			if i == winner {
				continue
			}
			excluded[roster[i].Key] = true
			comp := models.CompetitionResult{
				Category:    category,
				Winner:      roster[winner].Key,
				Loser:       roster[i].Key,
				WinnerRatio: winnerRatio,
				LoserRatio:  o.ratio(roster[i]),
			}
			report.Competitions = append(report.Competitions, comp)
			o.emit(emit, models.StageEvent{Stage: models.StageCompetition, HuntID: report.HuntID,
				Agent: comp.Winner, Payload: comp})
		}
	}
	return excluded
}

// ratio is reputation per unit of effective price; higher wins.
func (o *Orchestrator) ratio(agent models.AgentDescriptor) float64 {
	price := o.ledger.EffectivePrice(agent.Key, agent.BasePrice)
	pf, _ := price.Float64()
	if pf <= 0 {
		pf = 0.01
	}
	return o.ledger.Score(agent.Key) / pf
}

// confidence scales the consensus weight share by participation: how much
// of the fan-out actually answered and how strongly it agreed.
func (o *Orchestrator) confidence(summary *models.StakingSummary, surviving []models.AgentResult, fanout int) float64 {
	if len(surviving) == 0 || summary.TotalWeight <= 0 || fanout == 0 {
		return 0
	}
	agreeWeight := 0.0
	for _, r := range surviving {
		if r.Direction == summary.Consensus {
			agreeWeight += r.Confidence * o.ledger.Score(r.AgentKey)
		}
	}
	share := agreeWeight / summary.TotalWeight
	participation := float64(len(surviving)) / float64(fanout)
	conf := share * participation * 100
	if conf > 100 {
		conf = 100
	}
	return conf
}

func recommendation(consensus models.Direction, confidence float64) string {
	switch {
	case confidence < 20:
		return "insufficient signal, stay flat"
	case consensus == models.DirectionBullish:
		return fmt.Sprintf("accumulate: bullish consensus at %.0f%% confidence", confidence)
	case consensus == models.DirectionBearish:
		return fmt.Sprintf("reduce exposure: bearish consensus at %.0f%% confidence", confidence)
	default:
		return fmt.Sprintf("hold: neutral consensus at %.0f%% confidence", confidence)
	}
}

func (o *Orchestrator) emit(emit EmitFunc, ev models.StageEvent) {
	if emit != nil {
		emit(ev)
	}
}

// serializeEmit guards the emit callback with a mutex so stage events
// fired from concurrent agent goroutines never interleave on one stream.
func serializeEmit(emit EmitFunc) EmitFunc {
	if emit == nil {
		return nil
	}
	var mu sync.Mutex
	return func(ev models.StageEvent) {
		mu.Lock()
		defer mu.Unlock()
		emit(ev)
	}
}

func warningFor(err error) string {
	return err.Error()
}
