// Package staking turns self-reported agent confidence into stakes and
// settles them against the hunt's consensus direction. This is the fast,
// self-referential trust signal; whether the consensus itself was right
// is judged later by the settlement oracle.
package staking

import (
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sigmafold/alphahunt/internal/reputation"
	"github.com/sigmafold/alphahunt/models"
)

// Engine computes weighted consensus and settles stakes.
type Engine struct {
	ledger    *reputation.Ledger
	maxStake  decimal.Decimal
	bonusRate float64 // bonus fraction for agreeing, scaled by confidence
	slashRate float64 // fraction of stake lost when disagreeing
	logger    *zap.Logger
}

func NewEngine(ledger *reputation.Ledger, maxStake decimal.Decimal, bonusRate, slashRate float64, logger *zap.Logger) *Engine {
	if maxStake.LessThanOrEqual(decimal.Zero) {
		maxStake = decimal.NewFromInt(100)
	}
	if bonusRate <= 0 {
		bonusRate = 0.5
	}
	if slashRate <= 0 {
		slashRate = 0.5
	}
	return &Engine{
		ledger:    ledger,
		maxStake:  maxStake,
		bonusRate: bonusRate,
		slashRate: slashRate,
		logger:    logger.Named("staking"),
	}
}

// Consensus computes the reputation-and-confidence-weighted majority
// direction. Ties resolve to neutral.
func (e *Engine) Consensus(results []models.AgentResult) (models.Direction, float64) {
	weights := map[models.Direction]float64{}
	total := 0.0
	for _, r := range results {
		w := r.Confidence * e.ledger.Score(r.AgentKey)
		weights[r.Direction] += w
		total += w
	}

	best := models.DirectionNeutral
	bestWeight := 0.0
	// Deterministic iteration; a strict > below means ties stay neutral.
	for _, dir := range []models.Direction{models.DirectionBullish, models.DirectionBearish, models.DirectionNeutral} {
		if weights[dir] > bestWeight {
			best = dir
			bestWeight = weights[dir]
		} else if weights[dir] == bestWeight && dir != best {
			best = models.DirectionNeutral
		}
	}
	return best, total
}

// Settle computes consensus over the surviving results and settles every
// agent's stake against it, nudging reputation as it goes. The returned
// summary is immutable.
func (e *Engine) Settle(huntID string, results []models.AgentResult) *models.StakingSummary {
	consensus, totalWeight := e.Consensus(results)

	summary := &models.StakingSummary{
		HuntID:        huntID,
		Consensus:     consensus,
		TotalWeight:   totalWeight,
		TotalStaked:   decimal.Zero,
		TotalReturned: decimal.Zero,
	}

	for _, r := range results {
		staked := e.maxStake.Mul(decimal.NewFromFloat(clamp01(r.Confidence)))
		agreed := r.Direction == consensus

		var returned decimal.Decimal
		if agreed {
			bonus := staked.Mul(decimal.NewFromFloat(e.bonusRate * r.Confidence))
			returned = staked.Add(bonus)
		} else {
			kept := 1.0 - e.slashRate
			returned = staked.Mul(decimal.NewFromFloat(kept))
		}
		pnl := returned.Sub(staked)

		before, after := e.ledger.RecordStake(r.AgentKey, agreed, pnl)
		summary.Stakes = append(summary.Stakes, models.StakeResult{
			AgentKey:   r.AgentKey,
			Confidence: r.Confidence,
			Declared:   r.Direction,
			Consensus:  consensus,
			Staked:     staked,
			Returned:   returned,
			Agreed:     agreed,
			RepBefore:  before,
			RepAfter:   after,
		})
		summary.TotalStaked = summary.TotalStaked.Add(staked)
		summary.TotalReturned = summary.TotalReturned.Add(returned)
	}

	sort.Slice(summary.Stakes, func(i, j int) bool {
		return summary.Stakes[i].AgentKey < summary.Stakes[j].AgentKey
	})

	e.logger.Debug("stakes settled",
		zap.String("hunt", huntID),
		zap.String("consensus", string(consensus)),
		zap.Int("agents", len(results)))
	return summary
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
