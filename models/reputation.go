package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ScoreChange is one bounded nudge to an agent's reputation score.
type ScoreChange struct {
	Delta  float64   `json:"delta"`
	Score  float64   `json:"score"` // score after the change
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// ReputationRecord is the accumulated trust state for one agent.
// Score is always clamped to [0,1].
type ReputationRecord struct {
	AgentKey string          `json:"agent_key"`
	Score    float64         `json:"score"`
	Hunts    int             `json:"hunts"`
	Correct  int             `json:"correct"`
	PnL      decimal.Decimal `json:"pnl"`
	History  []ScoreChange   `json:"history"`
}

// PriceQuote pairs an agent's base price with its reputation-adjusted
// effective price for the current hunt.
type PriceQuote struct {
	AgentKey  string          `json:"agent_key"`
	Base      decimal.Decimal `json:"base"`
	Effective decimal.Decimal `json:"effective"`
}
