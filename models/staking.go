package models

import "github.com/shopspring/decimal"

// StakeResult records one agent's bet in one hunt, settled against the
// consensus direction at hunt time. Immutable once written into a summary.
type StakeResult struct {
	AgentKey   string          `json:"agent_key"`
	Confidence float64         `json:"confidence"`
	Declared   Direction       `json:"declared"`
	Consensus  Direction       `json:"consensus"`
	Staked     decimal.Decimal `json:"staked"`
	Returned   decimal.Decimal `json:"returned"`
	Agreed     bool            `json:"agreed"`
	RepBefore  float64         `json:"rep_before"`
	RepAfter   float64         `json:"rep_after"`
}

// StakingSummary is the immediate settlement of all stakes in a hunt.
type StakingSummary struct {
	HuntID        string          `json:"hunt_id"`
	Consensus     Direction       `json:"consensus"`
	TotalWeight   float64         `json:"total_weight"`
	TotalStaked   decimal.Decimal `json:"total_staked"`
	TotalReturned decimal.Decimal `json:"total_returned"`
	Stakes        []StakeResult   `json:"stakes"`
}
