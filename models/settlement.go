package models

import "time"

// PendingSettlement is a hunt awaiting delayed ground-truth verification
// against real price movement of its proxy asset.
type PendingSettlement struct {
	HuntID        string               `json:"hunt_id"`
	Topic         string               `json:"topic"`
	AssetID       string               `json:"asset_id"`
	Consensus     Direction            `json:"consensus"`
	SnapshotPrice float64              `json:"snapshot_price"`
	SettleAt      time.Time            `json:"settle_at"`
	CreatedAt     time.Time            `json:"created_at"`
	Declared      map[string]Direction `json:"declared"`
	Attempts      int                  `json:"attempts"`
	Settled       bool                 `json:"settled"`
}

// SettlementResult is a completed ground-truth check.
type SettlementResult struct {
	HuntID           string          `json:"hunt_id"`
	Topic            string          `json:"topic"`
	AssetID          string          `json:"asset_id"`
	SnapshotPrice    float64         `json:"snapshot_price"`
	SettledPrice     float64         `json:"settled_price"`
	ChangePct        float64         `json:"change_pct"`
	Actual           Direction       `json:"actual"`
	AgentCorrect     map[string]bool `json:"agent_correct"`
	ConsensusCorrect bool            `json:"consensus_correct"`
	SettledAt        time.Time       `json:"settled_at"`
}
