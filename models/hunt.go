package models

import "time"

// CompetitionResult records how a competing agent pair was resolved.
// The winner's result feeds synthesis; the loser is reported only.
type CompetitionResult struct {
	Category    string  `json:"category"`
	Winner      string  `json:"winner"`
	Loser       string  `json:"loser"`
	WinnerRatio float64 `json:"winner_ratio"` // reputation / effective price
	LoserRatio  float64 `json:"loser_ratio"`
}

// Signal is one agent's contribution as it appears in a hunt report.
type Signal struct {
	AgentKey   string    `json:"agent_key"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	Summary    string    `json:"summary,omitempty"`
	Excluded   bool      `json:"excluded"` // lost a competition, not in synthesis
}

// HuntReport is the synthesized output of one hunt. A hunt with zero
// successful agents still produces a report with near-zero confidence
// and a populated warnings list.
type HuntReport struct {
	ID             string                      `json:"id"` // content hash, cache key
	HuntID         string                      `json:"hunt_id"`
	Topic          string                      `json:"topic"`
	Timestamp      time.Time                   `json:"timestamp"`
	Consensus      Direction                   `json:"consensus"`
	Confidence     float64                     `json:"confidence"` // 0..100
	Recommendation string                      `json:"recommendation"`
	Signals        []Signal                    `json:"signals"`
	Competitions   []CompetitionResult         `json:"competitions,omitempty"`
	Staking        *StakingSummary             `json:"staking,omitempty"`
	Reputation     map[string]ReputationRecord `json:"reputation,omitempty"`
	Pricing        []PriceQuote                `json:"pricing,omitempty"`
	Warnings       []string                    `json:"warnings,omitempty"`
}

// CachedReport wraps a report with cache bookkeeping.
type CachedReport struct {
	ID           string        `json:"id"`
	CreatedAt    time.Time     `json:"created_at"`
	LastAccessed time.Time     `json:"last_accessed"`
	TTL          time.Duration `json:"ttl"`
	Report       *HuntReport   `json:"report"`
}
