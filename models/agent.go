package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the declared or observed market direction of a signal.
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionNeutral Direction = "neutral"
)

// ParseDirection normalizes a direction string, defaulting to neutral.
func ParseDirection(s string) Direction {
	switch Direction(s) {
	case DirectionBullish, DirectionBearish:
		return Direction(s)
	default:
		return DirectionNeutral
	}
}

// AgentDescriptor describes a callable data agent. Agents sharing a
// category compete: both are called, only the winner feeds synthesis.
type AgentDescriptor struct {
	Key       string          `json:"key"`
	Name      string          `json:"name"`
	Endpoint  string          `json:"endpoint"`
	Category  string          `json:"category"`
	BasePrice decimal.Decimal `json:"base_price"`
}

// AgentResult is one agent's answer in one hunt.
type AgentResult struct {
	AgentKey   string          `json:"agent_key"`
	Direction  Direction       `json:"direction"`
	Confidence float64         `json:"confidence"` // 0..1, self-reported
	Stake      decimal.Decimal `json:"stake"`      // suggested stake, may be zero
	Payload    json.RawMessage `json:"payload,omitempty"`
	Summary    string          `json:"summary,omitempty"`
	FromHeader bool            `json:"from_header"` // signal came from the header protocol
	Latency    time.Duration   `json:"latency"`
}
