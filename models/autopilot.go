package models

import "time"

// Autopilot phases. The loop cycles idle -> hunting -> adapting -> waiting.
const (
	PhaseIdle     = "idle"
	PhaseHunting  = "hunting"
	PhaseAdapting = "adapting"
	PhaseWaiting  = "waiting"
)

// Adaptation records one interval change made by the autopilot.
type Adaptation struct {
	OldInterval time.Duration `json:"old_interval"`
	NewInterval time.Duration `json:"new_interval"`
	Confidence  float64       `json:"confidence"`
	Reason      string        `json:"reason"`
	At          time.Time     `json:"at"`
}

// AutopilotState is the scheduler state, persisted across restarts.
type AutopilotState struct {
	Running    bool          `json:"running"`
	Phase      string        `json:"phase"`
	Interval   time.Duration `json:"interval"`
	HuntCount  int           `json:"hunt_count"`
	TopicIndex int           `json:"topic_index"`
	LastTopic  string        `json:"last_topic,omitempty"`
	History    []Adaptation  `json:"history,omitempty"`
}
