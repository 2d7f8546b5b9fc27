package models

// Hunt stream stages, emitted in order as a hunt progresses. Every stream
// terminates with StageDone, even after an error.
const (
	StageStart       = "start"
	StagePaying      = "paying"
	StageResult      = "result"
	StageCompetition = "competition"
	StageAlpha       = "alpha"
	StageCached      = "cached"
	StageError       = "error"
	StageDone        = "done"
)

// Bus topics.
const (
	TopicHuntStage      = "hunt.stage"
	TopicAutopilotPhase = "autopilot.phase"
	TopicSettlement     = "settlement.result"
)

// StageEvent is one entry in an incremental hunt stream.
type StageEvent struct {
	Stage   string `json:"stage"`
	HuntID  string `json:"hunt_id"`
	Topic   string `json:"topic,omitempty"`
	Agent   string `json:"agent,omitempty"`
	Message string `json:"message,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// PhaseEvent announces an autopilot phase transition.
type PhaseEvent struct {
	Phase    string `json:"phase"`
	Interval int64  `json:"interval_ms"`
	Topic    string `json:"topic,omitempty"`
}
