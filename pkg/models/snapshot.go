package models

// SessionSnapshot is the fully assembled, read-path view of a session: the
// merge of the persisted plan, orchestrator state, and progress-event tail
// described in spec.md §4.3.
type SessionSnapshot struct {
	Session               Session           `json:"session"`
	Plan                  *Plan             `json:"plan"`
	State                 OrchestratorState `json:"state"`
	PlannerChat           []ChatMessage     `json:"planner_chat"`
	OrchestratorMessages  []ChatMessage     `json:"orchestrator_messages"`
	CoordDecisions        []ChatMessage     `json:"coord_decisions"`
}

// CommandResult is the uniform return value of the Command Dispatcher
// (spec.md §4.8).
type CommandResult struct {
	OK       bool             `json:"ok"`
	Message  string           `json:"message"`
	Snapshot *SessionSnapshot `json:"snapshot,omitempty"`
	Mode     SessionMode      `json:"mode,omitempty"`
}
