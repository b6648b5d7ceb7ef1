package models

import "time"

// Agent identifies the role that produced a ProgressEvent or ChatMessage.
type Agent string

const (
	AgentWorker       Agent = "worker"
	AgentReviewer     Agent = "reviewer"
	AgentPlanner      Agent = "planner"
	AgentOrchestrator Agent = "orchestrator"
)

// Stage is the phase of a ProgressEvent.
type Stage string

const (
	StageStart  Stage = "start"
	StageFinish Stage = "finish"
)

// ProgressEvent is an append-only record of an agent/subtask phase
// transition. It is the authoritative source for UI reconstruction
// (spec.md §4.3, §4.6, §5).
type ProgressEvent struct {
	SessionID  string         `json:"session_id"`
	Sequence   int64          `json:"sequence"`
	Timestamp  time.Time      `json:"ts"`
	Agent      Agent          `json:"agent"`
	SubtaskID  *string        `json:"subtask_id,omitempty"`
	Stage      Stage          `json:"stage"`
	Status     string         `json:"status,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// EnvelopePayloadType enumerates the payload_type discriminator for
// Envelope Log records (spec.md §4.1).
type EnvelopePayloadType string

const (
	PayloadUserCommand   EnvelopePayloadType = "user_command"
	PayloadPlan          EnvelopePayloadType = "plan"
	PayloadTicket        EnvelopePayloadType = "ticket"
	PayloadInstruction   EnvelopePayloadType = "instruction"
	PayloadReport        EnvelopePayloadType = "report"
	PayloadReview        EnvelopePayloadType = "review"
	PayloadArtifactRef   EnvelopePayloadType = "artifact_ref"
	PayloadCoordResponse EnvelopePayloadType = "coord_response"
	PayloadProgressEvent EnvelopePayloadType = "progress_event"
	PayloadError         EnvelopePayloadType = "error"
)

// Envelope is the uniform JSON wrapper carried between the orchestrator and
// its agents (spec.md §6).
type Envelope struct {
	SessionID   string              `json:"session_id"`
	Sequence    int64               `json:"sequence"`
	Timestamp   time.Time           `json:"ts"`
	Source      string              `json:"source"`
	Target      string              `json:"target"`
	PayloadType EnvelopePayloadType `json:"payload_type"`
	Payload     map[string]any      `json:"payload"`
}

// WorkerOutput is a Worker's deliverable for one subtask.
type WorkerOutput struct {
	SubtaskID   string      `json:"subtask_id"`
	Timestamp   time.Time   `json:"timestamp"`
	Preview     string      `json:"preview"`
	Content     string      `json:"content"`
	ArtifactRef ArtifactRef `json:"artifact_ref"`
}

// ArtifactRef points at a stored Worker/Reviewer artifact.
type ArtifactRef struct {
	Label       string `json:"label"`
	URI         string `json:"uri"`
	Digest      string `json:"digest,omitempty"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// ChatRole identifies the speaker of a ChatMessage.
type ChatRole string

const (
	ChatRoleUser         ChatRole = "user"
	ChatRolePlanner      ChatRole = "planner"
	ChatRoleOrchestrator ChatRole = "orchestrator"
	ChatRoleReviewer     ChatRole = "reviewer"
)

// ChatMessage is one turn of one of a session's three chat histories.
type ChatMessage struct {
	Role      ChatRole  `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatHistoryKind selects which of a session's three histories a message
// belongs to (spec.md §3).
type ChatHistoryKind string

const (
	ChatHistoryPlanner      ChatHistoryKind = "planner_chat"
	ChatHistoryOrchestrator ChatHistoryKind = "orchestrator_messages"
	ChatHistoryCoordDecisions ChatHistoryKind = "coord_decisions"
)

// EventsSinceResponse is the payload for GET /sessions/{id}/events.
type EventsSinceResponse struct {
	ProgressEvents     []ProgressEvent `json:"progress_events"`
	WorkerOutputs      []WorkerOutput  `json:"worker_outputs"`
	IsRunning          bool            `json:"is_running"`
	LastProgressEventTS *time.Time     `json:"last_progress_event_ts,omitempty"`
}
