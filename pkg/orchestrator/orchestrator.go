// Package orchestrator implements the Orchestrator (spec.md §4.9): the
// component that composes the Session Store, Plan Model, Agent Runner,
// Subtask Executor, Background Runner, Progress Emitter, and Envelope Log,
// enforces the `plan_locked ⇔ session_mode = execution` invariant, and
// assembles the full read-path snapshot — including the progress-event-tail
// merge spec.md §4.3 describes, which pkg/sessionstore.Snapshot
// deliberately leaves to this package.
//
// Grounded on the teacher's cmd/tarsy/main.go wiring style (one process-wide
// service holding every collaborator, constructed once at startup) and
// pkg/services/session_service.go's orchestration-over-lower-layers shape,
// generalized from tarsy's single alert-processing pipeline to this
// domain's multi-command, two-phase session lifecycle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/triadwork/triad/pkg/agent"
	"github.com/triadwork/triad/pkg/artifact"
	"github.com/triadwork/triad/pkg/background"
	"github.com/triadwork/triad/pkg/envelope"
	"github.com/triadwork/triad/pkg/errs"
	"github.com/triadwork/triad/pkg/models"
	"github.com/triadwork/triad/pkg/plan"
	"github.com/triadwork/triad/pkg/progress"
)

// Store is the subset of pkg/sessionstore.Postgres the Orchestrator needs
// beyond what it delegates to pkg/plan.Model and pkg/executor.Executor.
type Store interface {
	CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error)
	GetSession(ctx context.Context, id string, includeDeleted bool) (*models.Session, error)
	ListSessions(ctx context.Context, filters models.SessionFilters) ([]models.SessionSummary, error)
	LockPlan(ctx context.Context, sessionID string) error
	SoftDeleteSession(ctx context.Context, sessionID string) error
	GetPlan(ctx context.Context, sessionID string) (*models.Plan, error)
	ReplaceSubtasks(ctx context.Context, sessionID string, titles []string) (*models.Plan, error)
	SetPlanTitle(ctx context.Context, sessionID, title string) error
	GetState(ctx context.Context, sessionID string) (*models.OrchestratorState, error)
	SaveState(ctx context.Context, state *models.OrchestratorState) error
	AppendChatMessage(ctx context.Context, sessionID string, kind models.ChatHistoryKind, msg models.ChatMessage) error
	ListChatMessages(ctx context.Context, sessionID string, kind models.ChatHistoryKind) ([]models.ChatMessage, error)
	Snapshot(ctx context.Context, sessionID string) (*models.SessionSnapshot, error)
	ListWorkerOutputs(ctx context.Context, sessionID string) ([]models.WorkerOutput, error)
	ReplaceLatestWorkerOutput(ctx context.Context, sessionID, subtaskID, revisedText string, ref models.ArtifactRef) error
}

// Envelopes is the subset of pkg/envelope.Postgres the Orchestrator needs.
type Envelopes interface {
	Append(ctx context.Context, env models.Envelope) (int64, error)
	LatestPlanSnapshot(ctx context.Context, sessionID string) (*models.Plan, error)
}

// Orchestrator composes the whole system and is the sole entry point both
// pkg/dispatch and pkg/api call into.
type Orchestrator struct {
	store     Store
	plan      *plan.Model
	runner    agent.Runner
	progress  progress.Emitter
	envelopes Envelopes
	bg        *background.Runner
	artifacts artifact.Store
}

// New constructs an Orchestrator.
func New(store Store, planModel *plan.Model, runner agent.Runner, prog progress.Emitter, env Envelopes, bg *background.Runner, artifacts artifact.Store) *Orchestrator {
	return &Orchestrator{store: store, plan: planModel, runner: runner, progress: prog, envelopes: env, bg: bg, artifacts: artifacts}
}

// CreateSession creates a new session, seeds the four preparatory subtasks
// in novel mode, and records the resulting initial plan (empty otherwise) as
// the first PayloadPlan envelope, the ground-truth log's first entry.
func (o *Orchestrator) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.SessionSnapshot, error) {
	sess, err := o.store.CreateSession(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.NovelMode {
		titles := novelModePreparatorySubtasks()
		if _, err := o.store.ReplaceSubtasks(ctx, sess.ID, titles); err != nil {
			return nil, fmt.Errorf("seed novel-mode subtasks for session %s: %w", sess.ID, err)
		}
	}

	emptyPlan, err := o.store.GetPlan(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if err := o.recordPlanSnapshot(ctx, sess.ID, emptyPlan); err != nil {
		return nil, err
	}

	return o.GetSnapshot(ctx, sess.ID)
}

func novelModePreparatorySubtasks() []string {
	return []string{
		"Research: gather background material for the story's setting and themes",
		"Characters: develop the principal characters and their arcs",
		"Plot: outline the overall plot structure",
		"Chapter map: lay out the chapter-by-chapter structure",
	}
}

// ListSessions returns a page of session summaries for owner.
func (o *Orchestrator) ListSessions(ctx context.Context, filters models.SessionFilters) ([]models.SessionSummary, error) {
	return o.store.ListSessions(ctx, filters)
}

// GetSnapshot assembles the full read-path snapshot for sessionID, merging
// the progress-event tail and the envelope log's latest plan snapshot onto
// the Session Store's base snapshot (spec.md §4.3).
func (o *Orchestrator) GetSnapshot(ctx context.Context, sessionID string) (*models.SessionSnapshot, error) {
	snapshot, err := o.store.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := o.mergeProgressTail(ctx, sessionID, snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// mergeProgressTail applies spec.md §4.3's two merge rules on top of the
// Session Store's base snapshot:
//  1. if the envelope log holds a PayloadPlan envelope, it is the
//     authoritative plan (the log is ground truth; the `plans` table is a
//     materialized view of it per spec.md §9's Design Notes);
//  2. a subtask stored as in_progress whose most recent progress event is a
//     start with no matching finish is flagged stalled, so a crashed or
//     killed background run is visible to a poller instead of silently
//     wedging the subtask at in_progress forever.
func (o *Orchestrator) mergeProgressTail(ctx context.Context, sessionID string, snapshot *models.SessionSnapshot) error {
	if latestPlan, err := o.envelopes.LatestPlanSnapshot(ctx, sessionID); err == nil {
		snapshot.Plan = latestPlan
	} else if !errors.Is(err, errs.ErrNotFound) {
		return fmt.Errorf("load latest plan snapshot for session %s: %w", sessionID, err)
	}

	events, err := o.progress.ListSince(ctx, sessionID, 0)
	if err != nil {
		return fmt.Errorf("load progress events for session %s: %w", sessionID, err)
	}
	lastBySubtask := make(map[string]models.ProgressEvent, len(events))
	for _, ev := range events {
		if ev.SubtaskID == nil {
			continue
		}
		lastBySubtask[*ev.SubtaskID] = ev
	}

	var stalled []string
	for _, st := range snapshot.Plan.Subtasks {
		if st.Status != models.SubtaskInProgress {
			continue
		}
		if last, ok := lastBySubtask[st.ID]; ok && last.Stage == models.StageStart {
			stalled = append(stalled, st.ID)
		}
	}
	if len(stalled) > 0 {
		if snapshot.State.Extra == nil {
			snapshot.State.Extra = map[string]any{}
		}
		snapshot.State.Extra["stalled_subtask_ids"] = stalled
	}
	return nil
}

// EventsSince serves GET /sessions/{id}/events?since=...: it returns every
// progress event and worker output strictly newer than since, plus whether
// the session is currently running, so a polling client knows when to stop.
func (o *Orchestrator) EventsSince(ctx context.Context, sessionID string, since time.Time) (models.EventsSinceResponse, error) {
	events, err := o.progress.ListSince(ctx, sessionID, 0)
	if err != nil {
		return models.EventsSinceResponse{}, err
	}
	var filtered []models.ProgressEvent
	var lastTS *time.Time
	for _, ev := range events {
		if ev.Timestamp.After(since) {
			filtered = append(filtered, ev)
		}
		t := ev.Timestamp
		lastTS = &t
	}

	outputs, err := o.store.ListWorkerOutputs(ctx, sessionID)
	if err != nil {
		return models.EventsSinceResponse{}, err
	}
	var filteredOutputs []models.WorkerOutput
	for _, out := range outputs {
		if out.Timestamp.After(since) {
			filteredOutputs = append(filteredOutputs, out)
		}
	}

	state, err := o.store.GetState(ctx, sessionID)
	if err != nil {
		return models.EventsSinceResponse{}, err
	}

	return models.EventsSinceResponse{
		ProgressEvents:      filtered,
		WorkerOutputs:       filteredOutputs,
		IsRunning:           state.Status == models.OrchestratorRunning || o.bg.IsRunning(sessionID),
		LastProgressEventTS: lastTS,
	}, nil
}

// recordPlanSnapshot appends the current plan as a PayloadPlan envelope,
// the event the "ground truth" model of spec.md §9 relies on.
func (o *Orchestrator) recordPlanSnapshot(ctx context.Context, sessionID string, p *models.Plan) error {
	payload, err := envelope.PlanPayload(p)
	if err != nil {
		return err
	}
	_, err = o.envelopes.Append(ctx, models.Envelope{
		SessionID:   sessionID,
		Timestamp:   time.Now().UTC(),
		Source:      string(models.AgentOrchestrator),
		Target:      "log",
		PayloadType: models.PayloadPlan,
		Payload:     payload,
	})
	return err
}

func (o *Orchestrator) reloadAndRecordPlan(ctx context.Context, sessionID string) error {
	p, err := o.store.GetPlan(ctx, sessionID)
	if err != nil {
		return err
	}
	return o.recordPlanSnapshot(ctx, sessionID, p)
}

// Plan returns the current snapshot unchanged; `plan` is a read-only
// command in both planning and execution phase (spec.md §4.8).
func (o *Orchestrator) Plan(ctx context.Context, sessionID string) (*models.SessionSnapshot, error) {
	return o.GetSnapshot(ctx, sessionID)
}

