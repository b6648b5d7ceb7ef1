// Package plan implements the Plan Model operations of spec.md §4.5: a
// thin, lock-aware mutation layer over pkg/sessionstore's subtask CRUD.
//
// Grounded on the teacher's pkg/services/stage_service.go, which applies
// the same shape of reasoning (validate input, check a gating condition,
// apply a whole-row update, return the mutated entity) for stage/agent
// execution status transitions — generalized here to the subtask status
// machine and the plan-lock invariant spec.md §4.9 requires the
// Orchestrator to enforce.
package plan

import (
	"context"
	"fmt"

	"github.com/triadwork/triad/pkg/errs"
	"github.com/triadwork/triad/pkg/models"
)

// Store is the subset of pkg/sessionstore.Postgres the Plan Model needs.
type Store interface {
	GetSession(ctx context.Context, id string, includeDeleted bool) (*models.Session, error)
	GetPlan(ctx context.Context, sessionID string) (*models.Plan, error)
	AppendSubtask(ctx context.Context, sessionID, title, notes string) (*models.Subtask, error)
	InsertSubtask(ctx context.Context, sessionID string, idx int, title, notes string) (*models.Subtask, error)
	UpdateSubtask(ctx context.Context, st *models.Subtask) error
	SkipSubtask(ctx context.Context, subtaskID string) error
	GetState(ctx context.Context, sessionID string) (*models.OrchestratorState, error)
	SaveState(ctx context.Context, state *models.OrchestratorState) error
}

// Model is the Plan Model: Store-backed, lock-aware subtask mutations.
type Model struct {
	store Store
}

// New constructs a Model over store.
func New(store Store) *Model {
	return &Model{store: store}
}

func (m *Model) requireUnlocked(ctx context.Context, sessionID string) error {
	sess, err := m.store.GetSession(ctx, sessionID, false)
	if err != nil {
		return err
	}
	if sess.PlanLocked {
		return errs.NewValidationError("plan_locked", "plan is locked; use an allowed locked-mode operation")
	}
	return nil
}

// AppendSubtask adds a new pending subtask at the end of the plan. Fails
// while the plan is locked.
func (m *Model) AppendSubtask(ctx context.Context, sessionID, title, notes string) (*models.Subtask, error) {
	if err := m.requireUnlocked(ctx, sessionID); err != nil {
		return nil, err
	}
	if title == "" {
		return nil, errs.NewValidationError("title", "required")
	}
	return m.store.AppendSubtask(ctx, sessionID, title, notes)
}

// InsertSubtask inserts a new pending subtask immediately after afterID.
// Fails while the plan is locked.
func (m *Model) InsertSubtask(ctx context.Context, sessionID, afterID, title, notes string) (*models.Subtask, error) {
	if err := m.requireUnlocked(ctx, sessionID); err != nil {
		return nil, err
	}
	if title == "" {
		return nil, errs.NewValidationError("title", "required")
	}
	plan, err := m.store.GetPlan(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	idx := plan.IndexOf(afterID)
	if idx < 0 {
		return nil, errs.NewValidationError("after_id", "subtask not found")
	}
	return m.store.InsertSubtask(ctx, sessionID, idx+1, title, notes)
}

// SubtaskPatch carries the mutable title/notes fields update_subtask may
// change; status transitions go through other operations per spec.md §4.5.
type SubtaskPatch struct {
	Title *string
	Notes *string
}

// UpdateSubtask patches a subtask's title/notes. Fails while the plan is
// locked.
func (m *Model) UpdateSubtask(ctx context.Context, sessionID, subtaskID string, patch SubtaskPatch) (*models.Subtask, error) {
	if err := m.requireUnlocked(ctx, sessionID); err != nil {
		return nil, err
	}
	plan, err := m.store.GetPlan(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	st := plan.Get(subtaskID)
	if st == nil {
		return nil, errs.ErrNotFound
	}
	if patch.Title != nil {
		st.Title = *patch.Title
	}
	if patch.Notes != nil {
		st.Notes = *patch.Notes
	}
	if err := m.store.UpdateSubtask(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// SkipSubtask sets a subtask's status to skipped and records reason in its
// notes. Fails while the plan is locked, UNLESS the subtask being skipped
// is the currently in-progress one — spec.md §5's cooperative-cancellation
// carve-out, which the Subtask Executor consults directly rather than
// through this lock check (skip_subtask on the running subtask is issued
// during execution phase, always locked).
func (m *Model) SkipSubtask(ctx context.Context, sessionID, subtaskID, reason string) error {
	state, err := m.store.GetState(ctx, sessionID)
	if err != nil {
		return err
	}
	isRunningSubtask := state.CurrentSubtaskID != nil && *state.CurrentSubtaskID == subtaskID
	if !isRunningSubtask {
		if err := m.requireUnlocked(ctx, sessionID); err != nil {
			return err
		}
	}

	plan, err := m.store.GetPlan(ctx, sessionID)
	if err != nil {
		return err
	}
	st := plan.Get(subtaskID)
	if st == nil {
		return errs.ErrNotFound
	}
	st.Notes = appendReason(st.Notes, reason)
	if err := m.store.UpdateSubtask(ctx, st); err != nil {
		return err
	}
	return m.store.SkipSubtask(ctx, subtaskID)
}

func appendReason(notes, reason string) string {
	if reason == "" {
		return notes
	}
	if notes == "" {
		return "skipped: " + reason
	}
	return notes + "\nskipped: " + reason
}

// SetCurrentSubtask sets OrchestratorState.CurrentSubtaskID, clearing
// in_progress on any other subtask. Allowed even when the plan is locked
// (spec.md §4.5).
func (m *Model) SetCurrentSubtask(ctx context.Context, sessionID, subtaskID string) error {
	plan, err := m.store.GetPlan(ctx, sessionID)
	if err != nil {
		return err
	}
	target := plan.Get(subtaskID)
	if target == nil {
		return errs.ErrNotFound
	}

	for _, st := range plan.Subtasks {
		if st.ID != subtaskID && st.Status == models.SubtaskInProgress {
			st.Status = models.SubtaskPending
			if err := m.store.UpdateSubtask(ctx, st); err != nil {
				return fmt.Errorf("clear in_progress on subtask %s: %w", st.ID, err)
			}
		}
	}

	state, err := m.store.GetState(ctx, sessionID)
	if err != nil {
		return err
	}
	state.CurrentSubtaskID = &subtaskID
	return m.store.SaveState(ctx, state)
}

// ApplyReviewerRevision resets a subtask to pending and returns the
// reviewer's stored revised draft for it. Allowed even when the plan is
// locked (spec.md §4.5). The WorkerOutput overwrite with that text is
// performed by the caller (pkg/orchestrator), which owns the Session Store's
// worker-output table; this method reads the state and updates only the
// subtask's status.
func (m *Model) ApplyReviewerRevision(ctx context.Context, sessionID, subtaskID string) (revisedText string, err error) {
	state, err := m.store.GetState(ctx, sessionID)
	if err != nil {
		return "", err
	}
	revisions := state.ReviewerRevisions()
	revisedText, ok := revisions[subtaskID]
	if !ok {
		return "", errs.NewValidationError("subtask_id", "no stored reviewer revision for this subtask")
	}

	plan, err := m.store.GetPlan(ctx, sessionID)
	if err != nil {
		return "", err
	}
	st := plan.Get(subtaskID)
	if st == nil {
		return "", errs.ErrNotFound
	}
	st.Status = models.SubtaskPending
	if err := m.store.UpdateSubtask(ctx, st); err != nil {
		return "", err
	}

	return revisedText, nil
}
