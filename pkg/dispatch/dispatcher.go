package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/triadwork/triad/pkg/errs"
	"github.com/triadwork/triad/pkg/models"
)

// Orchestrator is the subset of pkg/orchestrator.Orchestrator the Dispatcher
// routes commands to. Every method reloads state, performs exactly one
// operation, persists, and returns the resulting snapshot — the contract
// spec.md §4.8 describes for "every invocation."
type Orchestrator interface {
	Plan(ctx context.Context, sessionID string) (*models.SessionSnapshot, error)
	Ask(ctx context.Context, sessionID, text string) (*models.SessionSnapshot, string, error)
	ConfirmPlan(ctx context.Context, sessionID string) (*models.SessionSnapshot, error)
	StartNext(ctx context.Context, sessionID string) (*models.SessionSnapshot, error)
	StartAll(ctx context.Context, sessionID string) (*models.SessionSnapshot, error)
	AppendSubtask(ctx context.Context, sessionID, title, notes string) (*models.SessionSnapshot, error)
	InsertSubtask(ctx context.Context, sessionID, afterID, title, notes string) (*models.SessionSnapshot, error)
	UpdateSubtask(ctx context.Context, sessionID, subtaskID string, title, notes *string) (*models.SessionSnapshot, error)
	SkipSubtask(ctx context.Context, sessionID, subtaskID, reason string) (*models.SessionSnapshot, error)
	SetCurrentSubtask(ctx context.Context, sessionID, subtaskID string) (*models.SessionSnapshot, error)
	ApplyReviewerRevision(ctx context.Context, sessionID, subtaskID string) (*models.SessionSnapshot, error)
	DeleteSession(ctx context.Context, sessionID string) (*models.SessionSnapshot, error)
}

// Dispatcher is the single command-execution entry point shared by the HTTP
// surface and the CLI.
type Dispatcher struct {
	orch Orchestrator
}

// New constructs a Dispatcher over orch.
func New(orch Orchestrator) *Dispatcher {
	return &Dispatcher{orch: orch}
}

// Execute runs one command against sessionID and returns its Result. It
// never returns a Go error for an expected failure kind (spec.md §7's
// "propagated" error kinds surface as `{ok:false, message}`); a non-nil
// error return means something unexpected happened that the caller should
// treat as an internal error (HTTP 500 / CLI non-zero exit).
func (d *Dispatcher) Execute(ctx context.Context, sessionID string, raw RawCommand) (models.CommandResult, error) {
	cmd, err := Parse(raw)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return models.CommandResult{OK: false, Message: verr.Error()}, nil
		}
		return models.CommandResult{}, err
	}

	snapshot, message, err := d.route(ctx, sessionID, cmd)
	if err != nil {
		return mapError(err), nil
	}

	mode := models.SessionMode("")
	if snapshot != nil {
		mode = snapshot.Session.Mode
	}
	return models.CommandResult{OK: true, Message: message, Snapshot: snapshot, Mode: mode}, nil
}

func (d *Dispatcher) route(ctx context.Context, sessionID string, cmd Command) (*models.SessionSnapshot, string, error) {
	switch cmd.Kind {
	case KindPlan:
		snap, err := d.orch.Plan(ctx, sessionID)
		return snap, "plan", err
	case KindAsk:
		snap, reply, err := d.orch.Ask(ctx, sessionID, cmd.Text)
		return snap, reply, err
	case KindConfirmPlan:
		snap, err := d.orch.ConfirmPlan(ctx, sessionID)
		return snap, "plan confirmed", err
	case KindNext:
		snap, err := d.orch.StartNext(ctx, sessionID)
		return snap, "running next subtask", err
	case KindAll:
		snap, err := d.orch.StartAll(ctx, sessionID)
		return snap, "running all subtasks", err
	case KindAppendSubtask:
		snap, err := d.orch.AppendSubtask(ctx, sessionID, cmd.Title, cmd.Notes)
		return snap, "subtask appended", err
	case KindInsertSubtask:
		snap, err := d.orch.InsertSubtask(ctx, sessionID, cmd.AfterID, cmd.Title, cmd.Notes)
		return snap, "subtask inserted", err
	case KindUpdateSubtask:
		snap, err := d.orch.UpdateSubtask(ctx, sessionID, cmd.SubtaskID, cmd.NewTitle, cmd.NewNotes)
		return snap, "subtask updated", err
	case KindSkipSubtask:
		snap, err := d.orch.SkipSubtask(ctx, sessionID, cmd.SubtaskID, cmd.Reason)
		return snap, "subtask skipped", err
	case KindSetCurrentSubtask:
		snap, err := d.orch.SetCurrentSubtask(ctx, sessionID, cmd.SubtaskID)
		return snap, "current subtask set", err
	case KindApplyReviewerRevision:
		snap, err := d.orch.ApplyReviewerRevision(ctx, sessionID, cmd.SubtaskID)
		return snap, "reviewer revision applied", err
	case KindDeleteSession:
		snap, err := d.orch.DeleteSession(ctx, sessionID)
		return snap, "session deleted", err
	default:
		return nil, "", fmt.Errorf("dispatch: unreachable command kind %q", cmd.Kind)
	}
}

// mapError converts an error-kind sentinel from spec.md §7 into a
// {ok:false, message} Result, the way pkg/api/errors.go maps the same
// sentinels to HTTP status codes at the outer boundary.
func mapError(err error) models.CommandResult {
	var verr *errs.ValidationError
	switch {
	case errors.As(err, &verr):
		return models.CommandResult{OK: false, Message: verr.Error()}
	case errors.Is(err, errs.ErrNotFound):
		return models.CommandResult{OK: false, Message: "not found"}
	case errors.Is(err, errs.ErrAlreadyRunning):
		return models.CommandResult{OK: false, Message: "session is already running"}
	case errors.Is(err, errs.ErrPlanNotConfirmed):
		return models.CommandResult{OK: false, Message: "plan has not been confirmed yet"}
	case errors.Is(err, errs.ErrRedoBudgetExhausted):
		return models.CommandResult{OK: false, Message: "redo budget exhausted"}
	case errors.Is(err, errs.ErrUnauthorized):
		return models.CommandResult{OK: false, Message: "unauthorized"}
	default:
		return models.CommandResult{OK: false, Message: "internal error: " + err.Error()}
	}
}
