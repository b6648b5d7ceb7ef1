package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triadwork/triad/pkg/errs"
	"github.com/triadwork/triad/pkg/models"
)

// fakeOrchestrator lets each test stub the single method the Command under
// test should reach, and fails the test if an unexpected one is called.
type fakeOrchestrator struct {
	t *testing.T

	planFn                   func(ctx context.Context, sessionID string) (*models.SessionSnapshot, error)
	askFn                    func(ctx context.Context, sessionID, text string) (*models.SessionSnapshot, string, error)
	confirmPlanFn            func(ctx context.Context, sessionID string) (*models.SessionSnapshot, error)
	startNextFn              func(ctx context.Context, sessionID string) (*models.SessionSnapshot, error)
	startAllFn               func(ctx context.Context, sessionID string) (*models.SessionSnapshot, error)
	appendSubtaskFn          func(ctx context.Context, sessionID, title, notes string) (*models.SessionSnapshot, error)
	insertSubtaskFn          func(ctx context.Context, sessionID, afterID, title, notes string) (*models.SessionSnapshot, error)
	updateSubtaskFn          func(ctx context.Context, sessionID, subtaskID string, title, notes *string) (*models.SessionSnapshot, error)
	skipSubtaskFn            func(ctx context.Context, sessionID, subtaskID, reason string) (*models.SessionSnapshot, error)
	setCurrentSubtaskFn      func(ctx context.Context, sessionID, subtaskID string) (*models.SessionSnapshot, error)
	applyReviewerRevisionFn  func(ctx context.Context, sessionID, subtaskID string) (*models.SessionSnapshot, error)
	deleteSessionFn          func(ctx context.Context, sessionID string) (*models.SessionSnapshot, error)
}

func (f *fakeOrchestrator) Plan(ctx context.Context, sessionID string) (*models.SessionSnapshot, error) {
	if f.planFn != nil {
		return f.planFn(ctx, sessionID)
	}
	f.t.Fatal("Plan: unexpected call")
	return nil, nil
}

func (f *fakeOrchestrator) Ask(ctx context.Context, sessionID, text string) (*models.SessionSnapshot, string, error) {
	if f.askFn != nil {
		return f.askFn(ctx, sessionID, text)
	}
	f.t.Fatal("Ask: unexpected call")
	return nil, "", nil
}

func (f *fakeOrchestrator) ConfirmPlan(ctx context.Context, sessionID string) (*models.SessionSnapshot, error) {
	if f.confirmPlanFn != nil {
		return f.confirmPlanFn(ctx, sessionID)
	}
	f.t.Fatal("ConfirmPlan: unexpected call")
	return nil, nil
}

func (f *fakeOrchestrator) StartNext(ctx context.Context, sessionID string) (*models.SessionSnapshot, error) {
	if f.startNextFn != nil {
		return f.startNextFn(ctx, sessionID)
	}
	f.t.Fatal("StartNext: unexpected call")
	return nil, nil
}

func (f *fakeOrchestrator) StartAll(ctx context.Context, sessionID string) (*models.SessionSnapshot, error) {
	if f.startAllFn != nil {
		return f.startAllFn(ctx, sessionID)
	}
	f.t.Fatal("StartAll: unexpected call")
	return nil, nil
}

func (f *fakeOrchestrator) AppendSubtask(ctx context.Context, sessionID, title, notes string) (*models.SessionSnapshot, error) {
	if f.appendSubtaskFn != nil {
		return f.appendSubtaskFn(ctx, sessionID, title, notes)
	}
	f.t.Fatal("AppendSubtask: unexpected call")
	return nil, nil
}

func (f *fakeOrchestrator) InsertSubtask(ctx context.Context, sessionID, afterID, title, notes string) (*models.SessionSnapshot, error) {
	if f.insertSubtaskFn != nil {
		return f.insertSubtaskFn(ctx, sessionID, afterID, title, notes)
	}
	f.t.Fatal("InsertSubtask: unexpected call")
	return nil, nil
}

func (f *fakeOrchestrator) UpdateSubtask(ctx context.Context, sessionID, subtaskID string, title, notes *string) (*models.SessionSnapshot, error) {
	if f.updateSubtaskFn != nil {
		return f.updateSubtaskFn(ctx, sessionID, subtaskID, title, notes)
	}
	f.t.Fatal("UpdateSubtask: unexpected call")
	return nil, nil
}

func (f *fakeOrchestrator) SkipSubtask(ctx context.Context, sessionID, subtaskID, reason string) (*models.SessionSnapshot, error) {
	if f.skipSubtaskFn != nil {
		return f.skipSubtaskFn(ctx, sessionID, subtaskID, reason)
	}
	f.t.Fatal("SkipSubtask: unexpected call")
	return nil, nil
}

func (f *fakeOrchestrator) SetCurrentSubtask(ctx context.Context, sessionID, subtaskID string) (*models.SessionSnapshot, error) {
	if f.setCurrentSubtaskFn != nil {
		return f.setCurrentSubtaskFn(ctx, sessionID, subtaskID)
	}
	f.t.Fatal("SetCurrentSubtask: unexpected call")
	return nil, nil
}

func (f *fakeOrchestrator) ApplyReviewerRevision(ctx context.Context, sessionID, subtaskID string) (*models.SessionSnapshot, error) {
	if f.applyReviewerRevisionFn != nil {
		return f.applyReviewerRevisionFn(ctx, sessionID, subtaskID)
	}
	f.t.Fatal("ApplyReviewerRevision: unexpected call")
	return nil, nil
}

func (f *fakeOrchestrator) DeleteSession(ctx context.Context, sessionID string) (*models.SessionSnapshot, error) {
	if f.deleteSessionFn != nil {
		return f.deleteSessionFn(ctx, sessionID)
	}
	f.t.Fatal("DeleteSession: unexpected call")
	return nil, nil
}

func TestDispatcherExecuteRoutesToOrchestrator(t *testing.T) {
	snapshot := &models.SessionSnapshot{Session: models.Session{ID: "sess-1", Mode: models.SessionModeExecution}}
	fake := &fakeOrchestrator{
		t: t,
		startNextFn: func(ctx context.Context, sessionID string) (*models.SessionSnapshot, error) {
			assert.Equal(t, "sess-1", sessionID)
			return snapshot, nil
		},
	}
	d := New(fake)

	result, err := d.Execute(context.Background(), "sess-1", RawCommand{Command: "next"})

	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, "running next subtask", result.Message)
	assert.Same(t, snapshot, result.Snapshot)
	assert.Equal(t, models.SessionModeExecution, result.Mode)
}

func TestDispatcherExecuteInvalidCommandIsNotAGoError(t *testing.T) {
	fake := &fakeOrchestrator{t: t}
	d := New(fake)

	result, err := d.Execute(context.Background(), "sess-1", RawCommand{Command: "bogus"})

	require.NoError(t, err, "a malformed command is a {ok:false} result, not a Go error")
	assert.False(t, result.OK)
	assert.Contains(t, result.Message, "unrecognized command")
}

func TestDispatcherExecuteMapsKnownOrchestratorErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"not found", errs.ErrNotFound, "not found"},
		{"already running", errs.ErrAlreadyRunning, "session is already running"},
		{"plan not confirmed", errs.ErrPlanNotConfirmed, "plan has not been confirmed yet"},
		{"redo budget exhausted", errs.ErrRedoBudgetExhausted, "redo budget exhausted"},
		{"unauthorized", errs.ErrUnauthorized, "unauthorized"},
		{"validation", errs.NewValidationError("title", "required"), "validation failed: title: required"},
		{"unexpected", errors.New("boom"), "internal error: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeOrchestrator{
				t: t,
				planFn: func(ctx context.Context, sessionID string) (*models.SessionSnapshot, error) {
					return nil, tt.err
				},
			}
			d := New(fake)

			result, err := d.Execute(context.Background(), "sess-1", RawCommand{Command: "plan"})

			require.NoError(t, err)
			assert.False(t, result.OK)
			assert.Equal(t, tt.wantMsg, result.Message)
			assert.Nil(t, result.Snapshot)
		})
	}
}

func TestDispatcherExecuteAsk(t *testing.T) {
	snapshot := &models.SessionSnapshot{Session: models.Session{ID: "sess-1"}}
	fake := &fakeOrchestrator{
		t: t,
		askFn: func(ctx context.Context, sessionID, text string) (*models.SessionSnapshot, string, error) {
			assert.Equal(t, "what's left?", text)
			return snapshot, fmt.Sprintf("reply to %q", text), nil
		},
	}
	d := New(fake)

	result, err := d.Execute(context.Background(), "sess-1", RawCommand{
		Command: "ask",
		Payload: map[string]any{"text": "what's left?"},
	})

	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, `reply to "what's left?"`, result.Message)
}
