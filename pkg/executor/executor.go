// Package executor implements the Subtask Executor (spec.md §4.6): the
// Worker-draft → Reviewer-verdict → status-transition loop for exactly one
// subtask, with a bounded redo budget.
//
// Grounded on the teacher's pkg/queue/executor.go composition style
// (an executor struct wiring store/agent/progress/artifact collaborators
// behind a single entry point) and pkg/queue/worker.go's per-session
// timeout and cancellation handling, narrowed from tarsy's multi-stage,
// multi-agent pipeline to this domain's single Worker/Reviewer pair per
// subtask.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/triadwork/triad/pkg/agent"
	"github.com/triadwork/triad/pkg/artifact"
	"github.com/triadwork/triad/pkg/errs"
	"github.com/triadwork/triad/pkg/models"
	"github.com/triadwork/triad/pkg/progress"
)

// DefaultRedoBudget is the number of REDO verdicts a subtask tolerates
// before force-accepting the Worker's latest draft (spec.md §4.6 step 8;
// default decided and recorded in DESIGN.md's Open Question section).
const DefaultRedoBudget = 2

// DefaultInvocationTimeout is the per-agent-call deadline (spec.md §5).
const DefaultInvocationTimeout = 120 * time.Second

// ReviewerBatchSize is how many completed reviewer turns the counter at
// state.Extra[models.ExtraReviewerBatchIndex] counts before wrapping to 0
// (spec.md §4.6 step 9). The counter advances in every mode; the Reviewer
// gets a freshly built input on each call, so no conversation memory is
// carried between turns.
const ReviewerBatchSize = 5

// Store is the subset of pkg/sessionstore.Postgres the executor needs.
type Store interface {
	GetSession(ctx context.Context, id string, includeDeleted bool) (*models.Session, error)
	GetPlan(ctx context.Context, sessionID string) (*models.Plan, error)
	UpdateSubtask(ctx context.Context, st *models.Subtask) error
	SaveWorkerOutput(ctx context.Context, sessionID string, out models.WorkerOutput) error
	ListWorkerOutputs(ctx context.Context, sessionID string) ([]models.WorkerOutput, error)
	GetState(ctx context.Context, sessionID string) (*models.OrchestratorState, error)
	SaveState(ctx context.Context, state *models.OrchestratorState) error
	AppendChatMessage(ctx context.Context, sessionID string, kind models.ChatHistoryKind, msg models.ChatMessage) error
}

// Outcome reports how a subtask's Run terminated, so the Background Runner
// knows whether to continue its loop.
type Outcome string

const (
	OutcomeDone    Outcome = "done"
	OutcomeSkipped Outcome = "skipped"
	OutcomeRedo    Outcome = "redo" // reset to pending, caller may retry in the same turn
	OutcomeError   Outcome = "error"
)

// Executor runs the Worker/Reviewer loop for one subtask at a time.
type Executor struct {
	store     Store
	runner    agent.Runner
	emitter   progress.Emitter
	artifacts artifact.Store
	redoBudget int
	timeout    time.Duration
}

// New constructs an Executor.
func New(store Store, runner agent.Runner, emitter progress.Emitter, artifacts artifact.Store) *Executor {
	return &Executor{
		store:      store,
		runner:     runner,
		emitter:    emitter,
		artifacts:  artifacts,
		redoBudget: DefaultRedoBudget,
		timeout:    DefaultInvocationTimeout,
	}
}

// isSkipRequested reports whether subtaskID has been skipped out from under
// a running executor — the cooperative-cancellation check spec.md §5 wants
// performed "before starting the reviewer phase".
func (e *Executor) isSkipRequested(ctx context.Context, sessionID, subtaskID string) (bool, error) {
	plan, err := e.store.GetPlan(ctx, sessionID)
	if err != nil {
		return false, err
	}
	st := plan.Get(subtaskID)
	if st == nil {
		return false, errs.ErrNotFound
	}
	return st.Status == models.SubtaskSkipped, nil
}

// Run executes subtaskID to completion (ACCEPT, force-accept, or a single
// REDO cycle) and returns how it ended.
func (e *Executor) Run(ctx context.Context, sessionID, subtaskID string) (Outcome, error) {
	plan, err := e.store.GetPlan(ctx, sessionID)
	if err != nil {
		return OutcomeError, err
	}
	st := plan.Get(subtaskID)
	if st == nil {
		return OutcomeError, errs.ErrNotFound
	}

	sess, err := e.store.GetSession(ctx, sessionID, false)
	if err != nil {
		return OutcomeError, err
	}

	// Step 1: mark in_progress, emit (worker, id, start).
	st.Status = models.SubtaskInProgress
	if err := e.store.UpdateSubtask(ctx, st); err != nil {
		return OutcomeError, fmt.Errorf("mark subtask %s in_progress: %w", subtaskID, err)
	}
	if err := progress.EmitStart(ctx, e.emitter, sessionID, models.AgentWorker, &subtaskID, nil); err != nil {
		return OutcomeError, fmt.Errorf("emit worker start: %w", err)
	}

	// Step 2: build Worker input (buildWorkerInput also adds the novel-mode
	// context: prior chapters for t1-t4, the rolling summary plus the
	// preceding chapter from t5 on).
	workerInput, err := e.buildWorkerInput(ctx, sess, plan, st)
	if err != nil {
		return OutcomeError, err
	}

	// Step 3: invoke Worker, with the per-invocation timeout; a timeout here
	// is treated as a REDO (spec.md §5).
	workerCtx, cancel := context.WithTimeout(ctx, e.timeout)
	workerResp, err := e.runner.Invoke(workerCtx, agent.Request{
		Persona: agent.PersonaWorker,
		Messages: []agent.Message{
			{Role: "system", Content: agent.SystemPrompt(agent.PersonaWorker)},
			{Role: "user", Content: workerInput},
		},
	})
	cancel()

	if err != nil {
		if workerCtx.Err() == context.DeadlineExceeded {
			slog.Warn("worker invocation timed out, treating as redo", "session_id", sessionID, "subtask_id", subtaskID)
			return e.handleRedo(ctx, sess, plan, st, "worker timeout")
		}
		return OutcomeError, fmt.Errorf("invoke worker for subtask %s: %w", subtaskID, err)
	}

	preview := workerResp.Content
	if len(preview) > 300 {
		preview = preview[:300]
	}
	ref, err := e.artifacts.Put(ctx, sessionID, "worker_output_"+subtaskID, "text/plain", []byte(workerResp.Content))
	if err != nil {
		return OutcomeError, fmt.Errorf("store worker artifact: %w", err)
	}
	workerOutput := models.WorkerOutput{
		SubtaskID:   subtaskID,
		Timestamp:   nowUTC(),
		Preview:     preview,
		Content:     workerResp.Content,
		ArtifactRef: ref,
	}
	if err := e.store.SaveWorkerOutput(ctx, sessionID, workerOutput); err != nil {
		return OutcomeError, fmt.Errorf("persist worker output: %w", err)
	}

	// Step 4: emit (worker, id, finish, completed) — must persist before
	// step 5 begins (spec.md §4.6 atomicity contract).
	if err := progress.EmitFinish(ctx, e.emitter, sessionID, models.AgentWorker, &subtaskID, "completed", map[string]any{"preview": preview}); err != nil {
		return OutcomeError, fmt.Errorf("emit worker finish: %w", err)
	}

	// Cooperative cancellation check before the reviewer phase.
	if skipped, err := e.isSkipRequested(ctx, sessionID, subtaskID); err != nil {
		return OutcomeError, err
	} else if skipped {
		return OutcomeSkipped, nil
	}

	// Step 5: emit (reviewer, id, start).
	if err := progress.EmitStart(ctx, e.emitter, sessionID, models.AgentReviewer, &subtaskID, nil); err != nil {
		return OutcomeError, fmt.Errorf("emit reviewer start: %w", err)
	}

	reviewerInput := e.buildReviewerInput(sess, plan, st, workerOutput)

	reviewerCtx, cancel := context.WithTimeout(ctx, e.timeout)
	reviewerResp, err := e.runner.Invoke(reviewerCtx, agent.Request{
		Persona: agent.PersonaReviewer,
		Messages: []agent.Message{
			{Role: "system", Content: agent.SystemPrompt(agent.PersonaReviewer)},
			{Role: "user", Content: reviewerInput},
		},
	})
	cancel()

	if err != nil {
		if reviewerCtx.Err() == context.DeadlineExceeded {
			slog.Warn("reviewer invocation timed out, force-accepting", "session_id", sessionID, "subtask_id", subtaskID)
			return e.forceAccept(ctx, sess, plan, st, "reviewer timeout")
		}
		return OutcomeError, fmt.Errorf("invoke reviewer for subtask %s: %w", subtaskID, err)
	}

	verdict, rationale, revisedText := parseVerdict(reviewerResp.Content)

	if err := e.store.AppendChatMessage(ctx, sessionID, models.ChatHistoryCoordDecisions, models.ChatMessage{
		Role:      models.ChatRoleReviewer,
		Content:   reviewerResp.Content,
		Timestamp: nowUTC(),
	}); err != nil {
		return OutcomeError, fmt.Errorf("record reviewer decision: %w", err)
	}

	if revisedText != "" {
		if err := e.storeReviewerRevision(ctx, sessionID, subtaskID, revisedText); err != nil {
			return OutcomeError, err
		}
	}

	if err := e.bumpReviewerBatchCounter(ctx, sessionID); err != nil {
		return OutcomeError, err
	}

	switch verdict {
	case "ACCEPT":
		st.Status = models.SubtaskDone
		st.LastDecisionRef = rationale
		if err := e.store.UpdateSubtask(ctx, st); err != nil {
			return OutcomeError, fmt.Errorf("mark subtask %s done: %w", subtaskID, err)
		}
		if err := e.recordNovelSummaryIfT4(ctx, sess, plan, st); err != nil {
			return OutcomeError, err
		}
		if err := progress.EmitFinish(ctx, e.emitter, sessionID, models.AgentReviewer, &subtaskID, "completed", map[string]any{"verdict": "ACCEPT"}); err != nil {
			return OutcomeError, fmt.Errorf("emit reviewer finish: %w", err)
		}
		return OutcomeDone, nil

	case "REDO":
		return e.handleRedo(ctx, sess, plan, st, rationale)

	default:
		// Unparseable verdict: treat conservatively as REDO rather than
		// silently accepting unreviewed output.
		return e.handleRedo(ctx, sess, plan, st, "unparseable reviewer verdict, treated as redo")
	}
}

func (e *Executor) handleRedo(ctx context.Context, sess *models.Session, plan *models.Plan, st *models.Subtask, reason string) (Outcome, error) {
	sessionID := sess.ID
	st.RedoCount++
	// redoBudget REDO verdicts are tolerated (recorded as redo events); the
	// (redoBudget+1)th REDO verdict force-accepts instead, matching spec.md
	// §8's "REDO three times in a row, budget=2, ends done after exactly 2
	// redo attempts recorded in events" property.
	if st.RedoCount <= e.redoBudget {
		st.Status = models.SubtaskPending
		st.NeedsRedo = true
		st.LastDecisionRef = reason
		if err := e.store.UpdateSubtask(ctx, st); err != nil {
			return OutcomeError, fmt.Errorf("reset subtask %s to pending for redo: %w", st.ID, err)
		}
		subtaskID := st.ID
		if err := progress.EmitFinish(ctx, e.emitter, sessionID, models.AgentReviewer, &subtaskID, "in_progress", map[string]any{"verdict": "REDO", "reason": reason}); err != nil {
			return OutcomeError, fmt.Errorf("emit reviewer finish (redo): %w", err)
		}
		return OutcomeRedo, nil
	}
	return e.forceAccept(ctx, sess, plan, st, fmt.Sprintf("redo budget exhausted after %d attempts: %s", st.RedoCount, reason))
}

func (e *Executor) forceAccept(ctx context.Context, sess *models.Session, plan *models.Plan, st *models.Subtask, note string) (Outcome, error) {
	sessionID := sess.ID
	st.Status = models.SubtaskDone
	st.NeedsRedo = false
	st.LastDecisionRef = note
	if err := e.store.UpdateSubtask(ctx, st); err != nil {
		return OutcomeError, fmt.Errorf("force-accept subtask %s: %w", st.ID, err)
	}
	if err := e.recordNovelSummaryIfT4(ctx, sess, plan, st); err != nil {
		return OutcomeError, err
	}
	subtaskID := st.ID
	if err := progress.EmitFinish(ctx, e.emitter, sessionID, models.AgentReviewer, &subtaskID, "completed", map[string]any{"verdict": "FORCE_ACCEPT", "note": note}); err != nil {
		return OutcomeError, fmt.Errorf("emit reviewer finish (force-accept): %w", err)
	}
	return OutcomeDone, nil
}

// recordNovelSummaryIfT4 computes and stores the rolling summary of chapters
// t1-4 once the fourth novel-mode subtask is accepted (by verdict or
// force-accept), so buildWorkerInput can hand t5 onward the condensed
// summary instead of the full chapter texts (spec.md §4.6 step 7).
func (e *Executor) recordNovelSummaryIfT4(ctx context.Context, sess *models.Session, plan *models.Plan, st *models.Subtask) error {
	novelMode, _ := sess.Extra["novel_mode"].(bool)
	if !novelMode || plan.IndexOf(st.ID) != 3 {
		return nil
	}

	outputs, err := e.store.ListWorkerOutputs(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("load t1-4 outputs for novel summary: %w", err)
	}

	var b strings.Builder
	for _, out := range outputs {
		fmt.Fprintf(&b, "%s: %s\n", out.SubtaskID, out.Preview)
	}

	state, err := e.store.GetState(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("load state to store novel summary: %w", err)
	}
	state.SetString(models.ExtraNovelSummaryT1T4, b.String())
	if err := e.store.SaveState(ctx, state); err != nil {
		return fmt.Errorf("save novel summary: %w", err)
	}
	return nil
}

func (e *Executor) storeReviewerRevision(ctx context.Context, sessionID, subtaskID, revisedText string) error {
	state, err := e.store.GetState(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load state to store reviewer revision: %w", err)
	}
	state.SetReviewerRevision(subtaskID, revisedText)
	if err := e.store.SaveState(ctx, state); err != nil {
		return fmt.Errorf("save reviewer revision: %w", err)
	}
	return nil
}

func (e *Executor) bumpReviewerBatchCounter(ctx context.Context, sessionID string) error {
	state, err := e.store.GetState(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load state to bump reviewer batch counter: %w", err)
	}
	turns := 0
	if raw, ok := state.Extra[models.ExtraReviewerBatchIndex]; ok {
		if f, ok := raw.(float64); ok {
			turns = int(f)
		} else if i, ok := raw.(int); ok {
			turns = i
		}
	}
	turns++
	if turns >= ReviewerBatchSize {
		turns = 0 // the batch counter wraps here, in every mode
	}
	if state.Extra == nil {
		state.Extra = map[string]any{}
	}
	state.Extra[models.ExtraReviewerBatchIndex] = turns
	return e.store.SaveState(ctx, state)
}

func (e *Executor) buildWorkerInput(ctx context.Context, sess *models.Session, plan *models.Plan, st *models.Subtask) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan: %s\n", plan.Title)
	fmt.Fprintf(&b, "Subtask: %s\n", st.Title)
	if st.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", st.Notes)
	}
	if st.NeedsRedo && st.LastDecisionRef != "" {
		fmt.Fprintf(&b, "Reviewer feedback from the prior attempt: %s\n", st.LastDecisionRef)
	}

	if novelMode, _ := sess.Extra["novel_mode"].(bool); novelMode {
		idx := plan.IndexOf(st.ID)
		if idx >= 0 && idx < 4 {
			outputs, err := e.store.ListWorkerOutputs(ctx, sess.ID)
			if err != nil {
				return "", fmt.Errorf("load prior chapters for novel-mode context: %w", err)
			}
			for _, out := range outputs {
				fmt.Fprintf(&b, "\n--- Prior chapter (%s) ---\n%s\n", out.SubtaskID, out.Content)
			}
		} else if idx >= 4 {
			state, err := e.store.GetState(ctx, sess.ID)
			if err != nil {
				return "", fmt.Errorf("load state for novel-mode summary: %w", err)
			}
			if summary := state.GetString(models.ExtraNovelSummaryT1T4); summary != "" {
				fmt.Fprintf(&b, "\nRolling summary of chapters 1-4: %s\n", summary)
			}
			outputs, err := e.store.ListWorkerOutputs(ctx, sess.ID)
			if err != nil {
				return "", fmt.Errorf("load previous chapter for novel-mode context: %w", err)
			}
			if len(outputs) > 0 {
				prev := outputs[len(outputs)-1]
				fmt.Fprintf(&b, "\n--- Immediately preceding chapter ---\n%s\n", prev.Content)
			}
		}
	}
	return b.String(), nil
}

func (e *Executor) buildReviewerInput(sess *models.Session, plan *models.Plan, st *models.Subtask, out models.WorkerOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan: %s\n", plan.Title)
	fmt.Fprintf(&b, "Subtask: %s\n", st.Title)
	fmt.Fprintf(&b, "Worker output:\n%s\n", out.Content)
	fmt.Fprintf(&b, "\nReply with ACCEPT or REDO on the first line, followed by your rationale. Optionally include a line starting with \"REVISED:\" containing a proposed revision.\n")
	return b.String()
}

// parseVerdict extracts the ACCEPT/REDO token, rationale, and an optional
// "REVISED:" proposed draft from a reviewer reply (spec.md §4.6 step 6, 9).
func parseVerdict(reply string) (verdict, rationale, revisedText string) {
	lines := strings.Split(strings.TrimSpace(reply), "\n")
	if len(lines) == 0 {
		return "", "", ""
	}
	first := strings.ToUpper(strings.TrimSpace(lines[0]))
	switch {
	case strings.HasPrefix(first, "ACCEPT"):
		verdict = "ACCEPT"
	case strings.HasPrefix(first, "REDO"):
		verdict = "REDO"
	default:
		verdict = ""
	}

	var rationaleLines []string
	for _, line := range lines[1:] {
		if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(line)), "REVISED:") {
			revisedText = strings.TrimSpace(line[strings.Index(line, ":")+1:])
			continue
		}
		rationaleLines = append(rationaleLines, line)
	}
	rationale = strings.TrimSpace(strings.Join(rationaleLines, "\n"))
	return verdict, rationale, revisedText
}
