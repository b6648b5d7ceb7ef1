package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/triadwork/triad/pkg/agent"
	"github.com/triadwork/triad/pkg/background"
	"github.com/triadwork/triad/pkg/errs"
	"github.com/triadwork/triad/pkg/models"
	"github.com/triadwork/triad/pkg/plan"
)

// ConfirmPlan locks the plan and moves the session into execution phase.
// A no-op if the session is already in execution phase (spec.md §4.8).
func (o *Orchestrator) ConfirmPlan(ctx context.Context, sessionID string) (*models.SessionSnapshot, error) {
	sess, err := o.store.GetSession(ctx, sessionID, false)
	if err != nil {
		return nil, err
	}
	if sess.Mode == models.SessionModeExecution {
		return o.GetSnapshot(ctx, sessionID)
	}
	if err := o.store.LockPlan(ctx, sessionID); err != nil {
		return nil, err
	}
	return o.GetSnapshot(ctx, sessionID)
}

// StartNext runs exactly one pending subtask in the background.
func (o *Orchestrator) StartNext(ctx context.Context, sessionID string) (*models.SessionSnapshot, error) {
	return o.startBackground(ctx, sessionID, background.ModeNext)
}

// StartAll runs subtasks to completion (or error) in the background.
func (o *Orchestrator) StartAll(ctx context.Context, sessionID string) (*models.SessionSnapshot, error) {
	return o.startBackground(ctx, sessionID, background.ModeAll)
}

func (o *Orchestrator) startBackground(ctx context.Context, sessionID string, mode background.Mode) (*models.SessionSnapshot, error) {
	sess, err := o.store.GetSession(ctx, sessionID, false)
	if err != nil {
		return nil, err
	}
	if sess.Mode != models.SessionModeExecution {
		return nil, errs.ErrPlanNotConfirmed
	}
	if err := o.bg.Start(ctx, sessionID, mode); err != nil {
		return nil, err
	}
	return o.GetSnapshot(ctx, sessionID)
}

// AppendSubtask delegates to the Plan Model and records the post-mutation
// plan as the new ground-truth envelope.
func (o *Orchestrator) AppendSubtask(ctx context.Context, sessionID, title, notes string) (*models.SessionSnapshot, error) {
	if _, err := o.plan.AppendSubtask(ctx, sessionID, title, notes); err != nil {
		return nil, err
	}
	if err := o.reloadAndRecordPlan(ctx, sessionID); err != nil {
		return nil, err
	}
	return o.GetSnapshot(ctx, sessionID)
}

// InsertSubtask delegates to the Plan Model.
func (o *Orchestrator) InsertSubtask(ctx context.Context, sessionID, afterID, title, notes string) (*models.SessionSnapshot, error) {
	if _, err := o.plan.InsertSubtask(ctx, sessionID, afterID, title, notes); err != nil {
		return nil, err
	}
	if err := o.reloadAndRecordPlan(ctx, sessionID); err != nil {
		return nil, err
	}
	return o.GetSnapshot(ctx, sessionID)
}

// UpdateSubtask delegates to the Plan Model.
func (o *Orchestrator) UpdateSubtask(ctx context.Context, sessionID, subtaskID string, title, notes *string) (*models.SessionSnapshot, error) {
	if _, err := o.plan.UpdateSubtask(ctx, sessionID, subtaskID, plan.SubtaskPatch{Title: title, Notes: notes}); err != nil {
		return nil, err
	}
	if err := o.reloadAndRecordPlan(ctx, sessionID); err != nil {
		return nil, err
	}
	return o.GetSnapshot(ctx, sessionID)
}

// SkipSubtask delegates to the Plan Model.
func (o *Orchestrator) SkipSubtask(ctx context.Context, sessionID, subtaskID, reason string) (*models.SessionSnapshot, error) {
	if err := o.plan.SkipSubtask(ctx, sessionID, subtaskID, reason); err != nil {
		return nil, err
	}
	if err := o.reloadAndRecordPlan(ctx, sessionID); err != nil {
		return nil, err
	}
	return o.GetSnapshot(ctx, sessionID)
}

// SetCurrentSubtask delegates to the Plan Model. Allowed even while locked.
func (o *Orchestrator) SetCurrentSubtask(ctx context.Context, sessionID, subtaskID string) (*models.SessionSnapshot, error) {
	if err := o.plan.SetCurrentSubtask(ctx, sessionID, subtaskID); err != nil {
		return nil, err
	}
	return o.GetSnapshot(ctx, sessionID)
}

// ApplyReviewerRevision promotes a stored reviewer revision: the Plan Model
// resets the subtask to pending, and this method re-stores the revised
// text as the subtask's WorkerOutput (the Plan Model does not own that
// table, per pkg/plan's doc comment).
func (o *Orchestrator) ApplyReviewerRevision(ctx context.Context, sessionID, subtaskID string) (*models.SessionSnapshot, error) {
	sess, err := o.store.GetSession(ctx, sessionID, false)
	if err != nil {
		return nil, err
	}
	if sess.Mode != models.SessionModeExecution {
		return nil, errs.ErrPlanNotConfirmed
	}

	revisedText, err := o.plan.ApplyReviewerRevision(ctx, sessionID, subtaskID)
	if err != nil {
		return nil, err
	}
	ref, err := o.artifacts.Put(ctx, sessionID, "worker_output_"+subtaskID+"_revised", "text/plain", []byte(revisedText))
	if err != nil {
		return nil, fmt.Errorf("store revised artifact: %w", err)
	}
	if err := o.store.ReplaceLatestWorkerOutput(ctx, sessionID, subtaskID, revisedText, ref); err != nil {
		return nil, err
	}
	if err := o.reloadAndRecordPlan(ctx, sessionID); err != nil {
		return nil, err
	}
	return o.GetSnapshot(ctx, sessionID)
}

// DeleteSession deletes a session's artifacts and soft-deletes its row.
// Allowed in any phase (spec.md §4.8).
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID string) (*models.SessionSnapshot, error) {
	snapshot, err := o.GetSnapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	o.bg.Cancel(sessionID)
	if err := o.artifacts.DeleteSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if err := o.store.SoftDeleteSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Ask handles the `ask` command: in planning phase, a free-form turn with
// the Planner that may revise the plan; in execution phase, a natural-
// language turn routed through the intent classifier (spec.md §4.9).
func (o *Orchestrator) Ask(ctx context.Context, sessionID, text string) (*models.SessionSnapshot, string, error) {
	sess, err := o.store.GetSession(ctx, sessionID, false)
	if err != nil {
		return nil, "", err
	}

	if sess.Mode == models.SessionModePlanning {
		return o.askPlanner(ctx, sessionID, text)
	}
	return o.askOrchestrator(ctx, sessionID, sess, text)
}

func (o *Orchestrator) askPlanner(ctx context.Context, sessionID, text string) (*models.SessionSnapshot, string, error) {
	now := time.Now().UTC()
	if err := o.store.AppendChatMessage(ctx, sessionID, models.ChatHistoryPlanner, models.ChatMessage{
		Role: models.ChatRoleUser, Content: text, Timestamp: now,
	}); err != nil {
		return nil, "", err
	}

	history, err := o.store.ListChatMessages(ctx, sessionID, models.ChatHistoryPlanner)
	if err != nil {
		return nil, "", err
	}
	messages := make([]agent.Message, 0, len(history)+1)
	messages = append(messages, agent.Message{Role: "system", Content: agent.SystemPrompt(agent.PersonaPlanner)})
	for _, m := range history {
		messages = append(messages, agent.Message{Role: roleToAgentRole(m.Role), Content: m.Content})
	}

	resp, err := o.runner.Invoke(ctx, agent.Request{Persona: agent.PersonaPlanner, Messages: messages})
	if err != nil {
		return nil, "", fmt.Errorf("invoke planner: %w", err)
	}

	if err := o.store.AppendChatMessage(ctx, sessionID, models.ChatHistoryPlanner, models.ChatMessage{
		Role: models.ChatRolePlanner, Content: resp.Content, Timestamp: time.Now().UTC(),
	}); err != nil {
		return nil, "", err
	}

	// Update the plan (stub or real): a Planner reply that contains a
	// bulleted/numbered list of subtask titles replaces the current plan,
	// unless the session is in novel mode, where the four preparatory
	// subtasks are never displaced by free-form planner output.
	if titles := parsePlanLines(resp.Content); len(titles) > 0 {
		sess, err := o.store.GetSession(ctx, sessionID, false)
		if err != nil {
			return nil, "", err
		}
		novelMode, _ := sess.Extra["novel_mode"].(bool)
		if !novelMode {
			if _, err := o.store.ReplaceSubtasks(ctx, sessionID, titles); err != nil {
				return nil, "", fmt.Errorf("update plan from planner reply: %w", err)
			}
			_ = o.store.SetPlanTitle(ctx, sessionID, firstNonEmptyLine(text))
			if err := o.reloadAndRecordPlan(ctx, sessionID); err != nil {
				return nil, "", err
			}
		}
	}

	snapshot, err := o.GetSnapshot(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	return snapshot, resp.Content, nil
}

func roleToAgentRole(role models.ChatRole) string {
	if role == models.ChatRolePlanner {
		return "assistant"
	}
	return "user"
}

// parsePlanLines extracts subtask titles from a Planner reply formatted as
// a numbered or bulleted list, e.g. "1. Do X" or "- Do X".
var planLinePattern = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*])\s+(.+)$`)

func parsePlanLines(reply string) []string {
	var titles []string
	for _, line := range strings.Split(reply, "\n") {
		m := planLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		title := strings.TrimSpace(m[1])
		if title != "" {
			titles = append(titles, title)
		}
	}
	return titles
}

func firstNonEmptyLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return s
}
