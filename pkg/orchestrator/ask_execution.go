package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/triadwork/triad/pkg/background"
	"github.com/triadwork/triad/pkg/models"
)

// intentType is the execution-phase `ask` command's classified intent
// (spec.md §4.9: "{type: redo|plan_edit|status|chat, target_subtask?,
// arguments?}").
type intentType string

const (
	intentRedo     intentType = "redo"
	intentPlanEdit intentType = "plan_edit"
	intentStatus   intentType = "status"
	intentChat     intentType = "chat"
)

type intent struct {
	Type          intentType
	TargetSubtask string
	Arguments     string
}

var (
	redoPattern   = regexp.MustCompile(`(?i)\b(redo|retry|try again|redo this)\b`)
	statusPattern = regexp.MustCompile(`(?i)\b(status|progress|where are we|how's it going|what's done)\b`)
	skipPattern   = regexp.MustCompile(`(?i)\b(skip|abandon|give up on)\b`)
	appendPattern = regexp.MustCompile(`(?i)\b(add|append)\s+(?:a\s+)?(?:new\s+)?subtask[:\s]+(.+)$`)
)

// classifyIntent is a keyword/regex classifier, the lightweight approach
// this exercise's Open Question ("what drives execution-phase `ask`
// routing?") settled on in place of a second LLM round trip per free-form
// message — recorded in DESIGN.md. It favors false negatives (falling
// through to intentChat) over misrouting a plan mutation.
func classifyIntent(text string, current *models.Subtask) intent {
	trimmed := strings.TrimSpace(text)

	if m := appendPattern.FindStringSubmatch(trimmed); m != nil {
		return intent{Type: intentPlanEdit, Arguments: strings.TrimSpace(m[2])}
	}
	if skipPattern.MatchString(trimmed) {
		target := ""
		if current != nil {
			target = current.ID
		}
		return intent{Type: intentPlanEdit, TargetSubtask: target, Arguments: "skip"}
	}
	if redoPattern.MatchString(trimmed) {
		target := ""
		if current != nil {
			target = current.ID
		}
		return intent{Type: intentRedo, TargetSubtask: target, Arguments: trimmed}
	}
	if statusPattern.MatchString(trimmed) {
		return intent{Type: intentStatus}
	}
	return intent{Type: intentChat, Arguments: trimmed}
}

// askOrchestrator handles the execution-phase `ask` command: classify the
// message's intent, act on it, persist both the user's message and the
// orchestrator's reply to orchestrator_messages, and return the reply text
// alongside the refreshed snapshot.
func (o *Orchestrator) askOrchestrator(ctx context.Context, sessionID string, sess *models.Session, text string) (*models.SessionSnapshot, string, error) {
	now := time.Now().UTC()
	if err := o.store.AppendChatMessage(ctx, sessionID, models.ChatHistoryOrchestrator, models.ChatMessage{
		Role: models.ChatRoleUser, Content: text, Timestamp: now,
	}); err != nil {
		return nil, "", err
	}

	state, err := o.store.GetState(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	p, err := o.store.GetPlan(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	var current *models.Subtask
	if state.CurrentSubtaskID != nil {
		current = p.Get(*state.CurrentSubtaskID)
	}

	in := classifyIntent(text, current)

	var reply string
	switch in.Type {
	case intentStatus:
		reply, err = o.buildStatusReply(ctx, sessionID, p, state)
	case intentRedo:
		reply, err = o.handleRedoIntent(ctx, sessionID, in)
	case intentPlanEdit:
		reply, err = o.handlePlanEditIntent(ctx, sessionID, p, in)
	default:
		reply = "Noted. I'll keep that in mind, but I can't act on free-form requests beyond status, redo, or plan edits while a plan is locked."
	}
	if err != nil {
		return nil, "", err
	}

	if err := o.store.AppendChatMessage(ctx, sessionID, models.ChatHistoryOrchestrator, models.ChatMessage{
		Role: models.ChatRoleOrchestrator, Content: reply, Timestamp: time.Now().UTC(),
	}); err != nil {
		return nil, "", err
	}

	snapshot, err := o.GetSnapshot(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	return snapshot, reply, nil
}

// handleRedoIntent forces the named (or current) subtask back to pending
// and, if nothing is currently running, kicks off a single-subtask
// background run so the redo actually executes instead of merely queuing.
func (o *Orchestrator) handleRedoIntent(ctx context.Context, sessionID string, in intent) (string, error) {
	if in.TargetSubtask == "" {
		return "There's no subtask currently in progress to redo. Use set_current_subtask to pick one first.", nil
	}
	if err := o.plan.SetCurrentSubtask(ctx, sessionID, in.TargetSubtask); err != nil {
		return "", err
	}
	if o.bg.IsRunning(sessionID) {
		return "A subtask is already running in this session; the redo will pick up once it finishes.", nil
	}
	if err := o.bg.Start(ctx, sessionID, background.ModeNext); err != nil {
		return "", fmt.Errorf("start redo: %w", err)
	}
	return fmt.Sprintf("Redoing subtask %s now.", in.TargetSubtask), nil
}

// handlePlanEditIntent performs the small set of plan edits natural
// language can unambiguously request: appending a subtask, or skipping the
// current one. Anything more structural (insert, update, reorder) still
// requires the explicit append_subtask/insert_subtask/... commands.
func (o *Orchestrator) handlePlanEditIntent(ctx context.Context, sessionID string, p *models.Plan, in intent) (string, error) {
	if in.Arguments == "skip" {
		if in.TargetSubtask == "" {
			return "There's no subtask currently in progress to skip.", nil
		}
		if err := o.plan.SkipSubtask(ctx, sessionID, in.TargetSubtask, "skipped via ask"); err != nil {
			return "", err
		}
		if err := o.reloadAndRecordPlan(ctx, sessionID); err != nil {
			return "", err
		}
		return fmt.Sprintf("Skipped subtask %s.", in.TargetSubtask), nil
	}

	if _, err := o.plan.AppendSubtask(ctx, sessionID, in.Arguments, ""); err != nil {
		return "", err
	}
	if err := o.reloadAndRecordPlan(ctx, sessionID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Added subtask %q to the plan.", in.Arguments), nil
}

// buildStatusReply assembles the natural-language status summary spec.md
// §4.9 requires: counts of done/pending, the last completed subtask and its
// reviewer note, a ≤300-char artifact preview, the current subtask, and the
// next pending subtask.
func (o *Orchestrator) buildStatusReply(ctx context.Context, sessionID string, p *models.Plan, state *models.OrchestratorState) (string, error) {
	var done, pending int
	var lastDone *models.Subtask
	for _, st := range p.Subtasks {
		switch st.Status {
		case models.SubtaskDone:
			done++
			lastDone = st
		case models.SubtaskPending:
			pending++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d subtasks done, %d pending.", done, len(p.Subtasks), pending)

	if lastDone != nil {
		fmt.Fprintf(&b, " Last completed: %q", lastDone.Title)
		if lastDone.LastDecisionRef != "" {
			fmt.Fprintf(&b, " (reviewer note: %s)", lastDone.LastDecisionRef)
		}
		if outputs, err := o.store.ListWorkerOutputs(ctx, sessionID); err == nil {
			for i := len(outputs) - 1; i >= 0; i-- {
				if outputs[i].SubtaskID == lastDone.ID {
					preview := outputs[i].Preview
					if len(preview) > 300 {
						preview = preview[:300]
					}
					fmt.Fprintf(&b, " Preview: %s", preview)
					break
				}
			}
		}
		b.WriteString(".")
	}

	if state.CurrentSubtaskID != nil {
		if current := p.Get(*state.CurrentSubtaskID); current != nil {
			fmt.Fprintf(&b, " Current subtask: %q.", current.Title)
		}
	}
	if next := p.NextPending(); next != nil {
		fmt.Fprintf(&b, " Next pending: %q.", next.Title)
	}

	return b.String(), nil
}
