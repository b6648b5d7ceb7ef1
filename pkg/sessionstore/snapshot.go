package sessionstore

import (
	"context"
	"fmt"

	"github.com/triadwork/triad/pkg/models"
)

// Snapshot assembles the full read-path view of a session: the persisted
// session row, plan, orchestrator state, and the three chat histories.
// It deliberately does not merge in the progress-event tail itself — that
// is the caller's job (pkg/orchestrator), since assembling it requires the
// Progress Emitter, which this package does not depend on, keeping the
// Session Store and Progress Emitter independently testable (spec.md §4.2
// and §4.7 are documented as separate components).
func (p *Postgres) Snapshot(ctx context.Context, sessionID string) (*models.SessionSnapshot, error) {
	sess, err := p.GetSession(ctx, sessionID, false)
	if err != nil {
		return nil, err
	}
	plan, err := p.GetPlan(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("assemble snapshot plan for session %s: %w", sessionID, err)
	}
	state, err := p.GetState(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("assemble snapshot state for session %s: %w", sessionID, err)
	}

	plannerChat, err := p.ListChatMessages(ctx, sessionID, models.ChatHistoryPlanner)
	if err != nil {
		return nil, err
	}
	orchestratorMessages, err := p.ListChatMessages(ctx, sessionID, models.ChatHistoryOrchestrator)
	if err != nil {
		return nil, err
	}
	coordDecisions, err := p.ListChatMessages(ctx, sessionID, models.ChatHistoryCoordDecisions)
	if err != nil {
		return nil, err
	}

	return &models.SessionSnapshot{
		Session:              *sess,
		Plan:                 plan,
		State:                *state,
		PlannerChat:          plannerChat,
		OrchestratorMessages: orchestratorMessages,
		CoordDecisions:       coordDecisions,
	}, nil
}
