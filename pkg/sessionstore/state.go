package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/triadwork/triad/pkg/errs"
	"github.com/triadwork/triad/pkg/models"
)

// GetState returns the orchestrator's runtime state for a session.
func (p *Postgres) GetState(ctx context.Context, sessionID string) (*models.OrchestratorState, error) {
	var state models.OrchestratorState
	state.SessionID = sessionID
	var status string
	var currentSubtaskID sql.NullString
	var extraJSON []byte

	err := p.db.QueryRowContext(ctx, `
		SELECT status, current_subtask_id, extra, last_error FROM orchestrator_state WHERE session_id = $1
	`, sessionID).Scan(&status, &currentSubtaskID, &extraJSON, &state.LastError)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("get orchestrator state for session %s: %w", sessionID, err)
	}
	state.Status = models.OrchestratorStatus(status)
	if currentSubtaskID.Valid {
		state.CurrentSubtaskID = &currentSubtaskID.String
	}
	if len(extraJSON) > 0 {
		if err := json.Unmarshal(extraJSON, &state.Extra); err != nil {
			return nil, fmt.Errorf("unmarshal orchestrator state extra: %w", err)
		}
	}
	return &state, nil
}

// SaveState persists the full orchestrator state row, mirroring
// StageService's whole-row status-update style.
func (p *Postgres) SaveState(ctx context.Context, state *models.OrchestratorState) error {
	extraJSON, err := json.Marshal(state.Extra)
	if err != nil {
		return fmt.Errorf("marshal orchestrator state extra: %w", err)
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE orchestrator_state SET status = $1, current_subtask_id = $2, extra = $3, last_error = $4
		WHERE session_id = $5
	`, string(state.Status), state.CurrentSubtaskID, extraJSON, state.LastError, state.SessionID)
	if err != nil {
		return fmt.Errorf("save orchestrator state for session %s: %w", state.SessionID, err)
	}
	return requireRowsAffected(res, state.SessionID)
}
