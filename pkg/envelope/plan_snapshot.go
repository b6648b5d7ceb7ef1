package envelope

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/triadwork/triad/pkg/errs"
	"github.com/triadwork/triad/pkg/models"
)

// PlanPayload builds the envelope Payload for a PayloadPlan envelope,
// round-tripping plan through JSON so it fits the Envelope's
// map[string]any payload field.
func PlanPayload(plan *models.Plan) (map[string]any, error) {
	raw, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("marshal plan payload: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal plan payload: %w", err)
	}
	return payload, nil
}

// LatestPlanSnapshot returns the plan embedded in the most recent
// PayloadPlan envelope for sessionID, or errs.ErrNotFound if none has been
// recorded yet. The orchestrator's §9-Design-Notes "event log is ground
// truth" treatment makes this the authoritative plan view; the `plans`
// table row pkg/sessionstore serves is a materialized view that should
// agree with it, but this lets a reader reconstruct the plan purely by
// replaying the log.
func (p *Postgres) LatestPlanSnapshot(ctx context.Context, sessionID string) (*models.Plan, error) {
	var payloadJSON []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT payload FROM envelopes
		WHERE session_id = $1 AND payload_type = $2
		ORDER BY sequence DESC LIMIT 1
	`, sessionID, string(models.PayloadPlan)).Scan(&payloadJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("find latest plan snapshot for session %s: %w", sessionID, err)
	}
	var plan models.Plan
	if err := json.Unmarshal(payloadJSON, &plan); err != nil {
		return nil, fmt.Errorf("unmarshal latest plan snapshot: %w", err)
	}
	return &plan, nil
}
