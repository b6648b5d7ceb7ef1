package sessionstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/triadwork/triad/pkg/errs"
	"github.com/triadwork/triad/pkg/models"
)

// GetPlan returns the full plan for a session, subtasks ordered by
// position.
func (p *Postgres) GetPlan(ctx context.Context, sessionID string) (*models.Plan, error) {
	var plan models.Plan
	plan.SessionID = sessionID
	err := p.db.QueryRowContext(ctx, `SELECT id, title FROM plans WHERE session_id = $1`, sessionID).
		Scan(&plan.ID, &plan.Title)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("get plan for session %s: %w", sessionID, err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, notes, status, needs_redo, redo_count, last_decision_ref
		FROM subtasks WHERE plan_id = $1 ORDER BY position ASC
	`, plan.ID)
	if err != nil {
		return nil, fmt.Errorf("list subtasks for plan %s: %w", plan.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var st models.Subtask
		var status string
		if err := rows.Scan(&st.ID, &st.Title, &st.Notes, &status, &st.NeedsRedo, &st.RedoCount, &st.LastDecisionRef); err != nil {
			return nil, fmt.Errorf("scan subtask: %w", err)
		}
		st.Status = models.SubtaskStatus(status)
		plan.Subtasks = append(plan.Subtasks, &st)
	}
	return &plan, rows.Err()
}

// AppendSubtask adds a new pending subtask at the end of the plan.
func (p *Postgres) AppendSubtask(ctx context.Context, sessionID, title, notes string) (*models.Subtask, error) {
	var planID string
	var count int
	err := p.db.QueryRowContext(ctx, `SELECT id FROM plans WHERE session_id = $1`, sessionID).Scan(&planID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("find plan for session %s: %w", sessionID, err)
	}
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM subtasks WHERE plan_id = $1`, planID).Scan(&count); err != nil {
		return nil, fmt.Errorf("count subtasks for plan %s: %w", planID, err)
	}

	id := uuid.New().String()
	if _, err := p.db.ExecContext(ctx, `
		INSERT INTO subtasks (id, plan_id, position, title, notes, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, planID, count, title, notes, models.SubtaskPending); err != nil {
		return nil, fmt.Errorf("insert subtask: %w", err)
	}
	p.touchPlan(ctx, planID)

	return &models.Subtask{ID: id, Title: title, Notes: notes, Status: models.SubtaskPending}, nil
}

// InsertSubtask inserts a new pending subtask at position idx, shifting
// later subtasks down.
func (p *Postgres) InsertSubtask(ctx context.Context, sessionID string, idx int, title, notes string) (*models.Subtask, error) {
	var planID string
	if err := p.db.QueryRowContext(ctx, `SELECT id FROM plans WHERE session_id = $1`, sessionID).Scan(&planID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("find plan for session %s: %w", sessionID, err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insert-subtask transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE subtasks SET position = position + 1 WHERE plan_id = $1 AND position >= $2
	`, planID, idx); err != nil {
		return nil, fmt.Errorf("shift subtask positions: %w", err)
	}

	id := uuid.New().String()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO subtasks (id, plan_id, position, title, notes, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, planID, idx, title, notes, models.SubtaskPending); err != nil {
		return nil, fmt.Errorf("insert subtask at %d: %w", idx, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert-subtask transaction: %w", err)
	}
	p.touchPlan(ctx, planID)

	return &models.Subtask{ID: id, Title: title, Notes: notes, Status: models.SubtaskPending}, nil
}

// UpdateSubtask applies a partial field update to a subtask's mutable
// fields (title/notes/status/needs_redo/redo_count/last_decision_ref).
// Callers pass the full desired subtask; this mirrors
// StageService.UpdateAgentExecutionStatus's whole-row update style rather
// than a field-mask.
func (p *Postgres) UpdateSubtask(ctx context.Context, st *models.Subtask) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE subtasks
		SET title = $1, notes = $2, status = $3, needs_redo = $4, redo_count = $5, last_decision_ref = $6
		WHERE id = $7
	`, st.Title, st.Notes, string(st.Status), st.NeedsRedo, st.RedoCount, st.LastDecisionRef, st.ID)
	if err != nil {
		return fmt.Errorf("update subtask %s: %w", st.ID, err)
	}
	return requireRowsAffected(res, st.ID)
}

// SkipSubtask marks a subtask skipped.
func (p *Postgres) SkipSubtask(ctx context.Context, subtaskID string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE subtasks SET status = $1 WHERE id = $2`, models.SubtaskSkipped, subtaskID)
	if err != nil {
		return fmt.Errorf("skip subtask %s: %w", subtaskID, err)
	}
	return requireRowsAffected(res, subtaskID)
}

func (p *Postgres) touchPlan(ctx context.Context, planID string) {
	_, _ = p.db.ExecContext(ctx, `UPDATE plans SET updated_at = $1 WHERE id = $2`, nowUTC(), planID)
}

// ReplaceSubtasks discards a plan's current subtasks and inserts titles as
// fresh pending subtasks in order. Used during planning phase, before the
// plan is locked: when the Planner (stub or real) proposes a whole new
// subtask list in response to an `ask` command, and to seed the novel-mode
// preparatory subtasks at session creation.
func (p *Postgres) ReplaceSubtasks(ctx context.Context, sessionID string, titles []string) (*models.Plan, error) {
	var planID string
	if err := p.db.QueryRowContext(ctx, `SELECT id FROM plans WHERE session_id = $1`, sessionID).Scan(&planID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("find plan for session %s: %w", sessionID, err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin replace-subtasks transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM subtasks WHERE plan_id = $1`, planID); err != nil {
		return nil, fmt.Errorf("clear subtasks for plan %s: %w", planID, err)
	}

	plan := &models.Plan{ID: planID, SessionID: sessionID}
	for i, title := range titles {
		id := uuid.New().String()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO subtasks (id, plan_id, position, title, notes, status)
			VALUES ($1, $2, $3, $4, '', $5)
		`, id, planID, i, title, models.SubtaskPending); err != nil {
			return nil, fmt.Errorf("insert replacement subtask %q: %w", title, err)
		}
		plan.Subtasks = append(plan.Subtasks, &models.Subtask{ID: id, Title: title, Status: models.SubtaskPending})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit replace-subtasks transaction: %w", err)
	}
	p.touchPlan(ctx, planID)

	return plan, nil
}

// SetPlanTitle updates a plan's title. pkg/orchestrator calls it each time a
// Planner reply replaces the subtask list, passing the first non-empty line
// of the user's `ask` message.
func (p *Postgres) SetPlanTitle(ctx context.Context, sessionID, title string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE plans SET title = $1, updated_at = $2 WHERE session_id = $3
	`, title, nowUTC(), sessionID)
	if err != nil {
		return fmt.Errorf("set plan title for session %s: %w", sessionID, err)
	}
	return requireRowsAffected(res, sessionID)
}
