package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/triadwork/triad/pkg/errs"
	"github.com/triadwork/triad/pkg/models"
)

// CreateSession creates a new session and its (empty) plan and
// orchestrator-state rows in a single transaction, mirroring the teacher's
// SessionService.CreateSession tx-wrapped create.
func (p *Postgres) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	if req.Topic == "" {
		return nil, errs.NewValidationError("topic", "required")
	}
	if req.Owner == "" {
		return nil, errs.NewValidationError("owner", "required")
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := p.db.BeginTx(writeCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create-session transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	extra := req.Extra
	if extra == nil {
		extra = map[string]any{}
	}
	if req.NovelMode {
		extra["novel_mode"] = true
		if req.NovelProfile != nil {
			extra["novel_profile"] = req.NovelProfile
		}
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("marshal session extra: %w", err)
	}

	now := nowUTC()
	id := uuid.New().String()

	_, err = tx.ExecContext(writeCtx, `
		INSERT INTO sessions (id, topic, owner, session_mode, plan_locked, extra, created_at, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, id, req.Topic, req.Owner, models.SessionModePlanning, false, extraJSON, now)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	planID := uuid.New().String()
	if _, err := tx.ExecContext(writeCtx, `
		INSERT INTO plans (id, session_id, title, created_at, updated_at)
		VALUES ($1, $2, '', $3, $3)
	`, planID, id, now); err != nil {
		return nil, fmt.Errorf("insert initial plan: %w", err)
	}

	if _, err := tx.ExecContext(writeCtx, `
		INSERT INTO orchestrator_state (session_id, status, extra, last_error)
		VALUES ($1, $2, '{}'::jsonb, '')
	`, id, models.OrchestratorIdle); err != nil {
		return nil, fmt.Errorf("insert initial orchestrator state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create-session transaction: %w", err)
	}

	return &models.Session{
		ID:          id,
		Topic:       req.Topic,
		Owner:       req.Owner,
		Mode:        models.SessionModePlanning,
		PlanLocked:  false,
		CreatedAt:   now,
		LastUpdated: now,
		Extra:       extra,
	}, nil
}

// GetSession fetches a session by id. If includeDeleted is false and the
// session is soft-deleted, ErrNotFound is returned.
func (p *Postgres) GetSession(ctx context.Context, id string, includeDeleted bool) (*models.Session, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, topic, owner, session_mode, plan_locked, extra, created_at, last_updated, deleted_at
		FROM sessions WHERE id = $1
	`, id)

	sess, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	if sess.DeletedAt != nil && !includeDeleted {
		return nil, errs.ErrNotFound
	}
	return sess, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var extraJSON []byte
	var mode string
	var deletedAt sql.NullTime

	if err := row.Scan(&sess.ID, &sess.Topic, &sess.Owner, &mode, &sess.PlanLocked,
		&extraJSON, &sess.CreatedAt, &sess.LastUpdated, &deletedAt); err != nil {
		return nil, err
	}
	sess.Mode = models.SessionMode(mode)
	if deletedAt.Valid {
		t := deletedAt.Time
		sess.DeletedAt = &t
	}
	if len(extraJSON) > 0 {
		if err := json.Unmarshal(extraJSON, &sess.Extra); err != nil {
			return nil, fmt.Errorf("unmarshal session extra: %w", err)
		}
	}
	return &sess, nil
}

// ListSessions returns a page of session summaries matching filters,
// mirroring SessionService.ListSessions' filter+pagination shape.
func (p *Postgres) ListSessions(ctx context.Context, filters models.SessionFilters) ([]models.SessionSummary, error) {
	query := `
		SELECT s.id, s.topic, s.session_mode, os.status, s.created_at, s.last_updated
		FROM sessions s
		JOIN orchestrator_state os ON os.session_id = s.id
		WHERE ($1 = '' OR s.owner = $1)
		  AND ($2::text = '' OR os.status = $2)
		  AND (s.deleted_at IS NULL OR $3)
		ORDER BY s.last_updated DESC
		LIMIT $4 OFFSET $5
	`
	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, query, filters.Owner, filters.Status, filters.IncludeDeleted, limit, filters.Offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []models.SessionSummary
	for rows.Next() {
		var summary models.SessionSummary
		var mode string
		if err := rows.Scan(&summary.ID, &summary.Topic, &mode, &summary.Status, &summary.CreatedAt, &summary.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		summary.Mode = models.SessionMode(mode)
		out = append(out, summary)
	}
	return out, rows.Err()
}

// LockPlan flips a session from planning to execution mode, the one
// irreversible transition the plan-lock invariant protects (spec.md §5).
func (p *Postgres) LockPlan(ctx context.Context, sessionID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE sessions SET session_mode = $1, plan_locked = TRUE, last_updated = $2
		WHERE id = $3 AND deleted_at IS NULL
	`, models.SessionModeExecution, nowUTC(), sessionID)
	if err != nil {
		return fmt.Errorf("lock plan for session %s: %w", sessionID, err)
	}
	return requireRowsAffected(res, sessionID)
}

// SoftDeleteSession marks a session as deleted without removing its rows,
// mirroring SessionService.SoftDeleteOldSessions's retention model.
func (p *Postgres) SoftDeleteSession(ctx context.Context, sessionID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE sessions SET deleted_at = $1, last_updated = $1 WHERE id = $2 AND deleted_at IS NULL
	`, nowUTC(), sessionID)
	if err != nil {
		return fmt.Errorf("soft-delete session %s: %w", sessionID, err)
	}
	return requireRowsAffected(res, sessionID)
}

// RestoreSession clears a session's soft-delete marker.
func (p *Postgres) RestoreSession(ctx context.Context, sessionID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE sessions SET deleted_at = NULL, last_updated = $1 WHERE id = $2
	`, nowUTC(), sessionID)
	if err != nil {
		return fmt.Errorf("restore session %s: %w", sessionID, err)
	}
	return requireRowsAffected(res, sessionID)
}

// PurgeSoftDeletedBefore permanently deletes sessions soft-deleted before
// cutoff, the retention sweep supplemented from
// SessionService.SoftDeleteOldSessions's counterpart cleanup job.
func (p *Postgres) PurgeSoftDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE deleted_at IS NOT NULL AND deleted_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge soft-deleted sessions: %w", err)
	}
	return res.RowsAffected()
}

func requireRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", id, err)
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}
