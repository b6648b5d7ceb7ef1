// Package progress implements the Progress Emitter (spec.md §4.7): the
// append-only stream of agent/subtask start and finish events that the
// HTTP polling surface and any future streaming surface read from.
//
// Grounded on the teacher's pkg/events/publisher.go PublishStageStatus —
// persist then pg_notify in the same transaction — narrowed to this
// domain's two-stage (start/finish) event shape.
package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/triadwork/triad/pkg/models"
)

// Channel returns the NOTIFY channel name for a session's progress stream.
func Channel(sessionID string) string {
	return "progress:" + sessionID
}

// Emitter is the Progress Emitter contract.
type Emitter interface {
	// Emit persists a progress event durably and returns its sequence
	// number. Callers must flush (i.e. call Emit and wait for it to
	// return) before making the next state transition — the ordering
	// guarantee spec.md §4.7 requires.
	Emit(ctx context.Context, ev models.ProgressEvent) (int64, error)

	// ListSince returns a session's progress events with sequence >
	// since, ascending.
	ListSince(ctx context.Context, sessionID string, since int64) ([]models.ProgressEvent, error)
}

// Postgres is the jackc/pgx/v5-backed Emitter.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open *sql.DB.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Emit persists ev and notifies any listener on its channel, inside one
// transaction so the sequence assignment and the notification are atomic.
func (p *Postgres) Emit(ctx context.Context, ev models.ProgressEvent) (int64, error) {
	payloadJSON, err := json.Marshal(ev.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal progress event payload: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin progress-event transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var sequence int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO progress_events (session_id, ts, agent, subtask_id, stage, status, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING sequence
	`, ev.SessionID, ev.Timestamp, string(ev.Agent), ev.SubtaskID, string(ev.Stage), ev.Status, payloadJSON).Scan(&sequence)
	if err != nil {
		return 0, fmt.Errorf("persist progress event: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", Channel(ev.SessionID), fmt.Sprintf(`{"sequence":%d}`, sequence)); err != nil {
		return 0, fmt.Errorf("notify progress event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit progress-event transaction: %w", err)
	}
	return sequence, nil
}

// ListSince returns a session's progress events with sequence > since.
func (p *Postgres) ListSince(ctx context.Context, sessionID string, since int64) ([]models.ProgressEvent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT sequence, ts, agent, subtask_id, stage, status, payload
		FROM progress_events WHERE session_id = $1 AND sequence > $2 ORDER BY sequence ASC
	`, sessionID, since)
	if err != nil {
		return nil, fmt.Errorf("query progress events since %d: %w", since, err)
	}
	defer rows.Close()

	var out []models.ProgressEvent
	for rows.Next() {
		var ev models.ProgressEvent
		var agent, stage string
		var subtaskID sql.NullString
		var payloadJSON []byte
		ev.SessionID = sessionID
		if err := rows.Scan(&ev.Sequence, &ev.Timestamp, &agent, &subtaskID, &stage, &ev.Status, &payloadJSON); err != nil {
			return nil, fmt.Errorf("scan progress event: %w", err)
		}
		ev.Agent = models.Agent(agent)
		ev.Stage = models.Stage(stage)
		if subtaskID.Valid {
			ev.SubtaskID = &subtaskID.String
		}
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &ev.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal progress event payload at sequence %d: %w", ev.Sequence, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// EmitStart is a convenience wrapper for the common start-stage case.
func EmitStart(ctx context.Context, e Emitter, sessionID string, agent models.Agent, subtaskID *string, payload map[string]any) error {
	_, err := e.Emit(ctx, models.ProgressEvent{
		SessionID: sessionID,
		Timestamp: nowUTC(),
		Agent:     agent,
		SubtaskID: subtaskID,
		Stage:     models.StageStart,
		Payload:   payload,
	})
	return err
}

// EmitFinish is a convenience wrapper for the common finish-stage case.
func EmitFinish(ctx context.Context, e Emitter, sessionID string, agent models.Agent, subtaskID *string, status string, payload map[string]any) error {
	_, err := e.Emit(ctx, models.ProgressEvent{
		SessionID: sessionID,
		Timestamp: nowUTC(),
		Agent:     agent,
		SubtaskID: subtaskID,
		Stage:     models.StageFinish,
		Status:    status,
		Payload:   payload,
	})
	return err
}
