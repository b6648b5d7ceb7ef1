// Package envelope implements the Envelope Log: the append-only,
// durable-before-ack record of every message exchanged between the
// orchestrator and its agents (spec.md §4.1).
//
// Writes are committed to PostgreSQL before being acknowledged to the
// caller; the assigned sequence number is monotonic per session and comes
// from the same transaction that persists the row, mirroring the teacher's
// pkg/events/publisher.go persistAndNotify pattern (INSERT ... RETURNING id,
// pg_notify in the same transaction, commit).
package envelope

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/triadwork/triad/pkg/errs"
	"github.com/triadwork/triad/pkg/models"
)

// Log is the Envelope Log contract consumed by the rest of the orchestrator
// core. It is deliberately narrow: append and read-since.
type Log interface {
	// Append persists env durably and returns the sequence number assigned
	// to it. env.SessionID, env.Source, env.Target, and env.PayloadType
	// must be set; env.Timestamp must be UTC or Append returns a
	// *errs.ValidationError.
	Append(ctx context.Context, env models.Envelope) (int64, error)

	// ListSince returns every envelope for sessionID with sequence > since,
	// ordered by sequence ascending.
	ListSince(ctx context.Context, sessionID string, since int64) ([]models.Envelope, error)
}

// Channel returns the PostgreSQL NOTIFY channel name for a session's
// envelope stream, mirroring events.SessionChannel.
func Channel(sessionID string) string {
	return "envelope:" + sessionID
}

// Postgres is the jackc/pgx/v5-backed Log implementation. It talks to the
// database through the stdlib database/sql interface registered by pgx,
// the same driver the teacher opens underneath ent in
// pkg/database/client.go — here used directly, without ent, since ent's
// query builders are generated code this exercise cannot reproduce (see
// DESIGN.md).
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an already-open *sql.DB (pgx stdlib driver).
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func validate(env models.Envelope) error {
	if env.SessionID == "" {
		return errs.NewValidationError("session_id", "must not be empty")
	}
	if env.Source == "" {
		return errs.NewValidationError("source", "must not be empty")
	}
	if env.Target == "" {
		return errs.NewValidationError("target", "must not be empty")
	}
	if env.PayloadType == "" {
		return errs.NewValidationError("payload_type", "must not be empty")
	}
	if env.Timestamp.Location() != time.UTC {
		return errs.NewValidationError("ts", "must be UTC")
	}
	return nil
}

// Append persists env inside a single transaction and returns the assigned
// sequence number. The write is durable before this call returns.
func (p *Postgres) Append(ctx context.Context, env models.Envelope) (int64, error) {
	if err := validate(env); err != nil {
		return 0, err
	}

	payloadJSON, err := json.Marshal(env.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal envelope payload: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin envelope transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var sequence int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO envelopes (session_id, ts, source, target, payload_type, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING sequence
	`, env.SessionID, env.Timestamp, env.Source, env.Target, string(env.PayloadType), payloadJSON).Scan(&sequence)
	if err != nil {
		return 0, fmt.Errorf("persist envelope: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", Channel(env.SessionID), fmt.Sprintf(`{"sequence":%d}`, sequence)); err != nil {
		return 0, fmt.Errorf("notify envelope append: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit envelope transaction: %w", err)
	}

	return sequence, nil
}

// ListSince returns every envelope for sessionID with sequence > since, in
// ascending order.
func (p *Postgres) ListSince(ctx context.Context, sessionID string, since int64) ([]models.Envelope, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT sequence, ts, source, target, payload_type, payload
		FROM envelopes
		WHERE session_id = $1 AND sequence > $2
		ORDER BY sequence ASC
	`, sessionID, since)
	if err != nil {
		return nil, fmt.Errorf("query envelopes since %d: %w", since, err)
	}
	defer rows.Close()

	var out []models.Envelope
	for rows.Next() {
		var env models.Envelope
		var payloadJSON []byte
		var payloadType string
		env.SessionID = sessionID
		if err := rows.Scan(&env.Sequence, &env.Timestamp, &env.Source, &env.Target, &payloadType, &payloadJSON); err != nil {
			return nil, fmt.Errorf("scan envelope row: %w", err)
		}
		env.PayloadType = models.EnvelopePayloadType(payloadType)
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &env.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal envelope payload at sequence %d: %w", env.Sequence, err)
			}
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate envelopes: %w", err)
	}
	return out, nil
}
