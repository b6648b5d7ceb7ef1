package sessionstore

import (
	"context"
	"fmt"
	"time"
)

// FindOrphanedSessions returns the ids of sessions whose orchestrator
// status is "running" but have not been touched in over timeoutDuration —
// the supplemented recovery feature grounded on
// SessionService.FindOrphanedSessions, narrowed to this domain's single
// last_updated timestamp (tarsy tracks a dedicated last_interaction_at
// column; this schema reuses sessions.last_updated for the same purpose).
func (p *Postgres) FindOrphanedSessions(ctx context.Context, timeoutDuration time.Duration) ([]string, error) {
	threshold := nowUTC().Add(-timeoutDuration)

	rows, err := p.db.QueryContext(ctx, `
		SELECT s.id
		FROM sessions s
		JOIN orchestrator_state os ON os.session_id = s.id
		WHERE os.status = 'running' AND s.last_updated < $1 AND s.deleted_at IS NULL
	`, threshold)
	if err != nil {
		return nil, fmt.Errorf("find orphaned sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan orphaned session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SweepRetention soft-deletes sessions older than retentionDays, the
// supplemented retention sweep grounded on SessionService.SoftDeleteOldSessions.
func (p *Postgres) SweepRetention(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention_days must be positive, got %d", retentionDays)
	}
	cutoff := nowUTC().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	writeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	res, err := p.db.ExecContext(writeCtx, `
		UPDATE sessions SET deleted_at = $1 WHERE deleted_at IS NULL AND created_at < $2
	`, nowUTC(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep retention: %w", err)
	}
	return res.RowsAffected()
}

// TouchSession bumps last_updated, used by the background runner as a
// lightweight heartbeat so FindOrphanedSessions can distinguish a wedged
// session from one that is merely slow.
func (p *Postgres) TouchSession(ctx context.Context, sessionID string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE sessions SET last_updated = $1 WHERE id = $2`, nowUTC(), sessionID)
	if err != nil {
		return fmt.Errorf("touch session %s: %w", sessionID, err)
	}
	return nil
}
