package sessionstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/triadwork/triad/pkg/errs"
	"github.com/triadwork/triad/pkg/models"
)

// SaveWorkerOutput persists a Worker's deliverable for a subtask.
func (p *Postgres) SaveWorkerOutput(ctx context.Context, sessionID string, out models.WorkerOutput) error {
	if _, err := p.db.ExecContext(ctx, `
		INSERT INTO worker_outputs
			(id, session_id, subtask_id, ts, preview, content,
			 artifact_label, artifact_uri, artifact_digest, artifact_content_type, artifact_size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, uuid.New().String(), sessionID, out.SubtaskID, out.Timestamp, out.Preview, out.Content,
		out.ArtifactRef.Label, out.ArtifactRef.URI, out.ArtifactRef.Digest, out.ArtifactRef.ContentType, out.ArtifactRef.SizeBytes); err != nil {
		return fmt.Errorf("save worker output for subtask %s: %w", out.SubtaskID, err)
	}
	return nil
}

// ListWorkerOutputs returns every worker output recorded for a session,
// ordered oldest-first.
func (p *Postgres) ListWorkerOutputs(ctx context.Context, sessionID string) ([]models.WorkerOutput, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT subtask_id, ts, preview, content, artifact_label, artifact_uri, artifact_digest, artifact_content_type, artifact_size_bytes
		FROM worker_outputs WHERE session_id = $1 ORDER BY ts ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list worker outputs for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []models.WorkerOutput
	for rows.Next() {
		var wo models.WorkerOutput
		if err := rows.Scan(&wo.SubtaskID, &wo.Timestamp, &wo.Preview, &wo.Content,
			&wo.ArtifactRef.Label, &wo.ArtifactRef.URI, &wo.ArtifactRef.Digest, &wo.ArtifactRef.ContentType, &wo.ArtifactRef.SizeBytes); err != nil {
			return nil, fmt.Errorf("scan worker output: %w", err)
		}
		out = append(out, wo)
	}
	return out, rows.Err()
}

// ReplaceLatestWorkerOutput overwrites the most recent worker output for
// subtaskID with revisedText and ref (the caller's freshly-stored artifact
// for the revised content), used by apply_reviewer_revision to promote a
// reviewer's stored revision (spec.md §9's "reviewer-produced revisions"
// note: never overwrite automatically, only on explicit apply).
func (p *Postgres) ReplaceLatestWorkerOutput(ctx context.Context, sessionID, subtaskID, revisedText string, ref models.ArtifactRef) error {
	preview := revisedText
	if len(preview) > 300 {
		preview = preview[:300]
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE worker_outputs
		SET content = $1, preview = $2, artifact_label = $3, artifact_uri = $4,
		    artifact_digest = $5, artifact_content_type = $6, artifact_size_bytes = $7
		WHERE id = (
			SELECT id FROM worker_outputs
			WHERE session_id = $8 AND subtask_id = $9
			ORDER BY ts DESC LIMIT 1
		)
	`, revisedText, preview, ref.Label, ref.URI, ref.Digest, ref.ContentType, ref.SizeBytes, sessionID, subtaskID)
	if err != nil {
		return fmt.Errorf("replace worker output for subtask %s: %w", subtaskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected replacing worker output for subtask %s: %w", subtaskID, err)
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}
