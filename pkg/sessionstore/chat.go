package sessionstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/triadwork/triad/pkg/models"
)

// AppendChatMessage appends a turn to one of a session's three chat
// histories (spec.md §3's planner_chat / orchestrator_messages /
// coord_decisions).
func (p *Postgres) AppendChatMessage(ctx context.Context, sessionID string, kind models.ChatHistoryKind, msg models.ChatMessage) error {
	if _, err := p.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, session_id, kind, role, content, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New().String(), sessionID, string(kind), string(msg.Role), msg.Content, msg.Timestamp); err != nil {
		return fmt.Errorf("append chat message to %s for session %s: %w", kind, sessionID, err)
	}
	return nil
}

// ListChatMessages returns a session's chat history for one kind, ordered
// oldest-first.
func (p *Postgres) ListChatMessages(ctx context.Context, sessionID string, kind models.ChatHistoryKind) ([]models.ChatMessage, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT role, content, ts FROM chat_messages WHERE session_id = $1 AND kind = $2 ORDER BY ts ASC
	`, sessionID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list %s for session %s: %w", kind, sessionID, err)
	}
	defer rows.Close()

	var out []models.ChatMessage
	for rows.Next() {
		var msg models.ChatMessage
		var role string
		if err := rows.Scan(&role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		msg.Role = models.ChatRole(role)
		out = append(out, msg)
	}
	return out, rows.Err()
}
