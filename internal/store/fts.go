package store

import (
	"context"
	"fmt"
	"strings"

	"privchat-sdk/internal/model"
)

// SearchMessages runs a full-text query over message content via the
// content-linked messages_fts virtual table, optionally scoped to one
// channel. query is passed through to FTS5's MATCH syntax.
func (s *Store) SearchMessages(ctx context.Context, query string, channelID uint64, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	cols := "m." + strings.ReplaceAll(messageColumns, ",", ", m.")
	q := `SELECT ` + cols + `
		FROM messages_fts f
		JOIN message m ON m.id = f.rowid
		WHERE f.content MATCH ? AND m.is_deleted = 0`
	args := []any{query}
	if channelID != 0 {
		q += ` AND m.channel_id = ?`
		args = append(args, channelID)
	}
	q += ` ORDER BY rank LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan search result: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
