package store

import (
	"context"
	"fmt"

	"privchat-sdk/internal/model"
)

// AddReaction inserts a reaction, enforcing uniqueness on
// (message_id, user_id, emoji) — a duplicate add is a no-op.
func (s *Store) AddReaction(ctx context.Context, messageID int64, userID uint64, emoji string, createdAt int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO message_reaction(message_id, user_id, emoji, created_at) VALUES (?,?,?,?)`,
		messageID, userID, emoji, createdAt,
	)
	if err != nil {
		return fmt.Errorf("store: add reaction: %w", err)
	}
	return nil
}

// RemoveReaction deletes one reaction row; removing an absent reaction is
// a no-op (idempotent, matching CommitApplier's ReactionRemoved contract).
func (s *Store) RemoveReaction(ctx context.Context, messageID int64, userID uint64, emoji string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM message_reaction WHERE message_id=? AND user_id=? AND emoji=?`, messageID, userID, emoji)
	if err != nil {
		return fmt.Errorf("store: remove reaction: %w", err)
	}
	return nil
}

// ListReactions returns every reaction on one message (message/reaction/list).
func (s *Store) ListReactions(ctx context.Context, messageID int64) ([]model.Reaction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, message_id, user_id, emoji, created_at FROM message_reaction WHERE message_id=? ORDER BY created_at ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("store: list reactions: %w", err)
	}
	defer rows.Close()
	var out []model.Reaction
	for rows.Next() {
		var r model.Reaction
		if err := rows.Scan(&r.ID, &r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReactionStats returns emoji -> count for one message (message/reaction/stats).
func (s *Store) ReactionStats(ctx context.Context, messageID int64) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT emoji, COUNT(*) FROM message_reaction WHERE message_id=? GROUP BY emoji`, messageID)
	if err != nil {
		return nil, fmt.Errorf("store: reaction stats: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var emoji string
		var count int
		if err := rows.Scan(&emoji, &count); err != nil {
			return nil, err
		}
		out[emoji] = count
	}
	return out, rows.Err()
}
