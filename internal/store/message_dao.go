package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"privchat-sdk/internal/model"
)

// ---- Message ----

func scanMessage(row interface{ Scan(...any) error }) (model.Message, error) {
	var m model.Message
	var isDeleted, revoked, viewed int
	err := row.Scan(
		&m.ID, &m.LocalMessageID, &m.ServerMessageID, &m.Pts, &m.ChannelID, &m.ChannelType,
		&m.FromUID, &m.MessageType, &m.Content, &m.Status, &m.Timestamp, &m.CreatedAt, &m.UpdatedAt,
		&isDeleted, &revoked, &m.RevokedAt, &m.RevokedBy, &viewed, &m.ViewedAt,
		&m.Flame, &m.FlameSecond, &m.ExpireTime, &m.ExpireTimestamp, &m.Extra,
	)
	if err != nil {
		return model.Message{}, err
	}
	m.IsDeleted = isDeleted != 0
	m.Revoked = revoked != 0
	m.Viewed = viewed != 0
	return m, nil
}

const messageColumns = `id, local_message_id, server_message_id, pts, channel_id, channel_type,
	from_uid, message_type, content, status, timestamp, created_at, updated_at,
	is_deleted, revoked, revoked_at, revoked_by, viewed, viewed_at,
	flame, flame_second, expire_time, expire_timestamp, extra`

// InsertMessage inserts a new message row and returns its local id.
// Callers are responsible for dedup checks (ExistsByServerID) before
// calling this for server-originated messages.
func (s *Store) InsertMessage(ctx context.Context, m *model.Message) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO message(
		local_message_id, server_message_id, pts, channel_id, channel_type, from_uid,
		message_type, content, status, timestamp, created_at, updated_at,
		is_deleted, revoked, revoked_at, revoked_by, viewed, viewed_at,
		flame, flame_second, expire_time, expire_timestamp, extra
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.LocalMessageID, m.ServerMessageID, m.Pts, m.ChannelID, m.ChannelType, m.FromUID,
		m.MessageType, m.Content, m.Status, m.Timestamp, m.CreatedAt, m.UpdatedAt,
		boolToInt(m.IsDeleted), boolToInt(m.Revoked), m.RevokedAt, m.RevokedBy, boolToInt(m.Viewed), m.ViewedAt,
		boolToInt(m.Flame), m.FlameSecond, m.ExpireTime, m.ExpireTimestamp, m.Extra,
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert message: %w", err)
	}
	return res.LastInsertId()
}

// GetMessageByID returns one message by its local primary key.
func (s *Store) GetMessageByID(ctx context.Context, id int64) (model.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM message WHERE id=?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, ErrNotFound
	}
	if err != nil {
		return model.Message{}, fmt.Errorf("store: get message: %w", err)
	}
	return m, nil
}

// GetMessageByServerID looks a message up by (channel_id, server_message_id).
func (s *Store) GetMessageByServerID(ctx context.Context, channelID, serverMessageID uint64) (model.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM message WHERE channel_id=? AND server_message_id=?`, channelID, serverMessageID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, ErrNotFound
	}
	if err != nil {
		return model.Message{}, fmt.Errorf("store: get message by server id: %w", err)
	}
	return m, nil
}

// ExistsByServerID reports whether (channel_id, server_message_id) is
// already persisted, used by the receive pipeline and CommitApplier to
// keep MessageCreated idempotent.
func (s *Store) ExistsByServerID(ctx context.Context, channelID, serverMessageID uint64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM message WHERE channel_id=? AND server_message_id=? LIMIT 1`, channelID, serverMessageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: exists by server id: %w", err)
	}
	return true, nil
}

// UpdateSendResult applies a SendConsumer ack: server-assigned identity,
// status, and updated_at in one statement.
func (s *Store) UpdateSendResult(ctx context.Context, id int64, serverMessageID, pts uint64, status model.MessageStatus, updatedAt int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE message SET server_message_id=?, pts=?, status=?, updated_at=? WHERE id=?`,
		serverMessageID, pts, status, updatedAt, id,
	)
	if err != nil {
		return fmt.Errorf("store: update send result: %w", err)
	}
	return nil
}

// UpdateStatus transitions a message's status. Callers must have already
// checked MessageStatus.IsTerminal() on the current row; this method does
// not itself guard against illegal transitions since the caller
// (SendConsumer / CommitApplier) already holds the authoritative context.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status model.MessageStatus, updatedAt int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE message SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return fmt.Errorf("store: update status: %w", err)
	}
	return nil
}

// MarkRevoked sets the terminal Revoked state on a message addressed by
// (channel_id, server_message_id), idempotently: a repeat commit is a
// no-op because the row already reads revoked=1.
func (s *Store) MarkRevoked(ctx context.Context, channelID, serverMessageID, revokedBy uint64, revokedAt int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE message SET revoked=1, revoked_at=?, revoked_by=?, status=? WHERE channel_id=? AND server_message_id=?`,
		revokedAt, revokedBy, model.StatusRevoked, channelID, serverMessageID,
	)
	if err != nil {
		return fmt.Errorf("store: mark revoked: %w", err)
	}
	return nil
}

// UpdateContentEdited applies a MessageEdited commit: overwrites content
// and records the prior value in message_extra under a per-edit key so
// history accumulates without growing the message row.
func (s *Store) UpdateContentEdited(ctx context.Context, channelID, serverMessageID uint64, newContent string, editedAt int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var id int64
		var prevContent string
		if err := tx.QueryRowContext(ctx, `SELECT id, content FROM message WHERE channel_id=? AND server_message_id=?`, channelID, serverMessageID).Scan(&id, &prevContent); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE message SET content=?, updated_at=? WHERE id=?`, newContent, editedAt, id); err != nil {
			return err
		}
		key := fmt.Sprintf("edit_%d", editedAt)
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO message_extra(message_id, key, value, updated_at) VALUES (?,?,?,?)`,
			id, key, prevContent, editedAt,
		)
		return err
	})
}

// MarkReadUpToPts applies a peer's read receipt: every message the local
// user sent in the channel with pts at or below upToPts moves to Read.
// Terminal rows (Revoked, Burned, already Read) are left alone, so a
// replayed receipt is a no-op.
func (s *Store) MarkReadUpToPts(ctx context.Context, channelID uint64, channelType model.ChannelType, fromUID uint64, upToPts uint64, readAt int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE message SET status=?, updated_at=?
		 WHERE channel_id=? AND channel_type=? AND from_uid=? AND pts>0 AND pts<=?
		 AND status IN (?,?)`,
		model.StatusRead, readAt, channelID, channelType, fromUID, upToPts,
		model.StatusSent, model.StatusDelivered,
	)
	if err != nil {
		return 0, fmt.Errorf("store: mark read up to pts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MarkViewed flags received messages in the channel as viewed, the local
// half of "the user opened this conversation".
func (s *Store) MarkViewed(ctx context.Context, channelID uint64, channelType model.ChannelType, viewedAt int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE message SET viewed=1, viewed_at=? WHERE channel_id=? AND channel_type=? AND status=? AND viewed=0`,
		viewedAt, channelID, channelType, model.StatusReceived,
	)
	if err != nil {
		return fmt.Errorf("store: mark viewed: %w", err)
	}
	return nil
}

// ListMessages runs a filtered, paginated query over one channel's
// messages.
func (s *Store) ListMessages(ctx context.Context, q MessageQuery) (PageResult[model.Message], error) {
	where := []string{"channel_id = ?"}
	args := []any{q.ChannelID}
	if q.ChannelType != 0 {
		where = append(where, "channel_type = ?")
		args = append(args, q.ChannelType)
	}
	if q.FromUID != 0 {
		where = append(where, "from_uid = ?")
		args = append(args, q.FromUID)
	}
	if q.MessageType != "" {
		where = append(where, "message_type = ?")
		args = append(args, q.MessageType)
	}
	if q.TimeFrom != 0 {
		where = append(where, "created_at >= ?")
		args = append(args, q.TimeFrom)
	}
	if q.TimeTo != 0 {
		where = append(where, "created_at <= ?")
		args = append(args, q.TimeTo)
	}
	if !q.IncludeDeleted {
		where = append(where, "is_deleted = 0")
	}
	whereClause := ""
	for i, w := range where {
		if i == 0 {
			whereClause = "WHERE " + w
		} else {
			whereClause += " AND " + w
		}
	}

	var total int
	countQ := fmt.Sprintf(`SELECT COUNT(*) FROM message %s`, whereClause)
	if err := s.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return PageResult[model.Message]{}, fmt.Errorf("store: count messages: %w", err)
	}

	order := "pts ASC, id ASC" // ordering by pts must match insertion order, never timestamp
	if q.OrderDesc {
		order = "pts DESC, id DESC"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	listQ := fmt.Sprintf(`SELECT %s FROM message %s ORDER BY %s LIMIT ? OFFSET ?`, messageColumns, whereClause, order)
	rows, err := s.db.QueryContext(ctx, listQ, append(append([]any{}, args...), limit, q.Offset)...)
	if err != nil {
		return PageResult[model.Message]{}, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return PageResult[model.Message]{}, fmt.Errorf("store: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return PageResult[model.Message]{}, err
	}

	page := q.Offset/limit + 1
	return PageResult[model.Message]{
		Data:     out,
		Total:    total,
		Page:     page,
		PageSize: limit,
		HasMore:  q.Offset+len(out) < total,
	}, nil
}

// InsertBatchAndUpdateChannel transactionally inserts new messages and
// updates the owning channel's denormalized list-rendering fields in one
// atomic write. unreadDelta is added to channel.unread_count (0 for
// messages the local user authored).
func (s *Store) InsertBatchAndUpdateChannel(ctx context.Context, msgs []*model.Message, unreadDelta int) error {
	if len(msgs) == 0 {
		return nil
	}
	channelID := msgs[0].ChannelID
	channelType := msgs[0].ChannelType

	return s.withTx(ctx, func(tx *sql.Tx) error {
		// First message to an unseen channel: seed a minimal row so the
		// denormalized update below has somewhere to land.
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO channel(channel_id, channel_type, extra) VALUES(?,?,'{}')`,
			channelID, channelType,
		); err != nil {
			return fmt.Errorf("seed channel row: %w", err)
		}

		var lastLocalID int64
		var lastTS int64
		var lastPts uint64
		for _, m := range msgs {
			res, err := tx.ExecContext(ctx, `INSERT INTO message(
				local_message_id, server_message_id, pts, channel_id, channel_type, from_uid,
				message_type, content, status, timestamp, created_at, updated_at,
				is_deleted, revoked, revoked_at, revoked_by, viewed, viewed_at,
				flame, flame_second, expire_time, expire_timestamp, extra
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
				m.LocalMessageID, m.ServerMessageID, m.Pts, m.ChannelID, m.ChannelType, m.FromUID,
				m.MessageType, m.Content, m.Status, m.Timestamp, m.CreatedAt, m.UpdatedAt,
				boolToInt(m.IsDeleted), boolToInt(m.Revoked), m.RevokedAt, m.RevokedBy, boolToInt(m.Viewed), m.ViewedAt,
				boolToInt(m.Flame), m.FlameSecond, m.ExpireTime, m.ExpireTimestamp, m.Extra,
			)
			if err != nil {
				return fmt.Errorf("insert message batch: %w", err)
			}
			id, _ := res.LastInsertId()
			m.ID = id
			if m.Timestamp >= lastTS {
				lastTS = m.Timestamp
				lastLocalID = id
			}
			if m.Pts > lastPts {
				lastPts = m.Pts
			}
		}

		_, err := tx.ExecContext(ctx, `UPDATE channel SET
			last_local_message_id = ?,
			last_msg_timestamp = MAX(last_msg_timestamp, ?),
			last_msg_pts = MAX(last_msg_pts, ?),
			unread_count = unread_count + ?
			WHERE channel_id = ? AND channel_type = ?`,
			lastLocalID, lastTS, lastPts, unreadDelta, channelID, channelType,
		)
		if err != nil {
			return fmt.Errorf("update channel after batch insert: %w", err)
		}
		return nil
	})
}
