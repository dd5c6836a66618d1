package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"privchat-sdk/internal/model"
)

// ---- Reminder ----

// CreateReminder inserts a scheduled nudge tied to a channel.
func (s *Store) CreateReminder(ctx context.Context, r *model.Reminder) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO reminder(channel_id, creator_id, content, remind_at, created_at) VALUES (?,?,?,?,?)`,
		r.ChannelID, r.CreatorID, r.Content, r.RemindAt, r.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("store: create reminder: %w", err)
	}
	return res.LastInsertId()
}

// ListReminders returns reminders for one channel, earliest due first.
func (s *Store) ListReminders(ctx context.Context, channelID uint64) ([]model.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, channel_id, creator_id, content, remind_at, created_at FROM reminder WHERE channel_id=? ORDER BY remind_at ASC`, channelID)
	if err != nil {
		return nil, fmt.Errorf("store: list reminders: %w", err)
	}
	defer rows.Close()
	var out []model.Reminder
	for rows.Next() {
		var r model.Reminder
		if err := rows.Scan(&r.ID, &r.ChannelID, &r.CreatorID, &r.Content, &r.RemindAt, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- Robot / RobotMenu ----

// UpsertRobot inserts or replaces a bot participant's metadata.
func (s *Store) UpsertRobot(ctx context.Context, r *model.Robot) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO robot(robot_id, name, avatar, extra, created_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(robot_id) DO UPDATE SET name=excluded.name, avatar=excluded.avatar, extra=excluded.extra`,
		r.RobotID, r.Name, r.Avatar, r.Extra, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: upsert robot: %w", err)
	}
	return nil
}

// UpsertRobotMenu adds or replaces one invocable command for a robot.
func (s *Store) UpsertRobotMenu(ctx context.Context, m *model.RobotMenu) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO robot_menu(robot_id, cmd, title, position)
		VALUES (?,?,?,?)
		ON CONFLICT(robot_id, cmd) DO UPDATE SET title=excluded.title, position=excluded.position`,
		m.RobotID, m.Cmd, m.Title, m.Position,
	)
	if err != nil {
		return fmt.Errorf("store: upsert robot menu: %w", err)
	}
	return nil
}

// ListRobotMenu returns a robot's command list ordered for display.
func (s *Store) ListRobotMenu(ctx context.Context, robotID uint64) ([]model.RobotMenu, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT robot_id, cmd, title, position FROM robot_menu WHERE robot_id=? ORDER BY position ASC`, robotID)
	if err != nil {
		return nil, fmt.Errorf("store: list robot menu: %w", err)
	}
	defer rows.Close()
	var out []model.RobotMenu
	for rows.Next() {
		var m model.RobotMenu
		if err := rows.Scan(&m.RobotID, &m.Cmd, &m.Title, &m.Position); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---- User (cached peer profile) ----

// UpsertUser caches a peer's profile fields seen via account/user/detail
// or a group roster fetch.
func (s *Store) UpsertUser(ctx context.Context, uid uint64, nickname, avatar, extra string, updatedAt int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO "user"(uid, nickname, avatar, extra, updated_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(uid) DO UPDATE SET nickname=excluded.nickname, avatar=excluded.avatar, extra=excluded.extra, updated_at=excluded.updated_at`,
		uid, nickname, avatar, extra, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: upsert user: %w", err)
	}
	return nil
}

// GetUser returns a cached peer profile row.
func (s *Store) GetUser(ctx context.Context, uid uint64) (nickname, avatar, extra string, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT nickname, avatar, extra FROM "user" WHERE uid=?`, uid)
	if scanErr := row.Scan(&nickname, &avatar, &extra); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return "", "", "", ErrNotFound
		}
		return "", "", "", fmt.Errorf("store: get user: %w", scanErr)
	}
	return nickname, avatar, extra, nil
}

// ---- MessageExtra (edit history) ----

// GetMessageEditHistory returns every recorded prior content value for a
// message, ordered oldest first.
func (s *Store) GetMessageEditHistory(ctx context.Context, messageID int64) ([]model.MessageExtra, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT message_id, key, value, updated_at FROM message_extra WHERE message_id=? AND key LIKE 'edit_%' ORDER BY updated_at ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("store: get edit history: %w", err)
	}
	defer rows.Close()
	var out []model.MessageExtra
	for rows.Next() {
		var e model.MessageExtra
		if err := rows.Scan(&e.MessageID, &e.Key, &e.Value, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---- ChannelExtra (extended per-channel settings) ----

// SetChannelExtra stores one keyed setting in the channel_extra table,
// distinct from channel.extra's small inline JSON blob.
func (s *Store) SetChannelExtra(ctx context.Context, channelID uint64, key, value string, updatedAt int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO channel_extra(channel_id, key, value, updated_at)
		VALUES (?,?,?,?)
		ON CONFLICT(channel_id, key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		channelID, key, value, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: set channel extra: %w", err)
	}
	return nil
}

// GetChannelExtra reads one keyed setting from channel_extra.
func (s *Store) GetChannelExtra(ctx context.Context, channelID uint64, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM channel_extra WHERE channel_id=? AND key=?`, channelID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: get channel extra: %w", err)
	}
	return value, nil
}
