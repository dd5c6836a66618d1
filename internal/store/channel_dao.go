package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"privchat-sdk/internal/model"
)

const channelColumns = `channel_id, channel_type, username, channel_name, avatar,
	last_local_message_id, last_msg_timestamp, last_msg_pts, unread_count,
	top, mute, save, forbidden, follow, receipt, online, flame, flame_second,
	extra, version, is_deleted`

func scanChannel(row interface{ Scan(...any) error }) (model.Channel, error) {
	var c model.Channel
	var top, mute, save, forbidden, follow, receipt, online, flame, isDeleted int
	err := row.Scan(
		&c.ChannelID, &c.ChannelType, &c.Username, &c.ChannelName, &c.Avatar,
		&c.LastLocalMessageID, &c.LastMsgTimestamp, &c.LastMsgPts, &c.UnreadCount,
		&top, &mute, &save, &forbidden, &follow, &receipt, &online, &flame, &c.FlameSecond,
		&c.Extra, &c.Version, &isDeleted,
	)
	if err != nil {
		return model.Channel{}, err
	}
	c.Top, c.Mute, c.Save = top != 0, mute != 0, save != 0
	c.Forbidden, c.Follow, c.Receipt = forbidden != 0, follow != 0, receipt != 0
	c.Online, c.Flame, c.IsDeleted = online != 0, flame != 0, isDeleted != 0
	return c, nil
}

// UpsertChannel inserts a channel row or replaces it wholesale. Used at
// channel-list bootstrap and by CommitApplier's ChannelSettingsUpdated.
func (s *Store) UpsertChannel(ctx context.Context, c *model.Channel) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO channel(
		channel_id, channel_type, username, channel_name, avatar,
		last_local_message_id, last_msg_timestamp, last_msg_pts, unread_count,
		top, mute, save, forbidden, follow, receipt, online, flame, flame_second,
		extra, version, is_deleted
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT(channel_id, channel_type) DO UPDATE SET
		username=excluded.username, channel_name=excluded.channel_name, avatar=excluded.avatar,
		last_local_message_id=excluded.last_local_message_id,
		last_msg_timestamp=excluded.last_msg_timestamp, last_msg_pts=excluded.last_msg_pts,
		unread_count=excluded.unread_count, top=excluded.top, mute=excluded.mute, save=excluded.save,
		forbidden=excluded.forbidden, follow=excluded.follow, receipt=excluded.receipt,
		online=excluded.online, flame=excluded.flame, flame_second=excluded.flame_second,
		extra=excluded.extra, version=excluded.version, is_deleted=excluded.is_deleted`,
		c.ChannelID, c.ChannelType, c.Username, c.ChannelName, c.Avatar,
		c.LastLocalMessageID, c.LastMsgTimestamp, c.LastMsgPts, c.UnreadCount,
		boolToInt(c.Top), boolToInt(c.Mute), boolToInt(c.Save), boolToInt(c.Forbidden),
		boolToInt(c.Follow), boolToInt(c.Receipt), boolToInt(c.Online), boolToInt(c.Flame), c.FlameSecond,
		c.Extra, c.Version, boolToInt(c.IsDeleted),
	)
	if err != nil {
		return fmt.Errorf("store: upsert channel: %w", err)
	}
	return nil
}

// GetChannel returns one channel by its composite key.
func (s *Store) GetChannel(ctx context.Context, channelID uint64, channelType model.ChannelType) (model.Channel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channel WHERE channel_id=? AND channel_type=?`, channelID, channelType)
	c, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Channel{}, ErrNotFound
	}
	if err != nil {
		return model.Channel{}, fmt.Errorf("store: get channel: %w", err)
	}
	return c, nil
}

// ListChannels returns non-deleted channels, pinned first then by
// last_msg_timestamp descending, matching list-rendering expectations.
func (s *Store) ListChannels(ctx context.Context) ([]model.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+channelColumns+` FROM channel
		WHERE is_deleted = 0 ORDER BY top DESC, last_msg_timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list channels: %w", err)
	}
	defer rows.Close()

	var out []model.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan channel: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateUnreadCount sets a channel's unread_count directly.
func (s *Store) UpdateUnreadCount(ctx context.Context, channelID uint64, channelType model.ChannelType, count int) error {
	if count < 0 {
		count = 0
	}
	_, err := s.db.ExecContext(ctx, `UPDATE channel SET unread_count=? WHERE channel_id=? AND channel_type=?`, count, channelID, channelType)
	if err != nil {
		return fmt.Errorf("store: update unread count: %w", err)
	}
	return nil
}

// MarkAllRead zeroes unread_count for a channel (application "mark read").
func (s *Store) MarkAllRead(ctx context.Context, channelID uint64, channelType model.ChannelType) error {
	return s.UpdateUnreadCount(ctx, channelID, channelType, 0)
}

// SetMute updates the channel's mute flag and bumps version the same way
// an extra mutation does, since mute feeds TotalUnreadExcludeMuted.
func (s *Store) SetMute(ctx context.Context, channelID uint64, channelType model.ChannelType, mute bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE channel SET mute=?, version=version+1 WHERE channel_id=? AND channel_type=?`, boolToInt(mute), channelID, channelType)
	if err != nil {
		return fmt.Errorf("store: set mute: %w", err)
	}
	return nil
}

// SetTop pins or unpins the channel in the conversation list.
func (s *Store) SetTop(ctx context.Context, channelID uint64, channelType model.ChannelType, top bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE channel SET top=?, version=version+1 WHERE channel_id=? AND channel_type=?`, boolToInt(top), channelID, channelType)
	if err != nil {
		return fmt.Errorf("store: set top: %w", err)
	}
	return nil
}

// UpdateExtra replaces the channel's extra JSON blob and bumps version
// for optimistic concurrency.
func (s *Store) UpdateExtra(ctx context.Context, channelID uint64, channelType model.ChannelType, extraJSON string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE channel SET extra=?, version=version+1 WHERE channel_id=? AND channel_type=?`, extraJSON, channelID, channelType)
	if err != nil {
		return fmt.Errorf("store: update extra: %w", err)
	}
	return nil
}

// TotalUnread sums unread_count over non-deleted channels.
func (s *Store) TotalUnread(ctx context.Context) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(unread_count), 0) FROM channel WHERE is_deleted=0`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("store: total unread: %w", err)
	}
	return total, nil
}

// TotalUnreadExcludeMuted sums unread_count over non-deleted, non-muted
// channels, also consulting the extra JSON "muted" key.
func (s *Store) TotalUnreadExcludeMuted(ctx context.Context) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(unread_count), 0) FROM channel
		WHERE is_deleted=0 AND mute=0
		AND (extra IS NULL OR json_extract(extra,'$.muted') IS NULL OR json_extract(extra,'$.muted') = 0)`,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("store: total unread exclude muted: %w", err)
	}
	return total, nil
}

// GetLocalPts reads channel.last_msg_pts, the last pts value applied
// locally for this channel.
func (s *Store) GetLocalPts(ctx context.Context, channelID uint64, channelType model.ChannelType) (uint64, error) {
	var pts uint64
	err := s.db.QueryRowContext(ctx, `SELECT last_msg_pts FROM channel WHERE channel_id=? AND channel_type=?`, channelID, channelType).Scan(&pts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil // unseen channel: pts starts at 0
	}
	if err != nil {
		return 0, fmt.Errorf("store: get local pts: %w", err)
	}
	return pts, nil
}

// UpdateLocalPtsIfGreater advances channel.last_msg_pts only if newPts is
// larger than the stored value — never regresses.
func (s *Store) UpdateLocalPtsIfGreater(ctx context.Context, channelID uint64, channelType model.ChannelType, newPts uint64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE channel SET last_msg_pts=? WHERE channel_id=? AND channel_type=? AND last_msg_pts < ?`,
		newPts, channelID, channelType, newPts,
	)
	if err != nil {
		return fmt.Errorf("store: update local pts: %w", err)
	}
	return nil
}
