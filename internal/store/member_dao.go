package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"privchat-sdk/internal/model"
)

// ---- ChannelMember ----

// UpsertMember adds or updates one channel membership row.
func (s *Store) UpsertMember(ctx context.Context, m *model.ChannelMember) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO channel_member(channel_id, channel_type, uid, role, joined_at, muted, extra)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(channel_id, uid) DO UPDATE SET
			role=excluded.role, muted=excluded.muted, extra=excluded.extra`,
		m.ChannelID, m.ChannelType, m.UID, m.Role, m.JoinedAt, boolToInt(m.Muted), m.Extra,
	)
	if err != nil {
		return fmt.Errorf("store: upsert member: %w", err)
	}
	return nil
}

// RemoveMember deletes one membership row (CommitApplier MemberRemoved).
func (s *Store) RemoveMember(ctx context.Context, channelID, uid uint64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM channel_member WHERE channel_id=? AND uid=?`, channelID, uid)
	if err != nil {
		return fmt.Errorf("store: remove member: %w", err)
	}
	return nil
}

// ListMembers returns a channel's roster.
func (s *Store) ListMembers(ctx context.Context, channelID uint64) ([]model.ChannelMember, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel_id, channel_type, uid, role, joined_at, muted, extra
		FROM channel_member WHERE channel_id=? ORDER BY joined_at ASC`, channelID)
	if err != nil {
		return nil, fmt.Errorf("store: list members: %w", err)
	}
	defer rows.Close()

	var out []model.ChannelMember
	for rows.Next() {
		var m model.ChannelMember
		var muted int
		if err := rows.Scan(&m.ChannelID, &m.ChannelType, &m.UID, &m.Role, &m.JoinedAt, &muted, &m.Extra); err != nil {
			return nil, err
		}
		m.Muted = muted != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---- Friend ----

// UpsertFriend inserts or updates a friend relationship row.
func (s *Store) UpsertFriend(ctx context.Context, f *model.Friend) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO friend(uid, friend_uid, remark, status, created_at, updated_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(uid, friend_uid) DO UPDATE SET remark=excluded.remark, status=excluded.status, updated_at=excluded.updated_at`,
		f.UID, f.FriendUID, f.Remark, f.Status, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: upsert friend: %w", err)
	}
	return nil
}

// GetFriend looks up one friend relationship.
func (s *Store) GetFriend(ctx context.Context, uid, friendUID uint64) (model.Friend, error) {
	var f model.Friend
	err := s.db.QueryRowContext(ctx, `SELECT uid, friend_uid, remark, status, created_at, updated_at FROM friend WHERE uid=? AND friend_uid=?`, uid, friendUID).
		Scan(&f.UID, &f.FriendUID, &f.Remark, &f.Status, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Friend{}, ErrNotFound
	}
	if err != nil {
		return model.Friend{}, fmt.Errorf("store: get friend: %w", err)
	}
	return f, nil
}

// ListFriends returns every relationship for uid, any status.
func (s *Store) ListFriends(ctx context.Context, uid uint64) ([]model.Friend, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uid, friend_uid, remark, status, created_at, updated_at FROM friend WHERE uid=? ORDER BY created_at DESC`, uid)
	if err != nil {
		return nil, fmt.Errorf("store: list friends: %w", err)
	}
	defer rows.Close()
	var out []model.Friend
	for rows.Next() {
		var f model.Friend
		if err := rows.Scan(&f.UID, &f.FriendUID, &f.Remark, &f.Status, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// RemoveFriend deletes a friend relationship (contact/friend/remove).
func (s *Store) RemoveFriend(ctx context.Context, uid, friendUID uint64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM friend WHERE uid=? AND friend_uid=?`, uid, friendUID)
	if err != nil {
		return fmt.Errorf("store: remove friend: %w", err)
	}
	return nil
}

// ---- Group / GroupMember ----

// UpsertGroup inserts or replaces a group's metadata row.
func (s *Store) UpsertGroup(ctx context.Context, g *model.Group) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO "group"(group_id, name, owner_uid, notice, created_at, updated_at, extra)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(group_id) DO UPDATE SET name=excluded.name, owner_uid=excluded.owner_uid,
			notice=excluded.notice, updated_at=excluded.updated_at, extra=excluded.extra`,
		g.GroupID, g.Name, g.OwnerUID, g.Notice, g.CreatedAt, g.UpdatedAt, g.Extra,
	)
	if err != nil {
		return fmt.Errorf("store: upsert group: %w", err)
	}
	return nil
}

// GetGroup returns one group's metadata.
func (s *Store) GetGroup(ctx context.Context, groupID uint64) (model.Group, error) {
	var g model.Group
	err := s.db.QueryRowContext(ctx, `SELECT group_id, name, owner_uid, notice, created_at, updated_at, extra FROM "group" WHERE group_id=?`, groupID).
		Scan(&g.GroupID, &g.Name, &g.OwnerUID, &g.Notice, &g.CreatedAt, &g.UpdatedAt, &g.Extra)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Group{}, ErrNotFound
	}
	if err != nil {
		return model.Group{}, fmt.Errorf("store: get group: %w", err)
	}
	return g, nil
}

// TransferOwner updates a group's owner_uid (group/role/transfer_owner).
func (s *Store) TransferOwner(ctx context.Context, groupID, newOwner uint64, updatedAt int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE "group" SET owner_uid=?, updated_at=? WHERE group_id=?`, newOwner, updatedAt, groupID)
	if err != nil {
		return fmt.Errorf("store: transfer owner: %w", err)
	}
	return nil
}

// UpsertGroupMember adds or updates one group roster row.
func (s *Store) UpsertGroupMember(ctx context.Context, m *model.GroupMember) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO group_member(group_id, uid, role, joined_at, muted)
		VALUES (?,?,?,?,?)
		ON CONFLICT(group_id, uid) DO UPDATE SET role=excluded.role, muted=excluded.muted`,
		m.GroupID, m.UID, m.Role, m.JoinedAt, boolToInt(m.Muted),
	)
	if err != nil {
		return fmt.Errorf("store: upsert group member: %w", err)
	}
	return nil
}

// RemoveGroupMember deletes one roster row (group/member/{remove,leave}).
func (s *Store) RemoveGroupMember(ctx context.Context, groupID, uid uint64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM group_member WHERE group_id=? AND uid=?`, groupID, uid)
	if err != nil {
		return fmt.Errorf("store: remove group member: %w", err)
	}
	return nil
}

// ListGroupMembers returns a group's full roster (group/member/list).
func (s *Store) ListGroupMembers(ctx context.Context, groupID uint64) ([]model.GroupMember, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id, uid, role, joined_at, muted FROM group_member WHERE group_id=? ORDER BY joined_at ASC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("store: list group members: %w", err)
	}
	defer rows.Close()
	var out []model.GroupMember
	for rows.Next() {
		var m model.GroupMember
		var muted int
		if err := rows.Scan(&m.GroupID, &m.UID, &m.Role, &m.JoinedAt, &muted); err != nil {
			return nil, err
		}
		m.Muted = muted != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---- Blacklist ----

// BlockUser inserts a one-directional block relationship.
func (s *Store) BlockUser(ctx context.Context, uid, blockedUID uint64, createdAt int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO blacklist(uid, blocked_uid, created_at) VALUES (?,?,?)`, uid, blockedUID, createdAt)
	if err != nil {
		return fmt.Errorf("store: block user: %w", err)
	}
	return nil
}

// UnblockUser removes a block relationship.
func (s *Store) UnblockUser(ctx context.Context, uid, blockedUID uint64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blacklist WHERE uid=? AND blocked_uid=?`, uid, blockedUID)
	if err != nil {
		return fmt.Errorf("store: unblock user: %w", err)
	}
	return nil
}

// IsBlocked reports whether uid has blocked target (contact/blacklist/check).
func (s *Store) IsBlocked(ctx context.Context, uid, target uint64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM blacklist WHERE uid=? AND blocked_uid=? LIMIT 1`, uid, target).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: is blocked: %w", err)
	}
	return true, nil
}

// ListBlacklist returns every user uid has blocked (contact/blacklist/list).
func (s *Store) ListBlacklist(ctx context.Context, uid uint64) ([]model.Blacklist, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uid, blocked_uid, created_at FROM blacklist WHERE uid=? ORDER BY created_at DESC`, uid)
	if err != nil {
		return nil, fmt.Errorf("store: list blacklist: %w", err)
	}
	defer rows.Close()
	var out []model.Blacklist
	for rows.Next() {
		var b model.Blacklist
		if err := rows.Scan(&b.UID, &b.BlockedUID, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
