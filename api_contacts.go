package privchat

import (
	"context"
	"encoding/json"
	"time"

	"privchat-sdk/internal/model"
	"privchat-sdk/internal/transport"
)

// Contact and blacklist operations. Each call goes through callRPC (rate
// gate + in-flight dedup) and mirrors the server's answer into the local
// friend/blacklist tables so the contact list renders offline.

type friendParams struct {
	TargetUID uint64 `json:"target_uid"`
	Remark    string `json:"remark,omitempty"`
}

// ApplyFriend sends a friend request to targetUID.
func (c *Client) ApplyFriend(ctx context.Context, targetUID uint64, remark string) error {
	if targetUID == 0 {
		return NewError(KindInvalidInput, "invalid target uid", nil)
	}
	params, err := json.Marshal(friendParams{TargetUID: targetUID, Remark: remark})
	if err != nil {
		return NewError(KindJSON, "marshal friend apply", err)
	}
	if _, err := c.callRPC(ctx, transport.MethodFriendApply, params); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	return c.wrapDB("record pending friend", c.store.UpsertFriend(ctx, &model.Friend{
		UID: c.uid, FriendUID: targetUID, Remark: remark,
		Status: "pending", CreatedAt: now, UpdatedAt: now,
	}))
}

// AcceptFriend accepts a pending request from applicantUID.
func (c *Client) AcceptFriend(ctx context.Context, applicantUID uint64) error {
	params, err := json.Marshal(friendParams{TargetUID: applicantUID})
	if err != nil {
		return NewError(KindJSON, "marshal friend accept", err)
	}
	if _, err := c.callRPC(ctx, transport.MethodFriendAccept, params); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	return c.wrapDB("record accepted friend", c.store.UpsertFriend(ctx, &model.Friend{
		UID: c.uid, FriendUID: applicantUID,
		Status: "accepted", CreatedAt: now, UpdatedAt: now,
	}))
}

// RejectFriend declines a pending request from applicantUID.
func (c *Client) RejectFriend(ctx context.Context, applicantUID uint64) error {
	params, err := json.Marshal(friendParams{TargetUID: applicantUID})
	if err != nil {
		return NewError(KindJSON, "marshal friend reject", err)
	}
	if _, err := c.callRPC(ctx, transport.MethodFriendReject, params); err != nil {
		return err
	}
	return c.wrapDB("remove rejected friend", c.store.RemoveFriend(ctx, c.uid, applicantUID))
}

// RemoveFriend deletes an established friendship on the server and locally.
func (c *Client) RemoveFriend(ctx context.Context, friendUID uint64) error {
	params, err := json.Marshal(friendParams{TargetUID: friendUID})
	if err != nil {
		return NewError(KindJSON, "marshal friend remove", err)
	}
	if _, err := c.callRPC(ctx, transport.MethodFriendRemove, params); err != nil {
		return err
	}
	return c.wrapDB("remove friend", c.store.RemoveFriend(ctx, c.uid, friendUID))
}

// IsFriend asks the server whether uid is an accepted contact.
func (c *Client) IsFriend(ctx context.Context, uid uint64) (bool, error) {
	params, err := json.Marshal(friendParams{TargetUID: uid})
	if err != nil {
		return false, NewError(KindJSON, "marshal friend check", err)
	}
	raw, err := c.callRPC(ctx, transport.MethodFriendCheck, params)
	if err != nil {
		return false, err
	}
	var resp struct {
		IsFriend bool `json:"is_friend"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return false, NewError(KindSerialization, "decode friend check", err)
	}
	return resp.IsFriend, nil
}

// PendingFriendRequests fetches the server's pending list and refreshes
// the local mirror before returning it.
func (c *Client) PendingFriendRequests(ctx context.Context) ([]model.Friend, error) {
	raw, err := c.callRPC(ctx, transport.MethodFriendPending, []byte(`{}`))
	if err != nil {
		return nil, err
	}
	var resp struct {
		Requests []struct {
			FromUID   uint64 `json:"from_uid"`
			Remark    string `json:"remark"`
			CreatedAt int64  `json:"created_at"`
		} `json:"requests"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, NewError(KindSerialization, "decode pending friends", err)
	}
	out := make([]model.Friend, 0, len(resp.Requests))
	for _, r := range resp.Requests {
		f := model.Friend{
			UID: c.uid, FriendUID: r.FromUID, Remark: r.Remark,
			Status: "pending", CreatedAt: r.CreatedAt, UpdatedAt: r.CreatedAt,
		}
		if err := c.store.UpsertFriend(ctx, &f); err != nil {
			return nil, NewError(KindDatabase, "mirror pending friend", err)
		}
		out = append(out, f)
	}
	return out, nil
}

// Friends returns the locally mirrored contact list.
func (c *Client) Friends(ctx context.Context) ([]model.Friend, error) {
	fs, err := c.store.ListFriends(ctx, c.uid)
	if err != nil {
		return nil, NewError(KindDatabase, "list friends", err)
	}
	return fs, nil
}

type blacklistParams struct {
	TargetUID uint64 `json:"target_uid"`
}

// BlockUser adds targetUID to the blacklist, server-side first.
func (c *Client) BlockUser(ctx context.Context, targetUID uint64) error {
	if targetUID == 0 {
		return NewError(KindInvalidInput, "invalid target uid", nil)
	}
	params, err := json.Marshal(blacklistParams{TargetUID: targetUID})
	if err != nil {
		return NewError(KindJSON, "marshal blacklist add", err)
	}
	if _, err := c.callRPC(ctx, transport.MethodBlacklistAdd, params); err != nil {
		return err
	}
	return c.wrapDB("record block", c.store.BlockUser(ctx, c.uid, targetUID, time.Now().UnixMilli()))
}

// UnblockUser removes targetUID from the blacklist.
func (c *Client) UnblockUser(ctx context.Context, targetUID uint64) error {
	params, err := json.Marshal(blacklistParams{TargetUID: targetUID})
	if err != nil {
		return NewError(KindJSON, "marshal blacklist remove", err)
	}
	if _, err := c.callRPC(ctx, transport.MethodBlacklistRemove, params); err != nil {
		return err
	}
	return c.wrapDB("record unblock", c.store.UnblockUser(ctx, c.uid, targetUID))
}

// IsBlocked consults the server's authoritative blacklist.
func (c *Client) IsBlocked(ctx context.Context, targetUID uint64) (bool, error) {
	params, err := json.Marshal(blacklistParams{TargetUID: targetUID})
	if err != nil {
		return false, NewError(KindJSON, "marshal blacklist check", err)
	}
	raw, err := c.callRPC(ctx, transport.MethodBlacklistCheck, params)
	if err != nil {
		return false, err
	}
	var resp struct {
		Blocked bool `json:"blocked"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return false, NewError(KindSerialization, "decode blacklist check", err)
	}
	return resp.Blocked, nil
}

// Blacklist fetches the server's list and refreshes the local mirror.
func (c *Client) Blacklist(ctx context.Context) ([]model.Blacklist, error) {
	raw, err := c.callRPC(ctx, transport.MethodBlacklistList, []byte(`{}`))
	if err != nil {
		return nil, err
	}
	var resp struct {
		Blocked []struct {
			UID       uint64 `json:"uid"`
			CreatedAt int64  `json:"created_at"`
		} `json:"blocked"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, NewError(KindSerialization, "decode blacklist", err)
	}
	out := make([]model.Blacklist, 0, len(resp.Blocked))
	for _, b := range resp.Blocked {
		if err := c.store.BlockUser(ctx, c.uid, b.UID, b.CreatedAt); err != nil {
			return nil, NewError(KindDatabase, "mirror blacklist entry", err)
		}
		out = append(out, model.Blacklist{UID: c.uid, BlockedUID: b.UID, CreatedAt: b.CreatedAt})
	}
	return out, nil
}

// wrapDB tags a DAO error with KindDatabase, passing nil through.
func (c *Client) wrapDB(msg string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(KindDatabase, msg, err)
}
