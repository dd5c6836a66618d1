package privchat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"privchat-sdk/internal/events"
	"privchat-sdk/internal/model"
	"privchat-sdk/internal/store"
	"privchat-sdk/internal/transport"
)

// Channel and message operations beyond the send pipeline: pinning,
// history backfill, reactions, read state, and local queries.

// PinChannel pins or unpins a conversation, server-side first so every
// device converges on the same list order.
func (c *Client) PinChannel(ctx context.Context, channelID uint64, channelType model.ChannelType, pinned bool) error {
	params, err := json.Marshal(struct {
		ChannelID   uint64            `json:"channel_id"`
		ChannelType model.ChannelType `json:"channel_type"`
		Pinned      bool              `json:"pinned"`
	}{channelID, channelType, pinned})
	if err != nil {
		return NewError(KindJSON, "marshal channel pin", err)
	}
	if _, err := c.callRPC(ctx, transport.MethodChannelPin, params); err != nil {
		return err
	}
	if err := c.store.SetTop(ctx, channelID, channelType, pinned); err != nil {
		return NewError(KindDatabase, "set channel top", err)
	}
	c.emitChannelListUpdate(ctx, channelID, channelType)
	return nil
}

type historyMessage struct {
	ServerMessageID uint64 `json:"server_message_id"`
	Pts             uint64 `json:"pts"`
	FromUID         uint64 `json:"from_uid"`
	MessageType     string `json:"message_type"`
	Content         string `json:"content"`
	CreatedAt       int64  `json:"created_at"`
}

// FetchHistory pulls up to limit messages older than beforePts from the
// server and feeds them through the receive pipeline as Historical tasks:
// they batch per channel, dedup against anything already ingested, and
// persist in pts order like any other inbound message. Returns the number
// of messages handed to the receive queue; duplicates among them are
// included in that count, dropped by the queue, and counted in its
// SkippedDupes stat.
func (c *Client) FetchHistory(ctx context.Context, channelID uint64, channelType model.ChannelType, beforePts uint64, limit int) (int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	params, err := json.Marshal(struct {
		ChannelID   uint64            `json:"channel_id"`
		ChannelType model.ChannelType `json:"channel_type"`
		BeforePts   uint64            `json:"before_pts"`
		Limit       int               `json:"limit"`
	}{channelID, channelType, beforePts, limit})
	if err != nil {
		return 0, NewError(KindJSON, "marshal history get", err)
	}
	raw, err := c.callRPC(ctx, transport.MethodMessageHistoryGet, params)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Messages []historyMessage `json:"messages"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, NewError(KindSerialization, "decode history", err)
	}

	now := time.Now().UnixMilli()
	for _, m := range resp.Messages {
		c.recvQueue.Enqueue(channelID, channelType, model.ReceiveTask{
			TaskID:      fmt.Sprintf("recv_%d_%d", m.ServerMessageID, m.Pts),
			ServerMsgID: m.ServerMessageID,
			SequenceID:  m.Pts,
			Source:      model.SourceHistorical,
			Status:      model.TaskPending,
			CreatedAt:   now,
			MessageData: model.MessageData{
				ChannelID: channelID, ChannelType: channelType, FromUID: m.FromUID,
				MessageType: m.MessageType, Content: m.Content, CreatedAt: m.CreatedAt,
			},
		})
	}
	return len(resp.Messages), nil
}

type reactionParams struct {
	ChannelID       uint64 `json:"channel_id"`
	ServerMessageID uint64 `json:"server_message_id"`
	Emoji           string `json:"emoji,omitempty"`
}

// reactionTarget resolves a local message id to its server identity,
// rejecting messages the server hasn't acknowledged yet.
func (c *Client) reactionTarget(ctx context.Context, messageID int64) (model.Message, error) {
	msg, err := c.store.GetMessageByID(ctx, messageID)
	if err != nil {
		return model.Message{}, NewError(KindNotFound, "message not found", err)
	}
	if !msg.HasServerID() {
		return model.Message{}, NewError(KindInvalidOperation, "message not yet acknowledged by server", nil)
	}
	return msg, nil
}

// AddReaction attaches emoji to a message, server-side first; the local
// mirror enforces (message, user, emoji) uniqueness so a repeat is a no-op.
func (c *Client) AddReaction(ctx context.Context, messageID int64, emoji string) error {
	if emoji == "" {
		return NewError(KindInvalidInput, "empty emoji", nil)
	}
	msg, err := c.reactionTarget(ctx, messageID)
	if err != nil {
		return err
	}
	params, err := json.Marshal(reactionParams{msg.ChannelID, msg.ServerMessageID, emoji})
	if err != nil {
		return NewError(KindJSON, "marshal reaction add", err)
	}
	if _, err := c.callRPC(ctx, transport.MethodMessageReactionAdd, params); err != nil {
		return err
	}
	if err := c.store.AddReaction(ctx, messageID, c.uid, emoji, time.Now().UnixMilli()); err != nil {
		return NewError(KindDatabase, "record reaction", err)
	}
	c.bus.Emit(events.Event{
		Type: events.TypeReactionAdded, ChannelID: msg.ChannelID, ChannelType: msg.ChannelType, UserID: c.uid,
		Reaction: &events.Reaction{ServerMessageID: msg.ServerMessageID, UserID: c.uid, Emoji: emoji},
	})
	return nil
}

// RemoveReaction detaches the local user's emoji from a message.
func (c *Client) RemoveReaction(ctx context.Context, messageID int64, emoji string) error {
	msg, err := c.reactionTarget(ctx, messageID)
	if err != nil {
		return err
	}
	params, err := json.Marshal(reactionParams{msg.ChannelID, msg.ServerMessageID, emoji})
	if err != nil {
		return NewError(KindJSON, "marshal reaction remove", err)
	}
	if _, err := c.callRPC(ctx, transport.MethodMessageReactionRemove, params); err != nil {
		return err
	}
	if err := c.store.RemoveReaction(ctx, messageID, c.uid, emoji); err != nil {
		return NewError(KindDatabase, "remove reaction", err)
	}
	c.bus.Emit(events.Event{
		Type: events.TypeReactionRemoved, ChannelID: msg.ChannelID, ChannelType: msg.ChannelType, UserID: c.uid,
		Reaction: &events.Reaction{ServerMessageID: msg.ServerMessageID, UserID: c.uid, Emoji: emoji},
	})
	return nil
}

// Reactions returns the locally persisted reactions for a message.
func (c *Client) Reactions(ctx context.Context, messageID int64) ([]model.Reaction, error) {
	rs, err := c.store.ListReactions(ctx, messageID)
	if err != nil {
		return nil, NewError(KindDatabase, "list reactions", err)
	}
	return rs, nil
}

// FetchReactions pulls the server's authoritative reaction list for a
// message and reconciles it into the local table.
func (c *Client) FetchReactions(ctx context.Context, messageID int64) ([]model.Reaction, error) {
	msg, err := c.reactionTarget(ctx, messageID)
	if err != nil {
		return nil, err
	}
	params, err := json.Marshal(reactionParams{ChannelID: msg.ChannelID, ServerMessageID: msg.ServerMessageID})
	if err != nil {
		return nil, NewError(KindJSON, "marshal reaction list", err)
	}
	raw, err := c.callRPC(ctx, transport.MethodMessageReactionList, params)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Reactions []struct {
			UID       uint64 `json:"uid"`
			Emoji     string `json:"emoji"`
			CreatedAt int64  `json:"created_at"`
		} `json:"reactions"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, NewError(KindSerialization, "decode reaction list", err)
	}
	for _, r := range resp.Reactions {
		if err := c.store.AddReaction(ctx, messageID, r.UID, r.Emoji, r.CreatedAt); err != nil {
			return nil, NewError(KindDatabase, "mirror reaction", err)
		}
	}
	return c.Reactions(ctx, messageID)
}

// ReactionStats returns emoji → count for a message from the local store.
func (c *Client) ReactionStats(ctx context.Context, messageID int64) (map[string]int, error) {
	stats, err := c.store.ReactionStats(ctx, messageID)
	if err != nil {
		return nil, NewError(KindDatabase, "reaction stats", err)
	}
	return stats, nil
}

// FetchReactionStats asks the server for authoritative per-emoji counts
// (useful for messages whose full reaction list was never synced).
func (c *Client) FetchReactionStats(ctx context.Context, messageID int64) (map[string]int, error) {
	msg, err := c.reactionTarget(ctx, messageID)
	if err != nil {
		return nil, err
	}
	params, err := json.Marshal(reactionParams{ChannelID: msg.ChannelID, ServerMessageID: msg.ServerMessageID})
	if err != nil {
		return nil, NewError(KindJSON, "marshal reaction stats", err)
	}
	raw, err := c.callRPC(ctx, transport.MethodMessageReactionStats, params)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Stats map[string]int `json:"stats"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, NewError(KindSerialization, "decode reaction stats", err)
	}
	return resp.Stats, nil
}

// MarkChannelRead flags the channel's received messages as viewed, zeroes
// its unread count, and emits UnreadCountChanged with the recomputed
// total so the application badge updates in one step.
func (c *Client) MarkChannelRead(ctx context.Context, channelID uint64, channelType model.ChannelType) error {
	now := time.Now().UnixMilli()
	if err := c.store.MarkViewed(ctx, channelID, channelType, now); err != nil {
		return NewError(KindDatabase, "mark viewed", err)
	}
	if err := c.store.MarkAllRead(ctx, channelID, channelType); err != nil {
		return NewError(KindDatabase, "reset unread", err)
	}
	total, err := c.store.TotalUnread(ctx)
	if err != nil {
		return NewError(KindDatabase, "total unread after mark read", err)
	}
	c.bus.Emit(events.Event{
		Type: events.TypeUnreadCountChanged, ChannelID: channelID, ChannelType: channelType,
		UnreadCountChanged: &events.UnreadCountChanged{Count: 0, TotalUnread: total},
	})
	c.emitChannelListUpdate(ctx, channelID, channelType)
	return nil
}

// Messages runs a filtered, paginated query against the local store.
func (c *Client) Messages(ctx context.Context, q store.MessageQuery) (store.PageResult[model.Message], error) {
	page, err := c.store.ListMessages(ctx, q)
	if err != nil {
		return store.PageResult[model.Message]{}, NewError(KindDatabase, "list messages", err)
	}
	return page, nil
}

// SearchMessages runs a full-text query over locally persisted content.
// channelID of 0 searches every channel.
func (c *Client) SearchMessages(ctx context.Context, query string, channelID uint64, limit int) ([]model.Message, error) {
	if query == "" {
		return nil, NewError(KindInvalidInput, "empty search query", nil)
	}
	msgs, err := c.store.SearchMessages(ctx, query, channelID, limit)
	if err != nil {
		return nil, NewError(KindDatabase, "search messages", err)
	}
	return msgs, nil
}

// Channels returns the local conversation list.
func (c *Client) Channels(ctx context.Context) ([]model.Channel, error) {
	chs, err := c.store.ListChannels(ctx)
	if err != nil {
		return nil, NewError(KindDatabase, "list channels", err)
	}
	return chs, nil
}

// MessageEditHistory returns the prior content versions recorded for an
// edited message, oldest first.
func (c *Client) MessageEditHistory(ctx context.Context, messageID int64) ([]model.MessageExtra, error) {
	hs, err := c.store.GetMessageEditHistory(ctx, messageID)
	if err != nil {
		return nil, NewError(KindDatabase, "edit history", err)
	}
	return hs, nil
}

// emitChannelListUpdate re-reads the channel row and broadcasts an Update
// diff; a read failure is swallowed since the mutation itself succeeded.
func (c *Client) emitChannelListUpdate(ctx context.Context, channelID uint64, channelType model.ChannelType) {
	ch, err := c.store.GetChannel(ctx, channelID, channelType)
	if err != nil {
		return
	}
	c.bus.Emit(events.Event{
		Type: events.TypeChannelListUpdate, ChannelID: channelID, ChannelType: channelType,
		ChannelListUpdate: &events.ChannelListUpdate{Kind: events.ChannelListKindUpdate, Channels: []model.Channel{ch}},
	})
}
