package privchat

import (
	"context"
	"encoding/json"

	"privchat-sdk/internal/model"
	"privchat-sdk/internal/transport"
)

// Presence and typing. Subscriptions are server-side state: after
// subscribing, presence transitions for those users arrive as push frames
// and surface as UserPresenceChanged events (see handlePush).

type presenceParams struct {
	UIDs []uint64 `json:"uids"`
}

// SubscribePresence registers interest in the given users' online state.
func (c *Client) SubscribePresence(ctx context.Context, uids []uint64) error {
	if len(uids) == 0 {
		return NewError(KindInvalidInput, "no uids to subscribe", nil)
	}
	params, err := json.Marshal(presenceParams{uids})
	if err != nil {
		return NewError(KindJSON, "marshal presence subscribe", err)
	}
	_, err = c.callRPC(ctx, transport.MethodPresenceSubscribe, params)
	return err
}

// UnsubscribePresence drops interest in the given users.
func (c *Client) UnsubscribePresence(ctx context.Context, uids []uint64) error {
	params, err := json.Marshal(presenceParams{uids})
	if err != nil {
		return NewError(KindJSON, "marshal presence unsubscribe", err)
	}
	_, err = c.callRPC(ctx, transport.MethodPresenceUnsubscribe, params)
	return err
}

// PresenceStatus is one user's current online state.
type PresenceStatus struct {
	UID      uint64 `json:"uid"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"last_seen"`
}

// PresenceStatuses fetches the current state of the given users in one
// round-trip.
func (c *Client) PresenceStatuses(ctx context.Context, uids []uint64) ([]PresenceStatus, error) {
	params, err := json.Marshal(presenceParams{uids})
	if err != nil {
		return nil, NewError(KindJSON, "marshal presence get", err)
	}
	raw, err := c.callRPC(ctx, transport.MethodPresenceStatusGet, params)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Statuses []PresenceStatus `json:"statuses"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, NewError(KindSerialization, "decode presence", err)
	}
	return resp.Statuses, nil
}

// SendTyping notifies the channel's peers that the local user started or
// stopped typing. Fire-and-forget on the server side; the SDK still
// routes it through the RPC gate so a stuck key can't flood the wire.
func (c *Client) SendTyping(ctx context.Context, channelID uint64, channelType model.ChannelType, typing bool) error {
	params, err := json.Marshal(struct {
		ChannelID   uint64            `json:"channel_id"`
		ChannelType model.ChannelType `json:"channel_type"`
		Typing      bool              `json:"typing"`
	}{channelID, channelType, typing})
	if err != nil {
		return NewError(KindJSON, "marshal typing", err)
	}
	_, err = c.callRPC(ctx, transport.MethodPresenceTyping, params)
	return err
}
