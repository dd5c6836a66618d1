package privchat

import (
	"context"
	"encoding/json"
	"time"

	"privchat-sdk/internal/model"
	"privchat-sdk/internal/transport"
)

// Account, privacy, and device operations. Privacy settings and the
// device list are server-owned and opaque here; user details are mirrored
// into the local user table so message lists can render names offline.

// UserDetail is the profile shape account/user/detail returns.
type UserDetail struct {
	UID      uint64 `json:"uid"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
	Extra    string `json:"extra"`
}

// SearchUserByQRCode resolves a scanned user code to a profile.
func (c *Client) SearchUserByQRCode(ctx context.Context, code string) (UserDetail, error) {
	if code == "" {
		return UserDetail{}, NewError(KindInvalidInput, "empty qrcode", nil)
	}
	params, err := json.Marshal(struct {
		Code string `json:"code"`
	}{code})
	if err != nil {
		return UserDetail{}, NewError(KindJSON, "marshal search by qrcode", err)
	}
	raw, err := c.callRPC(ctx, transport.MethodAccountSearchByQrcode, params)
	if err != nil {
		return UserDetail{}, err
	}
	var d UserDetail
	if err := json.Unmarshal(raw, &d); err != nil {
		return UserDetail{}, NewError(KindSerialization, "decode search by qrcode", err)
	}
	return d, nil
}

// UserDetail fetches a user's profile and refreshes the local user row.
func (c *Client) UserDetail(ctx context.Context, uid uint64) (UserDetail, error) {
	params, err := json.Marshal(struct {
		UID uint64 `json:"uid"`
	}{uid})
	if err != nil {
		return UserDetail{}, NewError(KindJSON, "marshal user detail", err)
	}
	raw, err := c.callRPC(ctx, transport.MethodAccountUserDetail, params)
	if err != nil {
		return UserDetail{}, err
	}
	var d UserDetail
	if err := json.Unmarshal(raw, &d); err != nil {
		return UserDetail{}, NewError(KindSerialization, "decode user detail", err)
	}
	if err := c.store.UpsertUser(ctx, d.UID, d.Nickname, d.Avatar, d.Extra, time.Now().UnixMilli()); err != nil {
		return UserDetail{}, NewError(KindDatabase, "mirror user detail", err)
	}
	return d, nil
}

// UpdateProfile updates the local user's own nickname/avatar/extra.
func (c *Client) UpdateProfile(ctx context.Context, nickname, avatar, extra string) error {
	params, err := json.Marshal(struct {
		Nickname string `json:"nickname,omitempty"`
		Avatar   string `json:"avatar,omitempty"`
		Extra    string `json:"extra,omitempty"`
	}{nickname, avatar, extra})
	if err != nil {
		return NewError(KindJSON, "marshal profile update", err)
	}
	if _, err := c.callRPC(ctx, transport.MethodAccountUserUpdate, params); err != nil {
		return err
	}
	return c.wrapDB("mirror profile", c.store.UpsertUser(ctx, c.uid, nickname, avatar, extra, time.Now().UnixMilli()))
}

// ShareUserCard sends uid's contact card into a channel as a message
// composed server-side.
func (c *Client) ShareUserCard(ctx context.Context, channelID uint64, channelType model.ChannelType, uid uint64) error {
	params, err := json.Marshal(struct {
		ChannelID   uint64            `json:"channel_id"`
		ChannelType model.ChannelType `json:"channel_type"`
		UID         uint64            `json:"uid"`
	}{channelID, channelType, uid})
	if err != nil {
		return NewError(KindJSON, "marshal share card", err)
	}
	_, err = c.callRPC(ctx, transport.MethodAccountUserShareCard, params)
	return err
}

// PrivacySettings returns the account's privacy settings JSON, opaque to
// the SDK.
func (c *Client) PrivacySettings(ctx context.Context) (json.RawMessage, error) {
	return c.callRPC(ctx, transport.MethodAccountPrivacyGet, []byte(`{}`))
}

// UpdatePrivacySettings patches the account's privacy settings.
func (c *Client) UpdatePrivacySettings(ctx context.Context, settings json.RawMessage) error {
	params, err := json.Marshal(struct {
		Settings json.RawMessage `json:"settings"`
	}{settings})
	if err != nil {
		return NewError(KindJSON, "marshal privacy update", err)
	}
	_, err = c.callRPC(ctx, transport.MethodAccountPrivacyUpdate, params)
	return err
}

// Device is one logged-in session of this account.
type Device struct {
	DeviceID   string `json:"device_id"`
	Platform   string `json:"platform"`
	LastActive int64  `json:"last_active"`
	Current    bool   `json:"current"`
}

// Devices lists the account's logged-in devices.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	raw, err := c.callRPC(ctx, transport.MethodDeviceList, []byte(`{}`))
	if err != nil {
		return nil, err
	}
	var resp struct {
		Devices []Device `json:"devices"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, NewError(KindSerialization, "decode device list", err)
	}
	return resp.Devices, nil
}

// UpdatePushToken registers this device's push-notification token
// (APNs/FCM delivery itself happens outside the SDK; this only records
// the intent server-side).
func (c *Client) UpdatePushToken(ctx context.Context, platform, token string) error {
	if token == "" {
		return NewError(KindInvalidInput, "empty push token", nil)
	}
	params, err := json.Marshal(struct {
		Platform string `json:"platform"`
		Token    string `json:"token"`
	}{platform, token})
	if err != nil {
		return NewError(KindJSON, "marshal push update", err)
	}
	_, err = c.callRPC(ctx, transport.MethodDevicePushUpdate, params)
	return err
}

// SetPushEnabled toggles push delivery for this device.
func (c *Client) SetPushEnabled(ctx context.Context, enabled bool) error {
	params, err := json.Marshal(struct {
		Enabled bool `json:"enabled"`
	}{enabled})
	if err != nil {
		return NewError(KindJSON, "marshal push status", err)
	}
	_, err = c.callRPC(ctx, transport.MethodDevicePushStatus, params)
	return err
}
