package privchat

import (
	"context"
	"encoding/json"
	"time"

	"privchat-sdk/internal/model"
	"privchat-sdk/internal/transport"
)

// Group operations. The server owns the roster; every mutation here calls
// the RPC first and only then updates the local group/group_member mirror,
// so a transport failure leaves the local state untouched.

type groupInfoResponse struct {
	GroupID   uint64 `json:"group_id"`
	Name      string `json:"name"`
	OwnerUID  uint64 `json:"owner_uid"`
	Notice    string `json:"notice"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
	Extra     string `json:"extra"`
}

func (r groupInfoResponse) toModel() model.Group {
	return model.Group{
		GroupID: r.GroupID, Name: r.Name, OwnerUID: r.OwnerUID,
		Notice: r.Notice, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, Extra: r.Extra,
	}
}

// CreateGroup creates a group with the given name and initial members
// (the caller is added implicitly server-side as owner).
func (c *Client) CreateGroup(ctx context.Context, name string, memberUIDs []uint64) (model.Group, error) {
	if name == "" {
		return model.Group{}, NewError(KindInvalidInput, "empty group name", nil)
	}
	params, err := json.Marshal(struct {
		Name    string   `json:"name"`
		Members []uint64 `json:"members"`
	}{name, memberUIDs})
	if err != nil {
		return model.Group{}, NewError(KindJSON, "marshal group create", err)
	}
	raw, err := c.callRPC(ctx, transport.MethodGroupCreate, params)
	if err != nil {
		return model.Group{}, err
	}
	var resp groupInfoResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return model.Group{}, NewError(KindSerialization, "decode group create", err)
	}
	g := resp.toModel()
	if err := c.store.UpsertGroup(ctx, &g); err != nil {
		return model.Group{}, NewError(KindDatabase, "mirror created group", err)
	}
	return g, nil
}

type groupIDParams struct {
	GroupID uint64 `json:"group_id"`
}

// GroupInfo fetches the group's metadata and refreshes the local mirror.
func (c *Client) GroupInfo(ctx context.Context, groupID uint64) (model.Group, error) {
	params, err := json.Marshal(groupIDParams{groupID})
	if err != nil {
		return model.Group{}, NewError(KindJSON, "marshal group info", err)
	}
	raw, err := c.callRPC(ctx, transport.MethodGroupInfo, params)
	if err != nil {
		return model.Group{}, err
	}
	var resp groupInfoResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return model.Group{}, NewError(KindSerialization, "decode group info", err)
	}
	g := resp.toModel()
	if err := c.store.UpsertGroup(ctx, &g); err != nil {
		return model.Group{}, NewError(KindDatabase, "mirror group info", err)
	}
	return g, nil
}

type groupMemberParams struct {
	GroupID uint64 `json:"group_id"`
	UID     uint64 `json:"uid"`
	Role    string `json:"role,omitempty"`
}

// SetGroupRole changes a member's role (admin/member).
func (c *Client) SetGroupRole(ctx context.Context, groupID, uid uint64, role string) error {
	params, err := json.Marshal(groupMemberParams{groupID, uid, role})
	if err != nil {
		return NewError(KindJSON, "marshal role set", err)
	}
	if _, err := c.callRPC(ctx, transport.MethodGroupRoleSet, params); err != nil {
		return err
	}
	return c.wrapDB("mirror role", c.store.UpsertGroupMember(ctx, &model.GroupMember{
		GroupID: groupID, UID: uid, Role: role, JoinedAt: time.Now().UnixMilli(),
	}))
}

// TransferGroupOwner hands group ownership to newOwner.
func (c *Client) TransferGroupOwner(ctx context.Context, groupID, newOwner uint64) error {
	params, err := json.Marshal(groupMemberParams{GroupID: groupID, UID: newOwner})
	if err != nil {
		return NewError(KindJSON, "marshal owner transfer", err)
	}
	if _, err := c.callRPC(ctx, transport.MethodGroupTransferOwner, params); err != nil {
		return err
	}
	return c.wrapDB("mirror owner transfer", c.store.TransferOwner(ctx, groupID, newOwner, time.Now().UnixMilli()))
}

// AddGroupMembers invites uids into the group.
func (c *Client) AddGroupMembers(ctx context.Context, groupID uint64, uids []uint64) error {
	if len(uids) == 0 {
		return NewError(KindInvalidInput, "no members to add", nil)
	}
	params, err := json.Marshal(struct {
		GroupID uint64   `json:"group_id"`
		UIDs    []uint64 `json:"uids"`
	}{groupID, uids})
	if err != nil {
		return NewError(KindJSON, "marshal member add", err)
	}
	if _, err := c.callRPC(ctx, transport.MethodGroupMemberAdd, params); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, uid := range uids {
		if err := c.store.UpsertGroupMember(ctx, &model.GroupMember{
			GroupID: groupID, UID: uid, Role: "member", JoinedAt: now,
		}); err != nil {
			return NewError(KindDatabase, "mirror added member", err)
		}
	}
	return nil
}

// RemoveGroupMember kicks uid from the group.
func (c *Client) RemoveGroupMember(ctx context.Context, groupID, uid uint64) error {
	params, err := json.Marshal(groupMemberParams{GroupID: groupID, UID: uid})
	if err != nil {
		return NewError(KindJSON, "marshal member remove", err)
	}
	if _, err := c.callRPC(ctx, transport.MethodGroupMemberRemove, params); err != nil {
		return err
	}
	return c.wrapDB("mirror removed member", c.store.RemoveGroupMember(ctx, groupID, uid))
}

// LeaveGroup removes the local user from the group.
func (c *Client) LeaveGroup(ctx context.Context, groupID uint64) error {
	params, err := json.Marshal(groupIDParams{groupID})
	if err != nil {
		return NewError(KindJSON, "marshal group leave", err)
	}
	if _, err := c.callRPC(ctx, transport.MethodGroupMemberLeave, params); err != nil {
		return err
	}
	return c.wrapDB("mirror leave", c.store.RemoveGroupMember(ctx, groupID, c.uid))
}

// GroupMembers fetches the roster from the server, refreshing the local
// mirror row by row.
func (c *Client) GroupMembers(ctx context.Context, groupID uint64) ([]model.GroupMember, error) {
	params, err := json.Marshal(groupIDParams{groupID})
	if err != nil {
		return nil, NewError(KindJSON, "marshal member list", err)
	}
	raw, err := c.callRPC(ctx, transport.MethodGroupMemberList, params)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Members []struct {
			UID      uint64 `json:"uid"`
			Role     string `json:"role"`
			JoinedAt int64  `json:"joined_at"`
			Muted    bool   `json:"muted"`
		} `json:"members"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, NewError(KindSerialization, "decode member list", err)
	}
	out := make([]model.GroupMember, 0, len(resp.Members))
	for _, m := range resp.Members {
		gm := model.GroupMember{GroupID: groupID, UID: m.UID, Role: m.Role, JoinedAt: m.JoinedAt, Muted: m.Muted}
		if err := c.store.UpsertGroupMember(ctx, &gm); err != nil {
			return nil, NewError(KindDatabase, "mirror member", err)
		}
		out = append(out, gm)
	}
	return out, nil
}

type groupMuteParams struct {
	GroupID  uint64 `json:"group_id"`
	UID      uint64 `json:"uid"`
	Duration int64  `json:"duration_s,omitempty"`
}

// MuteGroupMember silences uid in the group for durationSeconds
// (0 = until unmuted).
func (c *Client) MuteGroupMember(ctx context.Context, groupID, uid uint64, durationSeconds int64) error {
	params, err := json.Marshal(groupMuteParams{groupID, uid, durationSeconds})
	if err != nil {
		return NewError(KindJSON, "marshal member mute", err)
	}
	_, err = c.callRPC(ctx, transport.MethodGroupMemberMute, params)
	return err
}

// UnmuteGroupMember lifts a member mute.
func (c *Client) UnmuteGroupMember(ctx context.Context, groupID, uid uint64) error {
	params, err := json.Marshal(groupMuteParams{GroupID: groupID, UID: uid})
	if err != nil {
		return NewError(KindJSON, "marshal member unmute", err)
	}
	_, err = c.callRPC(ctx, transport.MethodGroupMemberUnmute, params)
	return err
}

// GroupSettings returns the server's settings JSON for the group. The
// payload is opaque to the SDK; the application interprets it.
func (c *Client) GroupSettings(ctx context.Context, groupID uint64) (json.RawMessage, error) {
	params, err := json.Marshal(groupIDParams{groupID})
	if err != nil {
		return nil, NewError(KindJSON, "marshal settings get", err)
	}
	return c.callRPC(ctx, transport.MethodGroupSettingsGet, params)
}

// UpdateGroupSettings patches the group's settings with the given JSON.
func (c *Client) UpdateGroupSettings(ctx context.Context, groupID uint64, settings json.RawMessage) error {
	params, err := json.Marshal(struct {
		GroupID  uint64          `json:"group_id"`
		Settings json.RawMessage `json:"settings"`
	}{groupID, settings})
	if err != nil {
		return NewError(KindJSON, "marshal settings update", err)
	}
	_, err = c.callRPC(ctx, transport.MethodGroupSettingsUpdate, params)
	return err
}

// GenerateGroupQRCode returns a join code for the group.
func (c *Client) GenerateGroupQRCode(ctx context.Context, groupID uint64) (string, error) {
	params, err := json.Marshal(groupIDParams{groupID})
	if err != nil {
		return "", NewError(KindJSON, "marshal qrcode generate", err)
	}
	raw, err := c.callRPC(ctx, transport.MethodGroupQrcodeGenerate, params)
	if err != nil {
		return "", err
	}
	var resp struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", NewError(KindSerialization, "decode qrcode generate", err)
	}
	return resp.Code, nil
}

// JoinGroupByQRCode redeems a join code, returning the joined group.
func (c *Client) JoinGroupByQRCode(ctx context.Context, code string) (model.Group, error) {
	if code == "" {
		return model.Group{}, NewError(KindInvalidInput, "empty qrcode", nil)
	}
	params, err := json.Marshal(struct {
		Code string `json:"code"`
	}{code})
	if err != nil {
		return model.Group{}, NewError(KindJSON, "marshal qrcode join", err)
	}
	raw, err := c.callRPC(ctx, transport.MethodGroupQrcodeJoin, params)
	if err != nil {
		return model.Group{}, err
	}
	var resp groupInfoResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return model.Group{}, NewError(KindSerialization, "decode qrcode join", err)
	}
	g := resp.toModel()
	if err := c.store.UpsertGroup(ctx, &g); err != nil {
		return model.Group{}, NewError(KindDatabase, "mirror joined group", err)
	}
	return g, nil
}

// GroupApproval is one pending join request awaiting moderator action.
type GroupApproval struct {
	ApprovalID uint64 `json:"approval_id"`
	GroupID    uint64 `json:"group_id"`
	UID        uint64 `json:"uid"`
	Reason     string `json:"reason"`
	CreatedAt  int64  `json:"created_at"`
}

// GroupApprovals lists pending join requests for the group.
func (c *Client) GroupApprovals(ctx context.Context, groupID uint64) ([]GroupApproval, error) {
	params, err := json.Marshal(groupIDParams{groupID})
	if err != nil {
		return nil, NewError(KindJSON, "marshal approval list", err)
	}
	raw, err := c.callRPC(ctx, transport.MethodGroupApprovalList, params)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Approvals []GroupApproval `json:"approvals"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, NewError(KindSerialization, "decode approval list", err)
	}
	return resp.Approvals, nil
}

// HandleGroupApproval approves or rejects a pending join request.
func (c *Client) HandleGroupApproval(ctx context.Context, approvalID uint64, approve bool) error {
	params, err := json.Marshal(struct {
		ApprovalID uint64 `json:"approval_id"`
		Approve    bool   `json:"approve"`
	}{approvalID, approve})
	if err != nil {
		return NewError(KindJSON, "marshal approval handle", err)
	}
	_, err = c.callRPC(ctx, transport.MethodGroupApprovalHandle, params)
	return err
}
