// Package transport defines the wire-level seam the rest of the SDK talks
// through. It models opaque, length-delimited request/response frames plus
// a server push subscription; it does not implement a concrete transport
// (TCP/WebSocket/QUIC framing lives outside this module's scope).
package transport

import (
	"context"
	"time"
)

// RPC method names. Payloads are JSON-serializable and opaque to this
// package; callers marshal/unmarshal at the call site.
const (
	MethodFriendApply   = "contact/friend/apply"
	MethodFriendAccept  = "contact/friend/accept"
	MethodFriendReject  = "contact/friend/reject"
	MethodFriendRemove  = "contact/friend/remove"
	MethodFriendCheck   = "contact/friend/check"
	MethodFriendPending = "contact/friend/pending"

	MethodBlacklistAdd    = "contact/blacklist/add"
	MethodBlacklistRemove = "contact/blacklist/remove"
	MethodBlacklistCheck  = "contact/blacklist/check"
	MethodBlacklistList   = "contact/blacklist/list"

	MethodGroupCreate         = "group/group/create"
	MethodGroupInfo           = "group/group/info"
	MethodGroupRoleSet        = "group/role/set"
	MethodGroupTransferOwner  = "group/role/transfer_owner"
	MethodGroupMemberAdd      = "group/member/add"
	MethodGroupMemberRemove   = "group/member/remove"
	MethodGroupMemberLeave    = "group/member/leave"
	MethodGroupMemberList     = "group/member/list"
	MethodGroupMemberMute     = "group/member/mute"
	MethodGroupMemberUnmute   = "group/member/unmute"
	MethodGroupSettingsGet    = "group/settings/get"
	MethodGroupSettingsUpdate = "group/settings/update"
	MethodGroupQrcodeGenerate = "group/qrcode/generate"
	MethodGroupQrcodeJoin     = "group/qrcode/join"
	MethodGroupApprovalList   = "group/approval/list"
	MethodGroupApprovalHandle = "group/approval/handle"

	MethodAccountSearchQuery     = "account/search/query"
	MethodAccountSearchByQrcode  = "account/search/by_qrcode"
	MethodAccountPrivacyGet      = "account/privacy/get"
	MethodAccountPrivacyUpdate   = "account/privacy/update"
	MethodAccountUserDetail      = "account/user/detail"
	MethodAccountUserUpdate      = "account/user/update"
	MethodAccountUserShareCard   = "account/user/share_card"

	MethodChannelPin = "channel/pin"

	// MethodMessageSend follows the same "<module>/<action>" convention as
	// every other message/* method.
	MethodMessageSend           = "message/send"
	MethodMessageRevoke         = "message/revoke"
	MethodMessageHistoryGet     = "message/history/get"
	MethodMessageReactionAdd    = "message/reaction/add"
	MethodMessageReactionRemove = "message/reaction/remove"
	MethodMessageReactionList   = "message/reaction/list"
	MethodMessageReactionStats  = "message/reaction/stats"

	MethodFileRequestUploadToken = "file/request_upload_token"
	MethodFileUploadCallback     = "file/upload_callback"

	MethodPresenceSubscribe   = "presence/subscribe"
	MethodPresenceUnsubscribe = "presence/unsubscribe"
	MethodPresenceStatusGet   = "presence/status/get"
	MethodPresenceTyping      = "presence/typing"

	MethodDeviceList       = "device/list"
	MethodDevicePushUpdate = "device/push_update"
	MethodDevicePushStatus = "device/push_status"

	MethodSyncGetChannelPts      = "sync/get_channel_pts"
	MethodSyncBatchGetChannelPts = "sync/batch_get_channel_pts"
	MethodSyncGetDifference      = "sync/get_difference"
)

// PushMessage is an unsolicited frame the server sends outside of any
// Request/response cycle (new message arrival, typing indicator, presence
// change). Kind is server-defined and opaque here; the syncengine/events
// layers interpret Payload.
type PushMessage struct {
	Kind    string
	Payload []byte
}

// ConnState reports the transport's current connectivity, mirrored into
// events.ConnectionStateChanged.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Transport is the seam between the SDK's subsystems and whatever carries
// bytes to the server. A concrete implementation (TCP/WebSocket/QUIC
// framing, TLS, reconnection at the socket level) lives outside this
// module; this package only models the call shape every consumer
// (SendConsumer, FileSendConsumer, SyncEngine) depends on.
type Transport interface {
	// Request issues one RPC and blocks for its response, honoring ctx's
	// deadline. method is one of the Method* constants; params and the
	// returned bytes are opaque JSON payloads.
	Request(ctx context.Context, method string, params []byte) ([]byte, error)

	// Subscribe registers a callback invoked for every PushMessage the
	// server sends unsolicited. Returns an unsubscribe func.
	Subscribe(fn func(PushMessage)) (unsubscribe func())

	// State reports current connectivity.
	State() ConnState

	// Close releases the underlying connection, if any.
	Close() error
}

// RequestTimeout is the default per-RPC timeout; callers derive a
// context.WithTimeout from it unless a longer caller-supplied deadline is
// already in effect.
const RequestTimeout = 30 * time.Second
