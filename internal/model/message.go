// Package model holds the plain data entities shared by the persistence
// layer, queues, and sync engine. Structs carry no ORM tags — callers
// scan rows by hand.
package model

// ChannelType distinguishes direct chats from groups.
type ChannelType int

const (
	ChannelTypeDirect ChannelType = 1
	ChannelTypeGroup  ChannelType = 2
)

// MessageStatus is the lifecycle state of a Message. Draft→Sending→Sent→
// Delivered→Read is the happy path; Failed/Retrying/Revoked/Burned/Expired/
// Received are reached from other transitions.
type MessageStatus string

const (
	StatusDraft     MessageStatus = "draft"
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
	StatusRetrying  MessageStatus = "retrying"
	StatusRevoked   MessageStatus = "revoked"
	StatusBurned    MessageStatus = "burned"
	StatusExpired   MessageStatus = "expired"
	StatusReceived  MessageStatus = "received"
)

// IsTerminal reports whether status can no longer transition except to
// deletion. Revoked, Burned, and Read are terminal.
func (s MessageStatus) IsTerminal() bool {
	return s == StatusRevoked || s == StatusBurned || s == StatusRead
}

// Message is the fundamental persisted unit. server_message_id and pts are
// zero until the server has assigned them; local_message_id never leaves
// the sending device (see GLOSSARY).
type Message struct {
	ID              int64 // local primary key, monotonically assigned on insert
	ServerMessageID uint64
	Pts             uint64
	ChannelID       uint64
	ChannelType     ChannelType
	FromUID         uint64
	MessageType     string
	Content         string
	LocalMessageID  int64 // device-local snowflake, ACK/retry matching only
	Status          MessageStatus
	Timestamp       int64
	CreatedAt       int64
	UpdatedAt       int64
	IsDeleted       bool
	Revoked         bool
	RevokedAt       int64
	RevokedBy       uint64
	Viewed          bool
	ViewedAt        int64
	Flame           bool
	FlameSecond     int
	ExpireTime      int
	ExpireTimestamp int64
	Extra           string // opaque JSON
}

// HasServerID reports whether the server has acknowledged this message.
func (m *Message) HasServerID() bool { return m.ServerMessageID != 0 }

// HasPts reports whether this message carries a confirmed channel sequence.
func (m *Message) HasPts() bool { return m.Pts != 0 }
