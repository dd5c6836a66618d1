package model

// Channel is one row per conversation; list-rendering fields are
// denormalized from the message table.
type Channel struct {
	ChannelID          uint64
	ChannelType        ChannelType
	Username           string // direct channels: peer user id as string
	ChannelName        string
	Avatar             string
	LastLocalMessageID int64
	LastMsgTimestamp   int64
	LastMsgPts         uint64
	UnreadCount        int
	Top                bool
	Mute               bool
	Save               bool
	Forbidden          bool
	Follow             bool
	Receipt            bool
	Online             bool
	Flame              bool
	FlameSecond        int
	Extra              string // JSON; "muted" key consulted by total-unread exclusion
	Version            int64
	IsDeleted          bool
}

// ChannelMember is one user's membership row in a channel.
type ChannelMember struct {
	ChannelID   uint64
	ChannelType ChannelType
	UID         uint64
	Role        string
	JoinedAt    int64
	Muted       bool
	Extra       string
}

// Friend is a relational contact entry.
type Friend struct {
	UID       uint64
	FriendUID uint64
	Remark    string
	Status    string // pending/accepted/rejected
	CreatedAt int64
	UpdatedAt int64
}

// Group is a group conversation's metadata, distinct from its Channel row.
type Group struct {
	GroupID   uint64
	Name      string
	OwnerUID  uint64
	Notice    string
	CreatedAt int64
	UpdatedAt int64
	Extra     string
}

// GroupMember mirrors ChannelMember but scoped to the group roster rather
// than a specific channel (a group may back more than one channel view).
type GroupMember struct {
	GroupID  uint64
	UID      uint64
	Role     string
	JoinedAt int64
	Muted    bool
}

// Blacklist is a one-directional block relationship.
type Blacklist struct {
	UID        uint64
	BlockedUID uint64
	CreatedAt  int64
}

// Reaction enforces uniqueness on (MessageID, UserID, Emoji) at the DAO.
type Reaction struct {
	ID        int64
	MessageID int64
	UserID    uint64
	Emoji     string
	CreatedAt int64
}

// MessageExtra holds forward-compat / edit-history payloads keyed by
// message id, separate from Message.Extra so edit history can grow
// without rewriting the message row.
type MessageExtra struct {
	MessageID int64
	Key       string
	Value     string // JSON
	UpdatedAt int64
}

// Reminder is a scheduled nudge tied to a channel.
type Reminder struct {
	ID        int64
	ChannelID uint64
	CreatorID uint64
	Content   string
	RemindAt  int64
	CreatedAt int64
}

// Robot is a bot/assistant participant; RobotMenu rows are its command list.
type Robot struct {
	RobotID   uint64
	Name      string
	Avatar    string
	Extra     string
	CreatedAt int64
}

// RobotMenu is one invocable command exposed by a Robot.
type RobotMenu struct {
	RobotID  uint64
	Cmd      string
	Title    string
	Position int
}
