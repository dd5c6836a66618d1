package model

// CommitKind tags the concrete payload carried by a Commit.
type CommitKind string

const (
	CommitMessageCreated         CommitKind = "message_created"
	CommitMessageEdited          CommitKind = "message_edited"
	CommitMessageRevoked         CommitKind = "message_revoked"
	CommitReactionAdded          CommitKind = "reaction_added"
	CommitReactionRemoved        CommitKind = "reaction_removed"
	CommitMemberAdded            CommitKind = "member_added"
	CommitMemberRemoved          CommitKind = "member_removed"
	CommitChannelSettingsUpdated CommitKind = "channel_settings_updated"
)

// Commit is one server-emitted state change in a channel, identified by
// its Pts. Only the field matching Kind is populated.
type Commit struct {
	Kind        CommitKind
	ChannelID   uint64
	ChannelType ChannelType
	Pts         uint64

	MessageCreated         *CommitMessageCreatedPayload
	MessageEdited          *CommitMessageEditedPayload
	MessageRevoked         *CommitMessageRevokedPayload
	ReactionAdded          *CommitReactionPayload
	ReactionRemoved        *CommitReactionPayload
	MemberAdded            *CommitMemberAddedPayload
	MemberRemoved          *CommitMemberRemovedPayload
	ChannelSettingsUpdated *CommitChannelSettingsPayload
}

type CommitMessageCreatedPayload struct {
	ServerMessageID uint64
	FromUID         uint64
	MessageType     string
	Content         string
	CreatedAt       int64
	Extra           string
}

type CommitMessageEditedPayload struct {
	ServerMessageID uint64
	NewContent      string
	EditedAt        int64
}

type CommitMessageRevokedPayload struct {
	ServerMessageID uint64
	RevokedBy       uint64
	RevokedAt       int64
}

type CommitReactionPayload struct {
	ServerMessageID uint64
	UserID          uint64
	Emoji           string
	CreatedAt       int64
}

type CommitMemberAddedPayload struct {
	UID      uint64
	Role     string
	JoinedAt int64
}

type CommitMemberRemovedPayload struct {
	UID uint64
}

type CommitChannelSettingsPayload struct {
	ExtraJSON string
	UpdatedAt int64
}
