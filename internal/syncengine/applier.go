package syncengine

import (
	"context"
	"fmt"
	"time"

	"privchat-sdk/internal/events"
	"privchat-sdk/internal/model"
	"privchat-sdk/internal/store"
)

// ApplierStore is the subset of *store.Store CommitApplier touches. Named
// distinctly from Store (the engine's own narrower interface) since the
// applier needs write access to messages, reactions, and membership that
// the gap-detection loop itself never calls directly.
type ApplierStore interface {
	ExistsByServerID(ctx context.Context, channelID, serverMessageID uint64) (bool, error)
	InsertMessage(ctx context.Context, m *model.Message) (int64, error)
	GetMessageByServerID(ctx context.Context, channelID, serverMessageID uint64) (model.Message, error)
	UpdateContentEdited(ctx context.Context, channelID, serverMessageID uint64, newContent string, editedAt int64) error
	MarkRevoked(ctx context.Context, channelID, serverMessageID, revokedBy uint64, revokedAt int64) error
	AddReaction(ctx context.Context, messageID int64, userID uint64, emoji string, createdAt int64) error
	RemoveReaction(ctx context.Context, messageID int64, userID uint64, emoji string) error
	UpsertMember(ctx context.Context, m *model.ChannelMember) error
	RemoveMember(ctx context.Context, channelID, uid uint64) error
	UpdateExtra(ctx context.Context, channelID uint64, channelType model.ChannelType, extraJSON string) error
}

var _ ApplierStore = (*store.Store)(nil)

// CommitApplier interprets typed server commits as idempotent mutations on
// the persistence layer. Every apply method is safe to run twice on the
// same commit.
type CommitApplier struct {
	store ApplierStore
	bus   *events.Bus
}

// NewCommitApplier builds a CommitApplier.
func NewCommitApplier(st ApplierStore, bus *events.Bus) *CommitApplier {
	return &CommitApplier{store: st, bus: bus}
}

// ApplyCommits applies commits in order, stopping at the first error so the
// caller can retry the batch from a known-good local_pts.
func (a *CommitApplier) ApplyCommits(ctx context.Context, commits []model.Commit) error {
	for _, c := range commits {
		if err := a.apply(ctx, c); err != nil {
			return fmt.Errorf("syncengine: apply commit kind=%s pts=%d: %w", c.Kind, c.Pts, err)
		}
	}
	return nil
}

func (a *CommitApplier) apply(ctx context.Context, c model.Commit) error {
	switch c.Kind {
	case model.CommitMessageCreated:
		return a.applyMessageCreated(ctx, c)
	case model.CommitMessageEdited:
		return a.applyMessageEdited(ctx, c)
	case model.CommitMessageRevoked:
		return a.applyMessageRevoked(ctx, c)
	case model.CommitReactionAdded:
		return a.applyReactionAdded(ctx, c)
	case model.CommitReactionRemoved:
		return a.applyReactionRemoved(ctx, c)
	case model.CommitMemberAdded:
		return a.applyMemberAdded(ctx, c)
	case model.CommitMemberRemoved:
		return a.applyMemberRemoved(ctx, c)
	case model.CommitChannelSettingsUpdated:
		return a.applyChannelSettingsUpdated(ctx, c)
	default:
		return fmt.Errorf("unknown commit kind %q", c.Kind)
	}
}

// applyMessageCreated: if a message with (channel_id, server_message_id)
// exists, skip; else insert.
func (a *CommitApplier) applyMessageCreated(ctx context.Context, c model.Commit) error {
	p := c.MessageCreated
	exists, err := a.store.ExistsByServerID(ctx, c.ChannelID, p.ServerMessageID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	msg := &model.Message{
		ServerMessageID: p.ServerMessageID,
		Pts:             c.Pts,
		ChannelID:       c.ChannelID,
		ChannelType:     c.ChannelType,
		FromUID:         p.FromUID,
		MessageType:     p.MessageType,
		Content:         p.Content,
		Status:          model.StatusReceived,
		Timestamp:       p.CreatedAt,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       time.Now().UnixMilli(),
		Extra:           p.Extra,
	}
	if _, err := a.store.InsertMessage(ctx, msg); err != nil {
		return err
	}
	a.bus.Emit(events.Event{
		Type:            events.TypeMessageReceived,
		ChannelID:       c.ChannelID,
		UserID:          p.FromUID,
		MessageReceived: &events.MessageReceived{Message: *msg},
	})
	return nil
}

func (a *CommitApplier) applyMessageEdited(ctx context.Context, c model.Commit) error {
	p := c.MessageEdited
	if err := a.store.UpdateContentEdited(ctx, c.ChannelID, p.ServerMessageID, p.NewContent, p.EditedAt); err != nil {
		if err == store.ErrNotFound {
			return nil // commit for a message we haven't synced yet; safe to drop
		}
		return err
	}
	a.bus.Emit(events.Event{
		Type:      events.TypeMessageEdited,
		ChannelID: c.ChannelID,
		MessageEdited: &events.MessageEdited{
			ServerMessageID: p.ServerMessageID,
			NewContent:      p.NewContent,
			EditedAt:        p.EditedAt,
		},
	})
	return nil
}

func (a *CommitApplier) applyMessageRevoked(ctx context.Context, c model.Commit) error {
	p := c.MessageRevoked
	if err := a.store.MarkRevoked(ctx, c.ChannelID, p.ServerMessageID, p.RevokedBy, p.RevokedAt); err != nil {
		return err
	}
	a.bus.Emit(events.Event{
		Type:      events.TypeMessageRevoked,
		ChannelID: c.ChannelID,
		MessageRevoked: &events.MessageRevoked{
			ServerMessageID: p.ServerMessageID,
			RevokedBy:       p.RevokedBy,
		},
	})
	return nil
}

func (a *CommitApplier) applyReactionAdded(ctx context.Context, c model.Commit) error {
	p := c.ReactionAdded
	msg, err := a.store.GetMessageByServerID(ctx, c.ChannelID, p.ServerMessageID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return err
	}
	if err := a.store.AddReaction(ctx, msg.ID, p.UserID, p.Emoji, p.CreatedAt); err != nil {
		return err
	}
	a.bus.Emit(events.Event{
		Type:      events.TypeReactionAdded,
		ChannelID: c.ChannelID,
		UserID:    p.UserID,
		Reaction:  &events.Reaction{ServerMessageID: p.ServerMessageID, UserID: p.UserID, Emoji: p.Emoji},
	})
	return nil
}

func (a *CommitApplier) applyReactionRemoved(ctx context.Context, c model.Commit) error {
	p := c.ReactionRemoved
	msg, err := a.store.GetMessageByServerID(ctx, c.ChannelID, p.ServerMessageID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return err
	}
	if err := a.store.RemoveReaction(ctx, msg.ID, p.UserID, p.Emoji); err != nil {
		return err
	}
	a.bus.Emit(events.Event{
		Type:      events.TypeReactionRemoved,
		ChannelID: c.ChannelID,
		UserID:    p.UserID,
		Reaction:  &events.Reaction{ServerMessageID: p.ServerMessageID, UserID: p.UserID, Emoji: p.Emoji},
	})
	return nil
}

func (a *CommitApplier) applyMemberAdded(ctx context.Context, c model.Commit) error {
	p := c.MemberAdded
	return a.store.UpsertMember(ctx, &model.ChannelMember{
		ChannelID:   c.ChannelID,
		ChannelType: c.ChannelType,
		UID:         p.UID,
		Role:        p.Role,
		JoinedAt:    p.JoinedAt,
	})
}

func (a *CommitApplier) applyMemberRemoved(ctx context.Context, c model.Commit) error {
	return a.store.RemoveMember(ctx, c.ChannelID, c.MemberRemoved.UID)
}

func (a *CommitApplier) applyChannelSettingsUpdated(ctx context.Context, c model.Commit) error {
	p := c.ChannelSettingsUpdated
	return a.store.UpdateExtra(ctx, c.ChannelID, c.ChannelType, p.ExtraJSON)
}
