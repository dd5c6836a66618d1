package store

import (
	"context"
	"testing"

	"privchat-sdk/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), t.TempDir(), "u1", "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenAppliesMigrationsAndValidatesSchema(t *testing.T) {
	t.Parallel()
	openTestStore(t) // validateSchema runs inside Open; failure would Fatal there
}

func TestInsertAndGetMessageRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	m := &model.Message{
		LocalMessageID: 111,
		ChannelID:      1,
		ChannelType:    model.ChannelTypeDirect,
		FromUID:        7,
		MessageType:    "text",
		Content:        "hi",
		Status:         model.StatusSending,
		CreatedAt:      1000,
		UpdatedAt:      1000,
		Extra:          "{}",
	}
	id, err := st.InsertMessage(ctx, m)
	if err != nil {
		t.Fatalf("insert message: %v", err)
	}

	got, err := st.GetMessageByID(ctx, id)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if got.Content != "hi" || got.FromUID != 7 || got.Status != model.StatusSending {
		t.Fatalf("unexpected round-trip: %+v", got)
	}
}

func TestServerIDUniquePerChannel(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	base := &model.Message{ChannelID: 1, ChannelType: model.ChannelTypeGroup, MessageType: "text", Status: model.StatusReceived, CreatedAt: 1, UpdatedAt: 1, ServerMessageID: 42, Pts: 42, Extra: "{}"}
	if _, err := st.InsertMessage(ctx, base); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := st.InsertMessage(ctx, base); err == nil {
		t.Fatalf("expected unique constraint violation on duplicate (channel_id, server_message_id)")
	}

	exists, err := st.ExistsByServerID(ctx, 1, 42)
	if err != nil || !exists {
		t.Fatalf("expected ExistsByServerID true, got %v err=%v", exists, err)
	}
}

func TestTotalUnreadWithMute(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	chans := []model.Channel{
		{ChannelID: 1, ChannelType: model.ChannelTypeGroup, UnreadCount: 3, Mute: false, Extra: "{}"},
		{ChannelID: 2, ChannelType: model.ChannelTypeGroup, UnreadCount: 5, Mute: true, Extra: "{}"},
		{ChannelID: 3, ChannelType: model.ChannelTypeGroup, UnreadCount: 2, Mute: false, Extra: `{"muted":true}`},
		{ChannelID: 4, ChannelType: model.ChannelTypeGroup, UnreadCount: 4, Mute: false, Extra: "{}", IsDeleted: true},
	}
	for i := range chans {
		if err := st.UpsertChannel(ctx, &chans[i]); err != nil {
			t.Fatalf("upsert channel: %v", err)
		}
	}

	total, err := st.TotalUnread(ctx)
	if err != nil {
		t.Fatalf("total unread: %v", err)
	}
	if total != 10 {
		t.Fatalf("expected total_unread=10, got %d", total)
	}

	totalExclMuted, err := st.TotalUnreadExcludeMuted(ctx)
	if err != nil {
		t.Fatalf("total unread exclude muted: %v", err)
	}
	if totalExclMuted != 3 {
		t.Fatalf("expected total_unread_exclude_muted=3, got %d", totalExclMuted)
	}
}

func TestReactionUniqueAndIdempotentAdd(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	m := &model.Message{ChannelID: 1, ChannelType: model.ChannelTypeDirect, MessageType: "text", Status: model.StatusReceived, CreatedAt: 1, UpdatedAt: 1, Extra: "{}"}
	msgID, err := st.InsertMessage(ctx, m)
	if err != nil {
		t.Fatalf("insert message: %v", err)
	}

	if err := st.AddReaction(ctx, msgID, 1, "👍", 10); err != nil {
		t.Fatalf("add reaction: %v", err)
	}
	if err := st.AddReaction(ctx, msgID, 1, "👍", 10); err != nil {
		t.Fatalf("repeat add reaction should be a no-op, got: %v", err)
	}
	if err := st.AddReaction(ctx, msgID, 2, "👍", 11); err != nil {
		t.Fatalf("add reaction from second user: %v", err)
	}

	rs, err := st.ListReactions(ctx, msgID)
	if err != nil {
		t.Fatalf("list reactions: %v", err)
	}
	if len(rs) != 2 {
		t.Fatalf("expected 2 distinct reactions, got %d", len(rs))
	}
}

func TestUpdateLocalPtsNeverRegresses(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	c := &model.Channel{ChannelID: 9, ChannelType: model.ChannelTypeGroup, LastMsgPts: 10, Extra: "{}"}
	if err := st.UpsertChannel(ctx, c); err != nil {
		t.Fatalf("upsert channel: %v", err)
	}

	if err := st.UpdateLocalPtsIfGreater(ctx, 9, model.ChannelTypeGroup, 5); err != nil {
		t.Fatalf("update pts lower: %v", err)
	}
	pts, err := st.GetLocalPts(ctx, 9, model.ChannelTypeGroup)
	if err != nil {
		t.Fatalf("get local pts: %v", err)
	}
	if pts != 10 {
		t.Fatalf("expected pts to stay at 10 (no regression), got %d", pts)
	}

	if err := st.UpdateLocalPtsIfGreater(ctx, 9, model.ChannelTypeGroup, 15); err != nil {
		t.Fatalf("update pts higher: %v", err)
	}
	pts, err = st.GetLocalPts(ctx, 9, model.ChannelTypeGroup)
	if err != nil {
		t.Fatalf("get local pts: %v", err)
	}
	if pts != 15 {
		t.Fatalf("expected pts to advance to 15, got %d", pts)
	}
}
