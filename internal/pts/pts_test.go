package pts

import (
	"context"
	"testing"

	"privchat-sdk/internal/model"
	"privchat-sdk/internal/store"
)

func openTestManager(t *testing.T) *Manager {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir(), "u1", "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st)
}

func TestUpdateLocalPtsNeverRegresses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mgr := openTestManager(t)

	if err := mgr.UpdateLocalPts(ctx, 1, model.ChannelTypeGroup, 10); err != nil {
		t.Fatalf("seed pts: %v", err)
	}
	if err := mgr.UpdateLocalPts(ctx, 1, model.ChannelTypeGroup, 5); err != nil {
		t.Fatalf("regress attempt: %v", err)
	}
	got, err := mgr.GetLocalPts(ctx, 1, model.ChannelTypeGroup)
	if err != nil || got != 10 {
		t.Fatalf("expected pts=10 (no regression), got %d err=%v", got, err)
	}

	if err := mgr.UpdateLocalPts(ctx, 1, model.ChannelTypeGroup, 15); err != nil {
		t.Fatalf("advance: %v", err)
	}
	got, err = mgr.GetLocalPts(ctx, 1, model.ChannelTypeGroup)
	if err != nil || got != 15 {
		t.Fatalf("expected pts=15, got %d err=%v", got, err)
	}
}

func TestIsNextInSequence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mgr := openTestManager(t)

	if err := mgr.UpdateLocalPts(ctx, 1, model.ChannelTypeDirect, 10); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ok, err := mgr.IsNextInSequence(ctx, 1, model.ChannelTypeDirect, 11)
	if err != nil || !ok {
		t.Fatalf("expected 11 to be next after 10, got ok=%v err=%v", ok, err)
	}
	ok, err = mgr.IsNextInSequence(ctx, 1, model.ChannelTypeDirect, 15)
	if err != nil || ok {
		t.Fatalf("expected 15 to be a gap after 10, got ok=%v err=%v", ok, err)
	}
}
