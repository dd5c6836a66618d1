package syncengine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"privchat-sdk/internal/events"
	"privchat-sdk/internal/model"
	"privchat-sdk/internal/pts"
	"privchat-sdk/internal/store"
	"privchat-sdk/internal/transport"
)

// fakeTransport services only the sync/* RPCs this package calls.
type fakeTransport struct {
	mu             sync.Mutex
	channelPts     uint64
	differenceCall int
	pages          [][]wireCommit
}

func (f *fakeTransport) Request(_ context.Context, method string, params []byte) ([]byte, error) {
	switch method {
	case transport.MethodSyncGetChannelPts:
		return json.Marshal(channelPtsResponse{ServerPts: f.channelPts})
	case transport.MethodSyncBatchGetChannelPts:
		var req batchPtsRequest
		_ = json.Unmarshal(params, &req)
		results := make([]batchPtsResult, len(req.Channels))
		for i, c := range req.Channels {
			results[i] = batchPtsResult{ChannelID: c.ChannelID, ChannelType: c.ChannelType, ServerPts: f.channelPts}
		}
		return json.Marshal(batchPtsResponse{Results: results})
	case transport.MethodSyncGetDifference:
		f.mu.Lock()
		idx := f.differenceCall
		f.differenceCall++
		f.mu.Unlock()
		if idx >= len(f.pages) {
			return json.Marshal(getDifferenceResponse{HasMore: false, CurrentPts: f.channelPts})
		}
		page := f.pages[idx]
		hasMore := idx < len(f.pages)-1
		return json.Marshal(getDifferenceResponse{Commits: page, HasMore: hasMore, CurrentPts: f.channelPts})
	}
	return nil, nil
}

func (f *fakeTransport) Subscribe(func(transport.PushMessage)) func() { return func() {} }
func (f *fakeTransport) State() transport.ConnState                  { return transport.StateConnected }
func (f *fakeTransport) Close() error                                { return nil }

func commitsForRange(channelID uint64, from, to uint64) []wireCommit {
	var out []wireCommit
	for p := from; p <= to; p++ {
		out = append(out, wireCommit{
			Kind:        model.CommitMessageCreated,
			ChannelID:   channelID,
			ChannelType: model.ChannelTypeGroup,
			Pts:         p,
			MessageCreated: &model.CommitMessageCreatedPayload{
				ServerMessageID: 1000 + p,
				FromUID:         9,
				MessageType:     "text",
				Content:         "msg",
				CreatedAt:       time.Now().Unix(),
			},
		})
	}
	return out
}

// TestGapFillSync: local_pts=10, server_pts=15, one page of
// 5 commits (11..15) arrives, and the channel ends up caught up with all
// five messages persisted and one MessageReceived emitted per commit.
func TestGapFillSync(t *testing.T) {
	t.Parallel()

	st, err := store.Open(context.Background(), t.TempDir(), "u1", "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	if err := st.UpsertChannel(context.Background(), &model.Channel{ChannelID: 1, ChannelType: model.ChannelTypeGroup, Extra: "{}"}); err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	if err := st.UpdateLocalPtsIfGreater(context.Background(), 1, model.ChannelTypeGroup, 10); err != nil {
		t.Fatalf("seed pts: %v", err)
	}

	tr := &fakeTransport{channelPts: 15, pages: [][]wireCommit{commitsForRange(1, 11, 15)}}
	ptsMgr := pts.New(st)
	bus := events.New(16)
	defer bus.Close()

	received := make(chan events.Event, 8)
	bus.On(events.TypeMessageReceived, func(e events.Event) { received <- e })

	applier := NewCommitApplier(st, bus)
	engine := New(tr, ptsMgr, applier, st, bus)

	if err := engine.SyncChannel(context.Background(), 1, model.ChannelTypeGroup); err != nil {
		t.Fatalf("sync channel: %v", err)
	}

	localPts, err := ptsMgr.GetLocalPts(context.Background(), 1, model.ChannelTypeGroup)
	if err != nil {
		t.Fatalf("get local pts: %v", err)
	}
	if localPts != 15 {
		t.Fatalf("expected local_pts=15 after sync, got %d", localPts)
	}
	if engine.State(1, model.ChannelTypeGroup) != StateSynced {
		t.Fatalf("expected channel marked Synced")
	}
	if len(received) != 5 {
		t.Fatalf("expected 5 MessageReceived events, got %d", len(received))
	}
	for p := uint64(11); p <= 15; p++ {
		exists, err := st.ExistsByServerID(context.Background(), 1, 1000+p)
		if err != nil || !exists {
			t.Fatalf("expected message pts=%d persisted, exists=%v err=%v", p, exists, err)
		}
	}
}

// TestSyncChannelNoGapIsNoop covers gap <= 0 short-circuiting without
// ever calling get_difference.
func TestSyncChannelNoGapIsNoop(t *testing.T) {
	t.Parallel()

	st, err := store.Open(context.Background(), t.TempDir(), "u2", "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	if err := st.UpsertChannel(context.Background(), &model.Channel{ChannelID: 1, ChannelType: model.ChannelTypeDirect, Extra: "{}"}); err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	if err := st.UpdateLocalPtsIfGreater(context.Background(), 1, model.ChannelTypeDirect, 20); err != nil {
		t.Fatalf("seed pts: %v", err)
	}

	tr := &fakeTransport{channelPts: 20}
	ptsMgr := pts.New(st)
	bus := events.New(8)
	defer bus.Close()
	applier := NewCommitApplier(st, bus)
	engine := New(tr, ptsMgr, applier, st, bus)

	if err := engine.SyncChannel(context.Background(), 1, model.ChannelTypeDirect); err != nil {
		t.Fatalf("sync channel: %v", err)
	}
	if tr.differenceCall != 0 {
		t.Fatalf("expected no get_difference calls when gap <= 0, got %d", tr.differenceCall)
	}
	if engine.State(1, model.ChannelTypeDirect) != StateSynced {
		t.Fatalf("expected channel marked Synced")
	}
}
