package privchat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"privchat-sdk/internal/events"
	"privchat-sdk/internal/model"
	"privchat-sdk/internal/ratelimit"
	"privchat-sdk/internal/store"
	"privchat-sdk/internal/transport"
)

func messageQueryAll(channelID uint64) store.MessageQuery {
	return store.MessageQuery{ChannelID: channelID, Limit: 100}
}

// fakeTransport answers RPCs through a per-test handler and records the
// method sequence.
type fakeTransport struct {
	mu      sync.Mutex
	calls   []string
	handler func(method string, params []byte) ([]byte, error)
	push    func(transport.PushMessage)
}

func (f *fakeTransport) Request(_ context.Context, method string, params []byte) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return []byte(`{}`), nil
	}
	return h(method, params)
}

func (f *fakeTransport) Subscribe(fn func(transport.PushMessage)) func() {
	f.mu.Lock()
	f.push = fn
	f.mu.Unlock()
	return func() {}
}

func (f *fakeTransport) State() transport.ConnState { return transport.StateConnected }
func (f *fakeTransport) Close() error               { return nil }

func (f *fakeTransport) called(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.calls {
		if m == method {
			n++
		}
	}
	return n
}

func openTestClient(t *testing.T, tr *fakeTransport) *Client {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	c, err := Open(context.Background(), 7, cfg, tr)
	if err != nil {
		t.Fatalf("open client: %v", err)
	}
	t.Cleanup(func() {
		_ = c.store.Close()
		_ = c.kv.Close()
	})
	return c
}

func TestRevokeInsideWindow(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	c := openTestClient(t, tr)
	ctx := context.Background()

	now := time.Now().UnixMilli()
	msg := &model.Message{
		LocalMessageID: 1, ServerMessageID: 500, Pts: 3,
		ChannelID: 10, ChannelType: model.ChannelTypeDirect, FromUID: 7,
		MessageType: "text", Content: "hi", Status: model.StatusSent,
		CreatedAt: now - 100_000, UpdatedAt: now, Extra: "{}",
	}
	id, err := c.store.InsertMessage(ctx, msg)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	ch, unsub := c.bus.Subscribe(events.Filter{EventTypes: []events.Type{events.TypeMessageRevoked}})
	defer unsub()

	if err := c.RevokeMessage(ctx, id, 7); err != nil {
		t.Fatalf("revoke inside window: %v", err)
	}
	if tr.called(transport.MethodMessageRevoke) != 1 {
		t.Fatalf("revoke rpc not dispatched")
	}
	got, err := c.store.GetMessageByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusRevoked || !got.Revoked {
		t.Fatalf("message not revoked: %+v", got)
	}

	select {
	case e := <-ch:
		if e.MessageRevoked.ServerMessageID != 500 {
			t.Fatalf("wrong revoked event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no MessageRevoked event")
	}
}

func TestRevokeOutsideWindowFails(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	c := openTestClient(t, tr)
	ctx := context.Background()

	now := time.Now().UnixMilli()
	msg := &model.Message{
		LocalMessageID: 2, ServerMessageID: 501, Pts: 4,
		ChannelID: 10, ChannelType: model.ChannelTypeDirect, FromUID: 7,
		MessageType: "text", Content: "old", Status: model.StatusSent,
		CreatedAt: now - 130_000, UpdatedAt: now, Extra: "{}",
	}
	id, err := c.store.InsertMessage(ctx, msg)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	err = c.RevokeMessage(ctx, id, 7)
	var sdkErr *Error
	if !errors.As(err, &sdkErr) || sdkErr.Kind != KindInvalidOperation {
		t.Fatalf("want InvalidOperation, got %v", err)
	}
	if tr.called(transport.MethodMessageRevoke) != 0 {
		t.Fatalf("revoke rpc dispatched despite closed window")
	}
}

func TestDuplicateRPCGuard(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	tr := &fakeTransport{}
	tr.handler = func(method string, _ []byte) ([]byte, error) {
		if method == transport.MethodAccountSearchQuery {
			<-release
		}
		return []byte(`{}`), nil
	}
	c := openTestClient(t, tr)
	ctx := context.Background()

	firstDone := make(chan error, 1)
	go func() {
		_, err := c.SearchUsers(ctx, "alice")
		firstDone <- err
	}()

	// Wait until the first call is in flight before duplicating it.
	deadline := time.After(2 * time.Second)
	for tr.called(transport.MethodAccountSearchQuery) == 0 {
		select {
		case <-deadline:
			t.Fatal("first search never reached the transport")
		case <-time.After(5 * time.Millisecond):
		}
	}

	_, err := c.SearchUsers(ctx, "alice")
	var dup *ratelimit.DuplicateRequestError
	if !errors.As(err, &dup) {
		t.Fatalf("want DuplicateRequestError, got %v", err)
	}
	if dup.Method != transport.MethodAccountSearchQuery {
		t.Fatalf("wrong method in duplicate error: %q", dup.Method)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first search failed: %v", err)
	}

	// After completion the same params are accepted again.
	if _, err := c.SearchUsers(ctx, "alice"); err != nil {
		t.Fatalf("third search after completion: %v", err)
	}
}

func TestSendQueueFullNoPartialState(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	cfg := DefaultConfig(t.TempDir())
	cfg.Queue.SendQueueCapacity = 0
	c, err := Open(context.Background(), 7, cfg, tr)
	if err != nil {
		t.Fatalf("open client: %v", err)
	}
	t.Cleanup(func() {
		_ = c.store.Close()
		_ = c.kv.Close()
	})

	_, err = c.Send(context.Background(), 10, model.ChannelTypeDirect, "text", "hi")
	var sdkErr *Error
	if !errors.As(err, &sdkErr) || sdkErr.Kind != KindQueueFull {
		t.Fatalf("want QueueFull, got %v", err)
	}

	// No draft row was written before the rejection.
	page, err := c.store.ListMessages(context.Background(), messageQueryAll(10))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 0 {
		t.Fatalf("partial state: %d messages persisted", page.Total)
	}
}

func TestPushGapTriggersSync(t *testing.T) {
	t.Parallel()
	synced := make(chan struct{})
	var syncedOnce sync.Once
	tr := &fakeTransport{}
	tr.handler = func(method string, params []byte) ([]byte, error) {
		switch method {
		case transport.MethodSyncGetChannelPts:
			return []byte(`{"server_pts": 15}`), nil
		case transport.MethodSyncGetDifference:
			var req struct {
				LastPts uint64 `json:"last_pts"`
			}
			_ = json.Unmarshal(params, &req)
			type payload struct {
				ServerMessageID uint64
				FromUID         uint64
				MessageType     string
				Content         string
				CreatedAt       int64
				Extra           string
			}
			type commit struct {
				Kind           string  `json:"kind"`
				ChannelID      uint64  `json:"channel_id"`
				ChannelType    int     `json:"channel_type"`
				Pts            uint64  `json:"pts"`
				MessageCreated payload `json:"message_created"`
			}
			var commits []commit
			for pts := req.LastPts + 1; pts <= 15; pts++ {
				commits = append(commits, commit{
					Kind: "message_created", ChannelID: 42, ChannelType: 2, Pts: pts,
					MessageCreated: payload{
						ServerMessageID: 9000 + pts, FromUID: 8, MessageType: "text",
						Content: "catchup", CreatedAt: 1000, Extra: "{}",
					},
				})
			}
			resp, _ := json.Marshal(map[string]any{
				"commits": commits, "has_more": false, "current_pts": 15,
			})
			syncedOnce.Do(func() { close(synced) })
			return resp, nil
		}
		return []byte(`{}`), nil
	}
	c := openTestClient(t, tr)
	ctx := context.Background()

	// Channel is at pts 10; a push at 15 must trigger gap-fill, not direct
	// ingestion.
	if err := c.store.UpsertChannel(ctx, &model.Channel{ChannelID: 42, ChannelType: model.ChannelTypeGroup, LastMsgPts: 10, Extra: "{}"}); err != nil {
		t.Fatalf("seed channel: %v", err)
	}

	c.handlePush(transport.PushMessage{
		Kind:    "message",
		Payload: []byte(`{"channel_id":42,"channel_type":2,"server_message_id":9015,"pts":15,"from_uid":8,"message_type":"text","content":"hi","created_at":1000}`),
	})

	select {
	case <-synced:
	case <-time.After(2 * time.Second):
		t.Fatal("sync never ran")
	}
	// OnPushGap runs async; poll for the applied state.
	deadlineAt := time.Now().Add(2 * time.Second)
	for {
		pts, err := c.store.GetLocalPts(ctx, 42, model.ChannelTypeGroup)
		if err != nil {
			t.Fatalf("get pts: %v", err)
		}
		if pts == 15 {
			break
		}
		if time.Now().After(deadlineAt) {
			t.Fatalf("pts never reached 15, at %d", pts)
		}
		time.Sleep(10 * time.Millisecond)
	}
	for pts := uint64(11); pts <= 15; pts++ {
		ok, err := c.store.ExistsByServerID(ctx, 42, 9000+pts)
		if err != nil || !ok {
			t.Fatalf("commit pts=%d not persisted (ok=%v err=%v)", pts, ok, err)
		}
	}
}

func TestMarkChannelReadEmitsUnreadCountChanged(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	c := openTestClient(t, tr)
	ctx := context.Background()

	if err := c.store.UpsertChannel(ctx, &model.Channel{ChannelID: 5, ChannelType: model.ChannelTypeDirect, UnreadCount: 3, Extra: "{}"}); err != nil {
		t.Fatalf("seed channel: %v", err)
	}

	ch, unsub := c.bus.Subscribe(events.Filter{EventTypes: []events.Type{events.TypeUnreadCountChanged}})
	defer unsub()

	if err := c.MarkChannelRead(ctx, 5, model.ChannelTypeDirect); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	select {
	case e := <-ch:
		if e.UnreadCountChanged.Count != 0 || e.UnreadCountChanged.TotalUnread != 0 {
			t.Fatalf("unexpected unread event: %+v", e.UnreadCountChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("no UnreadCountChanged event")
	}

	got, err := c.store.GetChannel(ctx, 5, model.ChannelTypeDirect)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	if got.UnreadCount != 0 {
		t.Fatalf("unread not reset: %d", got.UnreadCount)
	}
}

func TestReadReceiptPushMarksSentMessagesRead(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	c := openTestClient(t, tr)
	ctx := context.Background()

	now := time.Now().UnixMilli()
	var lastID int64
	for i, pts := range []uint64{1, 2, 3} {
		id, err := c.store.InsertMessage(ctx, &model.Message{
			LocalMessageID: int64(100 + i), ServerMessageID: uint64(600 + i), Pts: pts,
			ChannelID: 20, ChannelType: model.ChannelTypeDirect, FromUID: 7,
			MessageType: "text", Content: "x", Status: model.StatusSent,
			CreatedAt: now, UpdatedAt: now, Extra: "{}",
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		lastID = id
	}

	ch, unsub := c.bus.Subscribe(events.Filter{EventTypes: []events.Type{events.TypeReadReceiptReceived}})
	defer unsub()

	c.handlePush(transport.PushMessage{
		Kind:    "read_receipt",
		Payload: []byte(`{"channel_id":20,"channel_type":1,"up_to_pts":2,"by_uid":8}`),
	})

	select {
	case e := <-ch:
		if e.ReadReceiptReceived.UpToPts != 2 || e.ReadReceiptReceived.ByUID != 8 {
			t.Fatalf("wrong receipt event: %+v", e.ReadReceiptReceived)
		}
	case <-time.After(time.Second):
		t.Fatal("no ReadReceiptReceived event")
	}

	// pts 3 stays Sent, pts 1..2 become Read.
	got, err := c.store.GetMessageByID(ctx, lastID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusSent {
		t.Fatalf("pts 3 should stay sent, got %s", got.Status)
	}
	page, err := c.store.ListMessages(ctx, messageQueryAll(20))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	read := 0
	for _, m := range page.Data {
		if m.Status == model.StatusRead {
			read++
		}
	}
	if read != 2 {
		t.Fatalf("want 2 read messages, got %d", read)
	}
}

func TestBlockUserMirrorsLocally(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	c := openTestClient(t, tr)
	ctx := context.Background()

	if err := c.BlockUser(ctx, 99); err != nil {
		t.Fatalf("block: %v", err)
	}
	if tr.called(transport.MethodBlacklistAdd) != 1 {
		t.Fatalf("blacklist rpc not dispatched")
	}
	blocked, err := c.store.IsBlocked(ctx, 7, 99)
	if err != nil || !blocked {
		t.Fatalf("block not mirrored (blocked=%v err=%v)", blocked, err)
	}

	if err := c.UnblockUser(ctx, 99); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	blocked, err = c.store.IsBlocked(ctx, 7, 99)
	if err != nil || blocked {
		t.Fatalf("unblock not mirrored (blocked=%v err=%v)", blocked, err)
	}
}

func TestPinChannelUpdatesLocalRow(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	c := openTestClient(t, tr)
	ctx := context.Background()

	if err := c.store.UpsertChannel(ctx, &model.Channel{ChannelID: 3, ChannelType: model.ChannelTypeGroup, Extra: "{}"}); err != nil {
		t.Fatalf("seed channel: %v", err)
	}

	if err := c.PinChannel(ctx, 3, model.ChannelTypeGroup, true); err != nil {
		t.Fatalf("pin: %v", err)
	}
	if tr.called(transport.MethodChannelPin) != 1 {
		t.Fatalf("pin rpc not dispatched")
	}
	ch, err := c.store.GetChannel(ctx, 3, model.ChannelTypeGroup)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	if !ch.Top {
		t.Fatal("channel not pinned locally")
	}
}

func TestGroupInfoMirrorsGroup(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	tr.handler = func(method string, _ []byte) ([]byte, error) {
		if method == transport.MethodGroupInfo {
			return []byte(`{"group_id":77,"name":"team","owner_uid":7,"notice":"hello","created_at":1,"updated_at":2,"extra":"{}"}`), nil
		}
		return []byte(`{}`), nil
	}
	c := openTestClient(t, tr)

	g, err := c.GroupInfo(context.Background(), 77)
	if err != nil {
		t.Fatalf("group info: %v", err)
	}
	if g.Name != "team" || g.OwnerUID != 7 {
		t.Fatalf("unexpected group: %+v", g)
	}
	stored, err := c.store.GetGroup(context.Background(), 77)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if stored.Name != "team" {
		t.Fatalf("group not mirrored: %+v", stored)
	}
}
