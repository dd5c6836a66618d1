package receiveconsumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"privchat-sdk/internal/events"
	"privchat-sdk/internal/model"
	"privchat-sdk/internal/receivequeue"
)

type fakeStore struct {
	mu       sync.Mutex
	existing map[string]bool
	inserted []*model.Message
	batches  int
	failNext bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{existing: make(map[string]bool)}
}

func (f *fakeStore) ExistsByServerID(_ context.Context, channelID, serverMessageID uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := dedupKeyForTest(channelID, serverMessageID)
	return f.existing[key], nil
}

func (f *fakeStore) InsertBatchAndUpdateChannel(_ context.Context, msgs []*model.Message, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return context.DeadlineExceeded
	}
	f.batches++
	for _, m := range msgs {
		f.existing[dedupKeyForTest(m.ChannelID, m.ServerMessageID)] = true
		f.inserted = append(f.inserted, m)
	}
	return nil
}

func dedupKeyForTest(channelID, serverMessageID uint64) string {
	return string(rune(channelID)) + "_" + string(rune(serverMessageID))
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

func (f *fakeStore) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches
}

// fakePts records which channels had their cached pts dropped.
type fakePts struct {
	mu          sync.Mutex
	invalidated []uint64
}

func (f *fakePts) InvalidateCache(channelID uint64, _ model.ChannelType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, channelID)
}

func (f *fakePts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.invalidated)
}

func newTask(serverMsgID, seq uint64, source model.ReceiveSource) model.ReceiveTask {
	return newChannelTask(1, serverMsgID, seq, source)
}

func newChannelTask(channelID, serverMsgID, seq uint64, source model.ReceiveSource) model.ReceiveTask {
	return model.ReceiveTask{
		TaskID:      "recv",
		ServerMsgID: serverMsgID,
		SequenceID:  seq,
		Source:      source,
		Status:      model.TaskPending,
		CreatedAt:   time.Now().Unix(),
		MessageData: model.MessageData{
			ChannelID:   channelID,
			ChannelType: model.ChannelTypeDirect,
			FromUID:     2,
			MessageType: "text",
			Content:     "hi",
			CreatedAt:   time.Now().Unix(),
		},
	}
}

func TestConsumerPersistsRealtimeBatch(t *testing.T) {
	t.Parallel()

	q := receivequeue.New(receivequeue.DefaultConfig())
	q.Enqueue(1, model.ChannelTypeDirect, newTask(10, 1, model.SourceRealTime))
	q.Enqueue(1, model.ChannelTypeDirect, newTask(11, 2, model.SourceRealTime))

	st := newFakeStore()
	pc := &fakePts{}
	bus := events.New(8)
	defer bus.Close()

	received := make(chan events.Event, 4)
	bus.On(events.TypeMessageReceived, func(e events.Event) { received <- e })

	cfg := Config{Workers: 1, PollInterval: 10 * time.Millisecond, DBTimeout: time.Second}
	c := New(cfg, q, st, pc, bus)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx, 50*time.Millisecond)

	deadline := time.After(2 * time.Second)
	for st.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for inserts, got %d", st.count())
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	c.Shutdown()

	if st.count() != 2 {
		t.Fatalf("expected 2 messages persisted, got %d", st.count())
	}
	if len(received) != 2 {
		t.Fatalf("expected 2 MessageReceived events, got %d", len(received))
	}
	if pc.count() == 0 {
		t.Fatal("pts cache never invalidated after batch commit")
	}
}

// TestConsumerSplitsRealtimeBatchPerChannel: a single realtime drain
// holding pushes from two channels must update both channels' rows and
// announce both, not just the first task's channel.
func TestConsumerSplitsRealtimeBatchPerChannel(t *testing.T) {
	t.Parallel()

	q := receivequeue.New(receivequeue.DefaultConfig())
	q.Enqueue(1, model.ChannelTypeDirect, newChannelTask(1, 40, 1, model.SourceRealTime))
	q.Enqueue(2, model.ChannelTypeDirect, newChannelTask(2, 41, 1, model.SourceRealTime))
	q.Enqueue(1, model.ChannelTypeDirect, newChannelTask(1, 42, 2, model.SourceRealTime))

	st := newFakeStore()
	pc := &fakePts{}
	bus := events.New(16)
	defer bus.Close()

	var mu sync.Mutex
	listUpdates := make(map[uint64]int)
	bus.On(events.TypeChannelListUpdate, func(e events.Event) {
		mu.Lock()
		listUpdates[e.ChannelID]++
		mu.Unlock()
	})

	cfg := Config{Workers: 1, PollInterval: 10 * time.Millisecond, DBTimeout: time.Second}
	c := New(cfg, q, st, pc, bus)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx, 50*time.Millisecond)

	deadline := time.After(2 * time.Second)
	for st.count() < 3 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for inserts, got %d", st.count())
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	c.Shutdown()

	if st.batchCount() != 2 {
		t.Fatalf("expected one insert per channel (2), got %d", st.batchCount())
	}
	mu.Lock()
	defer mu.Unlock()
	if listUpdates[1] == 0 || listUpdates[2] == 0 {
		t.Fatalf("expected a ChannelListUpdate for each channel, got %v", listUpdates)
	}
	if pc.count() != 2 {
		t.Fatalf("expected a pts invalidation per channel, got %d", pc.count())
	}
}

func TestConsumerSkipsAlreadyPersisted(t *testing.T) {
	t.Parallel()

	q := receivequeue.New(receivequeue.DefaultConfig())
	q.Enqueue(1, model.ChannelTypeDirect, newTask(20, 1, model.SourceRealTime))

	st := newFakeStore()
	st.existing[dedupKeyForTest(1, 20)] = true
	bus := events.New(8)
	defer bus.Close()

	cfg := Config{Workers: 1, PollInterval: 10 * time.Millisecond, DBTimeout: time.Second}
	c := New(cfg, q, st, nil, bus)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx, 50*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	cancel()
	c.Shutdown()

	if st.count() != 0 {
		t.Fatalf("expected dedup skip to prevent insert, got %d", st.count())
	}
}

func TestTimeoutProcessorPromotesAgedBatch(t *testing.T) {
	t.Parallel()

	cfg := receivequeue.DefaultConfig()
	cfg.BatchTimeout = 20 * time.Millisecond
	cfg.BatchMaxSize = 100
	q := receivequeue.New(cfg)
	q.Enqueue(1, model.ChannelTypeDirect, newTask(30, 1, model.SourceHistorical))

	st := newFakeStore()
	bus := events.New(8)
	defer bus.Close()

	ccfg := Config{Workers: 1, PollInterval: 10 * time.Millisecond, DBTimeout: time.Second}
	c := New(ccfg, q, st, nil, bus)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx, 15*time.Millisecond)

	deadline := time.After(2 * time.Second)
	for st.count() < 1 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for aged batch to be promoted and persisted")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	c.Shutdown()
}
