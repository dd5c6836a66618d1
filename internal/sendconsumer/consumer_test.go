package sendconsumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"privchat-sdk/internal/events"
	"privchat-sdk/internal/kv"
	"privchat-sdk/internal/model"
	"privchat-sdk/internal/ratelimit"
	"privchat-sdk/internal/sendqueue"
)

type fakeStore struct {
	mu       sync.Mutex
	statuses map[int64]model.MessageStatus
}

func newFakeStore() *fakeStore { return &fakeStore{statuses: make(map[int64]model.MessageStatus)} }

func (f *fakeStore) UpdateStatus(_ context.Context, id int64, status model.MessageStatus, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	return nil
}

func (f *fakeStore) UpdateSendResult(_ context.Context, id int64, _, _ uint64, status model.MessageStatus, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	return nil
}

func (f *fakeStore) get(id int64) model.MessageStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

type fakeSender struct {
	mu        sync.Mutex
	calls     int
	failUntil int
	permanent bool
}

func (s *fakeSender) Send(_ context.Context, t model.SendTask) (sendResult, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	if s.permanent {
		return sendResult{}, &PermanentError{Err: errors.New("invalid content")}
	}
	if n <= s.failUntil {
		return sendResult{}, errors.New("transient network error")
	}
	return sendResult{ServerMessageID: uint64(1000 + t.ID), Pts: 1}, nil
}

func openTestQueue(t *testing.T) *sendqueue.Queue {
	t.Helper()
	st, err := kv.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return sendqueue.New(st.Tree("u1"))
}

func newTask(id int64, groupType model.ChannelType) model.SendTask {
	return model.SendTask{
		TaskID:     "task-" + string(rune('0'+id)),
		ID:         id,
		ChannelID:  1,
		Priority:   model.PriorityNormal,
		Status:     model.TaskPending,
		CreatedAt:  time.Now().Unix(),
		MaxRetries: model.PriorityNormal.MaxRetries(),
		TimeoutAt:  time.Now().Add(model.PriorityNormal.Timeout()).Unix(),
		MessageData: model.MessageData{
			ChannelID:   1,
			ChannelType: groupType,
			MessageType: "text",
			Content:     "hello",
		},
	}
}

func TestConsumerSuccessPath(t *testing.T) {
	t.Parallel()
	q := openTestQueue(t)
	fs := newFakeStore()
	bus := events.New(8)
	defer bus.Close()

	var sent *events.MessageSent
	bus.On(events.TypeMessageSent, func(e events.Event) { sent = e.MessageSent })

	task := newTask(1, model.ChannelTypeDirect)
	if err := q.Push("u1", task); err != nil {
		t.Fatalf("push: %v", err)
	}

	c := New("u1", q, &fakeSender{}, fs, ratelimit.NewMessageRateLimiter(ratelimit.DefaultMessageLimiterConfig()), bus, Config{Workers: 1, PollInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	deadline := time.After(2 * time.Second)
	for fs.get(1) != model.StatusSent {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for send, last status=%s", fs.get(1))
		case <-time.After(20 * time.Millisecond):
		}
	}
	cancel()
	c.Shutdown()

	if sent == nil || sent.ServerMessageID != 1001 {
		t.Fatalf("expected MessageSent event with server id 1001, got %+v", sent)
	}
	if q.Len() != 0 {
		t.Fatalf("expected task removed from queue after success, len=%d", q.Len())
	}
}

func TestConsumerPermanentFailureDoesNotRetry(t *testing.T) {
	t.Parallel()
	q := openTestQueue(t)
	fs := newFakeStore()
	bus := events.New(8)
	defer bus.Close()

	var failed *events.MessageSendFailed
	bus.On(events.TypeMessageSendFailed, func(e events.Event) { failed = e.MessageSendFailed })

	task := newTask(2, model.ChannelTypeDirect)
	_ = q.Push("u1", task)

	c := New("u1", q, &fakeSender{permanent: true}, fs, ratelimit.NewMessageRateLimiter(ratelimit.DefaultMessageLimiterConfig()), bus, Config{Workers: 1, PollInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	deadline := time.After(2 * time.Second)
	for fs.get(2) != model.StatusFailed {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for failure, last status=%s", fs.get(2))
		case <-time.After(20 * time.Millisecond):
		}
	}
	cancel()
	c.Shutdown()

	if failed == nil {
		t.Fatalf("expected MessageSendFailed event")
	}
	if q.Len() != 0 {
		t.Fatalf("expected permanently-failed task removed from queue, len=%d", q.Len())
	}
}

func TestConsumerTransientFailureRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	q := openTestQueue(t)
	fs := newFakeStore()
	bus := events.New(8)
	defer bus.Close()

	task := newTask(3, model.ChannelTypeDirect)
	_ = q.Push("u1", task)

	sender := &fakeSender{failUntil: 1}
	c := New("u1", q, sender, fs, ratelimit.NewMessageRateLimiter(ratelimit.DefaultMessageLimiterConfig()), bus, Config{Workers: 1, PollInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	deadline := time.After(6 * time.Second)
	for fs.get(3) != model.StatusSent {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for eventual send, last status=%s", fs.get(3))
		case <-time.After(20 * time.Millisecond):
		}
	}
	cancel()
	c.Shutdown()
}
