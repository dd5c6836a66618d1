// Package sendconsumer runs the worker pool that drains internal/sendqueue
// and dispatches each task's send RPC through a transport.Transport.
package sendconsumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"privchat-sdk/internal/events"
	"privchat-sdk/internal/model"
	"privchat-sdk/internal/ratelimit"
	"privchat-sdk/internal/sendqueue"
	"privchat-sdk/internal/store"
	"privchat-sdk/internal/transport"
)

// Store is the subset of *store.Store the consumer touches.
type Store interface {
	UpdateStatus(ctx context.Context, id int64, status model.MessageStatus, updatedAt int64) error
	UpdateSendResult(ctx context.Context, id int64, serverMessageID, pts uint64, status model.MessageStatus, updatedAt int64) error
}

var _ Store = (*store.Store)(nil)

// Config tunes the worker pool: a fixed number of workers poll the queue
// at PollInterval.
type Config struct {
	Workers      int
	PollInterval time.Duration
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{Workers: 3, PollInterval: 200 * time.Millisecond}
}

// sendResult is what Sender.Send returns on RPC success.
type sendResult struct {
	ServerMessageID uint64
	Pts             uint64
}

// PermanentError marks a send failure that must not be retried:
// validation errors, 4xx responses, or an expired message.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Sender issues the actual send RPC for one task; FileSendConsumer
// implements the attachment variant separately, this package only covers
// the plain-message path.
type Sender interface {
	Send(ctx context.Context, t model.SendTask) (sendResult, error)
}

// transportSender is the default Sender: a single message/send RPC whose
// params carry the message payload plus local_message_id for idempotency.
type transportSender struct {
	tr transport.Transport
}

type sendParams struct {
	ChannelID      uint64 `json:"channel_id"`
	ChannelType    int    `json:"channel_type"`
	MessageType    string `json:"message_type"`
	Content        string `json:"content"`
	LocalMessageID int64  `json:"local_message_id"`
}

type sendResponse struct {
	ServerMessageID uint64 `json:"server_message_id"`
	Pts             uint64 `json:"pts"`
}

func (s *transportSender) Send(ctx context.Context, t model.SendTask) (sendResult, error) {
	params, err := json.Marshal(sendParams{
		ChannelID:      t.ChannelID,
		ChannelType:    int(t.MessageData.ChannelType),
		MessageType:    t.MessageData.MessageType,
		Content:        t.MessageData.Content,
		LocalMessageID: t.MessageData.LocalMessageID,
	})
	if err != nil {
		return sendResult{}, fmt.Errorf("sendconsumer: marshal params: %w", err)
	}
	raw, err := s.tr.Request(ctx, transport.MethodMessageSend, params)
	if err != nil {
		return sendResult{}, err
	}
	var resp sendResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return sendResult{}, fmt.Errorf("sendconsumer: unmarshal response: %w", err)
	}
	return sendResult{ServerMessageID: resp.ServerMessageID, Pts: resp.Pts}, nil
}

// NewTransportSender builds the default Sender over a concrete transport.
func NewTransportSender(tr transport.Transport) Sender {
	return &transportSender{tr: tr}
}

// channelLock serializes sends within one channel: send order within a
// single channel from a single device equals local call order.
type channelLock struct {
	mu   sync.Mutex
	locks map[uint64]*sync.Mutex
}

func newChannelLock() *channelLock {
	return &channelLock{locks: make(map[uint64]*sync.Mutex)}
}

func (c *channelLock) acquire(channelID uint64) func() {
	c.mu.Lock()
	l, ok := c.locks[channelID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[channelID] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Consumer is the worker pool draining one user's sendqueue.
type Consumer struct {
	uid     string
	queue   *sendqueue.Queue
	sender  Sender
	store   Store
	limiter *ratelimit.MessageRateLimiter
	bus     *events.Bus
	cfg     Config

	chanLocks *channelLock

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Consumer. Call Start to launch its worker pool.
func New(uid string, queue *sendqueue.Queue, sender Sender, st Store, limiter *ratelimit.MessageRateLimiter, bus *events.Bus, cfg Config) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Consumer{
		uid:       uid,
		queue:     queue,
		sender:    sender,
		store:     st,
		limiter:   limiter,
		bus:       bus,
		cfg:       cfg,
		chanLocks: newChannelLock(),
		stop:      make(chan struct{}),
	}
}

// Start launches cfg.Workers goroutines, each polling the queue at
// cfg.PollInterval.
func (c *Consumer) Start(ctx context.Context) {
	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.workerLoop(ctx)
	}
}

// Shutdown signals every worker to stop after finishing its current task
// and blocks until they have.
func (c *Consumer) Shutdown() {
	close(c.stop)
	c.wg.Wait()
}

func (c *Consumer) workerLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			t, ok, err := c.queue.Pop(c.uid)
			if err != nil {
				slog.Error("sendconsumer: pop failed", "err", err)
				continue
			}
			if !ok {
				continue
			}
			c.process(ctx, t)
		}
	}
}

func (c *Consumer) process(ctx context.Context, t model.SendTask) {
	release := c.chanLocks.acquire(t.ChannelID)
	defer release()

	start := time.Now()
	defer func() { c.queue.RecordProcessingTime(time.Since(start)) }()

	isGroup := t.MessageData.ChannelType == model.ChannelTypeGroup
	if wait := c.limiter.CheckSend(isGroup); wait > 0 {
		time.Sleep(wait)
	}

	now := time.Now().UnixMilli()
	_ = c.store.UpdateStatus(ctx, t.ID, model.StatusSending, now)
	c.bus.Emit(events.Event{
		Type:      events.TypeSendStatusUpdate,
		ChannelID: t.ChannelID,
		SendStatusUpdate: &events.SendStatusUpdate{
			LocalMessageID: t.MessageData.LocalMessageID,
			Phase:          events.SendSending,
			Attempt:        t.RetryCount,
		},
	})

	res, err := c.sender.Send(ctx, t)
	if err == nil {
		c.onSuccess(ctx, t, res)
		return
	}
	c.onFailure(ctx, t, err)
}

func (c *Consumer) onSuccess(ctx context.Context, t model.SendTask, res sendResult) {
	now := time.Now().UnixMilli()
	if err := c.store.UpdateSendResult(ctx, t.ID, res.ServerMessageID, res.Pts, model.StatusSent, now); err != nil {
		slog.Error("sendconsumer: update send result failed", "err", err, "task_id", t.TaskID)
	}
	c.bus.Emit(events.Event{
		Type:      events.TypeSendStatusUpdate,
		ChannelID: t.ChannelID,
		SendStatusUpdate: &events.SendStatusUpdate{
			LocalMessageID: t.MessageData.LocalMessageID,
			Phase:          events.SendSent,
		},
	})
	c.bus.Emit(events.Event{
		Type:      events.TypeMessageSent,
		ChannelID: t.ChannelID,
		MessageSent: &events.MessageSent{
			LocalMessageID:  t.MessageData.LocalMessageID,
			ServerMessageID: res.ServerMessageID,
			Pts:             res.Pts,
		},
	})
	_ = c.queue.RemoveByID(c.uid, t.TaskID)
}

func (c *Consumer) onFailure(ctx context.Context, t model.SendTask, sendErr error) {
	now := time.Now().UnixMilli()

	_, isPermanent := sendErr.(*PermanentError)

	pastDeadline := t.TimeoutAt != 0 && time.Now().Unix() > t.TimeoutAt
	t.RetryCount++

	if isPermanent || t.RetryCount >= t.MaxRetries || pastDeadline {
		// An expired task is terminal and persists the same Failed status
		// a permanent send error would.
		status := model.StatusFailed
		t.Status = model.TaskFailed
		t.LastError = sendErr.Error()
		_ = c.store.UpdateStatus(ctx, t.ID, status, now)
		_ = c.queue.RemoveByID(c.uid, t.TaskID)

		c.bus.Emit(events.Event{
			Type:      events.TypeSendStatusUpdate,
			ChannelID: t.ChannelID,
			SendStatusUpdate: &events.SendStatusUpdate{
				LocalMessageID: t.MessageData.LocalMessageID,
				Phase:          events.SendFailed,
				Attempt:        t.RetryCount,
			},
		})
		c.bus.Emit(events.Event{
			Type:      events.TypeMessageSendFailed,
			ChannelID: t.ChannelID,
			MessageSendFailed: &events.MessageSendFailed{
				LocalMessageID: t.MessageData.LocalMessageID,
				Err:            sendErr.Error(),
			},
		})
		return
	}

	// Transient: re-enqueue with exponential backoff plus jitter, capped
	// at model.MaxRetryBackoff. RetryCount was already incremented above,
	// so the exponent is the number of failures before this one: the
	// first retry waits ~base, the second ~2x base.
	backoff := time.Duration(float64(model.RetryBaseInterval) * pow2(t.RetryCount-1) * jitter())
	if backoff > model.MaxRetryBackoff {
		backoff = model.MaxRetryBackoff
	}
	t.Status = model.TaskRetrying
	t.NextRetryAt = time.Now().Add(backoff).Unix()
	t.LastError = sendErr.Error()

	_ = c.store.UpdateStatus(ctx, t.ID, model.StatusRetrying, now)
	_ = c.queue.Push(c.uid, t)

	c.bus.Emit(events.Event{
		Type:      events.TypeSendStatusUpdate,
		ChannelID: t.ChannelID,
		SendStatusUpdate: &events.SendStatusUpdate{
			LocalMessageID: t.MessageData.LocalMessageID,
			Phase:          events.SendRetrying,
			Attempt:        t.RetryCount,
		},
	})
}

func pow2(n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}

// jitter returns a multiplier in [0.95, 1.05].
func jitter() float64 {
	return 0.95 + rand.Float64()*0.10
}
