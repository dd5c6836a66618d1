// Package receiveconsumer drains internal/receivequeue and persists
// incoming messages in batches.
package receiveconsumer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"privchat-sdk/internal/events"
	"privchat-sdk/internal/model"
	"privchat-sdk/internal/pts"
	"privchat-sdk/internal/receivequeue"
	"privchat-sdk/internal/store"
)

// Store is the subset of *store.Store the consumer touches.
type Store interface {
	ExistsByServerID(ctx context.Context, channelID, serverMessageID uint64) (bool, error)
	InsertBatchAndUpdateChannel(ctx context.Context, msgs []*model.Message, unreadDelta int) error
}

var _ Store = (*store.Store)(nil)

// PtsCache is the slice of pts.Manager the consumer needs: a batch commit
// advances channel.last_msg_pts in SQL behind the manager's back, so its
// cached value must be dropped or the next push's gap check compares
// against a stale pts and spuriously triggers a full sync.
type PtsCache interface {
	InvalidateCache(channelID uint64, channelType model.ChannelType)
}

var _ PtsCache = (*pts.Manager)(nil)

// Config tunes the worker pool and the DB transaction timeout bound for
// batch inserts.
type Config struct {
	Workers      int
	PollInterval time.Duration
	DBTimeout    time.Duration
	LocalUID     uint64 // messages authored by this uid don't bump unread_count
}

// DefaultConfig matches the documented defaults: 2 workers, 100ms poll,
// 30s db timeout.
func DefaultConfig() Config {
	return Config{Workers: 2, PollInterval: 100 * time.Millisecond, DBTimeout: 30 * time.Second}
}

// Consumer is the worker pool draining one receivequeue.Queue.
type Consumer struct {
	cfg      Config
	queue    *receivequeue.Queue
	store    Store
	ptsCache PtsCache
	bus      *events.Bus

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Consumer. ptsCache may be nil when no pts manager sits in
// front of the store (tests).
func New(cfg Config, queue *receivequeue.Queue, st Store, ptsCache PtsCache, bus *events.Bus) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.DBTimeout <= 0 {
		cfg.DBTimeout = DefaultConfig().DBTimeout
	}
	return &Consumer{cfg: cfg, queue: queue, store: st, ptsCache: ptsCache, bus: bus, stop: make(chan struct{})}
}

// Start launches cfg.Workers batch-drain goroutines plus the
// timeout-processor task that promotes aged partial batches.
func (c *Consumer) Start(ctx context.Context, timeoutCheckInterval time.Duration) {
	if timeoutCheckInterval <= 0 {
		timeoutCheckInterval = receivequeue.DefaultConfig().TimeoutCheckInterval
	}
	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.workerLoop(ctx)
	}
	c.wg.Add(1)
	go c.timeoutProcessor(ctx, timeoutCheckInterval)
}

// Shutdown stops every worker and the timeout processor after their
// current iteration completes.
func (c *Consumer) Shutdown() {
	close(c.stop)
	c.wg.Wait()
}

func (c *Consumer) timeoutProcessor(ctx context.Context, interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.queue.PromoteAgedBatches()
		}
	}
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
			b, ok := c.queue.DequeueBatch()
			if !ok {
				continue
			}
			c.processBatch(ctx, b)
		}
	}
}

// channelGroup collects one channel's share of a dequeued batch. The
// realtime partition interleaves channels, so a batch must be split
// before insertion: each channel's denormalized row is updated by its
// own transaction.
type channelGroup struct {
	channelID   uint64
	channelType model.ChannelType
	msgs        []*model.Message
	unreadDelta int
}

func (c *Consumer) processBatch(ctx context.Context, b *receivequeue.Batch) {
	if len(b.Tasks) == 0 {
		return
	}

	dbCtx, cancel := context.WithTimeout(ctx, c.cfg.DBTimeout)
	defer cancel()

	groups := make(map[string]*channelGroup)
	var order []string

	for _, task := range b.Tasks {
		exists, err := c.store.ExistsByServerID(dbCtx, task.MessageData.ChannelID, task.ServerMsgID)
		if err != nil {
			slog.Error("receiveconsumer: exists check failed", "err", err, "task_id", task.TaskID)
			c.queue.Requeue(b)
			return
		}
		if exists {
			continue // already persisted, skip
		}

		msg := &model.Message{
			ServerMessageID: task.ServerMsgID,
			Pts:             task.SequenceID,
			ChannelID:       task.MessageData.ChannelID,
			ChannelType:     task.MessageData.ChannelType,
			FromUID:         task.MessageData.FromUID,
			MessageType:     task.MessageData.MessageType,
			Content:         task.MessageData.Content,
			Status:          model.StatusReceived,
			Timestamp:       task.MessageData.CreatedAt,
			CreatedAt:       task.MessageData.CreatedAt,
			UpdatedAt:       time.Now().UnixMilli(),
			Extra:           task.MessageData.Extra,
		}
		key := fmt.Sprintf("%d_%d", msg.ChannelID, msg.ChannelType)
		g, ok := groups[key]
		if !ok {
			g = &channelGroup{channelID: msg.ChannelID, channelType: msg.ChannelType}
			groups[key] = g
			order = append(order, key)
		}
		g.msgs = append(g.msgs, msg)
		if task.MessageData.FromUID != c.cfg.LocalUID {
			g.unreadDelta++
		}
	}

	for _, key := range order {
		g := groups[key]
		if err := c.store.InsertBatchAndUpdateChannel(dbCtx, g.msgs, g.unreadDelta); err != nil {
			// On timeout or error the whole batch's successes convert to
			// failure and become re-eligible for retry; channels already
			// committed are skipped by the exists check on the next pass.
			slog.Error("receiveconsumer: batch insert failed", "err", err, "channel_id", g.channelID, "count", len(g.msgs))
			c.queue.Requeue(b)
			return
		}
		c.emitChannelEvents(g)
	}
}

// emitChannelEvents announces one committed channel group: the batch
// insert moved channel.last_msg_pts underneath the pts manager, so its
// cache entry is dropped before any event handler can re-check the
// sequence.
func (c *Consumer) emitChannelEvents(g *channelGroup) {
	if c.ptsCache != nil {
		c.ptsCache.InvalidateCache(g.channelID, g.channelType)
	}

	msgs := make([]model.Message, len(g.msgs))
	for i, m := range g.msgs {
		msgs[i] = *m
		c.bus.Emit(events.Event{
			Type:        events.TypeMessageReceived,
			ChannelID:   m.ChannelID,
			ChannelType: m.ChannelType,
			UserID:      m.FromUID,
			MessageReceived: &events.MessageReceived{
				Message: *m,
			},
		})
	}
	c.bus.Emit(events.Event{
		Type:        events.TypeTimelineDiff,
		ChannelID:   g.channelID,
		ChannelType: g.channelType,
		TimelineDiff: &events.TimelineDiff{
			Kind:     events.TimelineAppend,
			Messages: msgs,
		},
	})
	c.bus.Emit(events.Event{
		Type:        events.TypeChannelListUpdate,
		ChannelID:   g.channelID,
		ChannelType: g.channelType,
		ChannelListUpdate: &events.ChannelListUpdate{
			Kind: events.ChannelListKindUpdate,
		},
	})
}
