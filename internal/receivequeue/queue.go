// Package receivequeue implements a three-partition ingestion queue: a
// front-prioritized deque for RealTime/Reconnect tasks, a per-channel
// batch map for Historical/Offline tasks that accumulates up to
// batch_max_size or batch_timeout_seconds, and a ready-batch deque
// workers draw from. Deduplication is a bounded map keyed by
// "<server_msg_id>_<sequence_id>".
package receivequeue

import (
	"fmt"
	"sync"
	"time"

	"privchat-sdk/internal/model"
)

// Config tunes batching and dedup.
type Config struct {
	BatchMaxSize         int
	BatchTimeout         time.Duration
	DedupCapacity        int
	TimeoutCheckInterval time.Duration
}

// DefaultConfig matches the documented defaults: batches of 50 or 2s,
// 10k dedup entries, timeout sweep every 5s.
func DefaultConfig() Config {
	return Config{
		BatchMaxSize:         50,
		BatchTimeout:         2 * time.Second,
		DedupCapacity:        10000,
		TimeoutCheckInterval: 5 * time.Second,
	}
}

// Batch is a group of tasks for one channel, promoted to the ready deque
// either by size or by age.
type Batch struct {
	ChannelKey string
	Tasks      []model.ReceiveTask
	FirstAdded time.Time
}

// Stats summarizes current occupancy for diagnostics.
type Stats struct {
	RealtimePending int
	PendingBatches  int
	ReadyBatches    int
	DedupSize       int
	SkippedDupes    int64
}

type dedupEntry struct {
	key    string
	seenAt time.Time
}

// Queue is the mutex-guarded three-partition structure.
type Queue struct {
	cfg Config

	mu           sync.Mutex
	realtime     []model.ReceiveTask
	pendingBatch map[string]*Batch
	readyBatches []*Batch

	dedup        map[string]time.Time
	dedupOrder   []dedupEntry
	skippedDupes int64
}

// New builds an empty Queue.
func New(cfg Config) *Queue {
	if cfg.BatchMaxSize <= 0 {
		cfg = DefaultConfig()
	}
	return &Queue{
		cfg:          cfg,
		pendingBatch: make(map[string]*Batch),
		dedup:        make(map[string]time.Time),
	}
}

func channelKey(channelID uint64, channelType model.ChannelType) string {
	return fmt.Sprintf("%d_%d", channelID, channelType)
}

func dedupKey(serverMsgID, sequenceID uint64) string {
	return fmt.Sprintf("%d_%d", serverMsgID, sequenceID)
}

// Enqueue admits task into the appropriate partition. Duplicates (same
// dedup key already seen) are marked Skipped and counted, not queued.
func (q *Queue) Enqueue(channelID uint64, channelType model.ChannelType, task model.ReceiveTask) {
	key := dedupKey(task.ServerMsgID, task.SequenceID)

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.dedup[key]; dup {
		q.skippedDupes++
		return
	}
	q.recordDedupLocked(key)

	if task.Source == model.SourceRealTime || task.Source == model.SourceReconnect {
		q.realtime = append(q.realtime, task)
		return
	}

	ck := channelKey(channelID, channelType)
	b, ok := q.pendingBatch[ck]
	if !ok {
		b = &Batch{ChannelKey: ck, FirstAdded: time.Now()}
		q.pendingBatch[ck] = b
	}
	b.Tasks = append(b.Tasks, task)
	if len(b.Tasks) >= q.cfg.BatchMaxSize {
		delete(q.pendingBatch, ck)
		q.readyBatches = append(q.readyBatches, b)
	}
}

func (q *Queue) recordDedupLocked(key string) {
	now := time.Now()
	q.dedup[key] = now
	q.dedupOrder = append(q.dedupOrder, dedupEntry{key: key, seenAt: now})

	if len(q.dedup) >= (q.cfg.DedupCapacity*75)/100 {
		q.cleanupExpiredLocked()
	}
}

// cleanupExpiredLocked purges dedup entries older than 1 hour, triggered
// once the table reaches 75% of DedupCapacity.
func (q *Queue) cleanupExpiredLocked() {
	cutoff := time.Now().Add(-time.Hour)
	kept := q.dedupOrder[:0]
	for _, e := range q.dedupOrder {
		if e.seenAt.Before(cutoff) {
			delete(q.dedup, e.key)
			continue
		}
		kept = append(kept, e)
	}
	q.dedupOrder = kept
}

// PromoteAgedBatches moves every pending batch older than BatchTimeout to
// the ready deque regardless of size. Call this on a periodic timer
// (TimeoutCheckInterval) so a batch that never fills still gets
// processed.
func (q *Queue) PromoteAgedBatches() {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := time.Now().Add(-q.cfg.BatchTimeout)
	for ck, b := range q.pendingBatch {
		if b.FirstAdded.Before(cutoff) {
			delete(q.pendingBatch, ck)
			q.readyBatches = append(q.readyBatches, b)
		}
	}
}

// DequeueBatch drains RealTime tasks first (as their own single batch,
// up to BatchMaxSize), then the oldest ready batch. A realtime batch may
// interleave tasks from several channels; the consumer splits it per
// channel before inserting.
func (q *Queue) DequeueBatch() (*Batch, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.realtime) > 0 {
		n := len(q.realtime)
		if n > q.cfg.BatchMaxSize {
			n = q.cfg.BatchMaxSize
		}
		tasks := append([]model.ReceiveTask(nil), q.realtime[:n]...)
		q.realtime = q.realtime[n:]
		return &Batch{ChannelKey: "realtime", Tasks: tasks, FirstAdded: time.Now()}, true
	}

	if len(q.readyBatches) == 0 {
		return nil, false
	}
	b := q.readyBatches[0]
	q.readyBatches = q.readyBatches[1:]
	return b, true
}

// Requeue puts a batch's tasks back for retry after a failed
// batch-insert. Requeued tasks skip dedup (they were already admitted
// once) and go straight back onto the ready deque as their own batch.
func (q *Queue) Requeue(b *Batch) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.readyBatches = append(q.readyBatches, b)
}

// Stats reports current occupancy.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		RealtimePending: len(q.realtime),
		PendingBatches:  len(q.pendingBatch),
		ReadyBatches:    len(q.readyBatches),
		DedupSize:       len(q.dedup),
		SkippedDupes:    q.skippedDupes,
	}
}
