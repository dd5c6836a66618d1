// Package sendqueue implements the persistent per-user priority queue of
// outbound SendTasks. Tasks are mirrored into the KV store under prefix
// "queue:<uid>:tasks:<task_id>" so SDK restart can reload every
// Pending/Retrying task into a fresh in-memory heap.
package sendqueue

import (
	"container/heap"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"privchat-sdk/internal/kv"
	"privchat-sdk/internal/model"
)

func taskKey(uid, taskID string) string {
	return fmt.Sprintf("queue:%s:tasks:%s", uid, taskID)
}

// item is one heap entry. container/heap orders by (priority, createdAt):
// High before Normal before Low before Background, and within a priority,
// earliest CreatedAt first.
type item struct {
	task  model.SendTask
	index int
}

type taskHeap []*item

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority.Less(h[j].task.Priority)
	}
	return h[i].task.CreatedAt < h[j].task.CreatedAt
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *taskHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Stats summarizes queue occupancy for diagnostics: per-priority counts
// and average processing time.
type Stats struct {
	PerPriority            map[model.Priority]int
	AvgProcessingTimeMs    float64
}

// Queue is the mutex-guarded in-memory heap backed by kv persistence.
type Queue struct {
	tree *kv.Tree

	mu       sync.Mutex
	h        taskHeap
	byID     map[string]*item

	processingTotalMs int64
	processingCount   int64
}

// New builds an empty Queue bound to tree. Call Recover to reload
// persisted Pending/Retrying tasks after construction.
func New(tree *kv.Tree) *Queue {
	return &Queue{tree: tree, byID: make(map[string]*item)}
}

// Recover reloads every persisted task with status Pending or Retrying
// into the heap. Call this once at SDK init, before workers start
// draining the queue.
func (q *Queue) Recover(uid string) error {
	prefix := fmt.Sprintf("queue:%s:tasks:", uid)
	raws, err := q.tree.ScanPrefix(prefix)
	if err != nil {
		return fmt.Errorf("sendqueue: recover scan: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, raw := range raws {
		var t model.SendTask
		if err := json.Unmarshal(raw, &t); err != nil {
			continue
		}
		if t.Status != model.TaskPending && t.Status != model.TaskRetrying {
			continue
		}
		q.pushLocked(t)
	}
	return nil
}

// Push persists task and adds it to the heap.
func (q *Queue) Push(uid string, t model.SendTask) error {
	if err := q.persist(uid, t); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if existing, ok := q.byID[t.TaskID]; ok {
		existing.task = t
		heap.Fix(&q.h, existing.index)
		return nil
	}
	q.pushLocked(t)
	return nil
}

func (q *Queue) pushLocked(t model.SendTask) {
	it := &item{task: t}
	heap.Push(&q.h, it)
	q.byID[t.TaskID] = it
}

// BatchPush pushes every task, returning the first persistence error
// encountered (if any); tasks already persisted before the error remain
// queued.
func (q *Queue) BatchPush(uid string, tasks []model.SendTask) error {
	for _, t := range tasks {
		if err := q.Push(uid, t); err != nil {
			return err
		}
	}
	return nil
}

// Pop removes and returns the highest-priority non-expired pending task.
// Expired tasks encountered along the way are marked Expired, persisted,
// and skipped. Returns ok=false if the queue is empty.
func (q *Queue) Pop(uid string) (task model.SendTask, ok bool, err error) {
	now := time.Now().Unix()
	q.mu.Lock()
	var notYetDue []*item
	for q.h.Len() > 0 {
		it := heap.Pop(&q.h).(*item)
		delete(q.byID, it.task.TaskID)

		if it.task.TimeoutAt != 0 && now > it.task.TimeoutAt {
			expired := it.task
			expired.Status = model.TaskExpired
			q.mu.Unlock()
			_ = q.persist(uid, expired)
			q.mu.Lock()
			continue
		}
		if it.task.Status == model.TaskRetrying && it.task.NextRetryAt != 0 && now < it.task.NextRetryAt {
			notYetDue = append(notYetDue, it)
			continue
		}
		task = it.task
		ok = true
		break
	}
	for _, it := range notYetDue {
		heap.Push(&q.h, it)
		q.byID[it.task.TaskID] = it
	}
	q.mu.Unlock()
	return task, ok, nil
}

// BatchPop pops up to n tasks.
func (q *Queue) BatchPop(uid string, n int) ([]model.SendTask, error) {
	out := make([]model.SendTask, 0, n)
	for i := 0; i < n; i++ {
		t, ok, err := q.Pop(uid)
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

// RemoveByID deletes a task from both the heap and kv persistence.
func (q *Queue) RemoveByID(uid, taskID string) error {
	q.mu.Lock()
	if it, ok := q.byID[taskID]; ok {
		heap.Remove(&q.h, it.index)
		delete(q.byID, taskID)
	}
	q.mu.Unlock()
	return q.tree.Delete(taskKey(uid, taskID))
}

// Clear empties the in-memory heap (persisted rows are left for recovery
// bookkeeping; callers that want a hard wipe should also delete by id).
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.h = q.h[:0]
	q.byID = make(map[string]*item)
}

// Len reports the number of tasks currently queued in memory.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// RecordProcessingTime feeds one completed task's duration into Stats'
// running average.
func (q *Queue) RecordProcessingTime(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processingTotalMs += d.Milliseconds()
	q.processingCount++
}

// GetStats summarizes current heap occupancy per priority and the running
// average processing time recorded via RecordProcessingTime.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	per := make(map[model.Priority]int, 4)
	for _, it := range q.h {
		per[it.task.Priority]++
	}
	avg := 0.0
	if q.processingCount > 0 {
		avg = float64(q.processingTotalMs) / float64(q.processingCount)
	}
	return Stats{PerPriority: per, AvgProcessingTimeMs: avg}
}

func (q *Queue) persist(uid string, t model.SendTask) error {
	return q.tree.Set(taskKey(uid, t.TaskID), t)
}
