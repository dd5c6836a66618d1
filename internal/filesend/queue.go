package filesend

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
	return fmt.Sprintf("filequeue:%s:tasks:%s", uid, taskID)
}

type item struct {
	task  model.FileSendTask
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

// Queue is the attachment-task analogue of internal/sendqueue.Queue,
// persisted separately because model.FileSendTask embeds the extra
// filename/mime/thumbnail fields a plain MessageData payload doesn't
// carry.
type Queue struct {
	tree *kv.Tree

	mu   sync.Mutex
	h    taskHeap
	byID map[string]*item
}

// NewQueue builds an empty Queue bound to tree. Call Recover to reload
// persisted Pending/Retrying tasks after construction.
func NewQueue(tree *kv.Tree) *Queue {
	return &Queue{tree: tree, byID: make(map[string]*item)}
}

// Recover reloads every persisted task with status Pending or Retrying.
func (q *Queue) Recover(uid string) error {
	prefix := fmt.Sprintf("filequeue:%s:tasks:", uid)
	raws, err := q.tree.ScanPrefix(prefix)
	if err != nil {
		return fmt.Errorf("filesend: recover scan: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, raw := range raws {
		var t model.FileSendTask
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
func (q *Queue) Push(uid string, t model.FileSendTask) error {
	if err := q.tree.Set(taskKey(uid, t.TaskID), t); err != nil {
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

func (q *Queue) pushLocked(t model.FileSendTask) {
	it := &item{task: t}
	heap.Push(&q.h, it)
	q.byID[t.TaskID] = it
}

// Pop removes and returns the highest-priority non-expired pending task.
func (q *Queue) Pop(uid string) (model.FileSendTask, bool, error) {
	now := time.Now().Unix()
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.h.Len() > 0 {
		it := heap.Pop(&q.h).(*item)
		delete(q.byID, it.task.TaskID)
		if it.task.TimeoutAt != 0 && now > it.task.TimeoutAt {
			expired := it.task
			expired.Status = model.TaskExpired
			_ = q.tree.Set(taskKey(uid, expired.TaskID), expired)
			continue
		}
		return it.task, true, nil
	}
	return model.FileSendTask{}, false, nil
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

// Len reports the number of tasks currently queued in memory.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}
