package sendqueue

import (
	"testing"
	"time"

	"privchat-sdk/internal/kv"
	"privchat-sdk/internal/model"
)

func openTestTree(t *testing.T) *kv.Tree {
	t.Helper()
	st, err := kv.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st.Tree("u1")
}

func taskAt(id string, p model.Priority, createdAt int64) model.SendTask {
	return model.SendTask{
		TaskID:     id,
		Priority:   p,
		Status:     model.TaskPending,
		CreatedAt:  createdAt,
		MaxRetries: p.MaxRetries(),
		TimeoutAt:  time.Now().Add(p.Timeout()).Unix(),
	}
}

func TestPopOrdersByPriorityThenCreatedAt(t *testing.T) {
	t.Parallel()
	q := New(openTestTree(t))

	_ = q.Push("u1", taskAt("low-1", model.PriorityLow, 1))
	_ = q.Push("u1", taskAt("high-2", model.PriorityHigh, 2))
	_ = q.Push("u1", taskAt("high-1", model.PriorityHigh, 1))
	_ = q.Push("u1", taskAt("normal-1", model.PriorityNormal, 1))

	order := []string{"high-1", "high-2", "normal-1", "low-1"}
	for _, want := range order {
		got, ok, err := q.Pop("u1")
		if err != nil || !ok {
			t.Fatalf("expected a task, got ok=%v err=%v", ok, err)
		}
		if got.TaskID != want {
			t.Fatalf("expected %s next, got %s", want, got.TaskID)
		}
	}
	if _, ok, _ := q.Pop("u1"); ok {
		t.Fatalf("expected queue to be empty")
	}
}

func TestPopSkipsExpiredTasks(t *testing.T) {
	t.Parallel()
	q := New(openTestTree(t))

	expired := taskAt("expired", model.PriorityHigh, 1)
	expired.TimeoutAt = time.Now().Add(-time.Minute).Unix()
	_ = q.Push("u1", expired)
	_ = q.Push("u1", taskAt("fresh", model.PriorityLow, 2))

	got, ok, err := q.Pop("u1")
	if err != nil || !ok {
		t.Fatalf("expected the fresh task, got ok=%v err=%v", ok, err)
	}
	if got.TaskID != "fresh" {
		t.Fatalf("expected expired task to be skipped, got %s", got.TaskID)
	}
}

func TestRecoverReloadsPendingAndRetrying(t *testing.T) {
	t.Parallel()
	tree := openTestTree(t)
	q1 := New(tree)
	_ = q1.Push("u1", taskAt("pending-1", model.PriorityNormal, 1))
	done := taskAt("done-1", model.PriorityNormal, 2)
	done.Status = model.TaskCompleted
	_ = q1.Push("u1", done)
	retrying := taskAt("retrying-1", model.PriorityHigh, 3)
	retrying.Status = model.TaskRetrying
	_ = q1.Push("u1", retrying)

	q2 := New(tree)
	if err := q2.Recover("u1"); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if q2.Len() != 2 {
		t.Fatalf("expected 2 recovered tasks (pending+retrying), got %d", q2.Len())
	}
}

func TestRemoveByID(t *testing.T) {
	t.Parallel()
	q := New(openTestTree(t))
	_ = q.Push("u1", taskAt("a", model.PriorityNormal, 1))
	_ = q.Push("u1", taskAt("b", model.PriorityNormal, 2))

	if err := q.RemoveByID("u1", "a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, ok, _ := q.Pop("u1")
	if !ok || got.TaskID != "b" {
		t.Fatalf("expected only b left, got %+v ok=%v", got, ok)
	}
}
