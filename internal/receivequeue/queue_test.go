package receivequeue

import (
	"testing"
	"time"

	"privchat-sdk/internal/model"
)

func rt(source model.ReceiveSource, serverMsgID, seq uint64) model.ReceiveTask {
	return model.ReceiveTask{
		TaskID:      "recv_" + string(rune('0'+serverMsgID)),
		ServerMsgID: serverMsgID,
		SequenceID:  seq,
		Source:      source,
		Status:      model.TaskPending,
		CreatedAt:   time.Now().Unix(),
	}
}

func TestRealtimeTasksDequeueBeforeBatches(t *testing.T) {
	t.Parallel()
	q := New(DefaultConfig())
	q.Enqueue(1, model.ChannelTypeDirect, rt(model.SourceHistorical, 1, 1))
	q.Enqueue(1, model.ChannelTypeDirect, rt(model.SourceRealTime, 2, 2))

	b, ok := q.DequeueBatch()
	if !ok {
		t.Fatalf("expected a batch")
	}
	if len(b.Tasks) != 1 || b.Tasks[0].Source != model.SourceRealTime {
		t.Fatalf("expected realtime task drained first, got %+v", b.Tasks)
	}
}

func TestBatchPromotesAtMaxSize(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.BatchMaxSize = 3
	q := New(cfg)

	for i := uint64(1); i <= 3; i++ {
		q.Enqueue(1, model.ChannelTypeDirect, rt(model.SourceHistorical, i, i))
	}

	b, ok := q.DequeueBatch()
	if !ok || len(b.Tasks) != 3 {
		t.Fatalf("expected a full batch of 3 ready at size cap, got ok=%v tasks=%d", ok, len(b.Tasks))
	}
}

func TestBatchPromotesAfterTimeout(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.BatchTimeout = 10 * time.Millisecond
	cfg.BatchMaxSize = 100
	q := New(cfg)

	q.Enqueue(1, model.ChannelTypeDirect, rt(model.SourceHistorical, 1, 1))
	time.Sleep(20 * time.Millisecond)
	q.PromoteAgedBatches()

	b, ok := q.DequeueBatch()
	if !ok || len(b.Tasks) != 1 {
		t.Fatalf("expected aged batch promoted, got ok=%v", ok)
	}
}

func TestDuplicateTaskSkipped(t *testing.T) {
	t.Parallel()
	q := New(DefaultConfig())
	q.Enqueue(1, model.ChannelTypeDirect, rt(model.SourceRealTime, 5, 5))
	q.Enqueue(1, model.ChannelTypeDirect, rt(model.SourceRealTime, 5, 5))

	stats := q.Stats()
	if stats.SkippedDupes != 1 {
		t.Fatalf("expected 1 skipped dupe, got %d", stats.SkippedDupes)
	}
	b, ok := q.DequeueBatch()
	if !ok || len(b.Tasks) != 1 {
		t.Fatalf("expected only the first task queued, got ok=%v tasks=%d", ok, len(b.Tasks))
	}
}
