package ratelimit

import (
	"testing"
	"time"
)

// TestDuplicateRpcRejected: a second call with the same method+params
// while the first is in flight is rejected, and a third call after
// MarkComplete succeeds.
func TestDuplicateRpcRejected(t *testing.T) {
	t.Parallel()
	l := NewRpcLimiter(DefaultRpcLimiterConfig())
	defer l.Close()

	hash := HashParams(map[string]string{"q": "alice"})

	if wait, err := l.Begin("account/search/query", hash); err != nil || wait != 0 {
		t.Fatalf("first call should proceed immediately, got wait=%v err=%v", wait, err)
	}

	_, err := l.Begin("account/search/query", hash)
	if err == nil {
		t.Fatalf("expected DuplicateRequestError on second in-flight call")
	}
	dup, ok := err.(*DuplicateRequestError)
	if !ok {
		t.Fatalf("expected *DuplicateRequestError, got %T", err)
	}
	if dup.Method != "account/search/query" {
		t.Fatalf("unexpected method in duplicate error: %s", dup.Method)
	}

	l.MarkComplete("account/search/query", hash)
	if wait, err := l.Begin("account/search/query", hash); err != nil || wait != 0 {
		t.Fatalf("third call after mark complete should proceed, got wait=%v err=%v", wait, err)
	}
}

// TestReconnectBackoffSequence: consecutive failures produce
// min(initial*multiplier^k, max).
func TestReconnectBackoffSequence(t *testing.T) {
	t.Parallel()
	l := NewReconnectLimiter(ReconnectLimiterConfig{
		InitialInterval:   time.Second,
		MaxInterval:       8 * time.Second,
		BackoffMultiplier: 2,
		ResetAfterSuccess: time.Minute,
	})

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, w := range want {
		got := l.OnFailure()
		if got != w {
			t.Fatalf("attempt %d: expected wait=%v, got %v", i, w, got)
		}
	}
}

// TestReconnectResetRequiresSustainedSuccess checks decision #2: a success
// immediately followed by a failure does not reset to InitialInterval.
func TestReconnectResetRequiresSustainedSuccess(t *testing.T) {
	t.Parallel()
	l := NewReconnectLimiter(ReconnectLimiterConfig{
		InitialInterval:   time.Second,
		MaxInterval:       8 * time.Second,
		BackoffMultiplier: 2,
		ResetAfterSuccess: time.Hour, // never actually elapses in this test
	})

	l.OnFailure()
	l.OnFailure()
	before := l.CurrentInterval()

	l.OnSuccess() // marks connected, starts the reset-window clock
	l.OnSuccess() // window hasn't elapsed yet: no reset

	after := l.OnFailure()
	if after != before {
		t.Fatalf("expected backoff to continue from %v (no premature reset), got %v", before, after)
	}
}

func TestMessageRateLimiterMinInterval(t *testing.T) {
	t.Parallel()
	l := NewMessageRateLimiter(MessageLimiterConfig{
		PrivateRatePerSec: 1000,
		GroupRatePerSec:   1000,
		BurstMultiplier:   10,
		MinSendInterval:   30 * time.Millisecond,
	})

	if wait := l.CheckSend(false); wait != 0 {
		t.Fatalf("first send should proceed immediately, got wait=%v", wait)
	}
	wait := l.CheckSend(false)
	if wait <= 0 {
		t.Fatalf("expected positive wait immediately after a send, got %v", wait)
	}

	time.Sleep(wait)
	if wait2 := l.CheckSend(false); wait2 != 0 {
		t.Fatalf("expected send to proceed after sleeping the returned wait, got %v", wait2)
	}
}
