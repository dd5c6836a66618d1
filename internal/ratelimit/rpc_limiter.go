package ratelimit

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RpcLimiterConfig configures the global RPC token bucket and the
// in-flight dedup sweeper.
type RpcLimiterConfig struct {
	RatePerSec          float64
	Burst               int
	RequestTimeout      time.Duration
	CleanupInterval     time.Duration
}

// DefaultRpcLimiterConfig returns the standard defaults: 20/s global,
// 30s in-flight timeout, 10s cleanup sweep.
func DefaultRpcLimiterConfig() RpcLimiterConfig {
	return RpcLimiterConfig{
		RatePerSec:      20,
		Burst:           40,
		RequestTimeout:  30 * time.Second,
		CleanupInterval: 10 * time.Second,
	}
}

// DuplicateRequestError is returned by Begin when an identical request is
// already in flight. Callers MUST NOT retry it.
type DuplicateRequestError struct {
	Method       string
	PendingSince time.Duration
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("duplicate request: %s pending for %s", e.Method, e.PendingSince)
}

type inFlight struct {
	method string
	since  time.Time
}

// RpcLimiter gates outbound RPCs with one global token bucket and rejects
// a duplicate in-flight call keyed by (method, hash(params)).
type RpcLimiter struct {
	bucket *rate.Limiter
	cfg    RpcLimiterConfig

	mu       sync.Mutex
	inFlight map[string]inFlight

	stop chan struct{}
}

// NewRpcLimiter builds the limiter and starts its background sweeper.
func NewRpcLimiter(cfg RpcLimiterConfig) *RpcLimiter {
	l := &RpcLimiter{
		bucket:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		cfg:      cfg,
		inFlight: make(map[string]inFlight),
		stop:     make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Close stops the background sweeper.
func (l *RpcLimiter) Close() { close(l.stop) }

func (l *RpcLimiter) sweepLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweepExpired()
		}
	}
}

func (l *RpcLimiter) sweepExpired() {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range l.inFlight {
		if now.Sub(v.since) > l.cfg.RequestTimeout {
			delete(l.inFlight, k)
		}
	}
}

// HashParams derives the dedup key component from method arguments using
// SHA-256 over their canonical JSON encoding.
func HashParams(params any) string {
	raw, err := json.Marshal(params)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", params))
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%x", sum)
}

// Begin reserves a rate-limiter token and registers the call as in-flight.
// Returns *DuplicateRequestError if (method, paramsHash) is already
// pending, or an error-free zero Duration signaling immediate go-ahead;
// a non-zero Duration means the rate limit was hit and the caller's
// transport layer should wait internally before the next attempt,
// rather than surfacing the wait to the caller the way a duplicate
// request is.
func (l *RpcLimiter) Begin(method, paramsHash string) (time.Duration, error) {
	key := method + ":" + paramsHash

	// The duplicate check and the in-flight insert happen under one lock
	// acquisition: releasing it in between would let two concurrent
	// identical calls both pass the check and both proceed.
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.inFlight[key]; ok {
		return 0, &DuplicateRequestError{Method: method, PendingSince: time.Since(existing.since)}
	}

	r := l.bucket.Reserve()
	if !r.OK() {
		return time.Hour, nil
	}
	if wait := r.Delay(); wait > 0 {
		// The caller sleeps and re-enters Begin, which reserves again;
		// give this token back rather than burning two per admitted call.
		r.Cancel()
		return wait, nil
	}

	l.inFlight[key] = inFlight{method: method, since: time.Now()}
	return 0, nil
}

// MarkComplete releases the in-flight slot for (method, paramsHash),
// allowing a subsequent call with the same key to proceed.
func (l *RpcLimiter) MarkComplete(method, paramsHash string) {
	l.mu.Lock()
	delete(l.inFlight, method+":"+paramsHash)
	l.mu.Unlock()
}
