// Package ratelimit implements three independent limiters:
// MessageRateLimiter (token buckets for send), RpcLimiter (dedup +
// global throttle), and ReconnectLimiter (exponential backoff).
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MessageLimiterConfig configures the two send buckets plus the global
// minimum interval.
type MessageLimiterConfig struct {
	PrivateRatePerSec float64
	GroupRatePerSec   float64
	BurstMultiplier   float64
	MinSendInterval   time.Duration
}

// DefaultMessageLimiterConfig returns the standard defaults: 10/s
// private, 5/s group, burst x2, 50ms minimum interval.
func DefaultMessageLimiterConfig() MessageLimiterConfig {
	return MessageLimiterConfig{
		PrivateRatePerSec: 10,
		GroupRatePerSec:   5,
		BurstMultiplier:   2,
		MinSendInterval:   50 * time.Millisecond,
	}
}

// MessageRateLimiter gates outbound sends with separate private/group
// token buckets plus a shared minimum interval between any two sends.
type MessageRateLimiter struct {
	private *rate.Limiter
	group   *rate.Limiter
	minGap  time.Duration

	mu       sync.Mutex
	lastSend time.Time
}

// NewMessageRateLimiter builds the limiter from cfg.
func NewMessageRateLimiter(cfg MessageLimiterConfig) *MessageRateLimiter {
	return &MessageRateLimiter{
		private: rate.NewLimiter(rate.Limit(cfg.PrivateRatePerSec), int(cfg.PrivateRatePerSec*cfg.BurstMultiplier)),
		group:   rate.NewLimiter(rate.Limit(cfg.GroupRatePerSec), int(cfg.GroupRatePerSec*cfg.BurstMultiplier)),
		minGap:  cfg.MinSendInterval,
	}
}

// CheckSend reports whether a send may proceed now; if not, it returns
// the duration the caller should wait before retrying. A zero duration
// means the send may proceed immediately.
func (l *MessageRateLimiter) CheckSend(isGroup bool) time.Duration {
	now := time.Now()

	l.mu.Lock()
	gapWait := time.Duration(0)
	if since := now.Sub(l.lastSend); !l.lastSend.IsZero() && since < l.minGap {
		gapWait = l.minGap - since
	}
	l.mu.Unlock()

	bucket := l.private
	if isGroup {
		bucket = l.group
	}
	r := bucket.ReserveN(now, 1)
	if !r.OK() {
		return time.Hour // cannot ever satisfy this request at the configured rate
	}
	bucketWait := r.DelayFrom(now)

	wait := gapWait
	if bucketWait > wait {
		wait = bucketWait
	}
	if wait > 0 {
		r.Cancel() // don't consume the token until the caller actually sends after waiting
		return wait
	}

	l.mu.Lock()
	l.lastSend = now
	l.mu.Unlock()
	return 0
}
