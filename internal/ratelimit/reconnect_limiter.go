package ratelimit

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ReconnectLimiterConfig governs the exponential backoff applied between
// failed connection attempts.
type ReconnectLimiterConfig struct {
	InitialInterval        time.Duration
	MaxInterval            time.Duration
	BackoffMultiplier      float64
	ResetAfterSuccess      time.Duration
}

// DefaultReconnectLimiterConfig returns the standard defaults: 1s
// initial, 15s cap, x2 multiplier, 60s sustained-success reset.
func DefaultReconnectLimiterConfig() ReconnectLimiterConfig {
	return ReconnectLimiterConfig{
		InitialInterval:   time.Second,
		MaxInterval:       15 * time.Second,
		BackoffMultiplier: 2,
		ResetAfterSuccess: 60 * time.Second,
	}
}

// ReconnectLimiter tracks consecutive connection failures and reports the
// wait duration before the next attempt. The interval progression is
// delegated to backoff.ExponentialBackOff with randomization disabled, so
// attempt k waits exactly min(initial * multiplier^k, max).
//
// A failure occurring inside the ResetAfterSuccess window continues
// backoff from wherever the interval currently sits rather than
// restarting at InitialInterval.
type ReconnectLimiter struct {
	cfg ReconnectLimiterConfig

	mu             sync.Mutex
	bo             *backoff.ExponentialBackOff
	next           time.Duration
	connectedSince time.Time
	wasConnected   bool
}

// NewReconnectLimiter builds the limiter from cfg.
func NewReconnectLimiter(cfg ReconnectLimiterConfig) *ReconnectLimiter {
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.InitialInterval,
		RandomizationFactor: 0, // callers schedule exactly the reported wait
		Multiplier:          cfg.BackoffMultiplier,
		MaxInterval:         cfg.MaxInterval,
		MaxElapsedTime:      0, // never give up; the SDK reconnects indefinitely
		Clock:               backoff.SystemClock,
		Stop:                backoff.Stop,
	}
	bo.Reset()
	// NextBackOff returns the current interval and then advances, so the
	// first wait is consumed here and each OnFailure consumes the next.
	return &ReconnectLimiter{cfg: cfg, bo: bo, next: bo.NextBackOff()}
}

// OnFailure records a failed connection attempt and returns the wait
// duration before the next attempt.
func (l *ReconnectLimiter) OnFailure() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	// A failure always means the connection is no longer healthy; any
	// pending reset-after-success window is voided, but backoff resumes
	// from wherever it was, not from InitialInterval.
	l.wasConnected = false

	wait := l.next
	l.next = l.bo.NextBackOff()
	return wait
}

// OnSuccess records a successful connection. The backoff interval only
// resets to InitialInterval once the connection has stayed up for
// ResetAfterSuccess continuously; call OnSuccess again after that window
// (e.g. from a heartbeat) to observe the reset.
func (l *ReconnectLimiter) OnSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if !l.wasConnected {
		l.wasConnected = true
		l.connectedSince = now
		return
	}
	if now.Sub(l.connectedSince) >= l.cfg.ResetAfterSuccess {
		l.bo.Reset()
		l.next = l.bo.NextBackOff()
	}
}

// CurrentInterval reports the wait duration OnFailure would return right
// now, without mutating state.
func (l *ReconnectLimiter) CurrentInterval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next
}
