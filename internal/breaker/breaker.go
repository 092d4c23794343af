// Package breaker is a minimal circuit breaker for the engine's optional
// observational side-channels (snapshotpublisher, configaudit): after
// enough consecutive failures it trips open and skips calls for a
// recovery window, instead of letting every admission-adjacent write
// block on a downed Redis/Postgres.
package breaker

import (
	"sync/atomic"
	"time"
)

type state int32

const (
	stateClosed state = iota
	stateHalfOpen
	stateOpen
)

// Config holds the breaker's tripping and recovery thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures before the
	// breaker trips open.
	FailureThreshold int32
	// RecoveryTimeout is how long the breaker stays open before moving to
	// half-open, where calls are allowed through again until the next
	// recorded result closes or reopens it.
	RecoveryTimeout time.Duration
}

// Breaker implements the three-state (closed/open/half-open) circuit
// breaker pattern using only atomics, so Allow/RecordResult never block.
type Breaker struct {
	config       Config
	state        int32
	failureCount int32
	openedAt     int64
}

// New creates a Breaker in the closed state.
func New(config Config) *Breaker {
	return &Breaker{config: config, state: int32(stateClosed)}
}

// Allow reports whether a call should be attempted right now. It also
// performs the open-to-half-open transition once RecoveryTimeout elapses.
func (b *Breaker) Allow() bool {
	switch state(atomic.LoadInt32(&b.state)) {
	case stateOpen:
		openedAtNano := atomic.LoadInt64(&b.openedAt)
		if time.Since(time.Unix(0, openedAtNano)) >= b.config.RecoveryTimeout {
			return atomic.CompareAndSwapInt32(&b.state, int32(stateOpen), int32(stateHalfOpen))
		}
		return false
	default:
		return true
	}
}

// RecordResult feeds back the outcome of a call that Allow permitted.
func (b *Breaker) RecordResult(err error) {
	if err == nil {
		b.reset()
		return
	}

	if state(atomic.LoadInt32(&b.state)) == stateHalfOpen {
		b.trip()
		return
	}

	newCount := atomic.AddInt32(&b.failureCount, 1)
	if newCount >= b.config.FailureThreshold {
		b.trip()
	}
}

func (b *Breaker) trip() {
	atomic.StoreInt32(&b.state, int32(stateOpen))
	atomic.StoreInt64(&b.openedAt, time.Now().UnixNano())
}

func (b *Breaker) reset() {
	atomic.StoreInt32(&b.state, int32(stateClosed))
	atomic.StoreInt32(&b.failureCount, 0)
}
