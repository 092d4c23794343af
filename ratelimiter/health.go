package ratelimiter

import (
	"sync/atomic"
	"time"

	"github.com/ajiwo/quotaengine/internal/healthchecker"
)

// Health reports a point-in-time snapshot of the engine's admission-path
// load plus the last known reachability of any optional side-channel,
// grounded on the teacher's periodic health checker pattern.
type Health struct {
	GlobalInFlight      int64
	MaxGlobalConcurrent int
	TenantQueueDepths   map[string]int
	ShuttingDown        bool
	PublisherReachable  *bool
	AuditorReachable    *bool
	ObservedAt          time.Time
}

// Health returns the engine's current load. It never blocks on the
// dispatcher or the Window Registry, and never performs its own network
// call: side-channel reachability comes from the background Checkers
// started in New.
func (e *Engine) Health() Health {
	global, _ := e.config.Global()
	h := Health{
		GlobalInFlight:      e.load.InFlight(),
		MaxGlobalConcurrent: global.MaxGlobalConcurrent,
		TenantQueueDepths:   e.load.QueueDepths(),
		ShuttingDown:        e.load.IsShuttingDown(),
		ObservedAt:          time.Now(),
	}
	if e.publisherHealthChecker != nil {
		v := e.publisherHealthy.Load()
		h.PublisherReachable = &v
	}
	if e.auditorHealthChecker != nil {
		v := e.auditorHealthy.Load()
		h.AuditorReachable = &v
	}
	return h
}

// startHealthChecks starts a background Checker for any optional
// side-channel that implements healthchecker.Pinger, updating the atomic
// flags Health() reads.
func (e *Engine) startHealthChecks() {
	if pinger, ok := e.publisher.(healthchecker.Pinger); ok {
		e.publisherHealthy.Store(true)
		e.publisherHealthChecker = healthchecker.New(pinger, healthchecker.DefaultConfig(),
			func() { e.publisherHealthy.Store(true) },
			func(error) { e.publisherHealthy.Store(false) },
		)
		e.publisherHealthChecker.Start()
	}
	if pinger, ok := e.auditor.(healthchecker.Pinger); ok {
		e.auditorHealthy.Store(true)
		e.auditorHealthChecker = healthchecker.New(pinger, healthchecker.DefaultConfig(),
			func() { e.auditorHealthy.Store(true) },
			func(error) { e.auditorHealthy.Store(false) },
		)
		e.auditorHealthChecker.Start()
	}
}

func (e *Engine) stopHealthChecks() {
	if e.publisherHealthChecker != nil {
		e.publisherHealthChecker.Stop()
	}
	if e.auditorHealthChecker != nil {
		e.auditorHealthChecker.Stop()
	}
}
