// Package loadmanager tracks global in-flight concurrency, buffers
// overflow into per-tenant FIFO queues, and drains those queues with
// round-robin fairness once slots free up.
package loadmanager

import (
	"time"

	"github.com/ajiwo/quotaengine/windowregistry"
)

// VerdictStatus tags the terminal shape of a Verdict.
type VerdictStatus int

const (
	StatusProcessed VerdictStatus = iota
	StatusRejected
)

// RejectReason distinguishes the ways a Verdict can carry StatusRejected.
type RejectReason string

const (
	ReasonQueueFull    RejectReason = "queue_full"
	ReasonShuttingDown RejectReason = "shutting_down"
	ReasonInternal     RejectReason = "internal"
)

// Verdict is the terminal result of an admission decision (spec.md §3).
// Queued is intentionally absent: it is an intermediate state the caller
// observes only as "still waiting on Done", never as a delivered value.
type Verdict struct {
	Status    VerdictStatus
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	Reason    RejectReason
}

// PendingRequest is born when the facade fails to acquire an immediate
// slot and dies when the dispatcher delivers a verdict on Done.
type PendingRequest struct {
	Key        windowregistry.RateKey
	Quota      windowregistry.Quota
	Done       chan Verdict
	EnqueuedAt time.Time
}

// Handler performs the deferred admission check for a dispatched
// PendingRequest. The Manager itself releases the slot and delivers the
// returned Verdict once Handler returns; Handler need not do either.
type Handler func(p *PendingRequest) Verdict

// GlobalConfigProvider supplies the current global parameters so that a
// config change takes effect on the very next admission decision (spec.md
// §4.2) without the Load Manager caching a stale copy.
type GlobalConfigProvider func() (maxGlobalConcurrent, maxTenantQueueSize int, ok bool)

// EnqueueResult reports the outcome of Enqueue.
type EnqueueResult int

const (
	Enqueued EnqueueResult = iota
	QueueFull
	RejectedShuttingDown
)
