// Package ratelimiter is the top-level entry point: it validates inputs,
// consults the Config Store, asks the Load Manager for an admission slot,
// then calls the Window Registry, and returns a Verdict (spec.md §4.4).
package ratelimiter

import "github.com/ajiwo/quotaengine/loadmanager"

// Verdict, VerdictStatus and RejectReason are re-exported from
// loadmanager so callers never need to import it directly, mirroring how
// the teacher re-exports strategies.Result through its root package.
type (
	Verdict       = loadmanager.Verdict
	VerdictStatus = loadmanager.VerdictStatus
	RejectReason  = loadmanager.RejectReason
)

const (
	StatusProcessed = loadmanager.StatusProcessed
	StatusRejected  = loadmanager.StatusRejected

	ReasonQueueFull    = loadmanager.ReasonQueueFull
	ReasonShuttingDown = loadmanager.ReasonShuttingDown
	ReasonInternal     = loadmanager.ReasonInternal
)
