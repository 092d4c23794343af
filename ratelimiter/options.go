package ratelimiter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ajiwo/quotaengine/configstore"
)

// engineConfig accumulates functional-option state before New constructs
// the Engine, mirroring the teacher's Option/MultiTierConfig split.
type engineConfig struct {
	maxGlobalConcurrent int
	maxTenantQueueSize  int
	hasGlobal           bool

	logger *slog.Logger

	cleanupInterval time.Duration

	publisher        SnapshotPublisher
	publishInterval  time.Duration
	auditor          ConfigAuditor
}

// Option configures the Engine before construction.
type Option func(*engineConfig) error

// WithGlobal sets the initial global concurrency cap and per-tenant queue
// size (spec.md §4.2 set_global). Required: New fails without it.
func WithGlobal(maxGlobalConcurrent, maxTenantQueueSize int) Option {
	return func(c *engineConfig) error {
		if maxGlobalConcurrent <= 0 {
			return fmt.Errorf("%w: max_global_concurrent must be positive", ErrInvalidConfig)
		}
		if maxTenantQueueSize <= 0 {
			return fmt.Errorf("%w: max_tenant_queue_size must be positive", ErrInvalidConfig)
		}
		c.maxGlobalConcurrent = maxGlobalConcurrent
		c.maxTenantQueueSize = maxTenantQueueSize
		c.hasGlobal = true
		return nil
	}
}

// WithLogger injects a structured logger for Internal errors and failed
// snapshot publishes. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) error {
		if logger == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidInput)
		}
		c.logger = logger
		return nil
	}
}

// WithCleanupInterval configures how often the Window Registry sweeps
// RateKeys idle for longer than the interval itself (spec.md §9, "Dynamic
// map growth"). Zero disables automatic cleanup.
func WithCleanupInterval(interval time.Duration) Option {
	return func(c *engineConfig) error {
		if interval < 0 {
			return fmt.Errorf("%w: cleanup interval cannot be negative", ErrInvalidInput)
		}
		c.cleanupInterval = interval
		return nil
	}
}

// WithSnapshotPublisher wires an optional, observational side-channel
// (see snapshotpublisher.Client) that periodically publishes load gauges.
// It is never consulted for admission decisions.
func WithSnapshotPublisher(publisher SnapshotPublisher, interval time.Duration) Option {
	return func(c *engineConfig) error {
		if publisher == nil {
			return fmt.Errorf("%w: publisher cannot be nil", ErrInvalidInput)
		}
		if interval <= 0 {
			return fmt.Errorf("%w: publish interval must be positive", ErrInvalidInput)
		}
		c.publisher = publisher
		c.publishInterval = interval
		return nil
	}
}

// WithConfigAuditor wires an optional write-behind audit mirror (see
// configaudit.Client) that records every administrative quota change.
func WithConfigAuditor(auditor ConfigAuditor) Option {
	return func(c *engineConfig) error {
		if auditor == nil {
			return fmt.Errorf("%w: auditor cannot be nil", ErrInvalidInput)
		}
		c.auditor = auditor
		return nil
	}
}

// SnapshotPublisher is satisfied by snapshotpublisher.Client. It is
// declared here, at the point of use, so the engine depends only on the
// capability it needs.
type SnapshotPublisher interface {
	Publish(ctx context.Context, snapshot LoadSnapshot) error
	Close() error
}

// LoadSnapshot is the observational payload published by an optional
// SnapshotPublisher.
type LoadSnapshot struct {
	GlobalInFlight      int64
	MaxGlobalConcurrent int
	TenantQueueDepths   map[string]int
	Timestamp           time.Time
}

// ConfigAuditor is satisfied by configaudit.Client.
type ConfigAuditor interface {
	RecordActionLimit(ctx context.Context, tenant, action string, quota configstore.Quota, removed bool)
	RecordClientLimit(ctx context.Context, tenant, client, action string, quota configstore.Quota, removed bool)
	Close() error
}
