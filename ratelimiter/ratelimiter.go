package ratelimiter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajiwo/quotaengine/configstore"
	"github.com/ajiwo/quotaengine/internal/healthchecker"
	"github.com/ajiwo/quotaengine/loadmanager"
	"github.com/ajiwo/quotaengine/utils"
	"github.com/ajiwo/quotaengine/windowregistry"
)

// RateKey and Quota are the shared spec.md §3 data model, re-exported so
// callers never need to import windowregistry directly.
type (
	RateKey = windowregistry.RateKey
	Quota   = windowregistry.Quota
)

// Engine composes the Window Registry, Config Store, and Load Manager
// behind the single public operation described in spec.md §4.4.
type Engine struct {
	config  *configstore.Store
	windows *windowregistry.Registry
	load    *loadmanager.Manager
	logger  *slog.Logger

	publisher       SnapshotPublisher
	auditor         ConfigAuditor
	publishStop     chan struct{}
	publishWG       sync.WaitGroup
	cleanupStop     chan struct{}
	cleanupWG       sync.WaitGroup
	cleanupInterval time.Duration

	publisherHealthChecker *healthchecker.Checker
	auditorHealthChecker   *healthchecker.Checker
	publisherHealthy       atomic.Bool
	auditorHealthy         atomic.Bool
}

// New constructs an Engine. WithGlobal is required; every other option is
// optional.
func New(opts ...Option) (*Engine, error) {
	cfg := engineConfig{
		cleanupInterval: 10 * time.Minute,
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if !cfg.hasGlobal {
		return nil, fmt.Errorf("%w: WithGlobal is required", ErrInvalidConfig)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	store := configstore.New()
	if err := store.SetGlobal(cfg.maxGlobalConcurrent, cfg.maxTenantQueueSize); err != nil {
		return nil, err
	}

	e := &Engine{
		config:          store,
		windows:         windowregistry.New(),
		logger:          cfg.logger,
		publisher:       cfg.publisher,
		auditor:         cfg.auditor,
		cleanupInterval: cfg.cleanupInterval,
	}
	e.load = loadmanager.New(e.provideGlobal, e.handleDispatched, cfg.logger)

	if e.auditor != nil {
		store.OnActionWrite(func(tenant, action string, quota configstore.Quota, removed bool) {
			e.auditor.RecordActionLimit(context.Background(), tenant, action, quota, removed)
		})
		store.OnClientWrite(func(tenant, client, action string, quota configstore.Quota, removed bool) {
			e.auditor.RecordClientLimit(context.Background(), tenant, client, action, quota, removed)
		})
	}

	if e.cleanupInterval > 0 {
		e.startCleanup()
	}
	if e.publisher != nil {
		e.startPublishing(cfg.publishInterval)
	}
	e.startHealthChecks()

	return e, nil
}

func (e *Engine) provideGlobal() (maxGlobalConcurrent, maxTenantQueueSize int, ok bool) {
	g, ok := e.config.Global()
	return g.MaxGlobalConcurrent, g.MaxTenantQueueSize, ok
}

// handleDispatched is the Load Manager's Handler for requests that had to
// wait for a slot: it repeats the Window Registry check the synchronous
// path would have done, now that a slot is held.
func (e *Engine) handleDispatched(p *loadmanager.PendingRequest) loadmanager.Verdict {
	allowed, remaining, resetAt, err := e.windows.CheckAndConsume(p.Key, p.Quota, time.Now())
	if err != nil {
		e.logger.Error("ratelimiter: window check failed for dispatched request", "error", err)
		return loadmanager.Verdict{Status: loadmanager.StatusRejected, Reason: loadmanager.ReasonInternal}
	}
	return loadmanager.Verdict{
		Status:    loadmanager.StatusProcessed,
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

func validateIdentifiers(tenant, client, action string) error {
	if err := utils.ValidateKey(tenant, "tenant_id"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := utils.ValidateKey(client, "client_id"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := utils.ValidateKey(action, "action_type"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func validateTenantAction(tenant, action string) error {
	if err := utils.ValidateKey(tenant, "tenant_id"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := utils.ValidateKey(action, "action_type"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func validateFallback(fallback *Quota) error {
	if fallback == nil {
		return nil
	}
	if err := fallback.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if fallback.MaxRequests < 1 {
		return fmt.Errorf("%w: max_requests must be positive, got %d", ErrInvalidInput, fallback.MaxRequests)
	}
	return nil
}

// CheckAndConsume is the facade's single public admission operation
// (spec.md §4.4).
func (e *Engine) CheckAndConsume(ctx context.Context, tenant, client, action string, fallback *Quota) (Verdict, error) {
	if err := validateIdentifiers(tenant, client, action); err != nil {
		return Verdict{}, err
	}
	if err := validateFallback(fallback); err != nil {
		return Verdict{}, err
	}

	quota, err := e.config.Resolve(tenant, client, action, fallback)
	if err != nil {
		return Verdict{}, err
	}

	key := RateKey{TenantID: tenant, ClientID: client, ActionType: action}
	maxGlobal, maxQueue, _ := e.provideGlobal()

	if e.load.TryAcquireSlot(maxGlobal) {
		allowed, remaining, resetAt, err := e.windows.CheckAndConsume(key, quota, time.Now())
		e.load.ReleaseSlot()
		if err != nil {
			return Verdict{}, err
		}
		return Verdict{Status: StatusProcessed, Allowed: allowed, Remaining: remaining, ResetAt: resetAt}, nil
	}

	pending := &loadmanager.PendingRequest{
		Key:        key,
		Quota:      quota,
		Done:       make(chan loadmanager.Verdict, 1),
		EnqueuedAt: time.Now(),
	}

	switch e.load.Enqueue(tenant, pending, maxQueue) {
	case loadmanager.QueueFull:
		return Verdict{Status: StatusRejected, Reason: ReasonQueueFull}, nil
	case loadmanager.RejectedShuttingDown:
		return Verdict{Status: StatusRejected, Reason: ReasonShuttingDown}, nil
	}

	select {
	case verdict := <-pending.Done:
		return verdict, nil
	case <-ctx.Done():
		e.load.Cancel(tenant, pending)
		return Verdict{}, ctx.Err()
	}
}

// Status is the facade's read-only operation (spec.md §4.4): it resolves
// the effective quota and peeks the Window Registry without enqueueing or
// acquiring a slot.
func (e *Engine) Status(tenant, client, action string, fallback *Quota) (remaining int, resetAt time.Time, err error) {
	if err = validateIdentifiers(tenant, client, action); err != nil {
		return 0, time.Time{}, err
	}
	if err = validateFallback(fallback); err != nil {
		return 0, time.Time{}, err
	}

	quota, err := e.config.Resolve(tenant, client, action, fallback)
	if err != nil {
		return 0, time.Time{}, err
	}

	key := RateKey{TenantID: tenant, ClientID: client, ActionType: action}
	return e.windows.Peek(key, quota, time.Now())
}

// Shutdown stops the dispatcher, rejecting every still-queued request
// with ReasonShuttingDown, and stops the engine's background goroutines.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stopHealthChecks()
	if e.cleanupStop != nil {
		close(e.cleanupStop)
		e.cleanupWG.Wait()
	}
	if e.publishStop != nil {
		close(e.publishStop)
		e.publishWG.Wait()
	}
	if e.auditor != nil {
		_ = e.auditor.Close()
	}
	if e.publisher != nil {
		_ = e.publisher.Close()
	}
	return e.load.Shutdown(ctx)
}

func (e *Engine) startCleanup() {
	e.cleanupStop = make(chan struct{})
	e.cleanupWG.Add(1)
	go func() {
		defer e.cleanupWG.Done()
		ticker := time.NewTicker(e.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.windows.Cleanup(e.cleanupInterval, time.Now())
			case <-e.cleanupStop:
				return
			}
		}
	}()
}

func (e *Engine) startPublishing(interval time.Duration) {
	e.publishStop = make(chan struct{})
	e.publishWG.Add(1)
	go func() {
		defer e.publishWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.publishSnapshot()
			case <-e.publishStop:
				return
			}
		}
	}()
}

func (e *Engine) publishSnapshot() {
	global, _ := e.config.Global()
	snap := LoadSnapshot{
		GlobalInFlight:      e.load.InFlight(),
		MaxGlobalConcurrent: global.MaxGlobalConcurrent,
		TenantQueueDepths:   e.load.QueueDepths(),
		Timestamp:           time.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.publisher.Publish(ctx, snap); err != nil {
		e.logger.Warn("ratelimiter: snapshot publish failed", "error", err)
	}
}
