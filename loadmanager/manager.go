package loadmanager

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// tenantQueue is a FIFO of PendingRequests for one tenant, guarded by its
// own mutex so unrelated tenants never contend on the same lock.
type tenantQueue struct {
	mu    sync.Mutex
	items []*PendingRequest
}

// Manager owns global_in_flight, the per-tenant queue map, and the
// dispatcher that drains those queues under round-robin fairness
// (spec.md §4.3).
type Manager struct {
	provider GlobalConfigProvider
	handler  Handler
	logger   *slog.Logger

	globalInFlight atomic.Int64

	// registryMu guards queues, rotation, and cursor together: the
	// dispatcher's scan-and-pop must see a consistent view of which
	// tenants currently have non-empty queues.
	registryMu sync.Mutex
	queues     map[string]*tenantQueue
	rotation   []string
	cursor     int

	wake       chan struct{}
	shutdownCh chan struct{}
	shutdown   atomic.Bool
	closeOnce  sync.Once
	dispatchWG sync.WaitGroup
	handlerWG  sync.WaitGroup
}

// New creates a Manager and starts its single dispatcher goroutine.
// provider supplies the live global parameters; handler performs the
// deferred admission check for a dispatched request.
func New(provider GlobalConfigProvider, handler Handler, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		provider:   provider,
		handler:    handler,
		logger:     logger,
		queues:     make(map[string]*tenantQueue),
		wake:       make(chan struct{}, 1),
		shutdownCh: make(chan struct{}),
	}
	m.dispatchWG.Add(1)
	go m.run()
	return m
}

// TryAcquireSlot atomically reserves one unit of global concurrency.
func (m *Manager) TryAcquireSlot(maxGlobalConcurrent int) bool {
	for {
		cur := m.globalInFlight.Load()
		if cur >= int64(maxGlobalConcurrent) {
			return false
		}
		if m.globalInFlight.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// ReleaseSlot returns one unit of global concurrency and wakes the
// dispatcher so it can hand the freed slot to a queued request.
func (m *Manager) ReleaseSlot() {
	m.globalInFlight.Add(-1)
	m.signalWake()
}

// InFlight reports the current global in-flight count (for tests and
// health reporting).
func (m *Manager) InFlight() int64 {
	return m.globalInFlight.Load()
}

// IsShuttingDown reports whether Shutdown has been called.
func (m *Manager) IsShuttingDown() bool {
	return m.shutdown.Load()
}

// QueueDepths returns a snapshot of each tenant's current queue length,
// for health reporting and the optional snapshot publisher. It never
// exposes the live queues themselves.
func (m *Manager) QueueDepths() map[string]int {
	m.registryMu.Lock()
	tenants := make([]string, len(m.rotation))
	copy(tenants, m.rotation)
	m.registryMu.Unlock()

	depths := make(map[string]int, len(tenants))
	for _, tenant := range tenants {
		m.registryMu.Lock()
		tq := m.queues[tenant]
		m.registryMu.Unlock()

		tq.mu.Lock()
		depths[tenant] = len(tq.items)
		tq.mu.Unlock()
	}
	return depths
}

func (m *Manager) signalWake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) getOrCreateQueue(tenant string) *tenantQueue {
	m.registryMu.Lock()
	defer m.registryMu.Unlock()
	tq, ok := m.queues[tenant]
	if !ok {
		tq = &tenantQueue{}
		m.queues[tenant] = tq
	}
	return tq
}

// Enqueue appends pending to tenant's queue, or reports QueueFull if the
// queue is already at maxQueueSize.
func (m *Manager) Enqueue(tenant string, pending *PendingRequest, maxQueueSize int) EnqueueResult {
	if m.shutdown.Load() {
		m.deliver(pending, Verdict{Status: StatusRejected, Reason: ReasonShuttingDown})
		return RejectedShuttingDown
	}

	tq := m.getOrCreateQueue(tenant)

	tq.mu.Lock()
	if len(tq.items) >= maxQueueSize {
		tq.mu.Unlock()
		return QueueFull
	}
	tq.items = append(tq.items, pending)
	becameNonEmpty := len(tq.items) == 1
	tq.mu.Unlock()

	if becameNonEmpty {
		m.appendToRotation(tenant)
	}
	m.signalWake()
	return Enqueued
}

// appendToRotation adds tenant to the back of the rotation if it is not
// already present. A tenant re-appearing after its queue emptied is
// treated as new: it goes to the back, never resuming its old position
// (spec.md §9, "append-on-first-appearance, remove-on-empty").
func (m *Manager) appendToRotation(tenant string) {
	m.registryMu.Lock()
	defer m.registryMu.Unlock()
	for _, t := range m.rotation {
		if t == tenant {
			return
		}
	}
	m.rotation = append(m.rotation, tenant)
}

// Cancel removes pending from tenant's queue if it is still sitting
// there, e.g. because the caller's context was cancelled while waiting.
// It returns false if the request had already been dequeued (in which
// case the in-flight Window Registry check is left to complete and its
// verdict is discarded by the caller).
func (m *Manager) Cancel(tenant string, pending *PendingRequest) bool {
	m.registryMu.Lock()
	tq, ok := m.queues[tenant]
	m.registryMu.Unlock()
	if !ok {
		return false
	}

	tq.mu.Lock()
	idx := -1
	for i, p := range tq.items {
		if p == pending {
			idx = i
			break
		}
	}
	if idx == -1 {
		tq.mu.Unlock()
		return false
	}
	tq.items = append(tq.items[:idx], tq.items[idx+1:]...)
	empty := len(tq.items) == 0
	tq.mu.Unlock()

	if empty {
		m.removeFromRotationByName(tenant)
	}
	return true
}

// nextFromRotation advances the round-robin cursor to the next tenant
// with a non-empty queue, pops its head item, and removes the tenant from
// the rotation if that pop emptied it.
func (m *Manager) nextFromRotation() (tenant string, pending *PendingRequest, ok bool) {
	m.registryMu.Lock()
	defer m.registryMu.Unlock()

	n := len(m.rotation)
	for i := range n {
		idx := (m.cursor + i) % n
		candidate := m.rotation[idx]
		tq := m.queues[candidate]

		tq.mu.Lock()
		if len(tq.items) == 0 {
			tq.mu.Unlock()
			continue
		}
		p := tq.items[0]
		tq.items = tq.items[1:]
		stillNonEmpty := len(tq.items) > 0
		tq.mu.Unlock()

		if stillNonEmpty {
			m.cursor = (idx + 1) % len(m.rotation)
		} else {
			m.removeFromRotationAt(idx)
		}
		return candidate, p, true
	}
	return "", nil, false
}

// removeFromRotationAt deletes rotation[idx] and fixes up cursor so the
// scan resumes at the tenant that logically follows the one removed.
// Callers must hold registryMu.
func (m *Manager) removeFromRotationAt(idx int) {
	m.rotation = append(m.rotation[:idx], m.rotation[idx+1:]...)
	if idx < m.cursor {
		m.cursor--
	}
	if len(m.rotation) == 0 {
		m.cursor = 0
		return
	}
	m.cursor = ((m.cursor % len(m.rotation)) + len(m.rotation)) % len(m.rotation)
}

func (m *Manager) removeFromRotationByName(tenant string) {
	m.registryMu.Lock()
	defer m.registryMu.Unlock()
	for i, t := range m.rotation {
		if t == tenant {
			m.removeFromRotationAt(i)
			return
		}
	}
}

func (m *Manager) hasPending() bool {
	m.registryMu.Lock()
	defer m.registryMu.Unlock()
	return len(m.rotation) > 0
}

func (m *Manager) deliver(p *PendingRequest, v Verdict) {
	select {
	case p.Done <- v:
	default:
	}
}

// run is the Manager's single dispatcher loop (spec.md §4.3).
func (m *Manager) run() {
	defer m.dispatchWG.Done()
	for {
		select {
		case <-m.shutdownCh:
			m.drainOnShutdown()
			return
		case <-m.wake:
			m.dispatchOnce()
		}
	}
}

// dispatchOnce admits as many queued requests as there are free slots,
// stopping as soon as either runs out.
func (m *Manager) dispatchOnce() {
	for {
		if m.shutdown.Load() {
			return
		}
		maxGlobal, _, ok := m.provider()
		if !ok || !m.hasPending() {
			return
		}
		if !m.TryAcquireSlot(maxGlobal) {
			return
		}

		_, pending, found := m.nextFromRotation()
		if !found {
			// Raced with a cancellation that emptied every queue between
			// hasPending and the acquire above; give the slot back.
			m.ReleaseSlot()
			return
		}

		m.handlerWG.Add(1)
		go m.dispatch(pending)
	}
}

// dispatch runs the handler for a single dispatched request, then always
// releases its slot and delivers exactly one verdict, even if the handler
// panics (spec.md §7: a single worker's failure must not take down the
// engine for other tenants).
func (m *Manager) dispatch(pending *PendingRequest) {
	defer m.handlerWG.Done()
	verdict := m.invoke(pending)
	m.ReleaseSlot()
	m.deliver(pending, verdict)
}

func (m *Manager) invoke(pending *PendingRequest) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("loadmanager: handler panicked, treating as internal error", "panic", r)
			verdict = Verdict{Status: StatusRejected, Reason: ReasonInternal}
		}
	}()
	return m.handler(pending)
}

// drainOnShutdown rejects every PendingRequest still queued with
// ReasonShuttingDown and clears the registry (spec.md §4.3 Shutdown).
func (m *Manager) drainOnShutdown() {
	m.registryMu.Lock()
	defer m.registryMu.Unlock()
	for _, tenant := range m.rotation {
		tq := m.queues[tenant]
		tq.mu.Lock()
		for _, p := range tq.items {
			m.deliver(p, Verdict{Status: StatusRejected, Reason: ReasonShuttingDown})
		}
		tq.items = nil
		tq.mu.Unlock()
	}
	m.rotation = nil
	m.cursor = 0
}

// Shutdown signals the dispatcher to drain and stop, then waits (bounded
// by ctx) for it to finish. In-flight handlers already dispatched are not
// waited on here: they are no longer PendingRequests and run to natural
// completion independently (spec.md §4.3).
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.shutdown.Store(true)
		close(m.shutdownCh)
	})

	done := make(chan struct{})
	go func() {
		m.dispatchWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForInFlight blocks, bounded by ctx, until every already-dispatched
// handler goroutine has returned. Useful for tests and for callers that
// want a fully quiesced engine before exiting.
func (m *Manager) WaitForInFlight(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.handlerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
