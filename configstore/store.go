// Package configstore holds global defaults, per-tenant-action limits, and
// per-tenant-client-action overrides, and resolves the effective quota for
// any (tenant, client, action) lookup.
package configstore

import (
	"fmt"
	"sync"

	"github.com/ajiwo/quotaengine/windowregistry"
)

// Quota is the shared (max_requests, window_duration) data model from
// spec.md §3.
type Quota = windowregistry.Quota

// GlobalConfig holds the two global parameters the Load Manager consults.
type GlobalConfig struct {
	MaxGlobalConcurrent int
	MaxTenantQueueSize  int
}

func (g GlobalConfig) Validate() error {
	if g.MaxGlobalConcurrent <= 0 {
		return fmt.Errorf("%w: max_global_concurrent must be positive, got %d", ErrInvalidConfig, g.MaxGlobalConcurrent)
	}
	if g.MaxTenantQueueSize <= 0 {
		return fmt.Errorf("%w: max_tenant_queue_size must be positive, got %d", ErrInvalidConfig, g.MaxTenantQueueSize)
	}
	return nil
}

// ActionKey identifies a per-tenant-action limit.
type ActionKey struct {
	TenantID   string
	ActionType string
}

// ClientKey identifies a per-tenant-client-action override.
type ClientKey struct {
	TenantID   string
	ClientID   string
	ActionType string
}

// Store is the thread-safe, last-write-wins holder of rate-limit
// configuration. All mutation goes through a single RWMutex; it never
// shares this lock with the Window Registry or Load Manager (spec.md §5:
// "Config Store uses an independent lock").
type Store struct {
	mu            sync.RWMutex
	global        GlobalConfig
	actionLimits  map[ActionKey]Quota
	clientLimits  map[ClientKey]Quota
	hasGlobal     bool
	onActionWrite func(tenant, action string, quota Quota, removed bool)
	onClientWrite func(tenant, client, action string, quota Quota, removed bool)
}

// New creates an empty store. Callers must SetGlobal before the first
// admission decision; until then global parameter reads return the zero
// value and a false ok (see Global()).
func New() *Store {
	return &Store{
		actionLimits: make(map[ActionKey]Quota),
		clientLimits: make(map[ClientKey]Quota),
	}
}

// SetGlobal sets the two global parameters. Changes take effect on the
// next Load Manager admission decision; they never retroactively shrink
// any in-flight set (spec.md §4.2).
func (s *Store) SetGlobal(maxGlobalConcurrent, maxTenantQueueSize int) error {
	global := GlobalConfig{MaxGlobalConcurrent: maxGlobalConcurrent, MaxTenantQueueSize: maxTenantQueueSize}
	if err := global.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = global
	s.hasGlobal = true
	return nil
}

// Global returns the current global configuration and whether it has ever
// been set.
func (s *Store) Global() (GlobalConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global, s.hasGlobal
}

// SetActionLimit sets the quota for (tenant, action).
func (s *Store) SetActionLimit(tenant, action string, quota Quota) error {
	if err := quota.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if quota.MaxRequests < 1 {
		return fmt.Errorf("%w: max_requests must be positive, got %d", ErrInvalidConfig, quota.MaxRequests)
	}

	s.mu.Lock()
	s.actionLimits[ActionKey{TenantID: tenant, ActionType: action}] = quota
	hook := s.onActionWrite
	s.mu.Unlock()

	if hook != nil {
		hook(tenant, action, quota, false)
	}
	return nil
}

// RemoveActionLimit deletes the quota for (tenant, action), if any.
func (s *Store) RemoveActionLimit(tenant, action string) {
	s.mu.Lock()
	delete(s.actionLimits, ActionKey{TenantID: tenant, ActionType: action})
	hook := s.onActionWrite
	s.mu.Unlock()

	if hook != nil {
		hook(tenant, action, Quota{}, true)
	}
}

// SetClientLimit sets the override quota for (tenant, client, action).
func (s *Store) SetClientLimit(tenant, client, action string, quota Quota) error {
	if err := quota.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if quota.MaxRequests < 1 {
		return fmt.Errorf("%w: max_requests must be positive, got %d", ErrInvalidConfig, quota.MaxRequests)
	}

	s.mu.Lock()
	s.clientLimits[ClientKey{TenantID: tenant, ClientID: client, ActionType: action}] = quota
	hook := s.onClientWrite
	s.mu.Unlock()

	if hook != nil {
		hook(tenant, client, action, quota, false)
	}
	return nil
}

// RemoveClientLimit deletes the override quota for (tenant, client, action), if any.
func (s *Store) RemoveClientLimit(tenant, client, action string) {
	s.mu.Lock()
	delete(s.clientLimits, ClientKey{TenantID: tenant, ClientID: client, ActionType: action})
	hook := s.onClientWrite
	s.mu.Unlock()

	if hook != nil {
		hook(tenant, client, action, Quota{}, true)
	}
}

// Resolve applies the precedence from spec.md §4.2, first hit wins:
// client override, then action limit, then the caller-supplied fallback,
// then ErrNoQuota.
func (s *Store) Resolve(tenant, client, action string, fallback *Quota) (Quota, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if q, ok := s.clientLimits[ClientKey{TenantID: tenant, ClientID: client, ActionType: action}]; ok {
		return q, nil
	}
	if q, ok := s.actionLimits[ActionKey{TenantID: tenant, ActionType: action}]; ok {
		return q, nil
	}
	if fallback != nil {
		return *fallback, nil
	}
	return Quota{}, ErrNoQuota
}

// Snapshot is a structured, read-only view of the store's full state for
// administrative read-back. It always returns copies; no caller can reach
// the live maps (spec.md §5: "No component exposes raw handles").
type Snapshot struct {
	Global       GlobalConfig
	HasGlobal    bool
	ActionLimits map[ActionKey]Quota
	ClientLimits map[ClientKey]Quota
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	actions := make(map[ActionKey]Quota, len(s.actionLimits))
	for k, v := range s.actionLimits {
		actions[k] = v
	}
	clients := make(map[ClientKey]Quota, len(s.clientLimits))
	for k, v := range s.clientLimits {
		clients[k] = v
	}

	return Snapshot{
		Global:       s.global,
		HasGlobal:    s.hasGlobal,
		ActionLimits: actions,
		ClientLimits: clients,
	}
}

// OnActionWrite registers a callback invoked after every
// SetActionLimit/RemoveActionLimit outside the store's lock, used to wire
// an optional audit mirror without the Config Store taking a dependency
// on it.
func (s *Store) OnActionWrite(fn func(tenant, action string, quota Quota, removed bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onActionWrite = fn
}

// OnClientWrite registers the client-limit equivalent of OnActionWrite.
func (s *Store) OnClientWrite(fn func(tenant, client, action string, quota Quota, removed bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClientWrite = fn
}
