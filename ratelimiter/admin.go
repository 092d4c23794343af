package ratelimiter

import "github.com/ajiwo/quotaengine/configstore"

// SetGlobal updates the global concurrency cap and per-tenant queue size
// (spec.md §4.2). Changes apply on the next admission decision.
func (e *Engine) SetGlobal(maxGlobalConcurrent, maxTenantQueueSize int) error {
	return e.config.SetGlobal(maxGlobalConcurrent, maxTenantQueueSize)
}

// SetActionLimit sets the quota for (tenant, action).
func (e *Engine) SetActionLimit(tenant, action string, quota Quota) error {
	if err := validateTenantAction(tenant, action); err != nil {
		return err
	}
	return e.config.SetActionLimit(tenant, action, quota)
}

// RemoveActionLimit deletes the quota for (tenant, action), if any.
func (e *Engine) RemoveActionLimit(tenant, action string) {
	e.config.RemoveActionLimit(tenant, action)
}

// SetClientLimit sets the override quota for (tenant, client, action).
func (e *Engine) SetClientLimit(tenant, client, action string, quota Quota) error {
	if err := validateIdentifiers(tenant, client, action); err != nil {
		return err
	}
	return e.config.SetClientLimit(tenant, client, action, quota)
}

// RemoveClientLimit deletes the override quota for (tenant, client, action), if any.
func (e *Engine) RemoveClientLimit(tenant, client, action string) {
	e.config.RemoveClientLimit(tenant, client, action)
}

// Snapshot returns a read-only copy of the full configuration, for
// administrative inspection.
func (e *Engine) Snapshot() configstore.Snapshot {
	return e.config.Snapshot()
}
