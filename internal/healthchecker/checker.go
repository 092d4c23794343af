// Package healthchecker periodically probes an optional dependency's
// connectivity in the background, so a synchronous Health() call never
// has to make its own network round trip.
package healthchecker

import (
	"context"
	"time"
)

// Pinger is satisfied by anything the Checker can periodically probe —
// in this repo, snapshotpublisher.Client and configaudit.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker monitors a Pinger's health and triggers a callback whenever a
// probe succeeds.
type Checker struct {
	pinger    Pinger
	config    Config
	stopChan  chan bool
	onHealthy func()
	onFailure func(error)
}

// New creates a health checker for the given Pinger.
func New(pinger Pinger, config Config, onHealthy func(), onFailure func(error)) *Checker {
	return &Checker{
		pinger:    pinger,
		config:    config,
		stopChan:  make(chan bool),
		onHealthy: onHealthy,
		onFailure: onFailure,
	}
}

// Start begins background health monitoring.
func (h *Checker) Start() {
	if h.config.Interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(h.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.checkHealth()
			case <-h.stopChan:
				return
			}
		}
	}()
}

// Stop stops health monitoring.
func (h *Checker) Stop() {
	select {
	case h.stopChan <- true:
	default:
	}
}

func (h *Checker) checkHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	if err := h.pinger.Ping(ctx); err != nil {
		if h.onFailure != nil {
			h.onFailure(err)
		}
		return
	}
	if h.onHealthy != nil {
		h.onHealthy()
	}
}
