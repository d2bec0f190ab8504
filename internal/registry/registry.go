// Package registry implements the in-process Provider directory
//: registration, enable/disable toggles, model-to-provider
// resolution, and fan-out health checks.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/specifiedcodes/devos-orchestrator/internal/provider"
	"golang.org/x/sync/errgroup"
)

// ErrNotFound is returned by Get for a provider ID that was never
// registered.
var ErrNotFound = fmt.Errorf("provider not found")

type entry struct {
	provider provider.Provider
	enabled  bool
}

// Registry is an in-process directory keyed by provider ID. All
// operations are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds p to the directory, enabled by default.
func (r *Registry) Register(p provider.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[p.ID()] = &entry{provider: p, enabled: true}
}

// Get returns the provider registered under id, or (nil, false) if none
// exists.
func (r *Registry) Get(id string) (provider.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.provider, true
}

// MustGet is the throwing variant of Get.
func (r *Registry) MustGet(id string) (provider.Provider, error) {
	p, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

// All enumerates every registered provider, regardless of enabled state,
// sorted by ID for deterministic iteration.
func (r *Registry) All() []provider.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.sortedIDsLocked()
	out := make([]provider.Provider, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.entries[id].provider)
	}
	return out
}

// Enabled enumerates only the currently enabled providers, sorted by ID.
func (r *Registry) Enabled() []provider.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.sortedIDsLocked()
	out := make([]provider.Provider, 0, len(ids))
	for _, id := range ids {
		if e := r.entries[id]; e.enabled {
			out = append(out, e.provider)
		}
	}
	return out
}

func (r *Registry) sortedIDsLocked() []string {
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Enable flips the provider's enabled flag on. A no-op if id is unknown.
func (r *Registry) Enable(id string) {
	r.setEnabled(id, true)
}

// Disable flips the provider's enabled flag off. A no-op if id is unknown.
func (r *Registry) Disable(id string) {
	r.setEnabled(id, false)
}

func (r *Registry) setEnabled(id string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.enabled = enabled
	}
}

// IsEnabled reports whether id is both registered and enabled.
func (r *Registry) IsEnabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return ok && e.enabled
}

// GetProviderForModel returns the first enabled provider (in ID order)
// whose SupportsModel(modelID) is true
func (r *Registry) GetProviderForModel(modelID string) (provider.Provider, bool) {
	for _, p := range r.Enabled() {
		if p.SupportsModel(modelID) {
			return p, true
		}
	}
	return nil, false
}

// HealthResult is one provider's outcome from HealthCheckAll.
type HealthResult struct {
	ProviderID string
	Status     *provider.HealthStatus
}

// HealthCheckAll runs HealthCheck concurrently on every enabled provider,
// A provider with no entry in keys gets a synthetic
// unhealthy status rather than being skipped, since a missing key still
// answers the caller's "is this provider usable" question.
func (r *Registry) HealthCheckAll(ctx context.Context, keys map[string]string) []HealthResult {
	providers := r.Enabled()
	results := make([]HealthResult, len(providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		i, p := i, p
		g.Go(func() error {
			apiKey, ok := keys[p.ID()]
			if !ok || apiKey == "" {
				results[i] = HealthResult{
					ProviderID: p.ID(),
					Status: &provider.HealthStatus{
						Healthy:   false,
						Message:   "no API key configured",
						CheckedAt: time.Now().UTC(),
					},
				}
				return nil
			}

			status, err := p.HealthCheck(gctx, apiKey)
			if err != nil {
				status = &provider.HealthStatus{Healthy: false, Message: err.Error(), CheckedAt: time.Now().UTC()}
			}
			results[i] = HealthResult{ProviderID: p.ID(), Status: status}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
