// Package providers also implements the process-wide provider registry (R).
package providers

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/indexmanager/internal/eventbus"
)

// entry is the registry's internal record for one provider (§3: provider
// registry entry).
type entry struct {
	id       string
	uuid     string
	provider Provider
	created  time.Time
	lastUsed *time.Time
}

// Usage is a point-in-time snapshot of one provider's usage, used by
// Stats for the "sorted by (descending usage, then lastUsed, then
// created)" statistics surface (§4.3).
type Usage struct {
	ID        string
	Type      Kind
	Dimension int
	InUse     bool
	Created   time.Time
	LastUsed  *time.Time
	UseCount  int64
}

// Stats aggregates registry-wide statistics.
type Stats struct {
	TotalByType map[Kind]int
	InUseCount  int
	Usage       []Usage
}

// ReferenceChecker reports whether any live index currently references a
// provider id by name. The registry consults it from Remove/Update to
// enforce I4 without importing the manager package (which would create
// an import cycle, since the manager imports providers to resolve
// embeddings).
type ReferenceChecker interface {
	IsProviderReferenced(id string) bool
}

// noRefs is the zero-value ReferenceChecker used before the manager
// wires itself in; it reports nothing in use, matching a registry used
// standalone (e.g. in registry-only unit tests).
type noRefs struct{}

func (noRefs) IsProviderReferenced(string) bool { return false }

// Registry is a named, process-wide table of embedding providers.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	useCounts map[string]int64
	refs      ReferenceChecker
	bus       *eventbus.Bus
	logger    *zap.Logger
}

// New creates an empty provider registry. bus may be nil to disable
// event emission (useful in isolated unit tests).
func New(bus *eventbus.Bus, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries:   make(map[string]*entry),
		useCounts: make(map[string]int64),
		refs:      noRefs{},
		bus:       bus,
		logger:    logger,
	}
}

// SetReferenceChecker wires the manager's live-index lookup into the
// registry so Remove/Update can enforce I4. Must be called once, before
// concurrent use begins (mirrors the teacher's SetIsolationMode caveat).
func (r *Registry) SetReferenceChecker(rc ReferenceChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rc == nil {
		rc = noRefs{}
	}
	r.refs = rc
}

// Add records a new provider under id. Returns false if id already exists.
func (r *Registry) Add(id string, p Provider) bool {
	r.mu.Lock()
	if _, exists := r.entries[id]; exists {
		r.mu.Unlock()
		return false
	}
	r.entries[id] = &entry{
		id:       id,
		uuid:     uuid.New().String(),
		provider: p,
		created:  time.Now(),
	}
	r.mu.Unlock()

	r.emit(eventbus.ProviderAdded, id, nil)
	return true
}

// Remove deletes the provider registered under id. Returns false if
// absent. Fails with ErrInUse if any live index references id (I4).
func (r *Registry) Remove(id string) (bool, error) {
	r.mu.Lock()
	e, exists := r.entries[id]
	if !exists {
		r.mu.Unlock()
		return false, nil
	}
	if r.refs.IsProviderReferenced(id) {
		r.mu.Unlock()
		return false, fmt.Errorf("%w: provider %q", ErrInUse, id)
	}
	delete(r.entries, id)
	delete(r.useCounts, id)
	r.mu.Unlock()

	_ = e
	r.emit(eventbus.ProviderRemoved, id, nil)
	return true, nil
}

// Update replaces the provider registered under id. Returns false if
// absent. Fails with ErrDimensionChange if the new dimension differs from
// the old one and any live index references id (I4).
func (r *Registry) Update(id string, p Provider) (bool, error) {
	r.mu.Lock()
	e, exists := r.entries[id]
	if !exists {
		r.mu.Unlock()
		return false, nil
	}

	old := e.provider
	if old.Dimension() != p.Dimension() && r.refs.IsProviderReferenced(id) {
		r.mu.Unlock()
		return false, fmt.Errorf("%w: provider %q", ErrDimensionChange, id)
	}

	e.provider = p
	r.mu.Unlock()

	r.emit(eventbus.ProviderUpdated, id, map[string]interface{}{
		"old_dimension": old.Dimension(),
		"new_dimension": p.Dimension(),
		"old_type":      string(old.Type()),
		"new_type":      string(p.Type()),
	})
	return true, nil
}

// Get returns the provider registered under id and marks it used.
// Returns ErrNotFound if absent.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.Lock()
	e, exists := r.entries[id]
	if !exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	now := time.Now()
	e.lastUsed = &now
	r.useCounts[id]++
	p := e.provider
	r.mu.Unlock()
	return p, nil
}

// Has reports whether id is registered, without affecting lastUsed.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// List returns every registered provider id.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats computes registry-wide statistics (§4.3).
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Stats{TotalByType: make(map[Kind]int)}
	for id, e := range r.entries {
		st.TotalByType[e.provider.Type()]++
		inUse := r.refs.IsProviderReferenced(id)
		if inUse {
			st.InUseCount++
		}
		st.Usage = append(st.Usage, Usage{
			ID:        id,
			Type:      e.provider.Type(),
			Dimension: e.provider.Dimension(),
			InUse:     inUse,
			Created:   e.created,
			LastUsed:  e.lastUsed,
			UseCount:  r.useCounts[id],
		})
	}

	sort.Slice(st.Usage, func(i, j int) bool {
		a, b := st.Usage[i], st.Usage[j]
		if a.UseCount != b.UseCount {
			return a.UseCount > b.UseCount
		}
		al, bl := a.LastUsed, b.LastUsed
		switch {
		case al == nil && bl == nil:
			// fall through to created
		case al == nil:
			return false
		case bl == nil:
			return true
		case !al.Equal(*bl):
			return al.After(*bl)
		}
		return a.Created.Before(b.Created)
	})

	return st
}

func (r *Registry) emit(name, providerID string, data map[string]interface{}) {
	if r.bus == nil {
		return
	}
	r.bus.Emit(eventbus.Event{Name: name, ProviderID: providerID, Data: data})
}
