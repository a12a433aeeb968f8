package manager

import (
	"github.com/fyrsmithlabs/indexmanager/internal/providers"
	"github.com/fyrsmithlabs/indexmanager/internal/sandbox"
)

// CreationOptions are the effective creation options of §3's "creation
// options" data model entry.
type CreationOptions struct {
	// ID is the caller-supplied base id. Empty generates a UUID.
	ID string
	// Namespace, when set, is prefixed onto ID as "namespace:id".
	Namespace string

	// EmbeddingProvider is the highest-priority, inline embedding
	// source for this index (§4.3 step 1). Never persisted: offloaded
	// descriptors never carry a live Provider.
	EmbeddingProvider providers.Provider
	// EmbeddingProviderName references a provider in the registry
	// (§4.3 step 2).
	EmbeddingProviderName string

	// InactivityTimeoutMS is the per-index eviction deadline in
	// milliseconds. 0 selects the manager's DefaultInactivityTimeout; it
	// does not disable the timer (DisableActivityMonitoring does that).
	InactivityTimeoutMS int64
	// DisableActivityMonitoring opts this index out of the inactivity
	// timer (I6: monitoring is on by default, so the zero value of
	// CreationOptions keeps eviction armed).
	DisableActivityMonitoring bool

	// Resume selects the hydrate path of §4.4.1 over the new path.
	Resume bool

	// Backend selects the Sandbox implementation; empty selects the
	// Factories default.
	Backend sandbox.Backend

	// Dimension is the embedding dimension the sandbox is initialized
	// with. Required for the new path; ignored (overwritten from the
	// descriptor) on the hydrate path.
	Dimension int
}

// asMap renders the portion of CreationOptions that is safe to persist
// in an offloaded descriptor (§3 metadata.options): no live Provider,
// since providers are not serializable into sandboxes or to disk.
func (o CreationOptions) asMap() map[string]interface{} {
	return map[string]interface{}{
		"namespace":                 o.Namespace,
		"embeddingProviderName":     o.EmbeddingProviderName,
		"inactivityTimeoutMS":       o.InactivityTimeoutMS,
		"disableActivityMonitoring": o.DisableActivityMonitoring,
		"backend":                   string(o.Backend),
	}
}
