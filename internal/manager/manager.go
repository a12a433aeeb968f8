// Package manager implements the index manager / scheduler (M): the
// orchestrator owning the live-index map, the activity clock, the
// per-index inactivity timers, the offload directory, and the
// race-free create-or-resume path. It routes document ingest and query
// calls to a Sandbox, resolving embeddings via the provider registry
// when a document carries text but no vector.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/indexmanager/internal/codec"
	"github.com/fyrsmithlabs/indexmanager/internal/eventbus"
	"github.com/fyrsmithlabs/indexmanager/internal/providers"
	"github.com/fyrsmithlabs/indexmanager/internal/sandbox"
)

// Sentinel errors, named for the error kinds of the contract (§7).
var (
	ErrNotFound                = errors.New("not-found")
	ErrExists                  = errors.New("exists")
	ErrAlreadyRunning          = errors.New("already-running")
	ErrCapacity                = errors.New("capacity")
	ErrNamespaceForbidden      = errors.New("namespace-forbidden")
	ErrProviderNotFound        = errors.New("provider-not-found")
	ErrDocWithoutContent       = errors.New("doc-without-content")
	ErrDimensionMismatch       = errors.New("dimension-mismatch")
	ErrEmbeddingFailed         = errors.New("embedding-failed")
	ErrSandboxFailed           = errors.New("sandbox-failed")
	ErrTimeout                 = errors.New("timeout")
	ErrIOFailed                = errors.New("io-failed")
)

// Config holds the manager's process-wide defaults (§5).
type Config struct {
	// MaxInstances caps the number of simultaneously live indices.
	// Zero means unlimited.
	MaxInstances int

	// AllowedNamespaces, when non-empty, restricts createIndex to these
	// namespace prefixes.
	AllowedNamespaces []string

	// OffloadDir is the flat directory P reads and writes (§6).
	OffloadDir string

	// DefaultInactivityTimeout is used when CreationOptions.InactivityTimeoutMS
	// is not set and activity monitoring is on.
	DefaultInactivityTimeout time.Duration

	// DefaultProviderName, if set, must resolve in the registry; a
	// missing provider at this step is a hard error (§4.3 step 3).
	DefaultProviderName string

	// DefaultProvider is the inline fallback provider (§4.3 step 4).
	DefaultProvider providers.Provider

	// QueryTimeout / InitTimeout / IngestTimeout bound sandbox calls
	// (§5); codec reads and writes are not interrupted by them. Zero
	// selects the spec's stated defaults (30s/30s/60s).
	QueryTimeout  time.Duration
	InitTimeout   time.Duration
	IngestTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 30 * time.Second
	}
	if c.InitTimeout == 0 {
		c.InitTimeout = 30 * time.Second
	}
	if c.IngestTimeout == 0 {
		c.IngestTimeout = 60 * time.Second
	}
}

// Manager is the M component. One Manager owns exactly one offload
// directory and one provider registry.
type Manager struct {
	cfg       Config
	factories *sandbox.Factories
	registry  *providers.Registry
	bus       *eventbus.Bus
	logger    *zap.Logger

	mu      sync.Mutex // manager-wide lock (§5): live map + placeholders only
	live    map[string]*liveIndex

	monitoringEnabled bool
}

// New constructs a Manager. registry and bus must be non-nil; the
// manager calls registry.SetReferenceChecker(m) so R can enforce I4
// without importing this package.
func New(cfg Config, factories *sandbox.Factories, registry *providers.Registry, bus *eventbus.Bus, logger *zap.Logger) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:               cfg,
		factories:         factories,
		registry:          registry,
		bus:               bus,
		logger:            logger,
		live:              make(map[string]*liveIndex),
		monitoringEnabled: true,
	}
	registry.SetReferenceChecker(m)
	return m
}

// IsProviderReferenced implements providers.ReferenceChecker (I4).
func (m *Manager) IsProviderReferenced(providerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, li := range m.live {
		li.mu.Lock()
		ref := li.opts.EmbeddingProviderName == providerID
		li.mu.Unlock()
		if ref {
			return true
		}
	}
	return false
}

func (m *Manager) emit(name, instanceID string, data map[string]interface{}) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(eventbus.Event{Name: name, InstanceID: instanceID, Data: data})
}

func (m *Manager) logBackgroundError(id, op string, err error) {
	m.logger.Error("background operation failed",
		zap.String("id", id), zap.String("op", op), zap.Error(err))
	m.emit(eventbus.Error, id, map[string]interface{}{"op": op, "error": err.Error()})
}

// namespaceOf returns the namespace portion of id, or "" when id has no
// "namespace:" prefix (§3).
func namespaceOf(id string) string {
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			return id[:i]
		}
	}
	return ""
}

// effectiveID joins namespace and base per §3's "namespace:base" rule.
func effectiveID(namespace, base string) string {
	if namespace == "" {
		return base
	}
	return namespace + ":" + base
}

func wrapSandboxErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrSandboxFailed, op, err)
}

func wrapIOErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, codec.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	}
	return fmt.Errorf("%w: %s: %v", ErrIOFailed, op, err)
}
