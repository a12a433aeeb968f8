// Package eventbus fans out named lifecycle events to subscribers.
//
// Delivery is synchronous per subscriber and dispatch never holds a lock
// across subscriber invocation. Subscribers must not panic; a recovered
// panic is logged and does not take down the bus.
package eventbus

import (
	"sync"

	"go.uber.org/zap"
)

// Name of a lifecycle event, kept as plain strings (not an enum) so new
// event names can be added without a central registry, mirroring the
// teacher's preference for sentinel values over closed enumerations.
const (
	IndexCreated    = "index_created"
	IndexDestroyed  = "index_destroyed"
	IndexOffloaded  = "index_offloaded"
	IndexResumed    = "index_resumed"
	DocumentAdded   = "document_added"
	DocumentRemoved = "document_removed"
	QueryCompleted  = "query_completed"
	Error           = "error"
	ProviderAdded   = "provider_added"
	ProviderRemoved = "provider_removed"
	ProviderUpdated = "provider_updated"
)

// Event is the payload delivered to subscribers. Exactly one of
// InstanceID / ProviderID is normally set, matching which subsystem
// raised the event.
type Event struct {
	Name       string
	InstanceID string
	ProviderID string
	Data       map[string]interface{}
}

// Handler receives an Event. Handlers must not block for long: dispatch
// is synchronous and a slow handler delays the emitting call.
type Handler func(Event)

// Bus is a process-wide fan-out of named events to subscribers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *zap.Logger
}

// New creates an empty event bus. A nil logger is replaced with a no-op
// logger, matching the teacher's defensive-default convention.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers fn to be called for every event named name.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(name string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[name] = append(b.handlers[name], fn)
	idx := len(b.handlers[name]) - 1

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		hs := b.handlers[name]
		if idx < len(hs) {
			hs[idx] = nil
		}
	}
}

// Emit delivers ev to every subscriber of ev.Name, in registration order.
// Emit does not hold the bus lock while invoking handlers: it snapshots
// the subscriber slice first.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[ev.Name]...)
	b.mu.RUnlock()

	for _, h := range hs {
		if h == nil {
			continue
		}
		b.safeCall(h, ev)
	}
}

func (b *Bus) safeCall(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("eventbus subscriber panicked",
				zap.String("event", ev.Name),
				zap.Any("recovered", r),
			)
		}
	}()
	h(ev)
}
