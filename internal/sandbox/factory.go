package sandbox

import "fmt"

// Backend names a supported Sandbox implementation, mirroring the
// teacher's internal/vectorstore backend-selection switch.
type Backend string

const (
	BackendChromem Backend = "chromem"
	BackendQdrant  Backend = "qdrant"
)

// Factories selects a Factory by backend name. The manager holds one of
// these per deployment and uses it to construct a fresh Sandbox every
// time an index is created or resumed (§4.4.1).
type Factories struct {
	byBackend map[Backend]Factory
	def       Backend
}

// NewFactories builds a Factories table. chromem is always registered
// (it needs no external service); qdrant is registered only when qf is
// non-nil, since it requires a live connection.
func NewFactories(qf *QdrantFactory, def Backend) *Factories {
	fs := &Factories{
		byBackend: map[Backend]Factory{
			BackendChromem: NewChromemSandbox,
		},
		def: def,
	}
	if qf != nil {
		fs.byBackend[BackendQdrant] = qf.Factory()
	}
	if fs.def == "" {
		fs.def = BackendChromem
	}
	return fs
}

// For returns the Factory for backend, or the default backend's Factory
// when backend is empty. Returns an error for an unregistered backend.
func (fs *Factories) For(backend Backend) (Factory, error) {
	if backend == "" {
		backend = fs.def
	}
	f, ok := fs.byBackend[backend]
	if !ok {
		return nil, fmt.Errorf("sandbox: unknown or unavailable backend %q", backend)
	}
	return f, nil
}
