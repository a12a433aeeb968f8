// Package providers implements the embedding-provider registry (R) and a
// deterministic mock embedding model used in tests.
//
// Providers are modeled as a small tagged variant rather than a single
// interface with a closure field, per the statically-typed adaptation
// noted in the source design: Kind distinguishes a Generic provider (an
// in-process function, no I/O) from a Remote provider (carries
// host/model and performs HTTP calls). Both satisfy Provider.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for provider operations.
var (
	ErrNotFound             = errors.New("provider not found")
	ErrAlreadyExists         = errors.New("provider already exists")
	ErrInUse                = errors.New("provider is in use")
	ErrDimensionChange       = errors.New("dimension-change-would-break-existing-embeddings")
	ErrEmbeddingFailed       = errors.New("embedding failed")
	ErrNoEmbeddingProvider   = errors.New("no-embedding-provider")
	ErrInvalidConfig         = errors.New("invalid provider configuration")
)

// Kind tags the provider variant.
type Kind string

const (
	KindGeneric Kind = "generic"
	KindRemote  Kind = "remote"
	KindMock    Kind = "mock"
)

// MockModelName is the sentinel embedding-model name that selects the
// deterministic mock embedder (§4.3 step 5). It is never resolved from
// the registry; the manager recognizes it directly.
const MockModelName = "mock-model"

// Provider is an embedding provider: fixed output dimension, named,
// tagged by Kind.
type Provider interface {
	// Embed generates a single embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the fixed output width of Embed.
	Dimension() int
	// Type reports the provider variant.
	Type() Kind
	// Name is a human-readable identifier, independent of the registry key.
	Name() string
}

// genericProvider wraps a plain in-process embedding function. It carries
// no I/O-bound state, matching the design note's Generic(fn) variant.
type genericProvider struct {
	name string
	dim  int
	fn   func(ctx context.Context, text string) ([]float32, error)
}

// NewGenericProvider builds a Provider around an in-process function, e.g.
// a locally-loaded embedding model or the deterministic mock.
func NewGenericProvider(name string, dimension int, fn func(ctx context.Context, text string) ([]float32, error)) (Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name required", ErrInvalidConfig)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: embed function required", ErrInvalidConfig)
	}
	return &genericProvider{name: name, dim: dimension, fn: fn}, nil
}

func (p *genericProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := p.fn(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(v) != p.dim {
		return nil, fmt.Errorf("%w: provider %q returned vector of length %d, want %d", ErrEmbeddingFailed, p.name, len(v), p.dim)
	}
	return v, nil
}

func (p *genericProvider) Dimension() int { return p.dim }
func (p *genericProvider) Type() Kind     { return KindGeneric }
func (p *genericProvider) Name() string   { return p.name }

// RemoteConfig configures a remote, HTTP-backed embedding provider.
type RemoteConfig struct {
	Name       string
	Host       string
	Model      string
	Dimension  int
	HTTPClient *http.Client
	Timeout    time.Duration
}

// remoteProvider is the I/O-bound variant: it calls out to a remote
// embedding service over HTTP. The concrete wire format is intentionally
// minimal since concrete embedding back-ends are out of scope (spec §1);
// this exists so the resolution order and registry bookkeeping in §4.3
// has a second, realistic variant to exercise in tests via httptest.
type remoteProvider struct {
	cfg    RemoteConfig
	client *http.Client
}

// NewRemoteProvider builds a Provider that calls a remote HTTP embedding
// endpoint at POST {Host}/embed with a JSON body {"model","input"} and
// expects a JSON response {"embedding": [...]}.
func NewRemoteProvider(cfg RemoteConfig) (Provider, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: name required", ErrInvalidConfig)
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &remoteProvider{cfg: cfg, client: client}, nil
}

func (p *remoteProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := embedRemoteHTTP(ctx, p.client, p.cfg.Host, p.cfg.Model, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(v) != p.cfg.Dimension {
		return nil, fmt.Errorf("%w: remote provider %q returned vector of length %d, want %d", ErrEmbeddingFailed, p.cfg.Name, len(v), p.cfg.Dimension)
	}
	return v, nil
}

func (p *remoteProvider) Dimension() int { return p.cfg.Dimension }
func (p *remoteProvider) Type() Kind     { return KindRemote }
func (p *remoteProvider) Name() string   { return p.cfg.Name }
