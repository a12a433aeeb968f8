// Package sandbox implements the per-index sandbox contract (S, §4.1):
// an isolated compute unit running one ANN index over one embedding
// dimension. The manager drives this interface; it never reaches into a
// sandbox's internals.
package sandbox

import (
	"context"
	"errors"
)

// Sentinel errors. All Sandbox methods may also return wrapped versions
// of these, or backend-specific errors; the manager treats any non-nil
// error as "sandbox-failed" (§7) unless it is context.DeadlineExceeded.
var (
	ErrNotInitialized  = errors.New("sandbox not initialized")
	ErrDuplicateID     = errors.New("duplicate document id")
	ErrAlreadyDestroyed = errors.New("sandbox already destroyed")
)

// Document is one vector-bearing record as seen by a sandbox. Unlike
// codec.Document, Vector is required here: the manager always resolves
// an embedding (inline, via a provider, or pass-through) before handing
// documents to a sandbox (§2, §4.3).
type Document struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]interface{}
}

// QueryOptions controls QueryIndex (§4.1).
type QueryOptions struct {
	// K caps the number of results. Zero means "all".
	K int
	// Threshold, if non-nil, omits results scoring below it.
	Threshold *float32
	// IncludeMetadata controls whether result metadata is populated.
	IncludeMetadata bool
}

// Result is one query hit, sorted by decreasing Score by the sandbox.
type Result struct {
	ID       string
	Score    float32
	Text     string
	Metadata map[string]interface{}
}

// Options configures Initialize. This is the effective creation options
// of §3 minus anything provider-related: embeddings are always computed
// by the manager and handed in as already-resolved vectors (§4.3, §9),
// so a sandbox never needs to serialize a provider across its process
// boundary.
type Options struct {
	ID        string
	Dimension int
}

// Sandbox is the contract the manager drives. All calls on a given
// Sandbox are serialized by the sandbox itself (§4.1): the manager may
// call concurrently only across distinct sandboxes.
type Sandbox interface {
	// Initialize constructs the in-memory index. Must complete before
	// any other call.
	Initialize(ctx context.Context, opts Options) error

	// AddDocuments appends docs. Duplicate ids within the same call, or
	// against already-stored ids, are an error (ErrDuplicateID).
	AddDocuments(ctx context.Context, docs []Document) error

	// QueryIndex returns up to opts.K results ordered by decreasing
	// score, omitting results below opts.Threshold when set.
	QueryIndex(ctx context.Context, queryVector []float32, opts QueryOptions) ([]Result, error)

	// RemoveDocuments deletes the named ids. Idempotent: unknown ids are
	// silently ignored. Returns the count actually removed.
	RemoveDocuments(ctx context.Context, ids []string) (int, error)

	// GetDocuments returns every stored document with its vector. Used
	// exclusively by the manager during offload.
	GetDocuments(ctx context.Context) ([]Document, error)

	// Destroy releases all resources. Subsequent calls, including a
	// second Destroy, return ErrAlreadyDestroyed.
	Destroy() error
}

// Factory constructs a new, uninitialized Sandbox of a given backend
// kind. Kept separate from Sandbox itself so the manager can select a
// backend per index (mirrors the teacher's internal/vectorstore/factory.go).
type Factory func() Sandbox
