package manager

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fyrsmithlabs/indexmanager/internal/eventbus"
	"github.com/fyrsmithlabs/indexmanager/internal/providers"
	"github.com/fyrsmithlabs/indexmanager/internal/sandbox"
)

// Document is a caller-supplied ingest item (§4.4.5): at least one of
// Vector or Text must be set, since a document with neither is an error.
// When both are set, Vector is used as-is and Text is not embedded.
type Document struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]interface{}
}

// AddDocuments bumps activity, resolves an embedding for every
// vector-less, text-bearing document, and forwards the enriched batch
// to the sandbox (§4.4.5).
func (m *Manager) AddDocuments(ctx context.Context, id string, docs []Document) error {
	li, err := m.lookupReady(id)
	if err != nil {
		return err
	}

	// Resolve the embedder before taking li.mu: it may consult the
	// registry, and registry.Remove/Update call back into the manager
	// while holding the registry lock, walking every live index's
	// li.mu in the opposite order (see resolveEmbedder).
	var embedder providers.Provider
	for _, d := range docs {
		if len(d.Vector) == 0 && d.Text != "" {
			embedder, err = m.resolveEmbedder(li.opts.EmbeddingProvider, li.opts.EmbeddingProviderName)
			if err != nil {
				return err
			}
			break
		}
	}

	enriched := make([]sandbox.Document, len(docs))
	for i, d := range docs {
		switch {
		case len(d.Vector) > 0:
			enriched[i] = sandbox.Document{ID: d.ID, Vector: d.Vector, Text: d.Text, Metadata: d.Metadata}
		case d.Text != "":
			vec, eerr := embedder.Embed(ctx, d.Text)
			if eerr != nil {
				return fmt.Errorf("%w: %v", ErrEmbeddingFailed, eerr)
			}
			enriched[i] = sandbox.Document{ID: d.ID, Vector: vec, Text: d.Text, Metadata: d.Metadata}
		default:
			return fmt.Errorf("%w: %q", ErrDocWithoutContent, d.ID)
		}
	}

	li.mu.Lock()
	defer li.mu.Unlock()
	m.bumpActivity(li)

	for _, d := range enriched {
		if li.embeddingDimension != 0 && len(d.Vector) != li.embeddingDimension {
			return fmt.Errorf("%w: document %q has %d dimensions, index is %d",
				ErrDimensionMismatch, d.ID, len(d.Vector), li.embeddingDimension)
		}
	}

	ictx, cancel := context.WithTimeout(ctx, m.cfg.IngestTimeout)
	defer cancel()
	timer := prometheus.NewTimer(SandboxOperationDuration.WithLabelValues("add_documents"))
	err = li.sandbox.AddDocuments(ictx, enriched)
	timer.ObserveDuration()
	if err != nil {
		return wrapSandboxErr("add-documents", err)
	}

	li.documentCount += len(enriched)
	if li.embeddingDimension == 0 && len(enriched) > 0 {
		li.embeddingDimension = len(enriched[0].Vector)
	}

	m.emit(eventbus.DocumentAdded, id, map[string]interface{}{"count": len(enriched)})
	return nil
}

// QueryIndex bumps activity, embeds queryText when queryVector is nil,
// and forwards to the sandbox (§4.4.5).
func (m *Manager) QueryIndex(ctx context.Context, id string, queryText string, queryVector []float32, opts sandbox.QueryOptions) ([]sandbox.Result, error) {
	li, err := m.lookupReady(id)
	if err != nil {
		return nil, err
	}

	// Resolved before li.mu is taken; see AddDocuments.
	vec := queryVector
	if vec == nil {
		provider, perr := m.resolveEmbedder(li.opts.EmbeddingProvider, li.opts.EmbeddingProviderName)
		if perr != nil {
			return nil, perr
		}
		v, eerr := provider.Embed(ctx, queryText)
		if eerr != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, eerr)
		}
		vec = v
	}

	li.mu.Lock()
	defer li.mu.Unlock()
	m.bumpActivity(li)

	qctx, cancel := context.WithTimeout(ctx, m.cfg.QueryTimeout)
	defer cancel()
	qtimer := prometheus.NewTimer(SandboxOperationDuration.WithLabelValues("query"))
	results, err := li.sandbox.QueryIndex(qctx, vec, opts)
	qtimer.ObserveDuration()
	if err != nil {
		return nil, wrapSandboxErr("query", err)
	}

	m.emit(eventbus.QueryCompleted, id, map[string]interface{}{"resultCount": len(results)})
	return results, nil
}

// RemoveDocuments bumps activity, forwards to the sandbox, and
// decrements documentCount by the count the sandbox actually removed
// (not len(ids): unknown ids are silently ignored by the sandbox, so
// counting requested ids would let documentCount drift from I3).
func (m *Manager) RemoveDocuments(ctx context.Context, id string, ids []string) (int, error) {
	li, err := m.lookupReady(id)
	if err != nil {
		return 0, err
	}

	li.mu.Lock()
	defer li.mu.Unlock()
	m.bumpActivity(li)

	rctx, cancel := context.WithTimeout(ctx, m.cfg.IngestTimeout)
	defer cancel()
	rtimer := prometheus.NewTimer(SandboxOperationDuration.WithLabelValues("remove_documents"))
	removed, err := li.sandbox.RemoveDocuments(rctx, ids)
	rtimer.ObserveDuration()
	if err != nil {
		return 0, wrapSandboxErr("remove-documents", err)
	}

	li.documentCount -= removed
	if li.documentCount < 0 {
		li.documentCount = 0
	}

	m.emit(eventbus.DocumentRemoved, id, map[string]interface{}{"removed": removed})
	return removed, nil
}
