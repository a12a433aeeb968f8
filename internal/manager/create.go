package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fyrsmithlabs/indexmanager/internal/codec"
	"github.com/fyrsmithlabs/indexmanager/internal/eventbus"
	"github.com/fyrsmithlabs/indexmanager/internal/providers"
	"github.com/fyrsmithlabs/indexmanager/internal/sandbox"
)

// CreateIndex is the only entry that materializes a live index (§4.4.1).
// Concurrent calls for the same id are serialized by the placeholder
// createOrResume inserts into the live map under the manager-wide lock:
// exactly one call succeeds and every other one sees the placeholder and
// fails with ErrExists (ErrAlreadyRunning when resuming). No lock is held
// across sandbox initialization.
func (m *Manager) CreateIndex(ctx context.Context, opts CreationOptions) (string, error) {
	base := opts.ID
	if base == "" {
		base = uuid.NewString()
	}
	id := effectiveID(opts.Namespace, base)

	return m.createOrResume(ctx, id, opts)
}

func (m *Manager) createOrResume(ctx context.Context, id string, opts CreationOptions) (string, error) {
	m.mu.Lock()

	if m.cfg.MaxInstances > 0 && len(m.live) >= m.cfg.MaxInstances {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %d live instances", ErrCapacity, len(m.live))
	}
	if ns := namespaceOf(id); ns != "" && !m.namespaceAllowed(ns) {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: namespace %q", ErrNamespaceForbidden, ns)
	}

	_, liveExists := m.live[id]
	onDisk := codec.Exists(m.cfg.OffloadDir, id)

	switch {
	case liveExists && !opts.Resume:
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %q is already live", ErrExists, id)
	case liveExists && opts.Resume:
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %q is already live", ErrAlreadyRunning, id)
	case !liveExists && onDisk && !opts.Resume:
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %q has an offloaded descriptor; pass resume=true", ErrExists, id)
	case !liveExists && !onDisk && opts.Resume:
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %q has neither a live index nor an offloaded descriptor", ErrNotFound, id)
	}

	hydrate := !liveExists && onDisk && opts.Resume

	li := &liveIndex{
		id:    id,
		opts:  opts,
		ready: make(chan struct{}),
	}
	m.live[id] = li
	m.mu.Unlock()

	var initErr error
	if hydrate {
		initErr = m.hydrate(ctx, li)
	} else {
		initErr = m.createFresh(ctx, li)
	}

	if initErr != nil {
		m.mu.Lock()
		delete(m.live, id)
		m.mu.Unlock()
		li.initErr = initErr
		close(li.ready)
		CreateIndexTotal.WithLabelValues("error").Inc()
		return "", initErr
	}

	li.mu.Lock()
	li.created = time.Now()
	m.bumpActivity(li)
	li.mu.Unlock()
	close(li.ready)

	LiveIndicesGauge.Inc()
	if hydrate {
		CreateIndexTotal.WithLabelValues("resumed").Inc()
		m.emit(eventbus.IndexResumed, id, map[string]interface{}{
			"documentCount": li.documentCount,
		})
	} else {
		CreateIndexTotal.WithLabelValues("created").Inc()
		m.emit(eventbus.IndexCreated, id, nil)
	}

	return id, nil
}

func (m *Manager) namespaceAllowed(ns string) bool {
	if len(m.cfg.AllowedNamespaces) == 0 {
		return true
	}
	for _, a := range m.cfg.AllowedNamespaces {
		if a == ns {
			return true
		}
	}
	return false
}

// createFresh builds a brand-new sandbox (§4.4.1 step 6): bind a named
// provider eagerly so a missing reference fails before the sandbox is
// ever created, then initialize.
func (m *Manager) createFresh(ctx context.Context, li *liveIndex) error {
	if err := m.bindProvider(li); err != nil {
		return err
	}

	factory, err := m.factories.For(li.opts.Backend)
	if err != nil {
		return err
	}
	sb := factory()

	ictx, cancel := context.WithTimeout(ctx, m.cfg.InitTimeout)
	defer cancel()
	timer := prometheus.NewTimer(SandboxOperationDuration.WithLabelValues("initialize"))
	err = sb.Initialize(ictx, sandbox.Options{ID: li.id, Dimension: li.opts.Dimension})
	timer.ObserveDuration()
	if err != nil {
		return wrapSandboxErr("initialize", err)
	}

	li.sandbox = sb
	li.embeddingDimension = li.opts.Dimension
	return nil
}

// hydrate rebuilds a sandbox from its offloaded descriptor (§4.4.1 step
// 7), then deletes the on-disk descriptor: I1 forbids a live index and
// an on-disk descriptor for the same id coexisting.
func (m *Manager) hydrate(ctx context.Context, li *liveIndex) error {
	if err := m.bindProvider(li); err != nil {
		return err
	}

	meta, docs, err := codec.Read(m.cfg.OffloadDir, li.id)
	if err != nil {
		return wrapIOErr("reading offloaded descriptor", err)
	}

	factory, err := m.factories.For(li.opts.Backend)
	if err != nil {
		return err
	}
	sb := factory()

	ictx, cancel := context.WithTimeout(ctx, m.cfg.InitTimeout)
	defer cancel()
	timer := prometheus.NewTimer(SandboxOperationDuration.WithLabelValues("initialize"))
	err = sb.Initialize(ictx, sandbox.Options{ID: li.id, Dimension: meta.EmbeddingDimension})
	timer.ObserveDuration()
	if err != nil {
		return wrapSandboxErr("initialize", err)
	}

	if len(docs) > 0 {
		sdocs := make([]sandbox.Document, len(docs))
		for i, d := range docs {
			sdocs[i] = sandbox.Document{ID: d.ID, Vector: d.Vector, Text: d.Text, Metadata: d.Metadata}
		}
		actx, cancel := context.WithTimeout(ctx, m.cfg.IngestTimeout)
		defer cancel()
		atimer := prometheus.NewTimer(SandboxOperationDuration.WithLabelValues("add_documents"))
		err = sb.AddDocuments(actx, sdocs)
		atimer.ObserveDuration()
		if err != nil {
			_ = sb.Destroy()
			return wrapSandboxErr("hydrate-add-documents", err)
		}
	}

	if err := codec.Delete(m.cfg.OffloadDir, li.id); err != nil {
		_ = sb.Destroy()
		return wrapIOErr("deleting offloaded descriptor", err)
	}

	li.sandbox = sb
	li.documentCount = meta.DocumentCount
	li.embeddingDimension = meta.EmbeddingDimension
	li.fromOffload = true
	return nil
}

// bindProvider resolves EmbeddingProviderName into EmbeddingProvider
// when the caller did not supply an inline provider (§4.4.1 step 5). A
// configured name that does not resolve is a hard error.
func (m *Manager) bindProvider(li *liveIndex) error {
	if li.opts.EmbeddingProvider != nil || li.opts.EmbeddingProviderName == "" {
		return nil
	}
	if li.opts.EmbeddingProviderName == providers.MockModelName {
		li.opts.EmbeddingProvider = providers.NewMockProvider()
		return nil
	}
	p, err := m.registry.Get(li.opts.EmbeddingProviderName)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrProviderNotFound, li.opts.EmbeddingProviderName)
	}
	li.opts.EmbeddingProvider = p
	return nil
}

// lookupReady returns the live index for id once any in-flight
// createIndex has finished, or ErrNotFound if it is not live.
func (m *Manager) lookupReady(id string) (*liveIndex, error) {
	m.mu.Lock()
	li, ok := m.live[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	<-li.ready
	if li.initErr != nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return li, nil
}
