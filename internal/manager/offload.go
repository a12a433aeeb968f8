package manager

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fyrsmithlabs/indexmanager/internal/codec"
	"github.com/fyrsmithlabs/indexmanager/internal/eventbus"
	"github.com/fyrsmithlabs/indexmanager/internal/sandbox"
)

// offload implements §4.4.3: idempotent with respect to destroyIndex
// and in-flight operations on the same id, since both are serialized
// behind li.mu. li.mu is released before the manager-wide lock is
// taken to delete the map entry, keeping lock order consistent with
// IsProviderReferenced (manager-wide lock always acquired before any
// per-id lock, never the reverse).
func (m *Manager) offload(id, trigger string) error {
	li, err := m.lookupReady(id)
	if err != nil {
		return err
	}

	li.mu.Lock()

	gctx, gcancel := context.WithTimeout(context.Background(), m.cfg.IngestTimeout)
	gtimer := prometheus.NewTimer(SandboxOperationDuration.WithLabelValues("get_documents"))
	docs, err := li.sandbox.GetDocuments(gctx)
	gtimer.ObserveDuration()
	gcancel()
	if err != nil {
		li.mu.Unlock()
		return wrapSandboxErr("get-documents", err)
	}

	cdocs := make([]codec.Document, len(docs))
	for i, d := range docs {
		cdocs[i] = codec.Document{ID: d.ID, Text: d.Text, Metadata: d.Metadata, Vector: d.Vector}
	}

	meta := codec.Metadata{
		Created:            li.created,
		OffloadedAt:        time.Now(),
		Options:            li.opts.asMap(),
		EmbeddingDimension: li.embeddingDimension,
	}

	octx, ocancel := context.WithTimeout(context.Background(), m.cfg.IngestTimeout)
	err = codec.Offload(octx, m.cfg.OffloadDir, id, meta, cdocs)
	ocancel()
	if err != nil {
		li.mu.Unlock()
		OffloadTotal.WithLabelValues(trigger, "error").Inc()
		return wrapIOErr("offload", err)
	}

	cancelTimerLocked(li)
	documentCount := li.documentCount
	dtimer := prometheus.NewTimer(SandboxOperationDuration.WithLabelValues("destroy"))
	_ = li.sandbox.Destroy()
	dtimer.ObserveDuration()
	li.mu.Unlock()

	m.mu.Lock()
	delete(m.live, id)
	m.mu.Unlock()

	LiveIndicesGauge.Dec()
	OffloadTotal.WithLabelValues(trigger, "success").Inc()
	m.emit(eventbus.IndexOffloaded, id, map[string]interface{}{
		"documentCount": documentCount,
		"offloadedAt":   meta.OffloadedAt,
	})
	return nil
}

// ManualOffload offloads a live id on demand (§4.4.4).
func (m *Manager) ManualOffload(id string) error {
	return m.offload(id, "manual")
}

// DestroyIndex tears down id without writing an on-disk descriptor
// (§4.4.4): the sandbox is released and all in-memory state dropped.
func (m *Manager) DestroyIndex(id string) error {
	li, err := m.lookupReady(id)
	if err != nil {
		return err
	}

	li.mu.Lock()
	cancelTimerLocked(li)
	ddtimer := prometheus.NewTimer(SandboxOperationDuration.WithLabelValues("destroy"))
	destroyErr := li.sandbox.Destroy()
	ddtimer.ObserveDuration()
	li.mu.Unlock()

	if destroyErr != nil && !errors.Is(destroyErr, sandbox.ErrAlreadyDestroyed) {
		return wrapSandboxErr("destroy", destroyErr)
	}

	m.mu.Lock()
	delete(m.live, id)
	m.mu.Unlock()

	LiveIndicesGauge.Dec()
	m.emit(eventbus.IndexDestroyed, id, nil)
	return nil
}

// DestroyAll destroys every live index whose namespace prefix matches
// namespace, or every live index when namespace is empty (§4.4.4).
// Returns the number destroyed and a joined error for any failures.
func (m *Manager) DestroyAll(namespace string) (int, error) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.live))
	for id := range m.live {
		if namespace == "" || namespaceOf(id) == namespace {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	destroyed := 0
	var errs []error
	for _, id := range ids {
		if err := m.DestroyIndex(id); err != nil {
			errs = append(errs, err)
			continue
		}
		destroyed++
	}
	return destroyed, errors.Join(errs...)
}

// DeleteOffloadedIndex removes an id's on-disk descriptor triple
// (§4.2 delete path).
func (m *Manager) DeleteOffloadedIndex(id string) error {
	if err := codec.Delete(m.cfg.OffloadDir, id); err != nil {
		return wrapIOErr("delete-offloaded", err)
	}
	return nil
}

// ListOffloadedIndices scans the offload directory, optionally filtered
// by namespace prefix, sorted by offloadedAt descending (§4.4.4).
func (m *Manager) ListOffloadedIndices(namespace string) ([]codec.Metadata, error) {
	metas, err := codec.List(m.cfg.OffloadDir, namespace)
	if err != nil {
		return nil, wrapIOErr("list-offloaded", err)
	}
	return metas, nil
}
