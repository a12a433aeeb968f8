package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/indexmanager/internal/eventbus"
	"github.com/fyrsmithlabs/indexmanager/internal/providers"
	"github.com/fyrsmithlabs/indexmanager/internal/sandbox"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.OffloadDir == "" {
		cfg.OffloadDir = t.TempDir()
	}
	factories := sandbox.NewFactories(nil, sandbox.BackendChromem)
	bus := eventbus.New(nil)
	registry := providers.New(bus, nil)
	return New(cfg, factories, registry, bus, nil)
}

func mockCreateOpts(id string) CreationOptions {
	return CreationOptions{
		ID:                    id,
		EmbeddingProviderName: providers.MockModelName,
		Dimension:             providers.MockDimension,
	}
}

func TestCreateIndexThenAddAndQuery(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	id, err := m.CreateIndex(ctx, mockCreateOpts("idx-1"))
	require.NoError(t, err)
	assert.Equal(t, "idx-1", id)

	err = m.AddDocuments(ctx, id, []Document{
		{ID: "doc-1", Text: "hello world"},
		{ID: "doc-2", Text: "goodbye world"},
	})
	require.NoError(t, err)

	results, err := m.QueryIndex(ctx, id, "hello world", nil, sandbox.QueryOptions{K: 2})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "doc-1", results[0].ID)
}

func TestCreateIndexRejectsDuplicateWithoutResume(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	_, err := m.CreateIndex(ctx, mockCreateOpts("idx-1"))
	require.NoError(t, err)

	_, err = m.CreateIndex(ctx, mockCreateOpts("idx-1"))
	assert.ErrorIs(t, err, ErrExists)
}

func TestCreateIndexEnforcesMaxInstances(t *testing.T) {
	m := newTestManager(t, Config{MaxInstances: 1})
	ctx := context.Background()

	_, err := m.CreateIndex(ctx, mockCreateOpts("idx-1"))
	require.NoError(t, err)

	_, err = m.CreateIndex(ctx, mockCreateOpts("idx-2"))
	assert.ErrorIs(t, err, ErrCapacity)
}

func TestCreateIndexEnforcesNamespaceAllowlist(t *testing.T) {
	m := newTestManager(t, Config{AllowedNamespaces: []string{"allowed"}})
	ctx := context.Background()

	opts := mockCreateOpts("idx-1")
	opts.Namespace = "forbidden"
	_, err := m.CreateIndex(ctx, opts)
	assert.ErrorIs(t, err, ErrNamespaceForbidden)

	opts2 := mockCreateOpts("idx-2")
	opts2.Namespace = "allowed"
	id, err := m.CreateIndex(ctx, opts2)
	require.NoError(t, err)
	assert.Equal(t, "allowed:idx-2", id)
}

func TestCreateIndexGeneratesIDWhenEmpty(t *testing.T) {
	m := newTestManager(t, Config{})
	opts := mockCreateOpts("")
	id, err := m.CreateIndex(context.Background(), opts)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestCreateIndexConcurrentCallsExactlyOneSucceeds(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = m.CreateIndex(ctx, mockCreateOpts("shared-id"))
		}(i)
	}
	wg.Wait()

	successes := 0
	for i := 0; i < n; i++ {
		if errs[i] == nil {
			successes++
			assert.Equal(t, "shared-id", ids[i])
		} else {
			assert.ErrorIs(t, errs[i], ErrExists)
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent create of the same id succeeds")

	st := m.GetStats()
	assert.Equal(t, 1, st.LiveCount)
}

func TestOffloadAndResumeRoundTrip(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	id, err := m.CreateIndex(ctx, mockCreateOpts("idx-1"))
	require.NoError(t, err)
	require.NoError(t, m.AddDocuments(ctx, id, []Document{{ID: "doc-1", Text: "hello"}}))

	require.NoError(t, m.ManualOffload(id))

	st := m.GetStats()
	assert.Equal(t, 0, st.LiveCount)

	metas, err := m.ListOffloadedIndices("")
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, 1, metas[0].DocumentCount)

	resumeOpts := mockCreateOpts("idx-1")
	resumeOpts.Resume = true
	resumedID, err := m.CreateIndex(ctx, resumeOpts)
	require.NoError(t, err)
	assert.Equal(t, id, resumedID)

	results, err := m.QueryIndex(ctx, resumedID, "hello", nil, sandbox.QueryOptions{K: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-1", results[0].ID)

	metas, err = m.ListOffloadedIndices("")
	require.NoError(t, err)
	assert.Empty(t, metas, "I1: hydrate must delete the on-disk descriptor")
}

func TestCreateIndexResumeWithoutOnDiskDescriptorFails(t *testing.T) {
	m := newTestManager(t, Config{})
	opts := mockCreateOpts("missing")
	opts.Resume = true
	_, err := m.CreateIndex(context.Background(), opts)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateIndexAlreadyLiveWithResumeReturnsAlreadyRunning(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()
	_, err := m.CreateIndex(ctx, mockCreateOpts("idx-1"))
	require.NoError(t, err)

	opts := mockCreateOpts("idx-1")
	opts.Resume = true
	_, err = m.CreateIndex(ctx, opts)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestDestroyIndexDropsStateWithoutOffloading(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()
	id, err := m.CreateIndex(ctx, mockCreateOpts("idx-1"))
	require.NoError(t, err)

	require.NoError(t, m.DestroyIndex(id))

	metas, err := m.ListOffloadedIndices("")
	require.NoError(t, err)
	assert.Empty(t, metas, "destroy must not write an on-disk descriptor")

	st := m.GetStats()
	assert.Equal(t, 0, st.LiveCount)
}

func TestDestroyAllRespectsNamespaceFilter(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	a := mockCreateOpts("idx-a")
	a.Namespace = "ns-a"
	_, err := m.CreateIndex(ctx, a)
	require.NoError(t, err)

	b := mockCreateOpts("idx-b")
	b.Namespace = "ns-b"
	_, err = m.CreateIndex(ctx, b)
	require.NoError(t, err)

	n, err := m.DestroyAll("ns-a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st := m.GetStats()
	assert.Equal(t, 1, st.LiveCount)
}

func TestAddDocumentsRejectsDocWithoutContent(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()
	id, err := m.CreateIndex(ctx, mockCreateOpts("idx-1"))
	require.NoError(t, err)

	err = m.AddDocuments(ctx, id, []Document{{ID: "doc-1"}})
	assert.ErrorIs(t, err, ErrDocWithoutContent)
}

func TestAddDocumentsRejectsDimensionMismatch(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()
	id, err := m.CreateIndex(ctx, mockCreateOpts("idx-1"))
	require.NoError(t, err)

	err = m.AddDocuments(ctx, id, []Document{{ID: "doc-1", Vector: []float32{1, 2, 3}}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestAddDocumentsCountReflectsSandboxTruth(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()
	id, err := m.CreateIndex(ctx, mockCreateOpts("idx-1"))
	require.NoError(t, err)

	require.NoError(t, m.AddDocuments(ctx, id, []Document{
		{ID: "doc-1", Text: "one"},
		{ID: "doc-2", Text: "two"},
	}))

	st := m.GetStats()
	assert.Equal(t, 2, st.TotalDocuments)

	removed, err := m.RemoveDocuments(ctx, id, []string{"doc-1", "does-not-exist"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed, "unknown ids must not be counted toward the removal")

	st = m.GetStats()
	assert.Equal(t, 1, st.TotalDocuments)
}

func TestBindProviderResolvesMockModelNameWithoutRegistry(t *testing.T) {
	m := newTestManager(t, Config{})
	_, err := m.CreateIndex(context.Background(), mockCreateOpts("idx-1"))
	require.NoError(t, err, "MockModelName must never require a registry lookup at create time")
}

func TestCreateIndexMissingNamedProviderFailsFast(t *testing.T) {
	m := newTestManager(t, Config{})
	opts := mockCreateOpts("idx-1")
	opts.EmbeddingProviderName = "does-not-exist"
	_, err := m.CreateIndex(context.Background(), opts)
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestIsProviderReferencedReflectsLiveIndices(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	assert.False(t, m.IsProviderReferenced(providers.MockModelName))

	_, err := m.CreateIndex(ctx, mockCreateOpts("idx-1"))
	require.NoError(t, err)

	assert.True(t, m.IsProviderReferenced(providers.MockModelName))
}

func TestActivityMonitoringArmsAndCancelsTimers(t *testing.T) {
	m := newTestManager(t, Config{DefaultInactivityTimeout: time.Hour})
	ctx := context.Background()

	_, err := m.CreateIndex(ctx, mockCreateOpts("idx-1"))
	require.NoError(t, err)

	st := m.GetStats()
	assert.Equal(t, 1, st.ActiveTimers)

	m.SetActivityMonitoring(false)
	st = m.GetStats()
	assert.Equal(t, 0, st.ActiveTimers)
	assert.False(t, st.MonitoringEnabled)

	m.SetActivityMonitoring(true)
	st = m.GetStats()
	assert.Equal(t, 1, st.ActiveTimers)
}

func TestGetTimeUntilOffloadMonitoredByDefault(t *testing.T) {
	m := newTestManager(t, Config{DefaultInactivityTimeout: time.Hour})
	ctx := context.Background()
	id, err := m.CreateIndex(ctx, mockCreateOpts("idx-1"))
	require.NoError(t, err)

	_, monitored, err := m.GetTimeUntilOffload(id)
	require.NoError(t, err)
	assert.True(t, monitored, "activity monitoring is on by default (I6)")
}

func TestGetTimeUntilOffloadDisabledWhenIndexOptsOut(t *testing.T) {
	m := newTestManager(t, Config{DefaultInactivityTimeout: time.Hour})
	ctx := context.Background()

	opts := mockCreateOpts("idx-1")
	opts.DisableActivityMonitoring = true
	id, err := m.CreateIndex(ctx, opts)
	require.NoError(t, err)

	_, monitored, err := m.GetTimeUntilOffload(id)
	require.NoError(t, err)
	assert.False(t, monitored)
}

func TestPingInstanceReportsLiveness(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()
	id, err := m.CreateIndex(ctx, mockCreateOpts("idx-1"))
	require.NoError(t, err)

	assert.True(t, m.PingInstance(id))
	assert.False(t, m.PingInstance("does-not-exist"))
}

func TestInactivityTimerTriggersOffload(t *testing.T) {
	m := newTestManager(t, Config{DefaultInactivityTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	id, err := m.CreateIndex(ctx, mockCreateOpts("idx-1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.GetStats().LiveCount == 0
	}, time.Second, 5*time.Millisecond, "inactivity timer must offload the index on its own")

	metas, err := m.ListOffloadedIndices("")
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, id, metas[0].ID)
}
