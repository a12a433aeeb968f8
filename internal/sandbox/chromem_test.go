package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInitializedChromem(t *testing.T, dim int) Sandbox {
	t.Helper()
	s := NewChromemSandbox()
	require.NoError(t, s.Initialize(context.Background(), Options{ID: "idx-1", Dimension: dim}))
	return s
}

func TestChromemAddAndQuery(t *testing.T) {
	s := newInitializedChromem(t, 3)

	err := s.AddDocuments(context.Background(), []Document{
		{ID: "a", Vector: []float32{1, 0, 0}, Text: "alpha"},
		{ID: "b", Vector: []float32{0, 1, 0}, Text: "beta"},
	})
	require.NoError(t, err)

	results, err := s.QueryIndex(context.Background(), []float32{1, 0, 0}, QueryOptions{K: 2, IncludeMetadata: true})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID, "exact match should rank first")
	assert.Equal(t, "alpha", results[0].Text)
}

func TestChromemAddDocumentsRejectsDuplicateWithinBatch(t *testing.T) {
	s := newInitializedChromem(t, 3)

	err := s.AddDocuments(context.Background(), []Document{
		{ID: "a", Vector: []float32{1, 0, 0}},
		{ID: "a", Vector: []float32{0, 1, 0}},
	})
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestChromemAddDocumentsRejectsDuplicateAgainstExisting(t *testing.T) {
	s := newInitializedChromem(t, 3)
	require.NoError(t, s.AddDocuments(context.Background(), []Document{{ID: "a", Vector: []float32{1, 0, 0}}}))

	err := s.AddDocuments(context.Background(), []Document{{ID: "a", Vector: []float32{0, 1, 0}}})
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestChromemQueryThreshold(t *testing.T) {
	s := newInitializedChromem(t, 3)
	require.NoError(t, s.AddDocuments(context.Background(), []Document{
		{ID: "a", Vector: []float32{1, 0, 0}},
		{ID: "b", Vector: []float32{-1, 0, 0}},
	}))

	threshold := float32(0.5)
	results, err := s.QueryIndex(context.Background(), []float32{1, 0, 0}, QueryOptions{K: 2, Threshold: &threshold})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestChromemRemoveDocumentsIsIdempotentForUnknownIDs(t *testing.T) {
	s := newInitializedChromem(t, 3)
	require.NoError(t, s.AddDocuments(context.Background(), []Document{{ID: "a", Vector: []float32{1, 0, 0}}}))

	removed, err := s.RemoveDocuments(context.Background(), []string{"a", "does-not-exist"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	docs, err := s.GetDocuments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestChromemGetDocumentsPreservesInsertionOrder(t *testing.T) {
	s := newInitializedChromem(t, 3)
	require.NoError(t, s.AddDocuments(context.Background(), []Document{
		{ID: "z", Vector: []float32{1, 0, 0}},
		{ID: "a", Vector: []float32{0, 1, 0}},
	}))

	docs, err := s.GetDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "z", docs[0].ID)
	assert.Equal(t, "a", docs[1].ID)
}

func TestChromemOperationsBeforeInitializeFail(t *testing.T) {
	s := NewChromemSandbox()
	_, err := s.GetDocuments(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestChromemDestroyIsNotReusable(t *testing.T) {
	s := newInitializedChromem(t, 3)
	require.NoError(t, s.Destroy())

	err := s.Destroy()
	assert.ErrorIs(t, err, ErrAlreadyDestroyed)

	_, err = s.GetDocuments(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyDestroyed)
}

func TestChromemQueryOnEmptyCollectionReturnsNoResults(t *testing.T) {
	s := newInitializedChromem(t, 3)
	results, err := s.QueryIndex(context.Background(), []float32{1, 0, 0}, QueryOptions{K: 5})
	require.NoError(t, err)
	assert.Empty(t, results)
}
