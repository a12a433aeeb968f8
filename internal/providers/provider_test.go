package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGenericProviderValidatesConfig(t *testing.T) {
	fn := func(context.Context, string) ([]float32, error) { return []float32{1}, nil }

	_, err := NewGenericProvider("", 4, fn)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewGenericProvider("p", 0, fn)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewGenericProvider("p", 4, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestGenericProviderEmbedRejectsWrongDimension(t *testing.T) {
	p, err := NewGenericProvider("p", 4, func(context.Context, string) ([]float32, error) {
		return []float32{1, 2}, nil
	})
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestGenericProviderEmbedWrapsUnderlyingError(t *testing.T) {
	boom := errors.New("boom")
	p, err := NewGenericProvider("p", 4, func(context.Context, string) ([]float32, error) {
		return nil, boom
	})
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestRemoteProviderEmbedsOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	}))
	defer srv.Close()

	p, err := NewRemoteProvider(RemoteConfig{
		Name:      "remote-1",
		Host:      srv.URL,
		Model:     "test-model",
		Dimension: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, KindRemote, p.Type())
	assert.Equal(t, "remote-1", p.Name())
	assert.Equal(t, 3, p.Dimension())

	v, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)
}

func TestRemoteProviderEmbedRejectsWrongDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embedding":[0.1,0.2]}`))
	}))
	defer srv.Close()

	p, err := NewRemoteProvider(RemoteConfig{Name: "r", Host: srv.URL, Dimension: 5})
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestNewRemoteProviderValidatesConfig(t *testing.T) {
	_, err := NewRemoteProvider(RemoteConfig{Host: "http://x", Dimension: 1})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewRemoteProvider(RemoteConfig{Name: "n", Dimension: 1})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewRemoteProvider(RemoteConfig{Name: "n", Host: "http://x"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
