package providers

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedIsDeterministic(t *testing.T) {
	a := MockEmbed("the quick brown fox")
	b := MockEmbed("the quick brown fox")
	assert.Equal(t, a, b)
}

func TestMockEmbedDiffersAcrossInputs(t *testing.T) {
	a := MockEmbed("the quick brown fox")
	b := MockEmbed("a completely different sentence")
	assert.NotEqual(t, a, b)
}

func TestMockEmbedHasFixedDimension(t *testing.T) {
	v := MockEmbed("hello world")
	assert.Len(t, v, MockDimension)
}

func TestMockEmbedIsL2Normalized(t *testing.T) {
	v := MockEmbed("normalize me please")
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	assert.InDelta(t, 1.0, norm, 1e-4)
}

func TestMockEmbedHandlesEmptyString(t *testing.T) {
	v := MockEmbed("")
	require.Len(t, v, MockDimension)
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-4)
}

func TestNewMockProviderEmbedsDeterministically(t *testing.T) {
	p := NewMockProvider()
	assert.Equal(t, MockModelName, p.Name())
	assert.Equal(t, MockDimension, p.Dimension())
	assert.Equal(t, KindGeneric, p.Type())

	v1, err := p.Embed(context.Background(), "some text")
	require.NoError(t, err)
	v2, err := p.Embed(context.Background(), "some text")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}
