package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestLocalEmbedder_Deterministic(t *testing.T) {
	e := NewLocalEmbedder(128)
	a, err := e.Embed(context.Background(), []string{"The deductible is $500 per year."})
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), []string{"The deductible is $500 per year."})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a[0], 128)
}

func TestLocalEmbedder_Normalised(t *testing.T) {
	e := NewLocalEmbedder(0)
	vecs, err := e.Embed(context.Background(), []string{"waiting period for maternity cover"})
	require.NoError(t, err)
	assert.Equal(t, DefaultDimension, e.Dimension())
	assert.InDelta(t, 1.0, math.Sqrt(dot(vecs[0], vecs[0])), 1e-5)
}

func TestLocalEmbedder_EmptyTextIsZeroVector(t *testing.T) {
	e := NewLocalEmbedder(16)
	vecs, err := e.Embed(context.Background(), []string{"the of and"})
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 16), vecs[0])
}

func TestLocalEmbedder_RelatedTextScoresHigher(t *testing.T) {
	e := NewLocalEmbedder(512)
	vecs, err := e.Embed(context.Background(), []string{
		"What is the deductible?",
		"The deductible is $500 per year.",
		"Ambulance transport is covered up to two trips.",
	})
	require.NoError(t, err)
	assert.Greater(t, dot(vecs[0], vecs[1]), dot(vecs[0], vecs[2]))
}

func TestLocalEmbedder_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocalEmbedder(8).Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}
