package llm

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(128)
	ctx := context.Background()
	assert.Equal(t, 128, e.Dimension())

	vectors, err := e.EmbedDocuments(ctx, []string{
		"Mitochondria produce ATP for the cell.",
		"The cell gets ATP from mitochondria.",
		"Photosynthesis happens in chloroplasts.",
	})
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	for _, v := range vectors {
		require.Len(t, v, 128)
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
	}

	query, err := e.EmbedQuery(ctx, "mitochondria ATP")
	require.NoError(t, err)
	assert.Greater(t, cosine(query, vectors[0]), cosine(query, vectors[2]))

	again, err := e.EmbedQuery(ctx, "Mitochondria produce ATP for the cell.")
	require.NoError(t, err)
	assert.Equal(t, vectors[0], again)
}

func TestHashEmbedderEdgeCases(t *testing.T) {
	e := NewHashEmbedder(0)
	assert.Equal(t, 384, e.Dimension())

	v, err := e.EmbedQuery(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, float32(1), v[0])

	_, err = e.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestNewEmbedderUnknownProvider(t *testing.T) {
	_, err := NewEmbedder(EmbedderConfig{Provider: "word2vec"})
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "embedder.provider", cfgErr.Field)

	emb, err := NewEmbedder(EmbedderConfig{Provider: "hash", Dimension: 64})
	require.NoError(t, err)
	assert.Equal(t, 64, emb.Dimension())
}
