package embedding

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"knowledge-base-backend/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/embeddings"
)

type fakeEmbedderClient struct {
	dim     int
	calls   [][]string
	err     error
	dropOne bool
}

func (f *fakeEmbedderClient) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, texts)
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		v := make([]float32, f.dim)
		v[0] = float32(len(text))
		vectors = append(vectors, v)
	}
	if f.dropOne {
		vectors = vectors[1:]
	}
	return vectors, nil
}

func newTestClient(fake *fakeEmbedderClient, batchSize int) *Client {
	c := NewClient(config.EmbeddingConfig{
		BatchSize: batchSize,
		Models: []config.ModelConfig{
			{Name: "m-4", Provider: ProviderOpenAI, Dimension: 4},
		},
	}, nil, nil)
	c.newClient = func(config.ModelConfig, *http.Client) (embeddings.EmbedderClient, error) {
		return fake, nil
	}
	return c
}

func TestClient_EmbedPreservesOrderAndBatches(t *testing.T) {
	fake := &fakeEmbedderClient{dim: 4}
	c := newTestClient(fake, 2)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := c.Embed(context.Background(), "m-4", texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vectors[i][0])
	}
	assert.Len(t, fake.calls, 3)
}

func TestClient_UnknownModel(t *testing.T) {
	c := newTestClient(&fakeEmbedderClient{dim: 4}, 10)

	_, err := c.Embed(context.Background(), "nope", []string{"x"})
	assert.ErrorIs(t, err, ErrUnknownModel)

	_, err = c.Dimension("nope")
	assert.ErrorIs(t, err, ErrUnknownModel)

	dim, err := c.Dimension("m-4")
	require.NoError(t, err)
	assert.Equal(t, 4, dim)
}

func TestClient_DimensionMismatch(t *testing.T) {
	c := newTestClient(&fakeEmbedderClient{dim: 3}, 10)

	_, err := c.Embed(context.Background(), "m-4", []string{"x"})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestClient_CountMismatch(t *testing.T) {
	c := newTestClient(&fakeEmbedderClient{dim: 4, dropOne: true}, 10)

	_, err := c.Embed(context.Background(), "m-4", []string{"x", "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 1 vectors for 2 texts")
}

func TestClient_ProviderError(t *testing.T) {
	boom := errors.New("runtime unavailable")
	c := newTestClient(&fakeEmbedderClient{dim: 4, err: boom}, 10)

	_, err := c.Embed(context.Background(), "m-4", []string{"x"})
	assert.ErrorIs(t, err, boom)
}

func TestClient_EmptyInput(t *testing.T) {
	fake := &fakeEmbedderClient{dim: 4}
	c := newTestClient(fake, 10)

	vectors, err := c.Embed(context.Background(), "m-4", nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Empty(t, fake.calls)
}

func TestNewProviderClient(t *testing.T) {
	_, err := newProviderClient(config.ModelConfig{Name: "x", Provider: "unknown"}, http.DefaultClient)
	assert.Error(t, err)

	client, err := newProviderClient(config.ModelConfig{Name: "text-embedding-v4", Provider: ProviderOpenAI, BaseURL: "http://localhost:1/v1"}, http.DefaultClient)
	require.NoError(t, err)
	assert.NotNil(t, client)

	client, err = newProviderClient(config.ModelConfig{Name: "nomic-embed-text", Provider: ProviderOllama, BaseURL: "http://localhost:11434"}, http.DefaultClient)
	require.NoError(t, err)
	assert.NotNil(t, client)
}
