package config

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_DefaultsAndEnvExpansion(t *testing.T) {
	t.Setenv("TEST_MILVUS_KEY", "secret-key")

	cfg, err := Parse([]byte(`
mq:
  backend: memory
milvus:
  endpoint: localhost:19530
  api_key: ${TEST_MILVUS_KEY}
embedding:
  models:
    - name: BAAI/bge-base-zh-v1.5
      base_url: http://localhost:8000/v1
      dimension: 768
`))
	require.NoError(t, err)

	assert.Equal(t, "secret-key", cfg.Milvus.APIKey)
	assert.Equal(t, defaultServerPort, cfg.Server.Port)
	assert.Equal(t, defaultIndexBatchSize, cfg.Pipeline.IndexBatchSize)
	assert.Equal(t, 1, cfg.Pipeline.Consumers)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.DrainTimeout)
	assert.Equal(t, "openai", cfg.Embedding.Models[0].Provider)

	model, ok := cfg.FindModel("BAAI/bge-base-zh-v1.5")
	require.True(t, ok)
	assert.Equal(t, 768, model.Dimension)

	_, ok = cfg.FindModel("missing")
	assert.False(t, ok)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "rocketmq without name server",
			yaml: "mq:\n  backend: rocketmq\n",
		},
		{
			name: "unknown backend",
			yaml: "mq:\n  backend: kafka\n",
		},
		{
			name: "model without dimension",
			yaml: "mq:\n  backend: memory\nembedding:\n  models:\n    - name: m\n",
		},
		{
			name: "duplicate model",
			yaml: "mq:\n  backend: memory\nembedding:\n  models:\n    - {name: m, dimension: 3}\n    - {name: m, dimension: 3}\n",
		},
		{
			name: "unknown provider",
			yaml: "mq:\n  backend: memory\nembedding:\n  models:\n    - {name: m, dimension: 3, provider: vertex}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestNewFanoutLogger(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := NewFanoutLogger(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("task completed", "task_id", "t-1")

	assert.Contains(t, stderr.String(), "task completed")
	assert.NotContains(t, stderr.String(), "hidden")
	assert.Contains(t, file.String(), `"task_id":"t-1"`)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("WARNING"))
	assert.Equal(t, slog.LevelError, ParseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("bogus"))
}
