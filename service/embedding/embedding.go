package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"knowledge-base-backend/config"
	"knowledge-base-backend/metrics"
	"knowledge-base-backend/utils"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	// 兼容 OpenAI 接口但不校验密钥的服务
	placeholderToken = "EMPTY"
)

var (
	ErrUnknownModel      = errors.New("unknown embedding model")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Embedder 文本向量化，输出与输入一一对应
type Embedder interface {
	Embed(ctx context.Context, modelID string, texts []string) ([][]float32, error)
}

type clientFactory func(model config.ModelConfig, httpClient *http.Client) (embeddings.EmbedderClient, error)

// Client 按模型名缓存 langchaingo embedder，同一时刻只执行一次调用
type Client struct {
	cfg        config.EmbeddingConfig
	httpClient *http.Client
	newClient  clientFactory
	metrics    *metrics.Metrics
	logger     *slog.Logger

	mu        sync.Mutex
	embedders map[string]embeddings.Embedder
}

var _ Embedder = &Client{}

func NewClient(cfg config.EmbeddingConfig, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: utils.NewHTTPClient(utils.WithTimeout(cfg.Timeout)),
		newClient:  newProviderClient,
		metrics:    m,
		logger:     logger.With("component", "embedding"),
		embedders:  make(map[string]embeddings.Embedder),
	}
}

// Dimension 模型输出的向量维度
func (c *Client) Dimension(modelID string) (int, error) {
	model, ok := c.cfg.FindModel(modelID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	return model.Dimension, nil
}

func (c *Client) Embed(ctx context.Context, modelID string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	model, ok := c.cfg.FindModel(modelID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	embedder, err := c.embedder(model)
	if err != nil {
		return nil, err
	}

	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed texts with %s: %w", modelID, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding model %s returned %d vectors for %d texts", modelID, len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != model.Dimension {
			return nil, fmt.Errorf("%w: model %s vector %d has %d dimensions, want %d",
				ErrDimensionMismatch, modelID, i, len(v), model.Dimension)
		}
	}

	c.metrics.TextsEmbedded(modelID, len(texts))
	c.logger.Debug("texts embedded", "model", modelID, "texts_num", len(texts))
	return vectors, nil
}

// EmbedQuery 检索时对查询文本向量化
func (c *Client) EmbedQuery(ctx context.Context, modelID, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, modelID, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// embedder 调用方持有 c.mu
func (c *Client) embedder(model config.ModelConfig) (embeddings.Embedder, error) {
	if e, ok := c.embedders[model.Name]; ok {
		return e, nil
	}

	client, err := c.newClient(model, c.httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder client for %s: %w", model.Name, err)
	}

	e, err := embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(c.cfg.BatchSize),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	c.embedders[model.Name] = e
	return e, nil
}

func newProviderClient(model config.ModelConfig, httpClient *http.Client) (embeddings.EmbedderClient, error) {
	switch model.Provider {
	case ProviderOllama:
		opts := []ollama.Option{
			ollama.WithModel(model.Name),
			ollama.WithHTTPClient(httpClient),
		}
		if model.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(model.BaseURL))
		}
		return ollama.New(opts...)
	case ProviderOpenAI, "":
		token := model.APIKey
		if token == "" {
			token = placeholderToken
		}
		opts := []openai.Option{
			openai.WithEmbeddingModel(model.Name),
			openai.WithToken(token),
			openai.WithHTTPClient(httpClient),
		}
		if model.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(model.BaseURL))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", model.Provider)
	}
}
