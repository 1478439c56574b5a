package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"knowledge-base-backend/model"
	"knowledge-base-backend/service/embedding"
	"knowledge-base-backend/service/index"
	knowledgebase "knowledge-base-backend/service/knowledge-base"
)

type Mode string

const (
	ModeVector   Mode = "vector"
	ModeFulltext Mode = "fulltext"
	ModeHybrid   Mode = "hybrid"
)

var (
	ErrUnknownMode   = errors.New("unknown search mode")
	ErrEmptyQuery    = errors.New("query text is required")
	ErrModelRequired = errors.New("embedding model or collection is required")
)

type CollectionFinder interface {
	FindCollectionByName(ctx context.Context, teamID, name string) (*model.Collection, error)
}

type Searcher interface {
	VectorSearch(ctx context.Context, target index.Target, q index.Query) ([]model.SearchHit, error)
	KeywordSearch(ctx context.Context, target index.Target, q index.Query) ([]model.SearchHit, error)
	HybridSearch(ctx context.Context, target index.Target, q index.Query) ([]model.SearchHit, error)
	Records(ctx context.Context, target index.Target, q index.RecordQuery) ([]model.Record, error)
	Rerank(ctx context.Context, modelID, query string, documents []string, topK int) ([]index.RerankResult, error)
}

type RecordWriter interface {
	UpsertRecord(ctx context.Context, req knowledgebase.RecordRequest) (*model.Record, error)
}

// Service 检索与单条写入，HTTP 接口与 MCP 工具共用
type Service struct {
	collections CollectionFinder
	searcher    Searcher
	embedder    embedding.Embedder
	records     RecordWriter
	logger      *slog.Logger
}

func NewService(collections CollectionFinder, searcher Searcher, embedder embedding.Embedder, records RecordWriter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		collections: collections,
		searcher:    searcher,
		embedder:    embedder,
		records:     records,
		logger:      logger.With("component", "retrieval"),
	}
}

// Search 在团队的知识库中检索，查询未指定模型时使用知识库的 embedding 模型
func (s *Service) Search(ctx context.Context, teamID, appID, collectionName string, mode Mode, q index.Query) ([]model.SearchHit, error) {
	if q.Text == "" {
		return nil, ErrEmptyQuery
	}
	collection, err := s.collections.FindCollectionByName(ctx, teamID, collectionName)
	if err != nil {
		return nil, fmt.Errorf("failed to find collection %s: %w", collectionName, err)
	}
	if q.Model == "" {
		q.Model = collection.EmbeddingModel
	}

	target := index.NewTarget(appID, collectionName)
	var hits []model.SearchHit
	switch mode {
	case ModeVector:
		hits, err = s.searcher.VectorSearch(ctx, target, q)
	case ModeFulltext:
		hits, err = s.searcher.KeywordSearch(ctx, target, q)
	case ModeHybrid:
		hits, err = s.searcher.HybridSearch(ctx, target, q)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to run %s search: %w", mode, err)
	}

	s.logger.Debug("search finished",
		"collection", collectionName,
		"mode", mode,
		"hits", len(hits))
	return hits, nil
}

// QueryRecords 分页列出团队知识库中的记录
func (s *Service) QueryRecords(ctx context.Context, teamID, appID, collectionName string, q index.RecordQuery) ([]model.Record, error) {
	if _, err := s.collections.FindCollectionByName(ctx, teamID, collectionName); err != nil {
		return nil, fmt.Errorf("failed to find collection %s: %w", collectionName, err)
	}
	records, err := s.searcher.Records(ctx, index.NewTarget(appID, collectionName), q)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	if records == nil {
		records = []model.Record{}
	}
	return records, nil
}

// Rerank 按与查询的相关度对文档重新排序，modelID 为空时使用知识库的模型
func (s *Service) Rerank(ctx context.Context, teamID, collectionName, modelID, query string, documents []string, topK int) ([]index.RerankResult, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	modelID, err := s.resolveModel(ctx, teamID, collectionName, modelID)
	if err != nil {
		return nil, err
	}
	return s.searcher.Rerank(ctx, modelID, query, documents, topK)
}

// Embed modelID 为空时使用知识库的模型
func (s *Service) Embed(ctx context.Context, teamID, collectionName, modelID, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyQuery
	}
	modelID, err := s.resolveModel(ctx, teamID, collectionName, modelID)
	if err != nil {
		return nil, err
	}

	vectors, err := s.embedder.Embed(ctx, modelID, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *Service) Insert(ctx context.Context, req knowledgebase.RecordRequest) (*model.Record, error) {
	return s.records.UpsertRecord(ctx, req)
}

func (s *Service) resolveModel(ctx context.Context, teamID, collectionName, modelID string) (string, error) {
	if modelID != "" {
		return modelID, nil
	}
	if collectionName == "" {
		return "", ErrModelRequired
	}
	collection, err := s.collections.FindCollectionByName(ctx, teamID, collectionName)
	if err != nil {
		return "", fmt.Errorf("failed to find collection %s: %w", collectionName, err)
	}
	return collection.EmbeddingModel, nil
}
