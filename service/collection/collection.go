package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"knowledge-base-backend/dao"
	"knowledge-base-backend/model"
	"knowledge-base-backend/service/index"
)

var (
	ErrCollectionNotFound = dao.ErrCollectionNotFound
	ErrNameConflict       = errors.New("collection name already exists")
	ErrInvalidName        = errors.New("invalid collection name")
	ErrEmptyUpdate        = errors.New("no collection fields to update")
)

// 向量库集合名：字母或下划线开头，仅含字母、数字、下划线
var collectionNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,254}$`)

// Store 知识库元数据的持久化层，不存在时 FindCollectionByName 返回 nil, nil
type Store interface {
	CreateCollection(ctx context.Context, collection *model.Collection) error
	CheckNameConflicts(ctx context.Context, name string) (bool, error)
	GetCollectionsByTeam(ctx context.Context, teamID string) ([]model.Collection, error)
	FindCollectionByName(ctx context.Context, teamID, name string) (*model.Collection, error)
	DeleteCollectionByName(ctx context.Context, teamID, name string) error
	UpdateCollectionByName(ctx context.Context, teamID, name string, update model.CollectionUpdate) error
	RegisterMetadataFieldsIfAbsent(ctx context.Context, teamID, name string, fieldNames []string) ([]string, error)
}

type DimensionResolver interface {
	Dimension(modelID string) (int, error)
}

type CreateRequest struct {
	TeamID         string
	UserID         string
	Name           string
	DisplayName    string
	Description    string
	Logo           string
	EmbeddingModel string
}

// Gateway 知识库元数据与向量库集合的生命周期
type Gateway struct {
	store      Store
	vector     index.VectorIndex
	search     index.SearchIndex
	dimensions DimensionResolver
	logger     *slog.Logger
}

func NewGateway(store Store, vector index.VectorIndex, search index.SearchIndex, dimensions DimensionResolver, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		store:      store,
		vector:     vector,
		search:     search,
		dimensions: dimensions,
		logger:     logger.With("component", "collection"),
	}
}

func (g *Gateway) FindCollectionByName(ctx context.Context, teamID, name string) (*model.Collection, error) {
	collection, err := g.store.FindCollectionByName(ctx, teamID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to find collection %s: %w", name, err)
	}
	if collection == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return collection, nil
}

func (g *Gateway) ListCollections(ctx context.Context, teamID string) ([]model.Collection, error) {
	return g.store.GetCollectionsByTeam(ctx, teamID)
}

// RegisterMetadataFieldsIfAbsent 把导入数据中出现的新元数据字段登记到知识库
func (g *Gateway) RegisterMetadataFieldsIfAbsent(ctx context.Context, teamID, name string, fieldNames []string) ([]string, error) {
	if len(fieldNames) == 0 {
		return nil, nil
	}
	added, err := g.store.RegisterMetadataFieldsIfAbsent(ctx, teamID, name, fieldNames)
	if err != nil {
		return nil, fmt.Errorf("failed to register metadata fields: %w", err)
	}
	if len(added) > 0 {
		g.logger.Info("metadata fields registered",
			"team_id", teamID,
			"collection", name,
			"fields", added)
	}
	return added, nil
}

func (g *Gateway) CreateCollection(ctx context.Context, req CreateRequest) (*model.Collection, error) {
	if !collectionNameRegex.MatchString(req.Name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, req.Name)
	}

	dim, err := g.dimensions.Dimension(req.EmbeddingModel)
	if err != nil {
		return nil, err
	}

	conflict, err := g.store.CheckNameConflicts(ctx, req.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to check name conflicts: %w", err)
	}
	if conflict {
		return nil, fmt.Errorf("%w: %s", ErrNameConflict, req.Name)
	}

	exists, err := g.vector.HasCollection(ctx, req.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to check vector collection: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: vector collection %s", ErrNameConflict, req.Name)
	}

	if err := g.vector.CreateCollection(ctx, req.Name, dim); err != nil {
		return nil, err
	}

	collection := &model.Collection{
		CreatorUserID:  req.UserID,
		TeamID:         req.TeamID,
		Name:           req.Name,
		DisplayName:    req.DisplayName,
		Description:    req.Description,
		Logo:           req.Logo,
		EmbeddingModel: req.EmbeddingModel,
		Dimension:      dim,
	}
	if collection.DisplayName == "" {
		collection.DisplayName = req.Name
	}
	if err := collection.SetFields(model.BuiltInMetadataFields()); err != nil {
		return nil, err
	}

	if err := g.store.CreateCollection(ctx, collection); err != nil {
		// 元数据写入失败时回滚向量库集合
		if dropErr := g.vector.DropCollection(ctx, req.Name); dropErr != nil {
			g.logger.Error("failed to drop vector collection after create failure", "collection", req.Name, "err", dropErr)
		}
		return nil, fmt.Errorf("failed to save collection: %w", err)
	}

	g.logger.Info("collection created",
		"team_id", req.TeamID,
		"collection", req.Name,
		"model", req.EmbeddingModel,
		"dimension", dim)
	return collection, nil
}

// UpdateCollection 修改展示名称、描述与图标，展示名称置空时恢复为知识库名
func (g *Gateway) UpdateCollection(ctx context.Context, teamID, name string, update model.CollectionUpdate) (*model.Collection, error) {
	if update.Empty() {
		return nil, ErrEmptyUpdate
	}
	if update.DisplayName != nil && *update.DisplayName == "" {
		update.DisplayName = &name
	}

	if err := g.store.UpdateCollectionByName(ctx, teamID, name, update); err != nil {
		if errors.Is(err, ErrCollectionNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		return nil, fmt.Errorf("failed to update collection: %w", err)
	}

	g.logger.Info("collection updated", "team_id", teamID, "collection", name)
	return g.FindCollectionByName(ctx, teamID, name)
}

// DeleteCollection 软删除元数据，并清空两个库中的数据
func (g *Gateway) DeleteCollection(ctx context.Context, teamID, appID, name string) error {
	if _, err := g.FindCollectionByName(ctx, teamID, name); err != nil {
		return err
	}

	if err := g.store.DeleteCollectionByName(ctx, teamID, name); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}

	target := index.NewTarget(appID, name)
	if err := g.vector.DropCollection(ctx, target.Collection); err != nil {
		return fmt.Errorf("failed to drop vector collection: %w", err)
	}
	if err := g.search.DeleteIndex(ctx, target.SearchIndex); err != nil {
		return fmt.Errorf("failed to delete search index: %w", err)
	}

	g.logger.Info("collection deleted", "team_id", teamID, "collection", name)
	return nil
}
