package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"knowledge-base-backend/config"
	"knowledge-base-backend/model"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
)

const ivfFlatNList = 128

// MilvusIndex 集合结构：pk VarChar(100) 主键、page_content VarChar(65535)、
// embeddings FloatVector、metadata JSON；IVF_FLAT + L2，强一致性
type MilvusIndex struct {
	client *milvusclient.Client
}

var _ VectorIndex = &MilvusIndex{}

func NewMilvusIndex(ctx context.Context, cfg config.MilvusConfig) (*MilvusIndex, error) {
	client, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  cfg.Endpoint,
		APIKey:   cfg.APIKey,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}
	return &MilvusIndex{client: client}, nil
}

func (m *MilvusIndex) Close(ctx context.Context) error {
	return m.client.Close(ctx)
}

func (m *MilvusIndex) CreateCollection(ctx context.Context, collection string, dim int) error {
	schema := entity.NewSchema().
		WithName(collection).
		WithDynamicFieldEnabled(false).
		WithField(entity.NewField().
			WithName(FieldPK).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(MaxPKLength).
			WithIsPrimaryKey(true).
			WithIsAutoID(false)).
		WithField(entity.NewField().
			WithName(FieldPageContent).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(MaxPageContentLength)).
		WithField(entity.NewField().
			WithName(FieldEmbeddings).
			WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(dim))).
		WithField(entity.NewField().
			WithName(FieldMetadata).
			WithDataType(entity.FieldTypeJSON))

	indexOption := milvusclient.NewCreateIndexOption(collection, FieldEmbeddings, index.NewIvfFlatIndex(entity.L2, ivfFlatNList))

	err := m.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(collection, schema).
		WithIndexOptions(indexOption).
		WithConsistencyLevel(entity.ClStrong))
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", collection, err)
	}

	task, err := m.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(collection))
	if err != nil {
		return fmt.Errorf("failed to load collection %s: %w", collection, err)
	}
	return task.Await(ctx)
}

func (m *MilvusIndex) DropCollection(ctx context.Context, collection string) error {
	return m.client.DropCollection(ctx, milvusclient.NewDropCollectionOption(collection))
}

func (m *MilvusIndex) HasCollection(ctx context.Context, collection string) (bool, error) {
	return m.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(collection))
}

func (m *MilvusIndex) Upsert(ctx context.Context, collection string, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}

	dim := len(records[0].Embedding)
	pks := make([]string, 0, len(records))
	contents := make([]string, 0, len(records))
	vectors := make([][]float32, 0, len(records))
	metadata := make([][]byte, 0, len(records))

	for _, r := range records {
		if len(r.Embedding) != dim {
			return fmt.Errorf("record %s has %d dimensions, want %d", r.PK, len(r.Embedding), dim)
		}
		data, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata of %s: %w", r.PK, err)
		}
		pks = append(pks, r.PK)
		contents = append(contents, r.PageContent)
		vectors = append(vectors, r.Embedding)
		metadata = append(metadata, data)
	}

	columns := []column.Column{
		column.NewColumnVarChar(FieldPK, pks),
		column.NewColumnVarChar(FieldPageContent, contents),
		column.NewColumnFloatVector(FieldEmbeddings, dim, vectors),
		column.NewColumnJSONBytes(FieldMetadata, metadata),
	}

	_, err := m.client.Upsert(ctx, milvusclient.NewColumnBasedInsertOption(collection).WithColumns(columns...))
	if err != nil {
		return fmt.Errorf("failed to upsert into %s: %w", collection, err)
	}
	return nil
}

func (m *MilvusIndex) Delete(ctx context.Context, collection string, pks []string) error {
	if len(pks) == 0 {
		return nil
	}
	_, err := m.client.Delete(ctx, milvusclient.NewDeleteOption(collection).WithStringIDs(FieldPK, pks))
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", collection, err)
	}
	return nil
}

// Search 返回的 Score 为 L2 距离，越小越相似
func (m *MilvusIndex) Search(ctx context.Context, collection string, vector []float32, filter string, limit int) ([]model.SearchHit, error) {
	option := milvusclient.NewSearchOption(collection, limit, []entity.Vector{entity.FloatVector(vector)}).
		WithANNSField(FieldEmbeddings).
		WithOutputFields(FieldPageContent, FieldMetadata).
		WithConsistencyLevel(entity.ClStrong)
	if filter != "" {
		option = option.WithFilter(filter)
	}

	results, err := m.client.Search(ctx, option)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", collection, err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	rs := results[0]
	records, err := recordsFromResultSet(rs)
	if err != nil {
		return nil, err
	}

	hits := make([]model.SearchHit, 0, len(records))
	for i, r := range records {
		hit := model.SearchHit{
			PK:          r.PK,
			PageContent: r.PageContent,
			Metadata:    r.Metadata,
		}
		if i < len(rs.Scores) {
			hit.Score = float64(rs.Scores[i])
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (m *MilvusIndex) Get(ctx context.Context, collection string, pks []string) ([]model.Record, error) {
	if len(pks) == 0 {
		return nil, nil
	}
	rs, err := m.client.Query(ctx, milvusclient.NewQueryOption(collection).
		WithFilter(pkInExpr(pks)).
		WithOutputFields(FieldPK, FieldPageContent, FieldMetadata).
		WithConsistencyLevel(entity.ClStrong))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	return recordsFromResultSet(rs)
}

func (m *MilvusIndex) Query(ctx context.Context, collection string, expr string, offset, limit int) ([]model.Record, error) {
	option := milvusclient.NewQueryOption(collection).
		WithOutputFields(FieldPK, FieldPageContent, FieldMetadata).
		WithOffset(offset).
		WithLimit(limit).
		WithConsistencyLevel(entity.ClStrong)
	if expr != "" {
		option = option.WithFilter(expr)
	}
	rs, err := m.client.Query(ctx, option)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	return recordsFromResultSet(rs)
}

func (m *MilvusIndex) ScanKeys(ctx context.Context, collection string, batchSize int, fn func(pks []string) error) error {
	iter, err := m.client.QueryIterator(ctx, milvusclient.NewQueryIteratorOption(collection).
		WithBatchSize(batchSize).
		WithOutputFields(FieldPK))
	if err != nil {
		return fmt.Errorf("failed to create query iterator on %s: %w", collection, err)
	}

	for {
		rs, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to iterate %s: %w", collection, err)
		}

		col := rs.GetColumn(FieldPK)
		if col == nil || col.Len() == 0 {
			return nil
		}
		pks := make([]string, 0, col.Len())
		for i := 0; i < col.Len(); i++ {
			pk, err := col.GetAsString(i)
			if err != nil {
				return err
			}
			pks = append(pks, pk)
		}
		if err := fn(pks); err != nil {
			return err
		}
	}
}

func recordsFromResultSet(rs milvusclient.ResultSet) ([]model.Record, error) {
	if rs.ResultCount == 0 {
		return nil, nil
	}

	contentCol := rs.GetColumn(FieldPageContent)
	metadataCol := rs.GetColumn(FieldMetadata)
	pkCol := rs.GetColumn(FieldPK)
	if pkCol == nil {
		pkCol = rs.IDs
	}
	if pkCol == nil || contentCol == nil {
		return nil, fmt.Errorf("result set is missing %s or %s", FieldPK, FieldPageContent)
	}

	records := make([]model.Record, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		pk, err := pkCol.GetAsString(i)
		if err != nil {
			return nil, err
		}
		content, err := contentCol.GetAsString(i)
		if err != nil {
			return nil, err
		}

		record := model.Record{PK: pk, PageContent: content, Metadata: map[string]any{}}
		if metadataCol != nil {
			raw, err := metadataCol.Get(i)
			if err != nil {
				return nil, err
			}
			if err := decodeJSONValue(raw, &record.Metadata); err != nil {
				return nil, err
			}
		}
		records = append(records, record)
	}
	return records, nil
}

func decodeJSONValue(raw any, out *map[string]any) error {
	var data []byte
	switch v := raw.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case nil:
		return nil
	default:
		return fmt.Errorf("unexpected metadata type %T", raw)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return nil
}
