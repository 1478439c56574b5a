package index

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"knowledge-base-backend/model"
)

const (
	FieldPK          = "pk"
	FieldPageContent = "page_content"
	FieldEmbeddings  = "embeddings"
	FieldMetadata    = "metadata"

	MaxPKLength          = 100
	MaxPageContentLength = 65535

	DefaultQueryLimit = 30

	// MaxQueryWindow Milvus 要求 offset+limit 不超过该值
	MaxQueryWindow = 16384
)

// VectorIndex 向量库，集合名即知识库名
type VectorIndex interface {
	CreateCollection(ctx context.Context, collection string, dim int) error
	DropCollection(ctx context.Context, collection string) error
	HasCollection(ctx context.Context, collection string) (bool, error)

	Upsert(ctx context.Context, collection string, records []model.Record) error
	Delete(ctx context.Context, collection string, pks []string) error

	// Search filter 为向量库的过滤表达式，可为空
	Search(ctx context.Context, collection string, vector []float32, filter string, limit int) ([]model.SearchHit, error)
	Get(ctx context.Context, collection string, pks []string) ([]model.Record, error)

	// Query 按过滤表达式分页列出记录，不返回向量
	Query(ctx context.Context, collection string, expr string, offset, limit int) ([]model.Record, error)

	// ScanKeys 分批遍历全部主键
	ScanKeys(ctx context.Context, collection string, batchSize int, fn func(pks []string) error) error
}

// SearchIndex 全文检索库，按索引名区分知识库
type SearchIndex interface {
	Upsert(ctx context.Context, indexName string, records []model.Record) error
	Delete(ctx context.Context, indexName string, pks []string) (int64, error)
	DeleteIndex(ctx context.Context, indexName string) error
	Search(ctx context.Context, indexName, query string, filter map[string]any, limit int) ([]model.SearchHit, error)
	Get(ctx context.Context, indexName string, pks []string) ([]model.Record, error)
	ListKeys(ctx context.Context, indexName, afterPK string, limit int) ([]string, error)
}

// Target 一个知识库在两个索引中的名称
type Target struct {
	Collection  string
	SearchIndex string
}

func NewTarget(appID, collection string) Target {
	return Target{
		Collection:  collection,
		SearchIndex: SearchIndexName(appID, collection),
	}
}

// SearchIndexName 全文检索库的索引名为小写的 "{appID}-{collection}"
func SearchIndexName(appID, collection string) string {
	if appID == "" {
		return strings.ToLower(collection)
	}
	return strings.ToLower(appID + "-" + collection)
}

// FilterExpr 把元数据等值条件转换为向量库的过滤表达式
func FilterExpr(filter map[string]any) (string, error) {
	if len(filter) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]string, 0, len(keys))
	for _, k := range keys {
		value, err := json.Marshal(filter[k])
		if err != nil {
			return "", fmt.Errorf("failed to marshal filter value of %s: %w", k, err)
		}
		conds = append(conds, fmt.Sprintf("%s[%s] == %s", FieldMetadata, strconv.Quote(k), value))
	}
	return strings.Join(conds, " and "), nil
}

// pkInExpr 形如 pk in ["a", "b"]
func pkInExpr(pks []string) string {
	quoted := make([]string, len(pks))
	for i, pk := range pks {
		quoted[i] = strconv.Quote(pk)
	}
	return fmt.Sprintf("%s in [%s]", FieldPK, strings.Join(quoted, ", "))
}

// ScanSearchKeys 按主键顺序分批遍历全文检索库
func ScanSearchKeys(ctx context.Context, search SearchIndex, indexName string, batchSize int, fn func(pks []string) error) error {
	after := ""
	for {
		pks, err := search.ListKeys(ctx, indexName, after, batchSize)
		if err != nil {
			return err
		}
		if len(pks) == 0 {
			return nil
		}
		if err := fn(pks); err != nil {
			return err
		}
		if len(pks) < batchSize {
			return nil
		}
		after = pks[len(pks)-1]
	}
}
