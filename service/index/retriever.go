package index

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"knowledge-base-backend/model"
	"knowledge-base-backend/service/embedding"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultTopK = 10
	MaxTopK     = 100

	// RRFConstant 倒数排名融合的平滑常数
	RRFConstant = 60
)

var ErrInvalidQuery = errors.New("invalid record query")

type Query struct {
	Text   string
	Model  string
	Filter map[string]any
	TopK   int
}

func (q Query) limit() int {
	switch {
	case q.TopK <= 0:
		return DefaultTopK
	case q.TopK > MaxTopK:
		return MaxTopK
	default:
		return q.TopK
	}
}

// Retriever 语义检索、关键词检索与两者融合的混合检索
type Retriever struct {
	vector   VectorIndex
	search   SearchIndex
	embedder embedding.Embedder
}

func NewRetriever(vector VectorIndex, search SearchIndex, embedder embedding.Embedder) *Retriever {
	return &Retriever{
		vector:   vector,
		search:   search,
		embedder: embedder,
	}
}

func (r *Retriever) VectorSearch(ctx context.Context, target Target, q Query) ([]model.SearchHit, error) {
	return r.vectorSearch(ctx, target, q, q.limit())
}

func (r *Retriever) vectorSearch(ctx context.Context, target Target, q Query, limit int) ([]model.SearchHit, error) {
	vectors, err := r.embedder.Embed(ctx, q.Model, []string{q.Text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	filter, err := FilterExpr(q.Filter)
	if err != nil {
		return nil, err
	}
	return r.vector.Search(ctx, target.Collection, vectors[0], filter, limit)
}

func (r *Retriever) KeywordSearch(ctx context.Context, target Target, q Query) ([]model.SearchHit, error) {
	return r.search.Search(ctx, target.SearchIndex, q.Text, q.Filter, q.limit())
}

// HybridSearch 两路检索并行执行，按倒数排名融合
func (r *Retriever) HybridSearch(ctx context.Context, target Target, q Query) ([]model.SearchHit, error) {
	limit := q.limit()
	candidates := min(limit*2, MaxTopK)

	var semantic, keyword []model.SearchHit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		semantic, err = r.vectorSearch(gctx, target, q, candidates)
		return err
	})
	g.Go(func() error {
		var err error
		keyword, err = r.search.Search(gctx, target.SearchIndex, q.Text, q.Filter, candidates)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return FuseRRF(limit, semantic, keyword), nil
}

// FuseRRF 每个列表中排名 rank（从 1 开始）的结果得分 1/(RRFConstant+rank)，同主键得分相加
func FuseRRF(limit int, lists ...[]model.SearchHit) []model.SearchHit {
	scores := make(map[string]float64)
	hits := make(map[string]model.SearchHit)
	var order []string

	for _, list := range lists {
		for rank, hit := range list {
			if _, ok := hits[hit.PK]; !ok {
				hits[hit.PK] = hit
				order = append(order, hit.PK)
			}
			scores[hit.PK] += 1.0 / float64(RRFConstant+rank+1)
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})
	if len(order) > limit {
		order = order[:limit]
	}

	fused := make([]model.SearchHit, 0, len(order))
	for _, pk := range order {
		hit := hits[pk]
		hit.Score = scores[pk]
		fused = append(fused, hit)
	}
	return fused
}

// RecordQuery Expr 为向量库过滤表达式，Filter 为元数据等值条件，两者同时给出时取交集
type RecordQuery struct {
	Expr   string
	Filter map[string]any
	Offset int
	Limit  int
}

// Records 分页列出知识库中的记录
func (r *Retriever) Records(ctx context.Context, target Target, q RecordQuery) ([]model.Record, error) {
	if q.Offset < 0 || q.Limit < 0 {
		return nil, fmt.Errorf("%w: offset and limit must not be negative", ErrInvalidQuery)
	}
	limit := q.Limit
	if limit == 0 {
		limit = DefaultQueryLimit
	}
	if q.Offset+limit > MaxQueryWindow {
		return nil, fmt.Errorf("%w: offset+limit must not exceed %d", ErrInvalidQuery, MaxQueryWindow)
	}

	expr, err := FilterExpr(q.Filter)
	if err != nil {
		return nil, err
	}
	switch {
	case q.Expr != "" && expr != "":
		expr = fmt.Sprintf("(%s) and %s", q.Expr, expr)
	case q.Expr != "":
		expr = q.Expr
	}
	return r.vector.Query(ctx, target.Collection, expr, q.Offset, limit)
}
