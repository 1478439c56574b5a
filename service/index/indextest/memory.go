// Package indextest 提供内存版的向量库、全文检索库和 embedder，用于测试
package indextest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"maps"
	"math"
	"sort"
	"strings"
	"sync"

	"knowledge-base-backend/model"
)

var ErrInjected = errors.New("injected failure")

func cloneRecord(r model.Record) model.Record {
	r.Metadata = maps.Clone(r.Metadata)
	r.Embedding = append([]float32(nil), r.Embedding...)
	return r
}

// VectorIndex 内存向量库，FailOnUpsert 为第 n 次 Upsert 调用注入失败（从 1 开始）
type VectorIndex struct {
	mu          sync.Mutex
	collections map[string]map[string]model.Record

	FailOnUpsert int
	UpsertCalls  int
	BatchSizes   []int
	LastFilter   string
}

func NewVectorIndex() *VectorIndex {
	return &VectorIndex{collections: make(map[string]map[string]model.Record)}
}

func (v *VectorIndex) CreateCollection(_ context.Context, collection string, _ int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.collections[collection]; ok {
		return fmt.Errorf("collection %s already exists", collection)
	}
	v.collections[collection] = make(map[string]model.Record)
	return nil
}

func (v *VectorIndex) DropCollection(_ context.Context, collection string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.collections, collection)
	return nil
}

func (v *VectorIndex) HasCollection(_ context.Context, collection string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.collections[collection]
	return ok, nil
}

func (v *VectorIndex) coll(collection string) map[string]model.Record {
	c, ok := v.collections[collection]
	if !ok {
		c = make(map[string]model.Record)
		v.collections[collection] = c
	}
	return c
}

func (v *VectorIndex) Upsert(_ context.Context, collection string, records []model.Record) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.UpsertCalls++
	v.BatchSizes = append(v.BatchSizes, len(records))
	if v.FailOnUpsert > 0 && v.UpsertCalls == v.FailOnUpsert {
		return ErrInjected
	}
	c := v.coll(collection)
	for _, r := range records {
		c[r.PK] = cloneRecord(r)
	}
	return nil
}

func (v *VectorIndex) Delete(_ context.Context, collection string, pks []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	c := v.coll(collection)
	for _, pk := range pks {
		delete(c, pk)
	}
	return nil
}

// Search 暴力计算 L2 距离，不解析过滤表达式
func (v *VectorIndex) Search(_ context.Context, collection string, vector []float32, filter string, limit int) ([]model.SearchHit, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.LastFilter = filter

	var hits []model.SearchHit
	for _, r := range v.coll(collection) {
		hits = append(hits, model.SearchHit{
			PK:          r.PK,
			PageContent: r.PageContent,
			Metadata:    maps.Clone(r.Metadata),
			Score:       l2(vector, r.Embedding),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].PK < hits[j].PK
		}
		return hits[i].Score < hits[j].Score
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (v *VectorIndex) Get(_ context.Context, collection string, pks []string) ([]model.Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var records []model.Record
	c := v.coll(collection)
	for _, pk := range pks {
		if r, ok := c[pk]; ok {
			r = cloneRecord(r)
			r.Embedding = nil
			records = append(records, r)
		}
	}
	return records, nil
}

// Query 按主键顺序分页，不解析过滤表达式
func (v *VectorIndex) Query(_ context.Context, collection string, expr string, offset, limit int) ([]model.Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.LastFilter = expr

	c := v.coll(collection)
	keys := sortedKeys(c)
	if offset >= len(keys) {
		return nil, nil
	}
	keys = keys[offset:min(offset+limit, len(keys))]
	records := make([]model.Record, 0, len(keys))
	for _, pk := range keys {
		r := cloneRecord(c[pk])
		r.Embedding = nil
		records = append(records, r)
	}
	return records, nil
}

func (v *VectorIndex) ScanKeys(_ context.Context, collection string, batchSize int, fn func(pks []string) error) error {
	v.mu.Lock()
	keys := sortedKeys(v.coll(collection))
	v.mu.Unlock()

	for start := 0; start < len(keys); start += batchSize {
		if err := fn(keys[start:min(start+batchSize, len(keys))]); err != nil {
			return err
		}
	}
	return nil
}

// Records 集合中的全部记录，按主键排序
func (v *VectorIndex) Records(collection string) []model.Record {
	v.mu.Lock()
	defer v.mu.Unlock()
	c := v.coll(collection)
	records := make([]model.Record, 0, len(c))
	for _, pk := range sortedKeys(c) {
		records = append(records, cloneRecord(c[pk]))
	}
	return records
}

// SearchIndex 内存全文检索库，按查询词出现次数打分
type SearchIndex struct {
	mu      sync.Mutex
	indexes map[string]map[string]model.Record

	FailOnUpsert int
	UpsertCalls  int
	BatchSizes   []int
}

func NewSearchIndex() *SearchIndex {
	return &SearchIndex{indexes: make(map[string]map[string]model.Record)}
}

func (s *SearchIndex) index(name string) map[string]model.Record {
	idx, ok := s.indexes[name]
	if !ok {
		idx = make(map[string]model.Record)
		s.indexes[name] = idx
	}
	return idx
}

func (s *SearchIndex) Upsert(_ context.Context, indexName string, records []model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpsertCalls++
	s.BatchSizes = append(s.BatchSizes, len(records))
	if s.FailOnUpsert > 0 && s.UpsertCalls == s.FailOnUpsert {
		return ErrInjected
	}
	idx := s.index(indexName)
	for _, r := range records {
		r = cloneRecord(r)
		r.Embedding = nil
		idx[r.PK] = r
	}
	return nil
}

func (s *SearchIndex) Delete(_ context.Context, indexName string, pks []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.index(indexName)
	var n int64
	for _, pk := range pks {
		if _, ok := idx[pk]; ok {
			delete(idx, pk)
			n++
		}
	}
	return n, nil
}

func (s *SearchIndex) DeleteIndex(_ context.Context, indexName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indexes, indexName)
	return nil
}

func (s *SearchIndex) Search(_ context.Context, indexName, query string, filter map[string]any, limit int) ([]model.SearchHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	terms := strings.Fields(strings.ToLower(query))
	var hits []model.SearchHit
	for _, r := range s.index(indexName) {
		if !matchFilter(r.Metadata, filter) {
			continue
		}
		content := strings.ToLower(r.PageContent)
		score := 0
		for _, term := range terms {
			score += strings.Count(content, term)
		}
		if score == 0 {
			continue
		}
		hits = append(hits, model.SearchHit{
			PK:          r.PK,
			PageContent: r.PageContent,
			Metadata:    maps.Clone(r.Metadata),
			Score:       float64(score),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].PK < hits[j].PK
		}
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *SearchIndex) Get(_ context.Context, indexName string, pks []string) ([]model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []model.Record
	idx := s.index(indexName)
	for _, pk := range pks {
		if r, ok := idx[pk]; ok {
			records = append(records, cloneRecord(r))
		}
	}
	return records, nil
}

func (s *SearchIndex) ListKeys(_ context.Context, indexName, afterPK string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for _, pk := range sortedKeys(s.index(indexName)) {
		if pk > afterPK {
			keys = append(keys, pk)
		}
		if len(keys) == limit {
			break
		}
	}
	return keys, nil
}

// Records 索引中的全部记录，按主键排序
func (s *SearchIndex) Records(indexName string) []model.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.index(indexName)
	records := make([]model.Record, 0, len(idx))
	for _, pk := range sortedKeys(idx) {
		records = append(records, cloneRecord(idx[pk]))
	}
	return records
}

// Embedder 由文本哈希生成确定性的向量
type Embedder struct {
	mu    sync.Mutex
	Dim   int
	Err   error
	Calls [][]string
}

func NewEmbedder(dim int) *Embedder {
	return &Embedder{Dim: dim}
}

func (e *Embedder) Embed(_ context.Context, _ string, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	e.Calls = append(e.Calls, append([]string(nil), texts...))

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = Vector(text, e.Dim)
	}
	return vectors, nil
}

// Vector 文本对应的确定性向量
func Vector(text string, dim int) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	v := make([]float32, dim)
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		v[i] = float32(seed>>40) / float32(1<<24)
	}
	return v
}

func l2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		if i >= len(b) {
			break
		}
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func matchFilter(metadata, filter map[string]any) bool {
	for k, want := range filter {
		if fmt.Sprint(metadata[k]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]model.Record) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
