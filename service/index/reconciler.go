package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"knowledge-base-backend/model"
	"knowledge-base-backend/service/embedding"
)

const reconcileBatchSize = 500

// Report 两个库之间主键集合的差异
type Report struct {
	Collection  string   `json:"collection"`
	SearchIndex string   `json:"search_index"`
	VectorOnly  []string `json:"vector_only"`
	SearchOnly  []string `json:"search_only"`
	Repaired    int      `json:"repaired"`
}

func (r *Report) Consistent() bool {
	return len(r.VectorOnly) == 0 && len(r.SearchOnly) == 0
}

// Reconciler 检查并修复部分写入留下的不一致
type Reconciler struct {
	vector   VectorIndex
	search   SearchIndex
	embedder embedding.Embedder
	logger   *slog.Logger
}

func NewReconciler(vector VectorIndex, search SearchIndex, embedder embedding.Embedder, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		vector:   vector,
		search:   search,
		embedder: embedder,
		logger:   logger.With("component", "reconciler"),
	}
}

func (r *Reconciler) Check(ctx context.Context, target Target) (*Report, error) {
	searchKeys := make(map[string]bool)
	err := ScanSearchKeys(ctx, r.search, target.SearchIndex, reconcileBatchSize, func(pks []string) error {
		for _, pk := range pks {
			searchKeys[pk] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list search index keys: %w", err)
	}

	report := &Report{Collection: target.Collection, SearchIndex: target.SearchIndex}
	err = r.vector.ScanKeys(ctx, target.Collection, reconcileBatchSize, func(pks []string) error {
		for _, pk := range pks {
			if searchKeys[pk] {
				delete(searchKeys, pk)
				continue
			}
			report.VectorOnly = append(report.VectorOnly, pk)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list vector index keys: %w", err)
	}

	for pk := range searchKeys {
		report.SearchOnly = append(report.SearchOnly, pk)
	}
	sort.Strings(report.VectorOnly)
	sort.Strings(report.SearchOnly)

	r.logger.Info("reconcile check finished",
		"collection", target.Collection,
		"vector_only", len(report.VectorOnly),
		"search_only", len(report.SearchOnly))
	return report, nil
}

// Repair 只在向量库中的记录补写到全文检索库；只在全文检索库中的记录重新向量化后补写到向量库
func (r *Reconciler) Repair(ctx context.Context, target Target, modelID string, report *Report) error {
	for _, batch := range chunkKeys(report.VectorOnly, reconcileBatchSize) {
		records, err := r.vector.Get(ctx, target.Collection, batch)
		if err != nil {
			return fmt.Errorf("failed to read vector records: %w", err)
		}
		if err := r.search.Upsert(ctx, target.SearchIndex, records); err != nil {
			return fmt.Errorf("failed to repair search index: %w", err)
		}
		report.Repaired += len(records)
	}

	for _, batch := range chunkKeys(report.SearchOnly, reconcileBatchSize) {
		records, err := r.search.Get(ctx, target.SearchIndex, batch)
		if err != nil {
			return fmt.Errorf("failed to read search records: %w", err)
		}
		if len(records) == 0 {
			continue
		}
		if err := r.embedRecords(ctx, modelID, records); err != nil {
			return err
		}
		if err := r.vector.Upsert(ctx, target.Collection, records); err != nil {
			return fmt.Errorf("failed to repair vector index: %w", err)
		}
		report.Repaired += len(records)
	}

	r.logger.Info("reconcile repair finished", "collection", target.Collection, "repaired", report.Repaired)
	return nil
}

func (r *Reconciler) embedRecords(ctx context.Context, modelID string, records []model.Record) error {
	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = rec.PageContent
	}
	vectors, err := r.embedder.Embed(ctx, modelID, texts)
	if err != nil {
		return fmt.Errorf("failed to embed records: %w", err)
	}
	for i := range records {
		records[i].Embedding = vectors[i]
	}
	return nil
}

func chunkKeys(keys []string, size int) [][]string {
	var batches [][]string
	for start := 0; start < len(keys); start += size {
		batches = append(batches, keys[start:min(start+size, len(keys))])
	}
	return batches
}
