package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"knowledge-base-backend/metrics"
	"knowledge-base-backend/model"
)

const DefaultBatchSize = 1000

var ErrInvalidRecord = errors.New("invalid record")

// Writer 同一批记录依次写入向量库和全文检索库
// 两个库之间没有事务，靠主键幂等写入和 Reconciler 修复
type Writer struct {
	vector    VectorIndex
	search    SearchIndex
	batchSize int
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewWriter(vector VectorIndex, search SearchIndex, batchSize int, m *metrics.Metrics, logger *slog.Logger) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		vector:    vector,
		search:    search,
		batchSize: batchSize,
		now:       time.Now,
		metrics:   m,
		logger:    logger.With("component", "index_writer"),
	}
}

// UpsertBatch 按子批次写入，任一子批次失败即停止，返回已完整写入的记录数
func (w *Writer) UpsertBatch(ctx context.Context, target Target, records []model.Record) (int, error) {
	if err := validateRecords(records); err != nil {
		return 0, err
	}

	createdAt := w.now().Unix()
	for i := range records {
		if records[i].Metadata == nil {
			records[i].Metadata = map[string]any{}
		}
		if _, ok := records[i].Metadata[model.MetadataCreatedAt]; !ok {
			records[i].Metadata[model.MetadataCreatedAt] = createdAt
		}
	}

	written := 0
	for start := 0; start < len(records); start += w.batchSize {
		end := min(start+w.batchSize, len(records))
		batch := records[start:end]

		err := w.vector.Upsert(ctx, target.Collection, batch)
		w.metrics.IndexBatch("vector", err)
		if err != nil {
			return written, fmt.Errorf("failed to upsert batch [%d, %d) into vector index: %w", start, end, err)
		}

		err = w.search.Upsert(ctx, target.SearchIndex, batch)
		w.metrics.IndexBatch("search", err)
		if err != nil {
			return written, fmt.Errorf("failed to upsert batch [%d, %d) into search index: %w", start, end, err)
		}

		written += len(batch)
		w.logger.Debug("index batch written",
			"collection", target.Collection,
			"start", start,
			"end", end)
	}

	w.metrics.RecordsIndexed(written)
	return written, nil
}

// DeleteByKey 两个库都执行删除，主键不存在不算错误
func (w *Writer) DeleteByKey(ctx context.Context, target Target, pk string) error {
	if err := w.vector.Delete(ctx, target.Collection, []string{pk}); err != nil {
		return fmt.Errorf("failed to delete %s from vector index: %w", pk, err)
	}
	if _, err := w.search.Delete(ctx, target.SearchIndex, []string{pk}); err != nil {
		return fmt.Errorf("failed to delete %s from search index: %w", pk, err)
	}
	return nil
}

// DropTarget 删除知识库在两个库中的全部数据
func (w *Writer) DropTarget(ctx context.Context, target Target) error {
	if err := w.vector.DropCollection(ctx, target.Collection); err != nil {
		return fmt.Errorf("failed to drop vector collection: %w", err)
	}
	if err := w.search.DeleteIndex(ctx, target.SearchIndex); err != nil {
		return fmt.Errorf("failed to delete search index: %w", err)
	}
	return nil
}

func validateRecords(records []model.Record) error {
	for i, r := range records {
		if r.PK == "" || len(r.PK) > MaxPKLength {
			return fmt.Errorf("%w: record %d has an empty or oversized pk", ErrInvalidRecord, i)
		}
		if len(r.PageContent) > MaxPageContentLength {
			return fmt.Errorf("%w: record %s page_content exceeds %d bytes", ErrInvalidRecord, r.PK, MaxPageContentLength)
		}
		if len(r.Embedding) == 0 {
			return fmt.Errorf("%w: record %s has no embedding", ErrInvalidRecord, r.PK)
		}
	}
	return nil
}
