package dao

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"knowledge-base-backend/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const matchAgainst = "MATCH(page_content) AGAINST (? IN NATURAL LANGUAGE MODE)"

// SearchRecordDAO 基于 MySQL FULLTEXT(ngram) 的全文检索库
// 同一张表按 index_name 区分不同知识库
type SearchRecordDAO struct {
	DB *gorm.DB
}

func NewSearchRecordDAO(db *gorm.DB) *SearchRecordDAO {
	return &SearchRecordDAO{DB: db}
}

// Upsert 以 (index_name, pk) 幂等写入
func (d *SearchRecordDAO) Upsert(ctx context.Context, indexName string, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]model.SearchRecord, 0, len(records))
	for _, r := range records {
		metadata, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata of %s: %w", r.PK, err)
		}
		rows = append(rows, model.SearchRecord{
			IndexName:   indexName,
			PK:          r.PK,
			PageContent: r.PageContent,
			Metadata:    datatypes.JSON(metadata),
		})
	}

	return d.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			DoUpdates: clause.AssignmentColumns([]string{"page_content", "metadata", "updated_at"}),
		}).
		Create(&rows).Error
}

func (d *SearchRecordDAO) Delete(ctx context.Context, indexName string, pks []string) (int64, error) {
	if len(pks) == 0 {
		return 0, nil
	}
	result := d.DB.WithContext(ctx).
		Where("index_name = ? AND pk IN ?", indexName, pks).
		Delete(&model.SearchRecord{})
	return result.RowsAffected, result.Error
}

func (d *SearchRecordDAO) DeleteIndex(ctx context.Context, indexName string) error {
	return d.DB.WithContext(ctx).
		Where("index_name = ?", indexName).
		Delete(&model.SearchRecord{}).Error
}

type searchRow struct {
	PK          string
	PageContent string
	Metadata    datatypes.JSON
	Score       float64
}

// Search 关键词检索，filter 为元数据等值过滤
func (d *SearchRecordDAO) Search(ctx context.Context, indexName, query string, filter map[string]any, limit int) ([]model.SearchHit, error) {
	db := d.DB.WithContext(ctx).
		Model(&model.SearchRecord{}).
		Select("pk, page_content, metadata, "+matchAgainst+" AS score", query).
		Where("index_name = ?", indexName).
		Where(matchAgainst, query)
	db = applyMetadataFilter(db, filter)

	var rows []searchRow
	if err := db.Order("score DESC").Limit(limit).Scan(&rows).Error; err != nil {
		return nil, err
	}

	hits := make([]model.SearchHit, 0, len(rows))
	for _, row := range rows {
		metadata, err := decodeMetadata(row.Metadata)
		if err != nil {
			return nil, err
		}
		hits = append(hits, model.SearchHit{
			PK:          row.PK,
			PageContent: row.PageContent,
			Metadata:    metadata,
			Score:       row.Score,
		})
	}
	return hits, nil
}

// Get 按主键批量读取，返回顺序不保证
func (d *SearchRecordDAO) Get(ctx context.Context, indexName string, pks []string) ([]model.Record, error) {
	if len(pks) == 0 {
		return nil, nil
	}
	var rows []model.SearchRecord
	if err := d.DB.WithContext(ctx).
		Where("index_name = ? AND pk IN ?", indexName, pks).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	records := make([]model.Record, 0, len(rows))
	for _, row := range rows {
		metadata, err := decodeMetadata(row.Metadata)
		if err != nil {
			return nil, err
		}
		records = append(records, model.Record{
			PK:          row.PK,
			PageContent: row.PageContent,
			Metadata:    metadata,
		})
	}
	return records, nil
}

// ListKeys 按 pk 升序分页列出主键，afterPK 为空时从头开始
func (d *SearchRecordDAO) ListKeys(ctx context.Context, indexName, afterPK string, limit int) ([]string, error) {
	var pks []string
	if err := d.DB.WithContext(ctx).
		Model(&model.SearchRecord{}).
		Where("index_name = ? AND pk > ?", indexName, afterPK).
		Order("pk ASC").
		Limit(limit).
		Pluck("pk", &pks).Error; err != nil {
		return nil, err
	}
	return pks, nil
}

func applyMetadataFilter(db *gorm.DB, filter map[string]any) *gorm.DB {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		db = db.Where("JSON_UNQUOTE(JSON_EXTRACT(metadata, ?)) = ?", "$."+strconv.Quote(k), fmt.Sprint(filter[k]))
	}
	return db
}

func decodeMetadata(data datatypes.JSON) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}
