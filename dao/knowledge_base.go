package dao

import (
	"context"
	"errors"
	"fmt"

	"knowledge-base-backend/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CollectionDAO struct {
	DB *gorm.DB
}

func NewCollectionDAO(db *gorm.DB) *CollectionDAO {
	return &CollectionDAO{DB: db}
}

func (d *CollectionDAO) CreateCollection(ctx context.Context, collection *model.Collection) error {
	return d.DB.WithContext(ctx).Create(collection).Error
}

// CheckNameConflicts 向量库中集合名全局唯一，不区分团队
func (d *CollectionDAO) CheckNameConflicts(ctx context.Context, name string) (bool, error) {
	var count int64
	if err := d.DB.WithContext(ctx).Model(&model.Collection{}).
		Where("name = ? AND is_deleted = ?", name, false).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (d *CollectionDAO) GetCollectionsByTeam(ctx context.Context, teamID string) ([]model.Collection, error) {
	var collections []model.Collection
	if err := d.DB.WithContext(ctx).
		Where("team_id = ? AND is_deleted = ?", teamID, false).
		Order("id DESC").
		Find(&collections).Error; err != nil {
		return nil, err
	}
	return collections, nil
}

// FindCollectionByName 不存在时返回 nil, nil
func (d *CollectionDAO) FindCollectionByName(ctx context.Context, teamID, name string) (*model.Collection, error) {
	var collection model.Collection
	if err := d.DB.WithContext(ctx).
		Where("team_id = ? AND name = ? AND is_deleted = ?", teamID, name, false).
		First(&collection).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &collection, nil
}

func (d *CollectionDAO) DeleteCollectionByName(ctx context.Context, teamID, name string) error {
	return d.DB.WithContext(ctx).Model(&model.Collection{}).
		Where("team_id = ? AND name = ? AND is_deleted = ?", teamID, name, false).
		Update("is_deleted", true).Error
}

// UpdateCollectionByName 只更新非 nil 字段，知识库不存在时返回 ErrCollectionNotFound
func (d *CollectionDAO) UpdateCollectionByName(ctx context.Context, teamID, name string, update model.CollectionUpdate) error {
	updates := make(map[string]any, 3)
	if update.DisplayName != nil {
		updates["display_name"] = *update.DisplayName
	}
	if update.Description != nil {
		updates["description"] = *update.Description
	}
	if update.Logo != nil {
		updates["logo"] = *update.Logo
	}
	if len(updates) == 0 {
		return nil
	}

	return d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var collection model.Collection
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("team_id = ? AND name = ? AND is_deleted = ?", teamID, name, false).
			First(&collection).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCollectionNotFound
			}
			return err
		}
		return tx.Model(&collection).Updates(updates).Error
	})
}

// RegisterMetadataFieldsIfAbsent 将未登记的元数据字段追加到知识库，返回新增的字段名
// 在事务内对知识库行加锁，避免并发导入互相覆盖
func (d *CollectionDAO) RegisterMetadataFieldsIfAbsent(ctx context.Context, teamID, name string, fieldNames []string) ([]string, error) {
	var added []string
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var collection model.Collection
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("team_id = ? AND name = ? AND is_deleted = ?", teamID, name, false).
			First(&collection).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCollectionNotFound
			}
			return err
		}

		fields, err := collection.Fields()
		if err != nil {
			return err
		}

		fields, added = mergeMetadataFields(fields, fieldNames)
		if len(added) == 0 {
			return nil
		}

		if err := collection.SetFields(fields); err != nil {
			return err
		}
		if err := tx.Model(&collection).Update("metadata_fields", collection.MetadataFields).Error; err != nil {
			return fmt.Errorf("failed to update metadata fields: %v", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

func mergeMetadataFields(fields []model.MetadataField, fieldNames []string) ([]model.MetadataField, []string) {
	existing := make(map[string]bool, len(fields))
	for _, f := range fields {
		existing[f.Name] = true
	}

	var added []string
	for _, name := range fieldNames {
		if name == "" || existing[name] {
			continue
		}
		existing[name] = true
		added = append(added, name)
		fields = append(fields, model.MetadataField{
			Name:        name,
			DisplayName: name,
		})
	}
	return fields, added
}
