package model

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// 内置元数据字段
const (
	MetadataUserID     = "userId"
	MetadataWorkflowID = "workflowId"
	MetadataCreatedAt  = "createdAt"
	MetadataFileURL    = "fileUrl"
	MetadataSource     = "source"
)

type MetadataField struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	BuiltIn     bool   `json:"builtIn"`
	Required    bool   `json:"required"`
}

// Collection 知识库（向量集合）元数据
// 建立联合索引 (team_id, name)，软删除后允许重名
type Collection struct {
	ID             uint           `gorm:"primarykey" json:"id"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
	CreatorUserID  string         `gorm:"not null" json:"creator_user_id"`
	TeamID         string         `gorm:"not null;size:64;index:idx_team_name" json:"team_id"`
	Name           string         `gorm:"not null;size:128;index:idx_team_name" json:"name"`
	DisplayName    string         `json:"display_name"`
	Description    string         `gorm:"type:text" json:"description"`
	Logo           string         `gorm:"size:512" json:"logo"`
	EmbeddingModel string         `gorm:"not null" json:"embedding_model"`
	Dimension      int            `gorm:"not null" json:"dimension"`
	MetadataFields datatypes.JSON `gorm:"type:json" json:"metadata_fields"`
	IsDeleted      bool           `gorm:"not null;default:false" json:"is_deleted"`
}

// CollectionUpdate 为 nil 的字段保持不变
type CollectionUpdate struct {
	DisplayName *string
	Description *string
	Logo        *string
}

func (u CollectionUpdate) Empty() bool {
	return u.DisplayName == nil && u.Description == nil && u.Logo == nil
}

func (c *Collection) Apply(u CollectionUpdate) {
	if u.DisplayName != nil {
		c.DisplayName = *u.DisplayName
	}
	if u.Description != nil {
		c.Description = *u.Description
	}
	if u.Logo != nil {
		c.Logo = *u.Logo
	}
}

func (Collection) TableName() string {
	return "vector_collection"
}

func (c *Collection) Fields() ([]MetadataField, error) {
	if len(c.MetadataFields) == 0 {
		return nil, nil
	}
	var fields []MetadataField
	if err := json.Unmarshal(c.MetadataFields, &fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata fields: %v", err)
	}
	return fields, nil
}

func (c *Collection) SetFields(fields []MetadataField) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata fields: %v", err)
	}
	c.MetadataFields = datatypes.JSON(data)
	return nil
}

// BuiltInMetadataFields 新建知识库时写入的内置字段
func BuiltInMetadataFields() []MetadataField {
	return []MetadataField{
		{
			Name:        MetadataUserID,
			DisplayName: "创建此向量的用户 ID",
			Description: "创建此向量的用户 ID",
			BuiltIn:     true,
			Required:    true,
		},
		{
			Name:        MetadataWorkflowID,
			DisplayName: "工作流 ID",
			Description: "当此向量是通过工作流创建的时候会包含，为创建此向量的工作流 ID",
			BuiltIn:     true,
		},
		{
			Name:        MetadataCreatedAt,
			DisplayName: "创建时间",
			Description: "Unix 时间戳",
			BuiltIn:     true,
			Required:    true,
		},
		{
			Name:        MetadataFileURL,
			DisplayName: "来源文件链接",
			Description: "当通过文件导入时会包含此值，为来源文件的链接",
			BuiltIn:     true,
		},
	}
}
