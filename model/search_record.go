package model

import (
	"time"

	"gorm.io/datatypes"
)

// SearchRecord 全文检索库中的一条记录，主键 (index_name, pk)
// 在 page_content 上建立 ngram 全文索引
type SearchRecord struct {
	IndexName   string         `gorm:"primaryKey;size:255" json:"index_name"`
	PK          string         `gorm:"primaryKey;column:pk;size:100" json:"pk"`
	PageContent string         `gorm:"type:longtext;not null;index:idx_fulltext_page_content,class:FULLTEXT,option:WITH PARSER ngram" json:"page_content"`
	Metadata    datatypes.JSON `gorm:"type:json" json:"metadata"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (SearchRecord) TableName() string {
	return "search_record"
}
