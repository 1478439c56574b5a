package request

import "knowledge-base-backend/model"

type CreateCollectionRequest struct {
	Name           string `json:"name" binding:"required"`
	DisplayName    string `json:"displayName"`
	Description    string `json:"description"`
	Logo           string `json:"logo"`
	EmbeddingModel string `json:"embeddingModel" binding:"required"`
}

// UpdateCollectionRequest 未出现的字段保持不变
type UpdateCollectionRequest struct {
	DisplayName *string `json:"displayName"`
	Description *string `json:"description"`
	Logo        *string `json:"logo"`
}

// ImportRequest fileUrl 与 ossObject 二选一
type ImportRequest struct {
	TaskID          string                 `json:"taskId"`
	FileURL         string                 `json:"fileUrl"`
	OSSObject       *model.OSSObject       `json:"ossObject"`
	EmbeddingModel  string                 `json:"embeddingModel"`
	Metadata        map[string]any         `json:"metadata"`
	ChunkSize       int                    `json:"chunkSize"`
	ChunkOverlap    int                    `json:"chunkOverlap"`
	Separator       string                 `json:"separator"`
	PreProcessRules []model.PreProcessRule `json:"preProcessRules"`
	JQSchema        string                 `json:"jqSchema"`
}

type IngestTextRequest struct {
	Text           string         `json:"text" binding:"required"`
	Metadata       map[string]any `json:"metadata"`
	EmbeddingModel string         `json:"embeddingModel"`
	ChunkSize      int            `json:"chunkSize"`
	ChunkOverlap   int            `json:"chunkOverlap"`
	Separator      string         `json:"separator"`
}

type UpsertRecordRequest struct {
	Text           string         `json:"text" binding:"required"`
	Metadata       map[string]any `json:"metadata"`
	EmbeddingModel string         `json:"embeddingModel"`
}

type SearchRequest struct {
	Query          string         `json:"query" binding:"required"`
	TopK           int            `json:"topK"`
	Filter         map[string]any `json:"filter"`
	EmbeddingModel string         `json:"embeddingModel"`
}

// QueryRecordsRequest expr 为向量库过滤表达式
type QueryRecordsRequest struct {
	Expr   string         `json:"expr"`
	Filter map[string]any `json:"filter"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
}

type RerankRequest struct {
	Query          string   `json:"query" binding:"required"`
	Documents      []string `json:"documents"`
	TopK           int      `json:"topK"`
	EmbeddingModel string   `json:"embeddingModel"`
	CollectionName string   `json:"collectionName"`
}
