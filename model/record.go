package model

// Record 写入向量库和全文检索库的一条记录，以 PK 幂等写入
type Record struct {
	PK          string         `json:"pk"`
	PageContent string         `json:"page_content"`
	Embedding   []float32      `json:"-"`
	Metadata    map[string]any `json:"metadata"`
}

// SearchHit 检索结果
type SearchHit struct {
	PK          string         `json:"pk"`
	PageContent string         `json:"page_content"`
	Metadata    map[string]any `json:"metadata"`
	Score       float64        `json:"score"`
}
