package etl

import (
	"maps"
	"strings"

	"knowledge-base-backend/model"
	"knowledge-base-backend/utils"

	"github.com/tmc/langchaingo/schema"
)

// Chunk 切分后的文本片段，主键由文本内容决定
type Chunk struct {
	PageContent string
	Metadata    map[string]any
	PrimaryKey  string
}

// BuildChunks 合并元数据并按主键去重，相同文本只保留第一次出现
// 元数据优先级：base < 解析器元数据 < caller
func BuildChunks(docs []schema.Document, base, caller map[string]any) []Chunk {
	seen := make(map[string]bool, len(docs))
	chunks := make([]Chunk, 0, len(docs))

	for _, doc := range docs {
		if strings.TrimSpace(doc.PageContent) == "" {
			continue
		}
		pk := utils.PrimaryKey(doc.PageContent)
		if seen[pk] {
			continue
		}
		seen[pk] = true

		metadata := make(map[string]any, len(base)+len(doc.Metadata)+len(caller))
		maps.Copy(metadata, base)
		maps.Copy(metadata, doc.Metadata)
		maps.Copy(metadata, caller)

		chunks = append(chunks, Chunk{
			PageContent: doc.PageContent,
			Metadata:    metadata,
			PrimaryKey:  pk,
		})
	}
	return chunks
}

// SourceMetadata 通过文件导入时写入的内置元数据
func SourceMetadata(source string, createdAt int64) map[string]any {
	return map[string]any{
		model.MetadataSource:    source,
		model.MetadataFileURL:   source,
		model.MetadataCreatedAt: createdAt,
	}
}

// Texts 按顺序取出 chunk 文本
func Texts(chunks []Chunk) []string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.PageContent
	}
	return texts
}
