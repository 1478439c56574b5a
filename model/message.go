package model

import (
	"fmt"
	"path"
	"strings"
)

// OSSObject 对象存储中的文件
type OSSObject struct {
	Bucket     string `json:"bucket"`
	ObjectName string `json:"object_name"`
	Region     string `json:"region,omitempty"`
}

type PreProcessRule struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

// ImportMessage 导入任务的队列消息，消费者仅凭消息本身即可完成处理
type ImportMessage struct {
	AppID           string           `json:"app_id"`
	TeamID          string           `json:"team_id"`
	UserID          string           `json:"user_id"`
	CollectionName  string           `json:"collection_name"`
	EmbeddingModel  string           `json:"embedding_model"`
	FileURL         string           `json:"file_url,omitempty"`
	OSSObject       *OSSObject       `json:"oss_object,omitempty"`
	Metadata        map[string]any   `json:"metadata"`
	TaskID          string           `json:"task_id"`
	ChunkSize       int              `json:"chunk_size"`
	ChunkOverlap    int              `json:"chunk_overlap"`
	Separator       string           `json:"separator"`
	PreProcessRules []PreProcessRule `json:"pre_process_rules"`
	JQSchema        string           `json:"jqSchema,omitempty"`
}

// Source 文件来源的可读标识，写入 chunk 元数据
func (m *ImportMessage) Source() string {
	if m.FileURL != "" {
		return m.FileURL
	}
	if m.OSSObject != nil {
		return fmt.Sprintf("oss://%s/%s", m.OSSObject.Bucket, strings.TrimPrefix(m.OSSObject.ObjectName, "/"))
	}
	return ""
}

// FileName 来源文件名，用于按扩展名选择解析器
func (m *ImportMessage) FileName() string {
	if m.OSSObject != nil {
		return path.Base(m.OSSObject.ObjectName)
	}
	src := m.FileURL
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		src = src[:i]
	}
	return path.Base(src)
}

func (m *ImportMessage) Validate() error {
	if m.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if m.TeamID == "" || m.CollectionName == "" {
		return fmt.Errorf("team_id and collection_name are required")
	}
	if m.FileURL == "" && m.OSSObject == nil {
		return fmt.Errorf("either file_url or oss_object is required")
	}
	if m.ChunkSize < 0 || m.ChunkOverlap < 0 {
		return fmt.Errorf("chunk_size and chunk_overlap must not be negative")
	}
	if m.ChunkSize > 0 && m.ChunkOverlap >= m.ChunkSize {
		return fmt.Errorf("chunk_overlap must be smaller than chunk_size")
	}
	return nil
}
