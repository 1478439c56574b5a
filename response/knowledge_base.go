package response

import (
	"time"

	"knowledge-base-backend/model"
)

type CollectionResponse struct {
	Name           string                `json:"name"`
	DisplayName    string                `json:"displayName"`
	Description    string                `json:"description"`
	Logo           string                `json:"logo"`
	EmbeddingModel string                `json:"embeddingModel"`
	Dimension      int                   `json:"dimension"`
	MetadataFields []model.MetadataField `json:"metadataFields"`
	CreatedAt      time.Time             `json:"createdAt"`
}

func NewCollectionResponse(c *model.Collection) (CollectionResponse, error) {
	fields, err := c.Fields()
	if err != nil {
		return CollectionResponse{}, err
	}
	return CollectionResponse{
		Name:           c.Name,
		DisplayName:    c.DisplayName,
		Description:    c.Description,
		Logo:           c.Logo,
		EmbeddingModel: c.EmbeddingModel,
		Dimension:      c.Dimension,
		MetadataFields: fields,
		CreatedAt:      c.CreatedAt,
	}, nil
}

type GetCollectionsResponse struct {
	Collections []CollectionResponse `json:"collections"`
}

type SubmitImportResponse struct {
	TaskID string `json:"taskId"`
}

type EventResponse struct {
	Timestamp time.Time        `json:"timestamp"`
	Status    model.TaskStatus `json:"status"`
	Progress  *float64         `json:"progress,omitempty"`
	Message   string           `json:"message"`
}

// TaskResponse 导入任务的进度记录
type TaskResponse struct {
	TeamID         string          `json:"teamId"`
	CollectionName string          `json:"collectionName"`
	TaskID         string          `json:"taskId"`
	CreatedAt      time.Time       `json:"createdAt"`
	Events         []EventResponse `json:"events"`
}

func NewTaskResponse(task *model.ImportTask) TaskResponse {
	events := make([]EventResponse, 0, len(task.Events))
	for _, e := range task.Events {
		events = append(events, NewEventResponse(e))
	}
	return TaskResponse{
		TeamID:         task.TeamID,
		CollectionName: task.CollectionName,
		TaskID:         task.TaskID,
		CreatedAt:      task.CreatedAt,
		Events:         events,
	}
}

func NewEventResponse(e model.ImportTaskEvent) EventResponse {
	return EventResponse{
		Timestamp: e.CreatedAt,
		Status:    e.Status,
		Progress:  e.Progress,
		Message:   e.Message,
	}
}

type GetTasksResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}

type IngestTextResponse struct {
	Count int      `json:"count"`
	PKs   []string `json:"pks"`
}

type RecordResponse struct {
	PK string `json:"pk"`
}

type SearchResponse struct {
	Hits []model.SearchHit `json:"hits"`
}

type QueryRecordsResponse struct {
	Records []model.Record `json:"records"`
}

// RerankItem Index 为文档在请求中的下标
type RerankItem struct {
	Index    int     `json:"index"`
	Document string  `json:"document"`
	Score    float64 `json:"score"`
}

type RerankResponse struct {
	Results []RerankItem `json:"results"`
}
