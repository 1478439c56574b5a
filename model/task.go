package model

import "time"

type TaskStatus string

const (
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
)

func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// ImportTask 一次导入任务，创建后不再修改
// 建立联合索引 (team_id, collection_name, created_at)
type ImportTask struct {
	ID             uint              `gorm:"primarykey" json:"-"`
	CreatedAt      time.Time         `gorm:"not null;precision:6;index:idx_team_collection_created" json:"created_at"`
	TaskID         string            `gorm:"not null;size:64;uniqueIndex" json:"task_id"`
	TeamID         string            `gorm:"not null;size:64;index:idx_team_collection_created" json:"team_id"`
	CollectionName string            `gorm:"not null;size:128;index:idx_team_collection_created" json:"collection_name"`
	Events         []ImportTaskEvent `gorm:"foreignKey:TaskID;references:TaskID" json:"events"`
}

func (ImportTask) TableName() string {
	return "import_task"
}

// Terminal 最后一条事件为 COMPLETED 或 FAILED
func (t *ImportTask) Terminal() bool {
	if len(t.Events) == 0 {
		return false
	}
	return t.Events[len(t.Events)-1].Status.Terminal()
}

// ImportTaskEvent 进度账本中的一条记录，只追加
type ImportTaskEvent struct {
	ID        uint       `gorm:"primarykey" json:"-"`
	CreatedAt time.Time  `gorm:"not null;precision:6" json:"timestamp"`
	TaskID    string     `gorm:"not null;size:64;index" json:"task_id"`
	Status    TaskStatus `gorm:"not null;size:16" json:"status"`
	Progress  *float64   `json:"progress,omitempty"`
	Message   string     `gorm:"type:text" json:"message"`
}

func (ImportTaskEvent) TableName() string {
	return "import_task_event"
}
