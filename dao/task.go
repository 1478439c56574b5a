package dao

import (
	"context"
	"errors"

	"knowledge-base-backend/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TaskDAO struct {
	DB *gorm.DB
}

func NewTaskDAO(db *gorm.DB) *TaskDAO {
	return &TaskDAO{DB: db}
}

// CreateTask task_id 唯一，重复时返回 ErrTaskExists
func (d *TaskDAO) CreateTask(ctx context.Context, task *model.ImportTask) error {
	err := d.DB.WithContext(ctx).Omit("Events").Create(task).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrTaskExists
	}
	return err
}

// AppendEvent 锁住任务行后检查最后一条事件，任务已终结时返回 ErrTaskTerminal
func (d *TaskDAO) AppendEvent(ctx context.Context, event *model.ImportTaskEvent) error {
	return d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task model.ImportTask
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("task_id = ?", event.TaskID).
			First(&task).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTaskNotFound
			}
			return err
		}

		var last model.ImportTaskEvent
		err := tx.Where("task_id = ?", event.TaskID).
			Order("id DESC").
			First(&last).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		case last.Status.Terminal():
			return ErrTaskTerminal
		}

		return tx.Create(event).Error
	})
}

func (d *TaskDAO) ListTasks(ctx context.Context, teamID, collectionName string) ([]model.ImportTask, error) {
	var tasks []model.ImportTask
	if err := d.DB.WithContext(ctx).
		Preload("Events", orderEvents).
		Where("team_id = ? AND collection_name = ?", teamID, collectionName).
		Order("created_at DESC, id DESC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (d *TaskDAO) GetTask(ctx context.Context, teamID, collectionName, taskID string) (*model.ImportTask, error) {
	var task model.ImportTask
	if err := d.DB.WithContext(ctx).
		Preload("Events", orderEvents).
		Where("team_id = ? AND collection_name = ? AND task_id = ?", teamID, collectionName, taskID).
		First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

// GetTaskByID 消费者仅凭 task_id 查询任务状态
func (d *TaskDAO) GetTaskByID(ctx context.Context, taskID string) (*model.ImportTask, error) {
	var task model.ImportTask
	if err := d.DB.WithContext(ctx).
		Preload("Events", orderEvents).
		Where("task_id = ?", taskID).
		First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

func orderEvents(db *gorm.DB) *gorm.DB {
	return db.Order("id ASC")
}
