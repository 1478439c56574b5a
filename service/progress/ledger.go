package progress

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"knowledge-base-backend/dao"
	"knowledge-base-backend/model"
)

const defaultWatchInterval = time.Second

var (
	ErrTaskNotFound = dao.ErrTaskNotFound
	ErrTaskTerminal = dao.ErrTaskTerminal
	ErrTaskExists   = dao.ErrTaskExists
)

// Store 账本的持久化层，AppendEvent 必须原子地完成终态检查与写入
type Store interface {
	CreateTask(ctx context.Context, task *model.ImportTask) error
	AppendEvent(ctx context.Context, event *model.ImportTaskEvent) error
	ListTasks(ctx context.Context, teamID, collectionName string) ([]model.ImportTask, error)
	GetTask(ctx context.Context, teamID, collectionName, taskID string) (*model.ImportTask, error)
	GetTaskByID(ctx context.Context, taskID string) (*model.ImportTask, error)
}

// Ledger 导入任务的进度账本，事件只追加
type Ledger struct {
	store  Store
	logger *slog.Logger
}

func NewLedger(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  store,
		logger: logger.With("component", "progress"),
	}
}

// CreateTask 必须在消息入队之前调用
func (l *Ledger) CreateTask(ctx context.Context, teamID, collectionName, taskID string) error {
	if taskID == "" {
		return fmt.Errorf("task id is required")
	}
	task := &model.ImportTask{
		TaskID:         taskID,
		TeamID:         teamID,
		CollectionName: collectionName,
	}
	if err := l.store.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("failed to create task %s: %w", taskID, err)
	}
	return nil
}

// AppendProgress progress 小于 1 记为 IN_PROGRESS，否则记为 COMPLETED
func (l *Ledger) AppendProgress(ctx context.Context, taskID string, progress float64, message string) error {
	progress = clamp(progress)
	status := model.TaskStatusInProgress
	if progress >= 1.0 {
		status = model.TaskStatusCompleted
	}
	return l.append(ctx, &model.ImportTaskEvent{
		TaskID:   taskID,
		Status:   status,
		Progress: &progress,
		Message:  message,
	})
}

func (l *Ledger) AppendFailure(ctx context.Context, taskID string, message string) error {
	return l.append(ctx, &model.ImportTaskEvent{
		TaskID:  taskID,
		Status:  model.TaskStatusFailed,
		Message: message,
	})
}

func (l *Ledger) append(ctx context.Context, event *model.ImportTaskEvent) error {
	if err := l.store.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to append %s event to task %s: %w", event.Status, event.TaskID, err)
	}
	l.logger.Debug("progress event appended",
		"task_id", event.TaskID,
		"status", event.Status,
		"message", event.Message,
	)
	return nil
}

func (l *Ledger) ListTasks(ctx context.Context, teamID, collectionName string) ([]model.ImportTask, error) {
	return l.store.ListTasks(ctx, teamID, collectionName)
}

func (l *Ledger) GetTask(ctx context.Context, teamID, collectionName, taskID string) (*model.ImportTask, error) {
	return l.store.GetTask(ctx, teamID, collectionName, taskID)
}

// IsTerminal 消费者据此跳过重复投递的已结束任务
func (l *Ledger) IsTerminal(ctx context.Context, taskID string) (bool, error) {
	task, err := l.store.GetTaskByID(ctx, taskID)
	if err != nil {
		return false, err
	}
	return task.Terminal(), nil
}

func clamp(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// Watch 轮询任务事件，按顺序对新事件调用 fn，任务终结或 ctx 结束时返回
func (l *Ledger) Watch(ctx context.Context, teamID, collectionName, taskID string, interval time.Duration, fn func(model.ImportTaskEvent) error) error {
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sent := 0
	for {
		task, err := l.store.GetTask(ctx, teamID, collectionName, taskID)
		if err != nil {
			return err
		}
		for _, event := range task.Events[min(sent, len(task.Events)):] {
			if err := fn(event); err != nil {
				return err
			}
		}
		sent = len(task.Events)
		if task.Terminal() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
