package progress

import (
	"context"
	"sort"
	"sync"
	"time"

	"knowledge-base-backend/model"
)

// MemoryStore 单进程模式与测试使用的账本存储
type MemoryStore struct {
	mu     sync.Mutex
	tasks  map[string]*model.ImportTask
	order  []string
	nextID uint
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*model.ImportTask),
		now:   time.Now,
	}
}

func (s *MemoryStore) CreateTask(_ context.Context, task *model.ImportTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.TaskID]; ok {
		return ErrTaskExists
	}
	s.nextID++
	task.ID = s.nextID
	if task.CreatedAt.IsZero() {
		task.CreatedAt = s.now()
	}
	stored := *task
	stored.Events = nil
	s.tasks[task.TaskID] = &stored
	s.order = append(s.order, task.TaskID)
	return nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, event *model.ImportTaskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[event.TaskID]
	if !ok {
		return ErrTaskNotFound
	}
	if task.Terminal() {
		return ErrTaskTerminal
	}
	s.nextID++
	event.ID = s.nextID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	task.Events = append(task.Events, *event)
	return nil
}

func (s *MemoryStore) ListTasks(_ context.Context, teamID, collectionName string) ([]model.ImportTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []model.ImportTask
	for _, id := range s.order {
		task := s.tasks[id]
		if task.TeamID == teamID && task.CollectionName == collectionName {
			tasks = append(tasks, copyTask(task))
		}
	}
	// 新任务在前
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID > tasks[j].ID
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (s *MemoryStore) GetTask(_ context.Context, teamID, collectionName, taskID string) (*model.ImportTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok || task.TeamID != teamID || task.CollectionName != collectionName {
		return nil, ErrTaskNotFound
	}
	t := copyTask(task)
	return &t, nil
}

func (s *MemoryStore) GetTaskByID(_ context.Context, taskID string) (*model.ImportTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	t := copyTask(task)
	return &t, nil
}

func copyTask(task *model.ImportTask) model.ImportTask {
	t := *task
	t.Events = append([]model.ImportTaskEvent(nil), task.Events...)
	return t
}
