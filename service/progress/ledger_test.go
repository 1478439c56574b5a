package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"knowledge-base-backend/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger() (*Ledger, *MemoryStore) {
	store := NewMemoryStore()
	return NewLedger(store, nil), store
}

func TestLedger_ProgressLifecycle(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger()

	require.NoError(t, ledger.CreateTask(ctx, "team", "docs", "t1"))

	task, err := ledger.GetTask(ctx, "team", "docs", "t1")
	require.NoError(t, err)
	assert.Empty(t, task.Events)
	assert.False(t, task.Terminal())

	require.NoError(t, ledger.AppendProgress(ctx, "t1", 0.1, "downloaded"))
	require.NoError(t, ledger.AppendProgress(ctx, "t1", 0.3, "parsed"))
	require.NoError(t, ledger.AppendProgress(ctx, "t1", 1.0, "imported 2 records"))

	task, err = ledger.GetTask(ctx, "team", "docs", "t1")
	require.NoError(t, err)
	require.Len(t, task.Events, 3)
	assert.Equal(t, model.TaskStatusInProgress, task.Events[0].Status)
	assert.Equal(t, model.TaskStatusInProgress, task.Events[1].Status)
	assert.Equal(t, model.TaskStatusCompleted, task.Events[2].Status)
	assert.Equal(t, 1.0, *task.Events[2].Progress)
	assert.True(t, task.Terminal())
}

func TestLedger_RejectsAppendAfterTerminal(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger()

	require.NoError(t, ledger.CreateTask(ctx, "team", "docs", "t1"))
	require.NoError(t, ledger.AppendFailure(ctx, "t1", "failed to download file"))

	err := ledger.AppendProgress(ctx, "t1", 0.5, "late")
	assert.ErrorIs(t, err, ErrTaskTerminal)
	err = ledger.AppendFailure(ctx, "t1", "again")
	assert.ErrorIs(t, err, ErrTaskTerminal)

	task, err := ledger.GetTask(ctx, "team", "docs", "t1")
	require.NoError(t, err)
	require.Len(t, task.Events, 1)
	assert.Equal(t, model.TaskStatusFailed, task.Events[0].Status)
	assert.Nil(t, task.Events[0].Progress)
}

func TestLedger_ClampsProgress(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger()
	require.NoError(t, ledger.CreateTask(ctx, "team", "docs", "t1"))

	require.NoError(t, ledger.AppendProgress(ctx, "t1", -1, "negative"))
	require.NoError(t, ledger.AppendProgress(ctx, "t1", 3, "overflow"))

	task, err := ledger.GetTask(ctx, "team", "docs", "t1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, *task.Events[0].Progress)
	assert.Equal(t, 1.0, *task.Events[1].Progress)
	assert.Equal(t, model.TaskStatusCompleted, task.Events[1].Status)
}

func TestLedger_NotFound(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger()

	_, err := ledger.GetTask(ctx, "team", "docs", "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	err = ledger.AppendProgress(ctx, "missing", 0.1, "x")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	require.NoError(t, ledger.CreateTask(ctx, "team", "docs", "t1"))
	_, err = ledger.GetTask(ctx, "other-team", "docs", "t1")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	assert.ErrorIs(t, ledger.CreateTask(ctx, "team", "docs", "t1"), ErrTaskExists)
}

func TestLedger_ListTasksNewestFirst(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	require.NoError(t, ledger.CreateTask(ctx, "team", "docs", "t1"))
	require.NoError(t, ledger.CreateTask(ctx, "team", "docs", "t2"))
	require.NoError(t, ledger.CreateTask(ctx, "team", "other", "t3"))

	tasks, err := ledger.ListTasks(ctx, "team", "docs")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "t2", tasks[0].TaskID)
	assert.Equal(t, "t1", tasks[1].TaskID)
}

func TestLedger_ConcurrentTerminalAppends(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger()
	require.NoError(t, ledger.CreateTask(ctx, "team", "docs", "t1"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ledger.AppendFailure(ctx, "t1", "boom")
		}()
	}
	wg.Wait()

	task, err := ledger.GetTask(ctx, "team", "docs", "t1")
	require.NoError(t, err)
	assert.Len(t, task.Events, 1)

	terminal, err := ledger.IsTerminal(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, terminal)
}

func TestLedger_WatchStreamsUntilTerminal(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger()
	require.NoError(t, ledger.CreateTask(ctx, "team", "docs", "t1"))
	require.NoError(t, ledger.AppendProgress(ctx, "t1", 0.1, "downloaded"))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = ledger.AppendProgress(ctx, "t1", 0.3, "parsed")
		time.Sleep(20 * time.Millisecond)
		_ = ledger.AppendFailure(ctx, "t1", "boom")
	}()

	var messages []string
	err := ledger.Watch(ctx, "team", "docs", "t1", 5*time.Millisecond, func(e model.ImportTaskEvent) error {
		messages = append(messages, e.Message)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"downloaded", "parsed", "boom"}, messages)
}

func TestLedger_WatchStopsOnContext(t *testing.T) {
	ledger, _ := newTestLedger()
	require.NoError(t, ledger.CreateTask(context.Background(), "team", "docs", "t1"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := ledger.Watch(ctx, "team", "docs", "t1", 5*time.Millisecond, func(model.ImportTaskEvent) error {
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = ledger.Watch(context.Background(), "team", "docs", "missing", 0, func(model.ImportTaskEvent) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrTaskNotFound)
}
