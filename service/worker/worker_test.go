package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"knowledge-base-backend/model"
	"knowledge-base-backend/service/mq"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu      sync.Mutex
	runs    []string
	causes  []error
	started chan string
	release chan struct{}
}

func (r *fakeRunner) Run(ctx context.Context, msg *model.ImportMessage) (int, error) {
	if r.started != nil {
		r.started <- msg.TaskID
	}
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, msg.TaskID)
	r.causes = append(r.causes, context.Cause(ctx))
	return 1, nil
}

func (r *fakeRunner) snapshot() ([]string, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.runs...), append([]error(nil), r.causes...)
}

type fakeTasks struct {
	mu       sync.Mutex
	terminal map[string]bool
	failures map[string]string
}

func (f *fakeTasks) IsTerminal(_ context.Context, taskID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminal[taskID], nil
}

func (f *fakeTasks) AppendFailure(_ context.Context, taskID string, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.terminal == nil {
		f.terminal = make(map[string]bool)
	}
	if f.failures == nil {
		f.failures = make(map[string]string)
	}
	f.terminal[taskID] = true
	f.failures[taskID] = message
	return nil
}

func (f *fakeTasks) failure(taskID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.failures[taskID]
	return msg, ok
}

func message(taskID string) *model.ImportMessage {
	return &model.ImportMessage{
		TeamID:         "team",
		CollectionName: "c1",
		FileURL:        "https://example.com/file.txt",
		TaskID:         taskID,
	}
}

func startWorker(t *testing.T, w *Worker) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return cancel, done
}

func waitStopped(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_ProcessesMessagesInOrder(t *testing.T) {
	broker := mq.NewMemoryBroker()
	ctx := context.Background()
	for _, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, broker.Submit(ctx, mq.QueueProcessFile, message(id)))
	}

	runner := &fakeRunner{}
	w := New(broker, runner, &fakeTasks{}, Config{Consumers: 1}, nil)
	cancel, done := startWorker(t, w)

	require.Eventually(t, func() bool {
		runs, _ := runner.snapshot()
		return len(runs) == 3
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	waitStopped(t, done)

	runs, _ := runner.snapshot()
	assert.Equal(t, []string{"t1", "t2", "t3"}, runs)
	assert.Zero(t, broker.Len(mq.QueueProcessFile))
}

func TestWorker_SkipsTerminalTasks(t *testing.T) {
	broker := mq.NewMemoryBroker()
	ctx := context.Background()
	require.NoError(t, broker.Submit(ctx, mq.QueueProcessFile, message("done")))
	require.NoError(t, broker.Submit(ctx, mq.QueueProcessFile, message("fresh")))

	runner := &fakeRunner{}
	w := New(broker, runner, &fakeTasks{terminal: map[string]bool{"done": true}}, Config{}, nil)
	cancel, done := startWorker(t, w)

	require.Eventually(t, func() bool {
		runs, _ := runner.snapshot()
		return len(runs) == 1
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	waitStopped(t, done)

	runs, _ := runner.snapshot()
	assert.Equal(t, []string{"fresh"}, runs)
	assert.Zero(t, broker.Len(mq.QueueProcessFile))
}

func TestWorker_AcksMalformedMessages(t *testing.T) {
	broker := mq.NewMemoryBroker()
	ctx := context.Background()
	require.NoError(t, broker.Submit(ctx, mq.QueueProcessFile, "not an import message"))
	require.NoError(t, broker.Submit(ctx, mq.QueueProcessFile, map[string]any{"task_id": "no-source"}))
	badChunking := message("bad-chunking")
	badChunking.ChunkSize = 100
	badChunking.ChunkOverlap = 200
	require.NoError(t, broker.Submit(ctx, mq.QueueProcessFile, badChunking))
	require.NoError(t, broker.Submit(ctx, mq.QueueProcessFile, message("valid")))

	runner := &fakeRunner{}
	tasks := &fakeTasks{}
	w := New(broker, runner, tasks, Config{}, nil)
	cancel, done := startWorker(t, w)

	require.Eventually(t, func() bool {
		runs, _ := runner.snapshot()
		return len(runs) == 1
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	waitStopped(t, done)

	runs, _ := runner.snapshot()
	assert.Equal(t, []string{"valid"}, runs)
	assert.Zero(t, broker.Len(mq.QueueProcessFile))

	// 带 task_id 的非法消息让任务进入终态，不会一直停在 PENDING
	reason, ok := tasks.failure("bad-chunking")
	require.True(t, ok)
	assert.Contains(t, reason, "chunk_overlap must be smaller than chunk_size")
	terminal, err := tasks.IsTerminal(ctx, "bad-chunking")
	require.NoError(t, err)
	assert.True(t, terminal)

	reason, ok = tasks.failure("no-source")
	require.True(t, ok)
	assert.Contains(t, reason, "team_id and collection_name are required")
	_, ok = tasks.failure("valid")
	assert.False(t, ok)
}

func TestWorker_InFlightTaskFinishesAfterShutdown(t *testing.T) {
	broker := mq.NewMemoryBroker()
	require.NoError(t, broker.Submit(context.Background(), mq.QueueProcessFile, message("slow")))

	runner := &fakeRunner{
		started: make(chan string, 1),
		release: make(chan struct{}),
	}
	w := New(broker, runner, &fakeTasks{}, Config{DrainTimeout: time.Minute}, nil)
	cancel, done := startWorker(t, w)

	<-runner.started
	cancel()
	close(runner.release)
	waitStopped(t, done)

	runs, causes := runner.snapshot()
	assert.Equal(t, []string{"slow"}, runs)
	assert.Nil(t, causes[0])
}

func TestWorker_DrainTimeoutCancelsInFlightTask(t *testing.T) {
	broker := mq.NewMemoryBroker()
	require.NoError(t, broker.Submit(context.Background(), mq.QueueProcessFile, message("stuck")))

	runner := &fakeRunner{
		started: make(chan string, 1),
		release: make(chan struct{}),
	}
	w := New(broker, runner, &fakeTasks{}, Config{DrainTimeout: 50 * time.Millisecond}, nil)
	cancel, done := startWorker(t, w)

	<-runner.started
	cancel()
	waitStopped(t, done)

	runs, causes := runner.snapshot()
	assert.Equal(t, []string{"stuck"}, runs)
	assert.ErrorIs(t, causes[0], ErrDrainTimeout)
}

func TestWorker_ParallelConsumers(t *testing.T) {
	broker := mq.NewMemoryBroker()
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		require.NoError(t, broker.Submit(ctx, mq.QueueProcessFile, message(id)))
	}

	runner := &fakeRunner{
		started: make(chan string, 2),
		release: make(chan struct{}),
	}
	w := New(broker, runner, &fakeTasks{}, Config{Consumers: 2}, nil)
	cancel, done := startWorker(t, w)

	// 两个消费者各持有一条消息
	started := []string{<-runner.started, <-runner.started}
	assert.ElementsMatch(t, []string{"a", "b"}, started)

	close(runner.release)
	cancel()
	waitStopped(t, done)
}

func TestWorker_StopsWhenBrokerClosed(t *testing.T) {
	broker := mq.NewMemoryBroker()
	w := New(broker, &fakeRunner{}, &fakeTasks{}, Config{}, nil)
	cancel, done := startWorker(t, w)
	defer cancel()

	broker.Shutdown()
	waitStopped(t, done)
}
