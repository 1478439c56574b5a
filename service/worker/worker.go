package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"knowledge-base-backend/model"
	"knowledge-base-backend/service/mq"

	"golang.org/x/sync/errgroup"
)

// ErrDrainTimeout 关闭时在途任务超过排空时间，任务被中止
var ErrDrainTimeout = errors.New("drain timeout exceeded during shutdown")

type Runner interface {
	Run(ctx context.Context, msg *model.ImportMessage) (int, error)
}

// TaskLedger 查询任务状态，并为无法处理的消息记录 FAILED 事件
type TaskLedger interface {
	IsTerminal(ctx context.Context, taskID string) (bool, error)
	AppendFailure(ctx context.Context, taskID string, message string) error
}

const failureWriteTimeout = 10 * time.Second

type Config struct {
	Consumers    int
	DrainTimeout time.Duration
}

// Worker 从队列取导入消息交给流水线处理，每个消费循环同一时刻只处理一条消息
type Worker struct {
	broker mq.Broker
	runner Runner
	tasks  TaskLedger
	cfg    Config
	logger *slog.Logger
}

func New(broker mq.Broker, runner Runner, tasks TaskLedger, cfg Config, logger *slog.Logger) *Worker {
	if cfg.Consumers <= 0 {
		cfg.Consumers = 1
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		broker: broker,
		runner: runner,
		tasks:  tasks,
		cfg:    cfg,
		logger: logger.With("component", "worker"),
	}
}

// Run 阻塞直到 ctx 结束且所有在途任务处理完毕
// ctx 结束后不再取新消息，在途任务最多再运行 DrainTimeout
func (w *Worker) Run(ctx context.Context) error {
	// 在途任务不随 ctx 取消，超过排空时间后以 ErrDrainTimeout 取消
	runCtx, cancelRun := context.WithCancelCause(context.WithoutCancel(ctx))
	defer cancelRun(nil)

	stopDrain := context.AfterFunc(ctx, func() {
		w.logger.Info("worker draining", "timeout", w.cfg.DrainTimeout)
		timer := time.NewTimer(w.cfg.DrainTimeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancelRun(ErrDrainTimeout)
		case <-runCtx.Done():
		}
	})
	defer stopDrain()

	g := new(errgroup.Group)
	for i := range w.cfg.Consumers {
		g.Go(func() error {
			return w.loop(ctx, runCtx, i)
		})
	}
	err := g.Wait()
	w.logger.Info("worker stopped")
	return err
}

func (w *Worker) loop(ctx, runCtx context.Context, id int) error {
	logger := w.logger.With("consumer", id)
	for {
		delivery, err := w.broker.Consume(ctx, mq.QueueProcessFile)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, mq.ErrBrokerClosed) {
				return nil
			}
			logger.Error("failed to consume message", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		w.handle(runCtx, logger, delivery)
	}
}

// handle 无论成功与否都确认消息，失败已记入账本，不自动重试
func (w *Worker) handle(ctx context.Context, logger *slog.Logger, delivery *mq.Delivery) {
	defer delivery.Ack()

	var msg model.ImportMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		logger.Error("dropping malformed message", "message_id", delivery.ID, "err", err)
		return
	}
	if err := msg.Validate(); err != nil {
		logger.Error("dropping invalid message", "message_id", delivery.ID, "task_id", msg.TaskID, "err", err)
		if msg.TaskID != "" {
			w.fail(ctx, logger, msg.TaskID, "invalid import message: "+err.Error())
		}
		return
	}

	terminal, err := w.tasks.IsTerminal(ctx, msg.TaskID)
	if err != nil {
		logger.Warn("failed to check task state", "task_id", msg.TaskID, "err", err)
	} else if terminal {
		logger.Info("skipping finished task", "task_id", msg.TaskID)
		return
	}

	if _, err := w.runner.Run(ctx, &msg); err != nil {
		// 流水线已记录 FAILED 事件
		logger.Debug("task run returned error", "task_id", msg.TaskID, "err", err)
	}
}

// fail 在确认消息前写入 FAILED 事件，任务已终态或不存在时只记日志
func (w *Worker) fail(ctx context.Context, logger *slog.Logger, taskID, message string) {
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	if err := w.tasks.AppendFailure(failCtx, taskID, message); err != nil {
		logger.Warn("failed to record task failure", "task_id", taskID, "err", err)
	}
}
