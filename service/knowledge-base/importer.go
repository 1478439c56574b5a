package knowledgebase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"knowledge-base-backend/model"
	"knowledge-base-backend/service/mq"

	"github.com/google/uuid"
)

var ErrInvalidRequest = errors.New("invalid import request")

// TaskCreator 提交导入任务前在账本中建档
type TaskCreator interface {
	CreateTask(ctx context.Context, teamID, collectionName, taskID string) error
	AppendFailure(ctx context.Context, taskID string, message string) error
}

type CollectionFinder interface {
	FindCollectionByName(ctx context.Context, teamID, name string) (*model.Collection, error)
}

// Importer 接收导入请求：校验、建档、入队
type Importer struct {
	collections CollectionFinder
	ledger      TaskCreator
	broker      mq.Broker
	bucket      string
	newID       func() string
	logger      *slog.Logger
}

// NewImporter bucket 为服务配置的 OSS bucket，OSS 来源只能指向该 bucket 下本团队的前缀
func NewImporter(collections CollectionFinder, ledger TaskCreator, broker mq.Broker, bucket string, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		collections: collections,
		ledger:      ledger,
		broker:      broker,
		bucket:      bucket,
		newID:       uuid.NewString,
		logger:      logger.With("component", "importer"),
	}
}

// SubmitImport 先创建任务再入队，调用方拿到 task id 后立即查询也能查到任务
// 入队失败时任务记为 FAILED
func (i *Importer) SubmitImport(ctx context.Context, msg *model.ImportMessage) (string, error) {
	if msg.TaskID == "" {
		msg.TaskID = i.newID()
	}
	if err := msg.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := i.checkOSSScope(msg); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if _, err := i.collections.FindCollectionByName(ctx, msg.TeamID, msg.CollectionName); err != nil {
		return "", fmt.Errorf("failed to find collection %s: %w", msg.CollectionName, err)
	}

	if err := i.ledger.CreateTask(ctx, msg.TeamID, msg.CollectionName, msg.TaskID); err != nil {
		return "", err
	}

	if err := i.broker.Submit(ctx, mq.QueueProcessFile, msg); err != nil {
		failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
		defer cancel()
		if appendErr := i.ledger.AppendFailure(failCtx, msg.TaskID, fmt.Sprintf("failed to enqueue task: %v", err)); appendErr != nil {
			i.logger.Warn("failed to record enqueue failure", "task_id", msg.TaskID, "err", appendErr)
		}
		return msg.TaskID, fmt.Errorf("failed to enqueue import task: %w", err)
	}

	i.logger.Info("import task submitted",
		"task_id", msg.TaskID,
		"team_id", msg.TeamID,
		"collection", msg.CollectionName,
		"source", msg.Source(),
		"submitted_at", time.Now().Format(time.RFC3339))
	return msg.TaskID, nil
}

// checkOSSScope OSS 对象以服务凭证下载，只允许读取配置的 bucket 中 teamID/ 前缀下的对象
func (i *Importer) checkOSSScope(msg *model.ImportMessage) error {
	if msg.OSSObject != nil {
		bucket := msg.OSSObject.Bucket
		if bucket == "" {
			bucket = i.bucket
		}
		if err := i.checkObject(msg.TeamID, bucket, msg.OSSObject.ObjectName); err != nil {
			return err
		}
	}
	if strings.HasPrefix(msg.FileURL, "oss://") {
		u, err := url.Parse(msg.FileURL)
		if err != nil {
			return fmt.Errorf("invalid oss url: %v", err)
		}
		if err := i.checkObject(msg.TeamID, u.Host, strings.TrimPrefix(u.Path, "/")); err != nil {
			return err
		}
	}
	return nil
}

func (i *Importer) checkObject(teamID, bucket, key string) error {
	if i.bucket == "" || bucket != i.bucket {
		return fmt.Errorf("oss bucket %q is not allowed", bucket)
	}
	if key == "" || path.Clean(key) != key || !strings.HasPrefix(key, teamID+"/") {
		return fmt.Errorf("oss object %q is outside the team prefix", key)
	}
	return nil
}
