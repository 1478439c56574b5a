package knowledgebase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"time"

	"knowledge-base-backend/metrics"
	"knowledge-base-backend/model"
	"knowledge-base-backend/service/embedding"
	"knowledge-base-backend/service/index"
	"knowledge-base-backend/service/knowledge-base/etl"
	"knowledge-base-backend/service/storage"
	"knowledge-base-backend/utils"
)

// 导入进度的检查点
const (
	progressDownloaded = 0.1
	progressParsed     = 0.3
	progressEmbedded   = 0.8
	progressCompleted  = 1.0
)

// 失败事件在运行上下文取消后仍需写入
const failureWriteTimeout = 10 * time.Second

var ErrDimensionMismatch = errors.New("embedding dimension does not match collection")

// CollectionGateway 流水线需要的知识库元数据操作
type CollectionGateway interface {
	FindCollectionByName(ctx context.Context, teamID, name string) (*model.Collection, error)
	RegisterMetadataFieldsIfAbsent(ctx context.Context, teamID, name string, fieldNames []string) ([]string, error)
}

// ProgressRecorder 流水线只追加进度事件
type ProgressRecorder interface {
	AppendProgress(ctx context.Context, taskID string, progress float64, message string) error
	AppendFailure(ctx context.Context, taskID string, message string) error
}

type Deps struct {
	Collections CollectionGateway
	Ledger      ProgressRecorder
	Downloader  storage.Downloader
	Loader      *etl.Loader
	Embedder    embedding.Embedder
	Writer      *index.Writer
	Metrics     *metrics.Metrics
	Logger      *slog.Logger

	// 下载文件的临时目录，为空时使用系统临时目录
	DownloadDir      string
	DefaultChunkSize int
}

// Pipeline 单个导入任务的处理流程：下载、解析、向量化、写入索引
// 各阶段严格串行，任一阶段失败只记录一条 FAILED 事件
type Pipeline struct {
	collections      CollectionGateway
	ledger           ProgressRecorder
	downloader       storage.Downloader
	loader           *etl.Loader
	embedder         embedding.Embedder
	writer           *index.Writer
	metrics          *metrics.Metrics
	logger           *slog.Logger
	downloadDir      string
	defaultChunkSize int
	now              func() time.Time
}

func NewPipeline(deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loader := deps.Loader
	if loader == nil {
		loader = etl.NewLoader(nil, logger)
	}
	return &Pipeline{
		collections:      deps.Collections,
		ledger:           deps.Ledger,
		downloader:       deps.Downloader,
		loader:           loader,
		embedder:         deps.Embedder,
		writer:           deps.Writer,
		metrics:          deps.Metrics,
		logger:           logger.With("component", "pipeline"),
		downloadDir:      deps.DownloadDir,
		defaultChunkSize: deps.DefaultChunkSize,
		now:              time.Now,
	}
}

// Run 处理一条导入消息，返回写入的记录数
func (p *Pipeline) Run(ctx context.Context, msg *model.ImportMessage) (int, error) {
	logger := p.logger.With("task_id", msg.TaskID, "collection", msg.CollectionName)
	start := time.Now()

	n, err := p.run(ctx, msg, logger)
	if err != nil {
		message := err.Error()
		if ctx.Err() != nil {
			if cause := context.Cause(ctx); cause != nil && !errors.Is(err, cause) {
				message = fmt.Sprintf("%v: %s", cause, message)
			}
		}

		logger.Error("import task failed", "err", err)
		p.metrics.TaskFinished(string(model.TaskStatusFailed))

		failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
		defer cancel()
		if appendErr := p.ledger.AppendFailure(failCtx, msg.TaskID, message); appendErr != nil {
			logger.Warn("failed to record task failure", "err", appendErr)
		}
		return n, err
	}

	p.metrics.TaskFinished(string(model.TaskStatusCompleted))
	logger.Info("import task completed",
		"records", n,
		"elapsed", time.Since(start))
	return n, nil
}

func (p *Pipeline) run(ctx context.Context, msg *model.ImportMessage, logger *slog.Logger) (int, error) {
	collection, err := p.collections.FindCollectionByName(ctx, msg.TeamID, msg.CollectionName)
	if err != nil {
		return 0, fmt.Errorf("failed to find collection %s: %w", msg.CollectionName, err)
	}
	modelID := p.modelFor(msg.EmbeddingModel, collection)

	stageStart := time.Now()
	localPath, err := p.downloader.Download(ctx, storage.LocatorFromMessage(msg), p.downloadDir)
	if err != nil {
		return 0, fmt.Errorf("failed to download file: %w", err)
	}
	defer func() {
		if err := os.Remove(localPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("failed to remove downloaded file", "path", localPath, "err", err)
		}
	}()
	p.metrics.ObserveStage(metrics.StageDownload, stageStart)
	p.progress(ctx, logger, msg.TaskID, progressDownloaded, "file downloaded")

	stageStart = time.Now()
	opts := etl.LoadOptionsFromMessage(msg)
	if opts.ChunkSize == 0 {
		opts.ChunkSize = p.defaultChunkSize
	}
	docs, err := p.loader.Load(ctx, localPath, opts)
	if err != nil {
		return 0, fmt.Errorf("failed to parse file: %w", err)
	}
	base := etl.SourceMetadata(msg.Source(), p.now().Unix())
	base[model.MetadataUserID] = msg.UserID
	chunks := etl.BuildChunks(docs, base, msg.Metadata)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("failed to parse file %s: %w", msg.FileName(), etl.ErrNoChunks)
	}
	p.metrics.ObserveStage(metrics.StageParse, stageStart)
	p.progress(ctx, logger, msg.TaskID, progressParsed, fmt.Sprintf("parsed %d chunks", len(chunks)))

	stageStart = time.Now()
	records, err := p.embedChunks(ctx, modelID, collection.Dimension, chunks)
	if err != nil {
		return 0, err
	}
	p.metrics.ObserveStage(metrics.StageEmbed, stageStart)
	p.progress(ctx, logger, msg.TaskID, progressEmbedded, fmt.Sprintf("embedded %d chunks", len(records)))

	stageStart = time.Now()
	n, err := p.index(ctx, logger, msg.TeamID, index.NewTarget(msg.AppID, msg.CollectionName), records, msg.Metadata)
	if err != nil {
		return n, err
	}
	p.metrics.ObserveStage(metrics.StageIndex, stageStart)
	p.progress(ctx, logger, msg.TaskID, progressCompleted, fmt.Sprintf("imported %d records", n))
	return n, nil
}

// progress 账本写入失败不影响流水线
func (p *Pipeline) progress(ctx context.Context, logger *slog.Logger, taskID string, progress float64, message string) {
	if err := p.ledger.AppendProgress(ctx, taskID, progress, message); err != nil {
		logger.Warn("failed to append progress", "progress", progress, "err", err)
	}
}

func (p *Pipeline) embedChunks(ctx context.Context, modelID string, dimension int, chunks []etl.Chunk) ([]model.Record, error) {
	vectors, err := p.embedder.Embed(ctx, modelID, etl.Texts(chunks))
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("failed to embed chunks: got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	records := make([]model.Record, len(chunks))
	for i, c := range chunks {
		if dimension > 0 && len(vectors[i]) != dimension {
			return nil, fmt.Errorf("%w: model %s returned %d dimensions, collection expects %d",
				ErrDimensionMismatch, modelID, len(vectors[i]), dimension)
		}
		records[i] = model.Record{
			PK:          c.PrimaryKey,
			PageContent: c.PageContent,
			Embedding:   vectors[i],
			Metadata:    c.Metadata,
		}
	}
	return records, nil
}

// index 写入两个索引后登记调用方元数据中新出现的字段，登记失败只记录日志
func (p *Pipeline) index(ctx context.Context, logger *slog.Logger, teamID string, target index.Target, records []model.Record, metadata map[string]any) (int, error) {
	n, err := p.writer.UpsertBatch(ctx, target, records)
	if err != nil {
		return n, fmt.Errorf("failed to index records: %w", err)
	}

	if len(metadata) == 0 {
		return n, nil
	}
	fields := slices.Sorted(maps.Keys(metadata))
	added, err := p.collections.RegisterMetadataFieldsIfAbsent(ctx, teamID, target.Collection, fields)
	if err != nil {
		logger.Warn("failed to register metadata fields", "fields", fields, "err", err)
	} else if len(added) > 0 {
		logger.Info("metadata fields registered", "fields", added)
	}
	return n, nil
}

// TextRequest 同步写入一段文本
type TextRequest struct {
	TeamID         string
	UserID         string
	AppID          string
	CollectionName string
	EmbeddingModel string
	Text           string
	Metadata       map[string]any
	ChunkSize      int
	ChunkOverlap   int
	Separator      string
}

// IngestText 切分、向量化并写入文本，不经过队列和账本，返回写入的记录
func (p *Pipeline) IngestText(ctx context.Context, req TextRequest) ([]model.Record, error) {
	collection, err := p.collections.FindCollectionByName(ctx, req.TeamID, req.CollectionName)
	if err != nil {
		return nil, fmt.Errorf("failed to find collection %s: %w", req.CollectionName, err)
	}

	opts := etl.LoadOptions{
		ChunkSize:    req.ChunkSize,
		ChunkOverlap: req.ChunkOverlap,
		Separator:    req.Separator,
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = p.defaultChunkSize
	}
	docs, err := p.loader.SplitText(req.Text, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to split text: %w", err)
	}

	base := map[string]any{
		model.MetadataUserID:    req.UserID,
		model.MetadataCreatedAt: p.now().Unix(),
	}
	chunks := etl.BuildChunks(docs, base, req.Metadata)
	if len(chunks) == 0 {
		return nil, etl.ErrNoChunks
	}

	records, err := p.embedChunks(ctx, p.modelFor(req.EmbeddingModel, collection), collection.Dimension, chunks)
	if err != nil {
		return nil, err
	}
	logger := p.logger.With("collection", req.CollectionName)
	if _, err := p.index(ctx, logger, req.TeamID, index.NewTarget(req.AppID, req.CollectionName), records, req.Metadata); err != nil {
		return nil, err
	}
	return records, nil
}

// RecordRequest 写入一条完整记录，PK 为空时按文本生成
type RecordRequest struct {
	TeamID         string
	UserID         string
	AppID          string
	CollectionName string
	EmbeddingModel string
	PK             string
	Text           string
	Metadata       map[string]any
}

// UpsertRecord 不切分文本，按 PK 覆盖写入
func (p *Pipeline) UpsertRecord(ctx context.Context, req RecordRequest) (*model.Record, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("%w: text is required", index.ErrInvalidRecord)
	}
	collection, err := p.collections.FindCollectionByName(ctx, req.TeamID, req.CollectionName)
	if err != nil {
		return nil, fmt.Errorf("failed to find collection %s: %w", req.CollectionName, err)
	}

	pk := req.PK
	if pk == "" {
		pk = utils.PrimaryKey(req.Text)
	}
	metadata := map[string]any{model.MetadataUserID: req.UserID}
	maps.Copy(metadata, req.Metadata)

	records, err := p.embedChunks(ctx, p.modelFor(req.EmbeddingModel, collection), collection.Dimension, []etl.Chunk{{
		PageContent: req.Text,
		Metadata:    metadata,
		PrimaryKey:  pk,
	}})
	if err != nil {
		return nil, err
	}
	logger := p.logger.With("collection", req.CollectionName)
	if _, err := p.index(ctx, logger, req.TeamID, index.NewTarget(req.AppID, req.CollectionName), records, req.Metadata); err != nil {
		return nil, err
	}
	return &records[0], nil
}

func (p *Pipeline) DeleteRecord(ctx context.Context, teamID, appID, collectionName, pk string) error {
	if _, err := p.collections.FindCollectionByName(ctx, teamID, collectionName); err != nil {
		return fmt.Errorf("failed to find collection %s: %w", collectionName, err)
	}
	return p.writer.DeleteByKey(ctx, index.NewTarget(appID, collectionName), pk)
}

func (p *Pipeline) modelFor(requested string, collection *model.Collection) string {
	if requested != "" {
		return requested
	}
	return collection.EmbeddingModel
}
