package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"knowledge-base-backend/config"
	"knowledge-base-backend/controller"
	"knowledge-base-backend/dao"
	"knowledge-base-backend/metrics"
	"knowledge-base-backend/router"
	"knowledge-base-backend/service/collection"
	"knowledge-base-backend/service/embedding"
	"knowledge-base-backend/service/index"
	knowledgebase "knowledge-base-backend/service/knowledge-base"
	"knowledge-base-backend/service/knowledge-base/etl"
	"knowledge-base-backend/service/mq"
	"knowledge-base-backend/service/progress"
	"knowledge-base-backend/service/retrieval"
	"knowledge-base-backend/service/storage"
	"knowledge-base-backend/service/worker"

	"gorm.io/gorm"
)

// Options 进程的角色决定需要连接哪些外部依赖
type Options struct {
	// Consume 为 true 时订阅导入队列
	Consume bool

	// Migrate 为 true 时启动时执行表结构迁移
	Migrate bool

	Version string
}

// App 一个进程内的全部组件
type App struct {
	Config *config.Config
	Logger *slog.Logger

	DB     *gorm.DB
	Vector index.VectorIndex
	Search index.SearchIndex
	Broker mq.Broker

	Metrics    *metrics.Metrics
	Embedder   *embedding.Client
	Fetcher    *storage.Fetcher
	Collection *collection.Gateway
	Ledger     *progress.Ledger
	Writer     *index.Writer
	Pipeline   *knowledgebase.Pipeline
	Importer   *knowledgebase.Importer
	Retrieval  *retrieval.Service
	Reconciler *index.Reconciler

	version string
	closers []func(ctx context.Context) error
}

// New 连接 MySQL、Milvus 与消息队列并组装各组件，调用方负责 Close
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger, version: opts.Version}

	db, err := dao.NewDB(cfg.MySQL.DSN)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	if opts.Migrate {
		if err := dao.AutoMigrate(db); err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("failed to migrate tables: %w", err)
		}
	}

	milvus, err := index.NewMilvusIndex(ctx, cfg.Milvus)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Vector = milvus
	a.closers = append(a.closers, milvus.Close)

	var queues []string
	if opts.Consume {
		queues = []string{mq.QueueProcessFile}
	}
	broker, err := NewBroker(cfg, queues, logger)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Broker = broker

	a.wire(dao.NewCollectionDAO(db), dao.NewTaskDAO(db), dao.NewSearchRecordDAO(db))
	return a, nil
}

// NewBroker 按配置创建 RocketMQ 或进程内队列
func NewBroker(cfg *config.Config, queues []string, logger *slog.Logger) (mq.Broker, error) {
	switch cfg.MQ.Backend {
	case "memory":
		return mq.NewMemoryBroker(), nil
	case "rocketmq":
		return mq.NewRocketMQBroker(cfg.MQ, queues, cfg.Pipeline.Consumers, logger)
	default:
		return nil, fmt.Errorf("unsupported mq backend: %s", cfg.MQ.Backend)
	}
}

func (a *App) wire(collections collection.Store, tasks progress.Store, search index.SearchIndex) {
	cfg, logger := a.Config, a.Logger

	a.Search = search
	a.Metrics = metrics.New()
	a.Embedder = embedding.NewClient(cfg.Embedding, a.Metrics, logger)
	a.Fetcher = storage.NewFetcher(cfg.OSS, nil, logger)
	a.Collection = collection.NewGateway(collections, a.Vector, search, a.Embedder, logger)
	a.Ledger = progress.NewLedger(tasks, logger)
	a.Writer = index.NewWriter(a.Vector, search, cfg.Pipeline.IndexBatchSize, a.Metrics, logger)
	a.Pipeline = knowledgebase.NewPipeline(knowledgebase.Deps{
		Collections:      a.Collection,
		Ledger:           a.Ledger,
		Downloader:       a.Fetcher,
		Loader:           etl.NewLoader(nil, logger),
		Embedder:         a.Embedder,
		Writer:           a.Writer,
		Metrics:          a.Metrics,
		Logger:           logger,
		DownloadDir:      cfg.Pipeline.DownloadDir,
		DefaultChunkSize: cfg.Pipeline.DefaultChunkSize,
	})
	a.Importer = knowledgebase.NewImporter(a.Collection, a.Ledger, a.Broker, cfg.OSS.BucketName, logger)
	a.Retrieval = retrieval.NewService(a.Collection,
		index.NewRetriever(a.Vector, search, a.Embedder), a.Embedder, a.Pipeline, logger)
	a.Reconciler = index.NewReconciler(a.Vector, search, a.Embedder, logger)
}

// Worker 消费导入队列的 worker
func (a *App) Worker() *worker.Worker {
	return worker.New(a.Broker, a.Pipeline, a.Ledger, worker.Config{
		Consumers:    a.Config.Pipeline.Consumers,
		DrainTimeout: a.Config.Pipeline.DrainTimeout,
	}, a.Logger)
}

// Handler HTTP 接口、MCP 工具与指标
func (a *App) Handler() http.Handler {
	var uploads controller.UploadPresigner
	if a.Config.OSS.BucketName != "" {
		uploads = a.Fetcher
	}

	ctl := controller.New(controller.Deps{
		Collections: a.Collection,
		Importer:    a.Importer,
		Ledger:      a.Ledger,
		Pipeline:    a.Pipeline,
		Retrieval:   a.Retrieval,
		Uploads:     uploads,
	})
	return router.Register(ctl, router.Options{
		Secret:       a.Config.JWT.SecretKey,
		AllowOrigins: a.Config.Server.AllowOrigins,
		Metrics:      a.Metrics.Handler(),
		MCP:          retrieval.NewMCPHandler(a.Retrieval, a.Config.JWT.SecretKey, a.version, a.Logger),
		Health:       a.Health,
	})
}

func (a *App) Health(ctx context.Context) error {
	if a.DB == nil {
		return nil
	}
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("mysql unavailable: %w", err)
	}
	return nil
}

// Close 按创建的逆序释放资源
func (a *App) Close(ctx context.Context) error {
	if a.Broker != nil {
		a.Broker.Shutdown()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
