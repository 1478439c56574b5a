package controller

import (
	"context"
	"net/http"
	"time"

	"knowledge-base-backend/service/collection"
	knowledgebase "knowledge-base-backend/service/knowledge-base"
	"knowledge-base-backend/service/progress"
	"knowledge-base-backend/service/retrieval"
	"knowledge-base-backend/service/storage"

	"github.com/gorilla/websocket"
)

const (
	defaultWatchInterval = time.Second
	defaultUploadExpires = 15 * time.Minute
)

// UploadPresigner 生成前端直传 OSS 的链接
type UploadPresigner interface {
	PresignUpload(ctx context.Context, objectName string, expires time.Duration) (*storage.UploadURL, error)
}

type Deps struct {
	Collections *collection.Gateway
	Importer    *knowledgebase.Importer
	Ledger      *progress.Ledger
	Pipeline    *knowledgebase.Pipeline
	Retrieval   *retrieval.Service

	// 为空时上传链接接口返回 501
	Uploads UploadPresigner

	WatchInterval time.Duration
	UploadExpires time.Duration
}

// Controller /api/vector 下的全部接口
type Controller struct {
	collections   *collection.Gateway
	importer      *knowledgebase.Importer
	ledger        *progress.Ledger
	pipeline      *knowledgebase.Pipeline
	retrieval     *retrieval.Service
	uploads       UploadPresigner
	watchInterval time.Duration
	uploadExpires time.Duration
	upgrader      websocket.Upgrader
}

func New(deps Deps) *Controller {
	if deps.WatchInterval <= 0 {
		deps.WatchInterval = defaultWatchInterval
	}
	if deps.UploadExpires <= 0 {
		deps.UploadExpires = defaultUploadExpires
	}
	return &Controller{
		collections:   deps.Collections,
		importer:      deps.Importer,
		ledger:        deps.Ledger,
		pipeline:      deps.Pipeline,
		retrieval:     deps.Retrieval,
		uploads:       deps.Uploads,
		watchInterval: deps.WatchInterval,
		uploadExpires: deps.UploadExpires,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 身份由 token 校验，不限制来源
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}
