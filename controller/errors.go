package controller

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"knowledge-base-backend/response"
	"knowledge-base-backend/service/collection"
	"knowledge-base-backend/service/embedding"
	"knowledge-base-backend/service/index"
	knowledgebase "knowledge-base-backend/service/knowledge-base"
	"knowledge-base-backend/service/knowledge-base/etl"
	"knowledge-base-backend/service/progress"
	"knowledge-base-backend/service/retrieval"
	"knowledge-base-backend/service/storage"

	"github.com/gin-gonic/gin"
)

var (
	ErrParseRequest = errors.New("failed to parse request")

	ErrCreateCollection = errors.New("failed to create collection")
	ErrGetCollections   = errors.New("failed to get collections")
	ErrGetCollection    = errors.New("failed to get collection")
	ErrUpdateCollection = errors.New("failed to update collection")
	ErrDeleteCollection = errors.New("failed to delete collection")
	ErrGetUploadURL     = errors.New("failed to get upload url")

	ErrSubmitImport = errors.New("failed to submit import task")
	ErrGetTasks     = errors.New("failed to get import tasks")
	ErrGetTask      = errors.New("failed to get import task")
	ErrWatchTask    = errors.New("failed to watch import task")

	ErrIngestText   = errors.New("failed to ingest text")
	ErrUpsertRecord = errors.New("failed to upsert record")
	ErrDeleteRecord = errors.New("failed to delete record")
	ErrQueryRecords = errors.New("failed to query records")
	ErrSearch       = errors.New("failed to search")
	ErrRerank       = errors.New("failed to rerank documents")
)

// statusOf 业务错误映射为 HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, collection.ErrCollectionNotFound),
		errors.Is(err, progress.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, collection.ErrNameConflict),
		errors.Is(err, progress.ErrTaskExists):
		return http.StatusConflict
	case errors.Is(err, collection.ErrInvalidName),
		errors.Is(err, embedding.ErrUnknownModel),
		errors.Is(err, knowledgebase.ErrInvalidRequest),
		errors.Is(err, etl.ErrNoChunks),
		errors.Is(err, index.ErrInvalidRecord),
		errors.Is(err, index.ErrInvalidQuery),
		errors.Is(err, retrieval.ErrEmptyQuery),
		errors.Is(err, retrieval.ErrModelRequired),
		errors.Is(err, retrieval.ErrUnknownMode):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrBucketNotConfigured):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError 客户端错误返回具体原因，服务端错误只返回操作名
func abortWithError(c *gin.Context, op error, err error) {
	status := statusOf(err)
	msg := op.Error()
	if status < http.StatusInternalServerError {
		slog.Info(op.Error(), "err", err)
		msg = fmt.Sprintf("%s: %v", op, err)
	} else {
		slog.Error(op.Error(), "err", err)
	}
	c.AbortWithStatusJSON(status, response.Response{Msg: msg})
}

func abortParseRequest(c *gin.Context, err error) {
	slog.Info(ErrParseRequest.Error(), "err", err)
	c.AbortWithStatusJSON(http.StatusBadRequest, response.Response{
		Msg: ErrParseRequest.Error(),
	})
}
