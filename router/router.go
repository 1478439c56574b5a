package router

import (
	"context"
	"net/http"

	"knowledge-base-backend/controller"
	"knowledge-base-backend/middleware"
	"knowledge-base-backend/response"

	"github.com/gin-gonic/gin"
)

type Options struct {
	Secret       string
	AllowOrigins []string

	// 以下均可为空，为空时不注册对应路由
	Metrics http.Handler
	MCP     http.Handler
	Health  func(ctx context.Context) error
}

func Register(ctl *controller.Controller, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware(opts.AllowOrigins))

	r.GET("/healthz", func(c *gin.Context) {
		if opts.Health != nil {
			if err := opts.Health(c.Request.Context()); err != nil {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, response.Response{Msg: err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, response.Response{Msg: "ok"})
	})
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	if opts.MCP != nil {
		r.Any("/mcp", gin.WrapH(opts.MCP))
	}

	api := r.Group("/api/vector")
	api.Use(middleware.AuthMiddleware(opts.Secret))
	{
		api.POST("/collections", ctl.CreateCollection)
		api.GET("/collections", ctl.GetCollections)
		api.GET("/collections/:name", ctl.GetCollection)
		api.PUT("/collections/:name", ctl.UpdateCollection)
		api.DELETE("/collections/:name", ctl.DeleteCollection)
		api.GET("/collections/:name/upload-url", ctl.GetUploadURL)

		api.POST("/collections/:name/imports", ctl.SubmitImport)
		api.GET("/collections/:name/tasks", ctl.GetTasks)
		api.GET("/collections/:name/tasks/:taskId", ctl.GetTask)
		api.GET("/collections/:name/tasks/:taskId/events", ctl.StreamTaskEvents)
		api.GET("/collections/:name/tasks/:taskId/ws", ctl.WatchTask)

		api.POST("/collections/:name/records", ctl.IngestText)
		api.PUT("/collections/:name/records/:pk", ctl.UpsertRecord)
		api.DELETE("/collections/:name/records/:pk", ctl.DeleteRecord)
		api.POST("/collections/:name/query", ctl.QueryRecords)

		api.POST("/collections/:name/search", ctl.SearchVector)
		api.POST("/collections/:name/fulltext-search", ctl.FulltextSearch)
		api.POST("/collections/:name/hybrid-search", ctl.HybridSearch)

		api.POST("/rerank", ctl.Rerank)
	}

	return r
}
