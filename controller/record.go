package controller

import (
	"net/http"

	"knowledge-base-backend/middleware"
	"knowledge-base-backend/request"
	"knowledge-base-backend/response"
	"knowledge-base-backend/service/index"
	knowledgebase "knowledge-base-backend/service/knowledge-base"
	"knowledge-base-backend/service/retrieval"

	"github.com/gin-gonic/gin"
)

// IngestText 同步切分并写入文本，不经过任务队列
func (ctl *Controller) IngestText(c *gin.Context) {
	var req request.IngestTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortParseRequest(c, err)
		return
	}

	claims := middleware.GetClaims(c)
	records, err := ctl.pipeline.IngestText(c.Request.Context(), knowledgebase.TextRequest{
		TeamID:         claims.TeamID,
		UserID:         claims.UserID,
		AppID:          claims.AppID,
		CollectionName: c.Param("name"),
		EmbeddingModel: req.EmbeddingModel,
		Text:           req.Text,
		Metadata:       req.Metadata,
		ChunkSize:      req.ChunkSize,
		ChunkOverlap:   req.ChunkOverlap,
		Separator:      req.Separator,
	})
	if err != nil {
		abortWithError(c, ErrIngestText, err)
		return
	}

	resp := response.IngestTextResponse{
		Count: len(records),
		PKs:   make([]string, 0, len(records)),
	}
	for _, r := range records {
		resp.PKs = append(resp.PKs, r.PK)
	}
	c.JSON(http.StatusOK, response.Response{
		Data: resp,
	})
}

func (ctl *Controller) UpsertRecord(c *gin.Context) {
	var req request.UpsertRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortParseRequest(c, err)
		return
	}

	claims := middleware.GetClaims(c)
	record, err := ctl.pipeline.UpsertRecord(c.Request.Context(), knowledgebase.RecordRequest{
		TeamID:         claims.TeamID,
		UserID:         claims.UserID,
		AppID:          claims.AppID,
		CollectionName: c.Param("name"),
		EmbeddingModel: req.EmbeddingModel,
		PK:             c.Param("pk"),
		Text:           req.Text,
		Metadata:       req.Metadata,
	})
	if err != nil {
		abortWithError(c, ErrUpsertRecord, err)
		return
	}

	c.JSON(http.StatusOK, response.Response{
		Data: response.RecordResponse{PK: record.PK},
	})
}

func (ctl *Controller) DeleteRecord(c *gin.Context) {
	claims := middleware.GetClaims(c)
	err := ctl.pipeline.DeleteRecord(c.Request.Context(), claims.TeamID, claims.AppID, c.Param("name"), c.Param("pk"))
	if err != nil {
		abortWithError(c, ErrDeleteRecord, err)
		return
	}

	c.JSON(http.StatusOK, response.Response{})
}

// QueryRecords 按过滤表达式分页列出记录
func (ctl *Controller) QueryRecords(c *gin.Context) {
	var req request.QueryRecordsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortParseRequest(c, err)
		return
	}

	claims := middleware.GetClaims(c)
	records, err := ctl.retrieval.QueryRecords(c.Request.Context(), claims.TeamID, claims.AppID, c.Param("name"), index.RecordQuery{
		Expr:   req.Expr,
		Filter: req.Filter,
		Offset: req.Offset,
		Limit:  req.Limit,
	})
	if err != nil {
		abortWithError(c, ErrQueryRecords, err)
		return
	}

	c.JSON(http.StatusOK, response.Response{
		Data: response.QueryRecordsResponse{Records: records},
	})
}

func (ctl *Controller) SearchVector(c *gin.Context) {
	ctl.search(c, retrieval.ModeVector)
}

func (ctl *Controller) FulltextSearch(c *gin.Context) {
	ctl.search(c, retrieval.ModeFulltext)
}

func (ctl *Controller) HybridSearch(c *gin.Context) {
	ctl.search(c, retrieval.ModeHybrid)
}

func (ctl *Controller) search(c *gin.Context, mode retrieval.Mode) {
	var req request.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortParseRequest(c, err)
		return
	}

	claims := middleware.GetClaims(c)
	hits, err := ctl.retrieval.Search(c.Request.Context(), claims.TeamID, claims.AppID, c.Param("name"), mode, index.Query{
		Text:   req.Query,
		Model:  req.EmbeddingModel,
		Filter: req.Filter,
		TopK:   req.TopK,
	})
	if err != nil {
		abortWithError(c, ErrSearch, err)
		return
	}

	c.JSON(http.StatusOK, response.Response{
		Data: response.SearchResponse{Hits: hits},
	})
}

// Rerank 按与查询的相关度对调用方给出的文档重新排序
func (ctl *Controller) Rerank(c *gin.Context) {
	var req request.RerankRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortParseRequest(c, err)
		return
	}

	claims := middleware.GetClaims(c)
	results, err := ctl.retrieval.Rerank(c.Request.Context(), claims.TeamID,
		req.CollectionName, req.EmbeddingModel, req.Query, req.Documents, req.TopK)
	if err != nil {
		abortWithError(c, ErrRerank, err)
		return
	}

	resp := response.RerankResponse{
		Results: make([]response.RerankItem, 0, len(results)),
	}
	for _, r := range results {
		resp.Results = append(resp.Results, response.RerankItem{
			Index:    r.Index,
			Document: r.Document,
			Score:    r.Score,
		})
	}
	c.JSON(http.StatusOK, response.Response{
		Data: resp,
	})
}
