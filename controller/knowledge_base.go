package controller

import (
	"errors"
	"net/http"

	"knowledge-base-backend/middleware"
	"knowledge-base-backend/model"
	"knowledge-base-backend/request"
	"knowledge-base-backend/response"
	"knowledge-base-backend/service/collection"
	"knowledge-base-backend/service/storage"

	"github.com/gin-gonic/gin"
)

func (ctl *Controller) CreateCollection(c *gin.Context) {
	var req request.CreateCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortParseRequest(c, err)
		return
	}

	claims := middleware.GetClaims(c)
	created, err := ctl.collections.CreateCollection(c.Request.Context(), collection.CreateRequest{
		TeamID:         claims.TeamID,
		UserID:         claims.UserID,
		Name:           req.Name,
		DisplayName:    req.DisplayName,
		Description:    req.Description,
		Logo:           req.Logo,
		EmbeddingModel: req.EmbeddingModel,
	})
	if err != nil {
		abortWithError(c, ErrCreateCollection, err)
		return
	}

	resp, err := response.NewCollectionResponse(created)
	if err != nil {
		abortWithError(c, ErrCreateCollection, err)
		return
	}
	c.JSON(http.StatusCreated, response.Response{
		Data: resp,
	})
}

func (ctl *Controller) GetCollections(c *gin.Context) {
	claims := middleware.GetClaims(c)
	collections, err := ctl.collections.ListCollections(c.Request.Context(), claims.TeamID)
	if err != nil {
		abortWithError(c, ErrGetCollections, err)
		return
	}

	resp := response.GetCollectionsResponse{
		Collections: make([]response.CollectionResponse, 0, len(collections)),
	}
	for i := range collections {
		item, err := response.NewCollectionResponse(&collections[i])
		if err != nil {
			abortWithError(c, ErrGetCollections, err)
			return
		}
		resp.Collections = append(resp.Collections, item)
	}

	c.JSON(http.StatusOK, response.Response{
		Data: resp,
	})
}

func (ctl *Controller) GetCollection(c *gin.Context) {
	claims := middleware.GetClaims(c)
	found, err := ctl.collections.FindCollectionByName(c.Request.Context(), claims.TeamID, c.Param("name"))
	if err != nil {
		abortWithError(c, ErrGetCollection, err)
		return
	}

	resp, err := response.NewCollectionResponse(found)
	if err != nil {
		abortWithError(c, ErrGetCollection, err)
		return
	}
	c.JSON(http.StatusOK, response.Response{
		Data: resp,
	})
}

func (ctl *Controller) UpdateCollection(c *gin.Context) {
	var req request.UpdateCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortParseRequest(c, err)
		return
	}

	claims := middleware.GetClaims(c)
	updated, err := ctl.collections.UpdateCollection(c.Request.Context(), claims.TeamID, c.Param("name"), model.CollectionUpdate{
		DisplayName: req.DisplayName,
		Description: req.Description,
		Logo:        req.Logo,
	})
	if err != nil {
		abortWithError(c, ErrUpdateCollection, err)
		return
	}

	resp, err := response.NewCollectionResponse(updated)
	if err != nil {
		abortWithError(c, ErrUpdateCollection, err)
		return
	}
	c.JSON(http.StatusOK, response.Response{
		Data: resp,
	})
}

// DeleteCollection 删除知识库及其在向量库、全文检索库中的全部数据
func (ctl *Controller) DeleteCollection(c *gin.Context) {
	claims := middleware.GetClaims(c)
	err := ctl.collections.DeleteCollection(c.Request.Context(), claims.TeamID, claims.AppID, c.Param("name"))
	if err != nil {
		abortWithError(c, ErrDeleteCollection, err)
		return
	}

	c.JSON(http.StatusOK, response.Response{})
}

// GetUploadURL 前端先直传文件到 OSS，再以 ossObject 提交导入任务
func (ctl *Controller) GetUploadURL(c *gin.Context) {
	fileName := c.Query("fileName")
	if fileName == "" {
		abortParseRequest(c, errors.New("fileName is required"))
		return
	}
	if ctl.uploads == nil {
		abortWithError(c, ErrGetUploadURL, storage.ErrBucketNotConfigured)
		return
	}

	claims := middleware.GetClaims(c)
	name := c.Param("name")
	if _, err := ctl.collections.FindCollectionByName(c.Request.Context(), claims.TeamID, name); err != nil {
		abortWithError(c, ErrGetUploadURL, err)
		return
	}

	upload, err := ctl.uploads.PresignUpload(c.Request.Context(),
		storage.UploadObjectName(claims.TeamID, name, fileName), ctl.uploadExpires)
	if err != nil {
		abortWithError(c, ErrGetUploadURL, err)
		return
	}

	c.JSON(http.StatusOK, response.Response{
		Data: upload,
	})
}
