package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"knowledge-base-backend/middleware"
	"knowledge-base-backend/model"
	"knowledge-base-backend/request"
	"knowledge-base-backend/response"
	"knowledge-base-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

// SubmitImport 创建任务并入队后立即返回 taskId，处理进度通过任务接口查询
func (ctl *Controller) SubmitImport(c *gin.Context) {
	var req request.ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortParseRequest(c, err)
		return
	}

	claims := middleware.GetClaims(c)
	taskID, err := ctl.importer.SubmitImport(c.Request.Context(), &model.ImportMessage{
		AppID:           claims.AppID,
		TeamID:          claims.TeamID,
		UserID:          claims.UserID,
		CollectionName:  c.Param("name"),
		EmbeddingModel:  req.EmbeddingModel,
		FileURL:         req.FileURL,
		OSSObject:       req.OSSObject,
		Metadata:        req.Metadata,
		TaskID:          req.TaskID,
		ChunkSize:       req.ChunkSize,
		ChunkOverlap:    req.ChunkOverlap,
		Separator:       req.Separator,
		PreProcessRules: req.PreProcessRules,
		JQSchema:        req.JQSchema,
	})
	if err != nil {
		abortWithError(c, ErrSubmitImport, err)
		return
	}

	c.JSON(http.StatusAccepted, response.Response{
		Data: response.SubmitImportResponse{TaskID: taskID},
	})
}

func (ctl *Controller) GetTasks(c *gin.Context) {
	claims := middleware.GetClaims(c)
	tasks, err := ctl.ledger.ListTasks(c.Request.Context(), claims.TeamID, c.Param("name"))
	if err != nil {
		abortWithError(c, ErrGetTasks, err)
		return
	}

	resp := response.GetTasksResponse{
		Tasks: make([]response.TaskResponse, 0, len(tasks)),
	}
	for i := range tasks {
		resp.Tasks = append(resp.Tasks, response.NewTaskResponse(&tasks[i]))
	}

	c.JSON(http.StatusOK, response.Response{
		Data: resp,
	})
}

func (ctl *Controller) GetTask(c *gin.Context) {
	claims := middleware.GetClaims(c)
	task, err := ctl.ledger.GetTask(c.Request.Context(), claims.TeamID, c.Param("name"), c.Param("taskId"))
	if err != nil {
		abortWithError(c, ErrGetTask, err)
		return
	}

	c.JSON(http.StatusOK, response.Response{
		Data: response.NewTaskResponse(task),
	})
}

// StreamTaskEvents 以 SSE 推送任务事件，任务终结后发送 done
func (ctl *Controller) StreamTaskEvents(c *gin.Context) {
	claims := middleware.GetClaims(c)
	name, taskID := c.Param("name"), c.Param("taskId")
	ctx := c.Request.Context()

	// 建立流之前确认任务存在
	if _, err := ctl.ledger.GetTask(ctx, claims.TeamID, name, taskID); err != nil {
		abortWithError(c, ErrGetTask, err)
		return
	}

	utils.SetSSEHeaders(c)
	err := ctl.ledger.Watch(ctx, claims.TeamID, name, taskID, ctl.watchInterval, func(e model.ImportTaskEvent) error {
		utils.SendSSEMessage(c, utils.EventProgress, response.NewEventResponse(e))
		return nil
	})
	if err != nil {
		if ctx.Err() == nil {
			slog.Error(ErrWatchTask.Error(), "err", err)
			utils.SendSSEMessage(c, utils.EventError, ErrWatchTask.Error())
		}
		return
	}
	utils.SendSSEMessage(c, utils.EventDone, taskID)
}

// WatchTask 以 WebSocket 推送任务事件，任务终结后正常关闭连接
func (ctl *Controller) WatchTask(c *gin.Context) {
	claims := middleware.GetClaims(c)
	name, taskID := c.Param("name"), c.Param("taskId")

	if _, err := ctl.ledger.GetTask(c.Request.Context(), claims.TeamID, name, taskID); err != nil {
		abortWithError(c, ErrGetTask, err)
		return
	}

	conn, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error(ErrWatchTask.Error(), "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// 客户端断开或发送关闭帧时停止推送
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = ctl.ledger.Watch(ctx, claims.TeamID, name, taskID, ctl.watchInterval, func(e model.ImportTaskEvent) error {
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return err
		}
		return conn.WriteJSON(response.NewEventResponse(e))
	})
	if err != nil && ctx.Err() == nil {
		slog.Error(ErrWatchTask.Error(), "err", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, ErrWatchTask.Error()),
			time.Now().Add(time.Second))
		return
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished"),
		time.Now().Add(time.Second))
}
