package dao

import "errors"

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskExists   = errors.New("task already exists")

	// 任务已有 COMPLETED 或 FAILED 事件，拒绝继续追加
	ErrTaskTerminal = errors.New("task already reached a terminal state")

	ErrCollectionNotFound = errors.New("collection not found")
)
