package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Divi1545/authority13/internal/db"
	"github.com/Divi1545/authority13/internal/model"
	"github.com/Divi1545/authority13/internal/queue"
)

// TaskService 任务创建与入队入口（enqueue为fire-and-forget）
type TaskService struct {
	queue queue.Queue
}

func NewTaskService(q queue.Queue) *TaskService {
	return &TaskService{queue: q}
}

type CreateTaskRequest struct {
	WorkspaceID string `json:"workspace_id" binding:"required"`
	UserID      string `json:"user_id"`
	Title       string `json:"title" binding:"required"`
	Objective   string `json:"objective" binding:"required"`
	Priority    string `json:"priority"`
}

// CreateTask 建任务并投递执行工作项，返回任务与job标识
func (s *TaskService) CreateTask(ctx context.Context, req CreateTaskRequest) (*model.Task, string, error) {
	if strings.TrimSpace(req.Objective) == "" {
		return nil, "", fmt.Errorf("objective不能为空")
	}

	task := &model.Task{
		WorkspaceID:     req.WorkspaceID,
		CreatedByUserID: req.UserID,
		Title:           req.Title,
		Objective:       req.Objective,
		Priority:        req.Priority,
		Status:          model.TaskStatusPending,
	}
	if err := db.DB.WithContext(ctx).Create(task).Error; err != nil {
		return nil, "", fmt.Errorf("创建任务失败: %w", err)
	}

	_ = RecordAudit(ctx, req.WorkspaceID, model.AuditTaskCreated, map[string]any{
		"task_id": task.ID,
		"title":   task.Title,
	}, req.UserID, "")

	jobID, err := s.queue.EnqueueTask(ctx, queue.TaskJob{
		TaskID:      task.ID,
		WorkspaceID: req.WorkspaceID,
		UserID:      req.UserID,
	})
	if err != nil {
		return nil, "", fmt.Errorf("任务入队失败: %w", err)
	}
	return task, jobID, nil
}
