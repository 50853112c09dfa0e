package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Task状态只由Orchestrator驱动；completed/failed为终态
const (
	TaskStatusPending       = "pending"
	TaskStatusPlanning      = "planning"
	TaskStatusExecuting     = "executing"
	TaskStatusNeedsApproval = "needs_approval"
	TaskStatusCompleted     = "completed"
	TaskStatusFailed        = "failed"
)

const (
	TaskPriorityLow    = "low"
	TaskPriorityMedium = "medium"
	TaskPriorityHigh   = "high"
)

// Task 用户提交的目标，贯穿规划与执行全程
type Task struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	WorkspaceID     string `gorm:"type:varchar(36);not null;index" json:"workspace_id"`
	CreatedByUserID string `gorm:"type:varchar(36);index" json:"created_by_user_id"`

	Title     string `gorm:"type:varchar(500);not null" json:"title"`
	Objective string `gorm:"type:text;not null" json:"objective"`
	Priority  string `gorm:"type:varchar(20);default:medium" json:"priority"`
	Status    string `gorm:"type:varchar(30);not null;index" json:"status"`

	// 当前活跃Run；历史Run通过task_id反查
	ActiveRunID string `gorm:"type:varchar(36)" json:"active_run_id"`
}

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	if t.Priority == "" {
		t.Priority = TaskPriorityMedium
	}
	return nil
}

// IsTerminal 终态任务不再接受任何mutation
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}
