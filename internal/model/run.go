package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RunStatusStarted   = "started"
	RunStatusExecuting = "executing"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunStep类型：plan/tool_result/approval/error
const (
	StepTypePlan       = "plan"
	StepTypeToolResult = "tool_result"
	StepTypeApproval   = "approval"
	StepTypeError      = "error"
)

// Run 一次Task执行尝试；重试产生新Run，不改写旧Run
type Run struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TaskID string `gorm:"type:varchar(36);not null;index" json:"task_id"`
	Status string `gorm:"type:varchar(30);not null;index" json:"status"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`

	// 失败原因；只对授权查看者暴露
	Error string `gorm:"type:text" json:"error,omitempty"`
}

func (r *Run) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = RunStatusStarted
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	return nil
}

func (r *Run) IsTerminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// RunStep Run内的追加式审计日志；index从0起连续递增，不复用不跳号
type RunStep struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	RunID       string `gorm:"type:varchar(36);not null;uniqueIndex:idx_run_step" json:"run_id"`
	Index       int    `gorm:"column:step_index;not null;uniqueIndex:idx_run_step" json:"index"`
	Type        string `gorm:"type:varchar(30);not null" json:"type"`
	ContentJSON string `gorm:"type:longtext" json:"content_json"`
}

func (s *RunStep) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
