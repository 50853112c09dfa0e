package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusApproved = "approved"
	ApprovalStatusRejected = "rejected"
)

// ApprovalRequest 人工审批门禁；同一Run同时最多一条pending记录，
// 决议只生效一次（重复决议为幂等no-op）
type ApprovalRequest struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	RunID       string `gorm:"type:varchar(36);not null;index" json:"run_id"`
	TaskID      string `gorm:"type:varchar(36);not null;index" json:"task_id"`
	WorkspaceID string `gorm:"type:varchar(36);not null;index" json:"workspace_id"`

	// 触发挂起的子任务，恢复执行时从它的下一个子任务继续
	SubtaskID string `gorm:"type:varchar(100);not null" json:"subtask_id"`

	Summary             string `gorm:"type:varchar(500)" json:"summary"`
	DetailsJSON         string `gorm:"type:longtext" json:"details_json"`
	EditablePayloadJSON string `gorm:"type:longtext" json:"editable_payload_json"`

	Status          string     `gorm:"type:varchar(20);not null;index" json:"status"`
	DecidedByUserID string     `gorm:"type:varchar(36)" json:"decided_by_user_id"`
	DecidedAt       *time.Time `json:"decided_at"`
}

func (a *ApprovalRequest) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = ApprovalStatusPending
	}
	return nil
}
