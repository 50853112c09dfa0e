package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 审计事件类型；合规用途，不参与执行控制流
const (
	AuditTaskCreated       = "task.created"
	AuditRunStarted        = "run.started"
	AuditRunCompleted      = "run.completed"
	AuditRunFailed         = "run.failed"
	AuditApprovalRequested = "approval.requested"
	AuditApprovalApproved  = "approval.approved"
	AuditApprovalRejected  = "approval.rejected"
)

// AuditEvent 追加式审计记录，永不更新
type AuditEvent struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	WorkspaceID  string `gorm:"type:varchar(36);not null;index" json:"workspace_id"`
	Type         string `gorm:"type:varchar(100);not null;index" json:"type"`
	PayloadJSON  string `gorm:"type:longtext" json:"payload_json"`
	ActorUserID  string `gorm:"type:varchar(36)" json:"actor_user_id,omitempty"`
	ActorAgentID string `gorm:"type:varchar(100)" json:"actor_agent_id,omitempty"`
}

func (e *AuditEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
