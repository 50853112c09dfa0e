package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Divi1545/authority13/internal/bus"
	"github.com/Divi1545/authority13/internal/db"
	"github.com/Divi1545/authority13/internal/model"
	"github.com/Divi1545/authority13/internal/queue"

	"gorm.io/gorm"
)

const (
	ApprovalActionApprove = "approve"
	ApprovalActionReject  = "reject"
)

// ApprovalService 审批决议入口。决议必须对重放幂等：
// 条件更新只在pending时生效，重复决议返回当前记录、不产生第二次状态迁移
type ApprovalService struct {
	queue queue.Queue
	bus   bus.Bus
}

func NewApprovalService(q queue.Queue, b bus.Bus) *ApprovalService {
	return &ApprovalService{queue: q, bus: b}
}

// Resolve 人工决议一条审批请求。approve解除Run阻塞（经审批队列恢复），
// reject让Run失败。editedPayload非nil时覆盖可编辑载荷
func (s *ApprovalService) Resolve(ctx context.Context, approvalID, action string, editedPayload map[string]any, decidedByUserID string) (*model.ApprovalRequest, error) {
	if action != ApprovalActionApprove && action != ApprovalActionReject {
		return nil, fmt.Errorf("无效的审批动作: %s", action)
	}

	var approval model.ApprovalRequest
	if err := db.DB.WithContext(ctx).First(&approval, "id = ?", approvalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("审批请求不存在: %s", approvalID)
		}
		return nil, fmt.Errorf("查询审批请求失败: %w", err)
	}

	status := model.ApprovalStatusApproved
	if action == ApprovalActionReject {
		status = model.ApprovalStatusRejected
	}

	now := time.Now()
	updates := map[string]any{
		"status":             status,
		"decided_by_user_id": decidedByUserID,
		"decided_at":         &now,
	}
	if editedPayload != nil {
		payloadJSON, err := json.Marshal(editedPayload)
		if err != nil {
			return nil, fmt.Errorf("序列化编辑载荷失败: %w", err)
		}
		updates["editable_payload_json"] = string(payloadJSON)
	}

	// 幂等守卫：只有pending能被决议；双重决议/重放在这里归零
	res := db.DB.WithContext(ctx).Model(&model.ApprovalRequest{}).
		Where("id = ? AND status = ?", approvalID, model.ApprovalStatusPending).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("更新审批请求失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// 决议已生效，重放为no-op
		log.Printf("审批 %s 已决议（%s），忽略重复决议", approvalID, approval.Status)
		return &approval, nil
	}

	auditType := model.AuditApprovalApproved
	if status == model.ApprovalStatusRejected {
		auditType = model.AuditApprovalRejected
	}
	_ = RecordAudit(ctx, approval.WorkspaceID, auditType, map[string]any{
		"approval_id": approval.ID,
		"task_id":     approval.TaskID,
		"run_id":      approval.RunID,
		"action":      action,
	}, decidedByUserID, "")

	_ = s.bus.Publish(bus.RunChannel(approval.RunID), bus.NewEvent(bus.EventApprovalResolved, map[string]any{
		"approval_id":    approval.ID,
		"approved":       status == model.ApprovalStatusApproved,
		"edited_payload": editedPayload,
	}))

	// 决议落盘后才入队恢复，worker读到的一定是已决议状态
	if _, err := s.queue.EnqueueApproval(ctx, queue.ApprovalJob{
		ApprovalRequestID: approval.ID,
		WorkspaceID:       approval.WorkspaceID,
	}); err != nil {
		return nil, fmt.Errorf("审批恢复入队失败: %w", err)
	}

	if err := db.DB.WithContext(ctx).First(&approval, "id = ?", approvalID).Error; err != nil {
		return nil, fmt.Errorf("回读审批请求失败: %w", err)
	}
	return &approval, nil
}
