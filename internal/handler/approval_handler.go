package handler

import (
	"net/http"

	"github.com/Divi1545/authority13/internal/db"
	"github.com/Divi1545/authority13/internal/model"
	"github.com/Divi1545/authority13/internal/service"

	"github.com/gin-gonic/gin"
)

type ApprovalHandler struct {
	approvals *service.ApprovalService
}

func NewApprovalHandler(approvals *service.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{approvals: approvals}
}

// ListApprovals workspace内的审批请求，默认只看pending
func (h *ApprovalHandler) ListApprovals(c *gin.Context) {
	workspaceID := c.Query("workspace_id")
	if workspaceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少workspace_id"})
		return
	}
	status := c.DefaultQuery("status", model.ApprovalStatusPending)

	var approvals []model.ApprovalRequest
	if err := db.DB.WithContext(c.Request.Context()).
		Where("workspace_id = ? AND status = ?", workspaceID, status).
		Order("created_at DESC").
		Find(&approvals).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"approvals": approvals})
}

// ResolveApproval 人工决议；同一决议重放是幂等no-op
func (h *ApprovalHandler) ResolveApproval(c *gin.Context) {
	var req struct {
		Action        string         `json:"action" binding:"required"`
		EditedPayload map[string]any `json:"edited_payload"`
		UserID        string         `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Action != service.ApprovalActionApprove && req.Action != service.ApprovalActionReject {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action必须是approve或reject"})
		return
	}

	approval, err := h.approvals.Resolve(c.Request.Context(), c.Param("id"), req.Action, req.EditedPayload, req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"approval": approval})
}
