package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Divi1545/authority13/internal/db"
	"github.com/Divi1545/authority13/internal/model"
)

// RecordAudit 写一条审计事件；payload序列化失败不应发生，发生则记空对象
func RecordAudit(ctx context.Context, workspaceID, eventType string, payload map[string]any, actorUserID, actorAgentID string) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		payloadJSON = []byte("{}")
	}
	event := &model.AuditEvent{
		WorkspaceID:  workspaceID,
		Type:         eventType,
		PayloadJSON:  string(payloadJSON),
		ActorUserID:  actorUserID,
		ActorAgentID: actorAgentID,
	}
	if err := db.DB.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("写入审计事件失败: %w", err)
	}
	return nil
}
