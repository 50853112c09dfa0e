package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// APIKeySecret workspace配置的模型供应商凭证。
// EncryptedKey对本服务不透明，解密由外部能力负责
type APIKeySecret struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	WorkspaceID  string `gorm:"type:varchar(36);not null;index" json:"workspace_id"`
	Provider     string `gorm:"type:varchar(50);not null;index" json:"provider"`
	EncryptedKey string `gorm:"type:text;not null" json:"-"`
}

func (s *APIKeySecret) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
