package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Divi1545/authority13/internal/db"
	"github.com/Divi1545/authority13/internal/model"

	"gorm.io/gorm"
)

// Decrypter 凭证解密是外部能力；核心只拿到不透明密文
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// plainDecrypter 缺省实现：原样返回（密文即明文的部署形态）
type plainDecrypter struct{}

func (plainDecrypter) Decrypt(ciphertext string) (string, error) { return ciphertext, nil }

// CredentialResolver 按workspace解析模型供应商凭证
type CredentialResolver struct {
	dec Decrypter
}

func NewCredentialResolver(dec Decrypter) *CredentialResolver {
	if dec == nil {
		dec = plainDecrypter{}
	}
	return &CredentialResolver{dec: dec}
}

// Resolve 返回可用的API key；未配置时返回ErrCredentialMissing
func (r *CredentialResolver) Resolve(ctx context.Context, workspaceID, provider string) (string, error) {
	var secret model.APIKeySecret
	err := db.DB.WithContext(ctx).
		Where("workspace_id = ? AND provider = ?", workspaceID, provider).
		First(&secret).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: workspace=%s provider=%s", ErrCredentialMissing, workspaceID, provider)
		}
		return "", fmt.Errorf("查询凭证失败: %w", err)
	}

	key, err := r.dec.Decrypt(secret.EncryptedKey)
	if err != nil {
		return "", fmt.Errorf("解密凭证失败: %w", err)
	}
	return key, nil
}
