package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	apperrors "github.com/aihub/vector-index-go/internal/errors"
)

// Checker 请求鉴权
// authKey 必须等于以encryptKey为密钥对appId做HMAC-SHA256的十六进制值
type Checker struct {
	encryptKey string
}

// NewChecker 创建鉴权器
func NewChecker(encryptKey string) *Checker {
	return &Checker{encryptKey: encryptKey}
}

// Check 校验鉴权键，失败返回UNAUTHORIZED
func (c *Checker) Check(authKey, appID string) error {
	if appID == "" || authKey == "" {
		return apperrors.New(apperrors.ErrCodeUnauthorized, "鉴权字段缺失")
	}

	if !hmac.Equal([]byte(authKey), []byte(DeriveKey(c.encryptKey, appID))) {
		return apperrors.New(apperrors.ErrCodeUnauthorized, "鉴权键校验失败")
	}
	return nil
}

// DeriveKey 由encryptKey与appId派生鉴权键
func DeriveKey(encryptKey, appID string) string {
	mac := hmac.New(sha256.New, []byte(encryptKey))
	mac.Write([]byte(appID))
	return hex.EncodeToString(mac.Sum(nil))
}
