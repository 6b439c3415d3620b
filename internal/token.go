package internal

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	apperrors "github.com/koopa0/system-design/14-envy-free-duel/pkg/errors"
)

// TokenLength 新產生的 token 長度
const TokenLength = 8

// MaxTokenLength 外部傳入 token 的長度上限（與資料表欄位一致）
const MaxTokenLength = 64

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// NewToken 產生玩家或房間 token
//
// 取 UUIDv4 去掉連字號後的前 8 個十六進位字元。
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:TokenLength]
}

// ValidateToken 檢查外部傳入的 token 格式
func ValidateToken(kind, token string) error {
	if token == "" || len(token) > MaxTokenLength {
		return apperrors.ErrInvalidInput.WithDetails("%s token must be 1-%d characters", kind, MaxTokenLength)
	}
	if !tokenPattern.MatchString(token) {
		return apperrors.ErrInvalidInput.WithDetails("%s token contains invalid characters", kind)
	}
	return nil
}
