package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"sudooom.im.relay/pkg/response"
)

const (
	ctxUserID      = "user_id"
	ctxAccessToken = "access_token"
)

// TokenValidator 校验 Token 并返回 userId
type TokenValidator interface {
	ValidateToken(ctx context.Context, accessToken string) (string, error)
}

// TokenAuth Bearer Token 认证中间件，要求签名有效且未被吊销
func TokenAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c.GetHeader("Authorization"))
		if token == "" {
			response.Unauthorized(c)
			c.Abort()
			return
		}

		userID, err := validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			response.ErrorFromAppError(c, err)
			c.Abort()
			return
		}

		c.Set(ctxUserID, userID)
		c.Set(ctxAccessToken, token)
		c.Next()
	}
}

// extractToken 从 Authorization header 提取 token
func extractToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// GetUserID 从 context 获取 user_id
func GetUserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

// GetAccessToken 从 context 获取当前请求的 Token
func GetAccessToken(c *gin.Context) string {
	return c.GetString(ctxAccessToken)
}
