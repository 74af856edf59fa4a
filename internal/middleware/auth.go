package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/serial-scope/internal/errors"
)

// TokenAuth 静态令牌认证中间件
type TokenAuth struct {
	token string
}

// NewTokenAuth 创建认证中间件，token 为空时放行所有请求
func NewTokenAuth(token string) *TokenAuth {
	return &TokenAuth{token: token}
}

// Enabled 是否需要认证
func (m *TokenAuth) Enabled() bool {
	return m.token != ""
}

// RequireToken 需要认证的中间件
func (m *TokenAuth) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}

		token := extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    errors.ErrUnauthorized,
				"message": "缺少认证令牌",
			})
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(m.token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    errors.ErrUnauthorized,
				"message": "无效的令牌",
			})
			return
		}

		c.Next()
	}
}

// extractToken 从请求中提取令牌
func extractToken(c *gin.Context) string {
	// 1. 从Authorization Header获取 (Bearer Token)
	if bearerToken := c.GetHeader("Authorization"); bearerToken != "" {
		parts := strings.SplitN(bearerToken, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}

	// 2. 从X-Access-Token Header获取
	if token := c.GetHeader("X-Access-Token"); token != "" {
		return token
	}

	// 3. 从Query参数获取，浏览器的WebSocket无法设置Header
	return c.Query("token")
}
