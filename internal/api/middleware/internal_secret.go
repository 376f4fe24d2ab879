package middleware

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"cvforge/internal/errcode"
)

// InternalSecretHeader 为系统间调用携带共享密钥的请求头。
const InternalSecretHeader = "X-Internal-Secret"

// InternalSecretMiddleware 校验系统间调用的共享密钥。
func InternalSecretMiddleware(secret string) gin.HandlerFunc {
	secret = strings.TrimSpace(secret)
	return func(c *gin.Context) {
		if secret == "" {
			AbortWithError(c, errcode.Internal(errors.New("internal api secret is not configured")))
			return
		}
		// 只接受 Header，避免 query 泄露到日志
		token := strings.TrimSpace(c.GetHeader(InternalSecretHeader))
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			AbortWithError(c, errcode.Unauthenticated("unauthorized"))
			return
		}
		c.Next()
	}
}
