package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"cvforge/internal/auth"
	"cvforge/internal/database"
	"cvforge/internal/errcode"
)

const (
	sessionKey     = "session"
	currentUserKey = "currentUser"

	reconcileTimeout = 15 * time.Second
)

// SessionVerifier 校验会话令牌。
type SessionVerifier interface {
	Verify(token string) (auth.Session, error)
}

// UserResolver 将会话映射为本地用户。
type UserResolver interface {
	ResolveOrCreate(ctx context.Context, externalID string) (database.User, error)
	Touch(ctx context.Context, user database.User) error
	NeedsReconcile(user database.User) bool
	Reconcile(ctx context.Context, user database.User) (database.User, error)
}

// RequireSession 要求请求携带有效会话，否则返回 401。
func RequireSession(verifier SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.TokenFromRequest(c.Request)
		if token == "" {
			AbortWithError(c, errcode.Unauthenticated("authentication required"))
			return
		}
		session, err := verifier.Verify(token)
		if err != nil {
			LoggerFromContext(c).Debug("session rejected", slog.Any("error", err))
			AbortWithError(c, errcode.Unauthenticated("invalid session"))
			return
		}
		c.Set(sessionKey, session)
		c.Next()
	}
}

// CurrentUser 解析（必要时创建）本地用户并写入上下文。需挂在 RequireSession 之后。
func CurrentUser(resolver UserResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := SessionFromContext(c)
		if !ok {
			AbortWithError(c, errcode.Unauthenticated("authentication required"))
			return
		}
		ctx := c.Request.Context()
		logger := LoggerFromContext(c)

		user, err := resolver.ResolveOrCreate(ctx, session.ExternalID)
		if err != nil {
			logger.Error("resolve current user failed", slog.Any("error", err))
			AbortWithError(c, err)
			return
		}
		if err := resolver.Touch(ctx, user); err != nil {
			logger.Warn("touch user failed", slog.Uint64("user_id", uint64(user.ID)), slog.Any("error", err))
		}

		if resolver.NeedsReconcile(user) {
			bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), reconcileTimeout)
			go func() {
				defer cancel()
				if _, err := resolver.Reconcile(bg, user); err != nil {
					logger.Warn("profile reconcile failed",
						slog.Uint64("user_id", uint64(user.ID)),
						slog.Any("error", err),
					)
				}
			}()
		}

		c.Set(currentUserKey, user)
		c.Next()
	}
}

// OptionalCurrentUser 在携带有效会话时解析当前用户，否则按匿名请求放行。
func OptionalCurrentUser(verifier SessionVerifier, resolver UserResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.TokenFromRequest(c.Request)
		if token == "" {
			c.Next()
			return
		}
		session, err := verifier.Verify(token)
		if err != nil {
			c.Next()
			return
		}
		user, err := resolver.ResolveOrCreate(c.Request.Context(), session.ExternalID)
		if err != nil {
			LoggerFromContext(c).Warn("resolve optional user failed", slog.Any("error", err))
			c.Next()
			return
		}
		c.Set(sessionKey, session)
		c.Set(currentUserKey, user)
		c.Next()
	}
}

// RequireAdmin 仅允许管理员继续，非管理员返回 403。需挂在 CurrentUser 之后。
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUserFromContext(c)
		if !ok {
			AbortWithError(c, errcode.Unauthenticated("authentication required"))
			return
		}
		if user.Role != database.RoleAdmin {
			AbortWithError(c, errcode.Unauthorized("admin role required"))
			return
		}
		c.Next()
	}
}

// SessionFromContext 取出已校验的会话。
func SessionFromContext(c *gin.Context) (auth.Session, bool) {
	if value, ok := c.Get(sessionKey); ok {
		if session, ok := value.(auth.Session); ok {
			return session, true
		}
	}
	return auth.Session{}, false
}

// CurrentUserFromContext 取出当前本地用户。
func CurrentUserFromContext(c *gin.Context) (database.User, bool) {
	if value, ok := c.Get(currentUserKey); ok {
		if user, ok := value.(database.User); ok {
			return user, true
		}
	}
	return database.User{}, false
}

// IsAdmin 判断当前调用方是否为管理员。
func IsAdmin(c *gin.Context) bool {
	user, ok := CurrentUserFromContext(c)
	return ok && user.Role == database.RoleAdmin
}

// ErrorBody 构造统一的错误响应体，原始错误仅对管理员可见。
func ErrorBody(c *gin.Context, err error) gin.H {
	body := gin.H{
		"error": errcode.PublicMessage(err),
		"code":  errcode.KindOf(err),
	}
	if IsAdmin(c) && err != nil {
		body["detail"] = err.Error()
	}
	return body
}

// AbortWithError 按错误类别终止请求。
func AbortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errcode.HTTPStatus(err), ErrorBody(c, err))
}
