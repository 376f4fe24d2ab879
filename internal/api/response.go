package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cvforge/internal/api/middleware"
	"cvforge/internal/database"
	"cvforge/internal/errcode"
)

// RespondError 按错误类别写出响应，5xx 记录原因。
func RespondError(c *gin.Context, err error) {
	status := errcode.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		middleware.LoggerFromContext(c).Error("request failed",
			slog.String("kind", string(errcode.KindOf(err))),
			slog.Any("error", err),
		)
	}
	c.JSON(status, middleware.ErrorBody(c, err))
}

// BadRequest 返回校验错误。
func BadRequest(c *gin.Context, msg string) { RespondError(c, errcode.Validation(msg)) }

// currentUser 取出当前用户，缺失时直接写 401。
func currentUser(c *gin.Context) (database.User, bool) {
	user, ok := middleware.CurrentUserFromContext(c)
	if !ok {
		RespondError(c, errcode.Unauthenticated("authentication required"))
		return database.User{}, false
	}
	return user, true
}

// uintParam 解析正整数路径参数。
func uintParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

// uintQuery 解析可选的正整数查询参数，未提供时返回 0。
func uintQuery(c *gin.Context, name string) (uint, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

func pageQuery(c *gin.Context) int {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}
