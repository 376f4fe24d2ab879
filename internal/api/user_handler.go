package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Me 返回当前登录用户。
func Me(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newUserResponse(user))
}
