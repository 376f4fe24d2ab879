package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cvforge/internal/resume"
)

// CVHandler 负责 CV 文档的增删改查。
type CVHandler struct {
	store *resume.Store
}

// NewCVHandler 构造 CVHandler。
func NewCVHandler(store *resume.Store) *CVHandler {
	return &CVHandler{store: store}
}

// Create 创建一份未发布的 CV。
func (h *CVHandler) Create(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req resume.CreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	cv, err := h.store.Create(c.Request.Context(), user.ID, req)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newCVResponse(cv, true))
}

// List 返回当前用户的 CV，最近更新在前。
func (h *CVHandler) List(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	list, err := h.store.List(c.Request.Context(), user.ID)
	if err != nil {
		RespondError(c, err)
		return
	}
	items := make([]cvResponse, 0, len(list))
	for _, cv := range list {
		items = append(items, newCVResponse(cv, false))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Get 返回单份 CV，非本人的 CV 视为不存在。
func (h *CVHandler) Get(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	cv, err := h.store.Get(c.Request.Context(), user.ID, id)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCVResponse(cv, true))
}

// Update 合并请求中出现的字段。
func (h *CVHandler) Update(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req resume.UpdateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	cv, err := h.store.Update(c.Request.Context(), user.ID, id, req)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCVResponse(cv, true))
}

// Delete 删除 CV。
func (h *CVHandler) Delete(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.store.Delete(c.Request.Context(), user.ID, id); err != nil {
		RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
