package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"cvforge/internal/api/middleware"
	"cvforge/internal/database"
	"cvforge/internal/photos"
	"cvforge/internal/stats"
	"cvforge/internal/storage"
	"cvforge/internal/users"
)

// AdminHandler 汇集管理端的照片、用户与统计接口。
type AdminHandler struct {
	workflow  *photos.Workflow
	directory *users.Directory
	stats     *stats.Service
	intake    *ImageIntake
	now       func() time.Time
}

// NewAdminHandler 构造 AdminHandler。
func NewAdminHandler(workflow *photos.Workflow, directory *users.Directory, statsService *stats.Service, intake *ImageIntake) *AdminHandler {
	return &AdminHandler{
		workflow:  workflow,
		directory: directory,
		stats:     statsService,
		intake:    intake,
		now:       time.Now,
	}
}

// ListOperations 支持 user_id、status、include_cancelled 过滤。
func (h *AdminHandler) ListOperations(c *gin.Context) {
	userID, ok := uintQuery(c, "user_id")
	if !ok {
		return
	}
	includeCancelled, _ := strconv.ParseBool(c.DefaultQuery("include_cancelled", "false"))
	list, err := h.workflow.AdminList(c.Request.Context(), photos.AdminFilter{
		UserID:           userID,
		Status:           database.PhotoStatus(c.Query("status")),
		IncludeCancelled: includeCancelled,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list})
}

func (h *AdminHandler) GetOperation(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	view, err := h.workflow.AdminGet(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// DeleteOperation 物理删除操作及其照片。
func (h *AdminHandler) DeleteOperation(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.workflow.AdminDelete(c.Request.Context(), id); err != nil {
		RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type statusRequest struct {
	Status database.PhotoStatus `json:"status"`
}

func (h *AdminHandler) SetOperationStatus(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	op, err := h.workflow.AdminSetStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		RespondError(c, err)
		return
	}
	middleware.LoggerFromContext(c).Info("photo operation status overridden",
		slog.Uint64("operation_id", uint64(id)),
		slog.String("status", string(op.Status)),
	)
	c.JSON(http.StatusOK, photos.NewOperationView(op, nil))
}

type notesRequest struct {
	Notes string `json:"notes"`
}

func (h *AdminHandler) SetOperationNotes(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req notesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	op, err := h.workflow.AdminSetNotes(c.Request.Context(), id, req.Notes)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, photos.NewOperationView(op, nil))
}

// UploadProcessed 上传人工处理的结果图并挂到用户最近的未结束操作下。
func (h *AdminHandler) UploadProcessed(c *gin.Context) {
	if err := h.intake.ParseForm(c); err != nil {
		RespondError(c, err)
		return
	}
	userID, err := strconv.ParseUint(c.PostForm("user_id"), 10, 64)
	if err != nil || userID == 0 {
		BadRequest(c, "user_id is required")
		return
	}
	if _, err := h.directory.Get(c.Request.Context(), uint(userID)); err != nil {
		RespondError(c, err)
		return
	}

	img, err := h.intake.Receive(c, func(ext string) string {
		return storage.GeneratedKey(uint(userID), ext)
	})
	if err != nil {
		RespondError(c, err)
		return
	}

	photo, err := h.workflow.AdminAttachProcessed(c.Request.Context(), uint(userID), photos.AttachInput{
		URL:       img.URL,
		ObjectKey: img.ObjectKey,
		Metadata:  map[string]any{"original_filename": img.Filename},
	})
	if err != nil {
		h.intake.Discard(c, img)
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"photo_id":     photo.ID,
		"operation_id": photo.OperationID,
		"url":          photo.URL,
		"object_key":   photo.ObjectKey,
	})
}

func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, err := h.directory.List(c.Request.Context(), pageQuery(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	items := make([]userResponse, 0, len(page.Users))
	for _, u := range page.Users {
		items = append(items, newUserResponse(u))
	}
	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": page.Total,
		"page":  page.Page,
		"pages": page.Pages,
	})
}

type roleRequest struct {
	Role database.Role `json:"role"`
}

func (h *AdminHandler) SetUserRole(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	user, err := h.directory.SetRole(c.Request.Context(), id, req.Role)
	if err != nil {
		RespondError(c, err)
		return
	}
	middleware.LoggerFromContext(c).Info("user role changed",
		slog.Uint64("target_user_id", uint64(id)),
		slog.String("role", string(user.Role)),
	)
	c.JSON(http.StatusOK, newUserResponse(user))
}

// SyncUser 立即从身份提供方同步资料。
func (h *AdminHandler) SyncUser(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	user, err := h.directory.Get(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	user, err = h.directory.Reconcile(c.Request.Context(), user)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(user))
}

func (h *AdminHandler) Stats(c *gin.Context) {
	dashboard, err := h.stats.Dashboard(c.Request.Context(), h.now())
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dashboard)
}
