package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cvforge/internal/database"
	"cvforge/internal/photos"
	"cvforge/internal/storage"
)

// PhotoHandler 负责用户侧的照片上传与处理流程。
type PhotoHandler struct {
	workflow *photos.Workflow
	intake   *ImageIntake
	async    bool
}

// NewPhotoHandler 构造 PhotoHandler。async 为 true 时处理请求改为入队。
func NewPhotoHandler(workflow *photos.Workflow, intake *ImageIntake, async bool) *PhotoHandler {
	return &PhotoHandler{workflow: workflow, intake: intake, async: async}
}

// Upload 接收原图并写入用户目录。
func (h *PhotoHandler) Upload(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	img, err := h.intake.Receive(c, func(ext string) string {
		return storage.UserAssetKey(user.ID, ext)
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, img)
}

// Create 以已上传的原图创建照片操作。
func (h *PhotoHandler) Create(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req photos.SubmitInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	op, err := h.workflow.Submit(c.Request.Context(), user.ID, req)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, userOperationView(op))
}

type processRequest struct {
	OperationID uint `json:"operation_id"`
}

// Process 触发 AI 处理；异步模式下返回 202。
func (h *PhotoHandler) Process(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.OperationID == 0 {
		BadRequest(c, "operation_id is required")
		return
	}

	if h.async {
		taskID, err := h.workflow.Enqueue(c.Request.Context(), user.ID, req.OperationID)
		if err != nil {
			RespondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"operation_id": req.OperationID, "task_id": taskID})
		return
	}

	result, err := h.workflow.Process(c.Request.Context(), user.ID, req.OperationID)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"operation": userOperationView(result.Operation),
		"generated": result.Generated,
		"failed":    result.Failed,
	})
}

// Cancel 在取消窗口内取消待处理操作。
func (h *PhotoHandler) Cancel(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.workflow.Cancel(c.Request.Context(), user.ID, id); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"operation_id": id, "status": database.PhotoStatusCancelled})
}

// ExpireCancelWindow 由前端倒计时结束时调用，关闭取消窗口。
func (h *PhotoHandler) ExpireCancelWindow(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.workflow.ExpireCancelWindow(c.Request.Context(), user.ID, id); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"operation_id": id, "cancellable": false})
}

// ExpireCancelWindowInternal 供调度方通过共享密钥调用。
func (h *PhotoHandler) ExpireCancelWindowInternal(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.workflow.ExpireCancelWindowByID(c.Request.Context(), id); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"operation_id": id, "cancellable": false})
}

// Pending 返回最近一个未结束的操作。
func (h *PhotoHandler) Pending(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	op, err := h.workflow.Pending(c.Request.Context(), user.ID)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, userOperationView(op))
}

// Operations 列出当前用户的全部操作。
func (h *PhotoHandler) Operations(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	list, err := h.workflow.ListForUser(c.Request.Context(), user.ID)
	if err != nil {
		RespondError(c, err)
		return
	}
	items := make([]photos.OperationView, 0, len(list))
	for _, op := range list {
		items = append(items, userOperationView(op))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// 上游错误与备注只对管理员可见
func userOperationView(op database.PhotoOperation) photos.OperationView {
	view := photos.NewOperationView(op, nil)
	view.LastError = ""
	view.Notes = ""
	return view
}
