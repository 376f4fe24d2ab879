package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"cvforge/internal/api/middleware"
	"cvforge/internal/database"
	"cvforge/internal/templates"
)

// TemplateHandler 负责模板目录的读取与重置。
type TemplateHandler struct {
	catalog *templates.Catalog
}

// NewTemplateHandler 构造 TemplateHandler。
func NewTemplateHandler(catalog *templates.Catalog) *TemplateHandler {
	return &TemplateHandler{catalog: catalog}
}

// List 返回按分类分组的启用模板。
func (h *TemplateHandler) List(c *gin.Context) {
	grouped, err := h.catalog.ListActive(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTemplateCatalogResponse(grouped))
}

type templateInput struct {
	ID          string                    `json:"id"`
	Name        string                    `json:"name"`
	Category    database.TemplateCategory `json:"category"`
	Description string                    `json:"description"`
	PreviewURL  string                    `json:"preview_url"`
	IsActive    *bool                     `json:"is_active"`
	SortOrder   int                       `json:"sort_order"`
}

type resetRequest struct {
	Templates []templateInput `json:"templates"`
}

// Reset 整体替换模板目录。请求体为空时使用内置目录。
func (h *TemplateHandler) Reset(c *gin.Context) {
	var req resetRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, "invalid request body")
			return
		}
	}

	list := templates.DefaultCatalog()
	if len(req.Templates) > 0 {
		list = make([]database.CVTemplate, 0, len(req.Templates))
		for i, in := range req.Templates {
			active := in.IsActive == nil || *in.IsActive
			order := in.SortOrder
			if order == 0 {
				order = i + 1
			}
			list = append(list, database.CVTemplate{
				ID:             in.ID,
				Name:           in.Name,
				Category:       in.Category,
				Description:    in.Description,
				PreviewURL:     in.PreviewURL,
				IsActive:       active,
				SortOrder:      order,
				DefaultContent: templates.DefaultContent(in.Category).JSON(),
			})
		}
	}

	count, err := h.catalog.Reset(c.Request.Context(), list)
	if err != nil {
		RespondError(c, err)
		return
	}
	middleware.LoggerFromContext(c).Info("template catalog reset", slog.Int("count", count))
	c.JSON(http.StatusOK, gin.H{"count": count})
}
