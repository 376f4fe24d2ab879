package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cvforge/internal/api/middleware"
	"cvforge/internal/blog"
	"cvforge/internal/database"
)

// BlogHandler 负责文章、分类、标签与评论接口。
type BlogHandler struct {
	store *blog.Store
}

// NewBlogHandler 构造 BlogHandler。
func NewBlogHandler(store *blog.Store) *BlogHandler {
	return &BlogHandler{store: store}
}

// List 公开列表，只含已发布文章。
func (h *BlogHandler) List(c *gin.Context) {
	h.list(c, true)
}

// ListAll 管理端列表，包含草稿。
func (h *BlogHandler) ListAll(c *gin.Context) {
	h.list(c, false)
}

func (h *BlogHandler) list(c *gin.Context, publishedOnly bool) {
	page, err := h.store.ListPosts(c.Request.Context(), blog.ListFilter{
		Page:          pageQuery(c),
		PublishedOnly: publishedOnly,
		CategorySlug:  c.Query("category"),
		TagSlug:       c.Query("tag"),
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	items := make([]postResponse, 0, len(page.Posts))
	for _, p := range page.Posts {
		items = append(items, newPostResponse(p, false))
	}
	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": page.Total,
		"page":  page.Page,
		"pages": page.Pages,
	})
}

// Get 返回单篇已发布文章；管理员可查看草稿。
func (h *BlogHandler) Get(c *gin.Context) {
	post, err := h.store.GetBySlug(c.Request.Context(), c.Param("slug"), middleware.IsAdmin(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPostResponse(post, true))
}

func (h *BlogHandler) Create(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req blog.PostInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	post, err := h.store.CreatePost(c.Request.Context(), user.ID, req)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newPostResponse(post, true))
}

func (h *BlogHandler) Update(c *gin.Context) {
	var req blog.PostUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	post, err := h.store.UpdatePost(c.Request.Context(), c.Param("slug"), req)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPostResponse(post, true))
}

func (h *BlogHandler) Delete(c *gin.Context) {
	if err := h.store.DeletePost(c.Request.Context(), c.Param("slug")); err != nil {
		RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type termRequest struct {
	Name string `json:"name"`
}

func (h *BlogHandler) ListCategories(c *gin.Context) {
	list, err := h.store.ListCategories(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": newCategoryResponses(list)})
}

func (h *BlogHandler) CreateCategory(c *gin.Context) {
	var req termRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	category, err := h.store.CreateCategory(c.Request.Context(), req.Name)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newCategoryResponses([]database.Category{category})[0])
}

func (h *BlogHandler) DeleteCategory(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteCategory(c.Request.Context(), id); err != nil {
		RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *BlogHandler) ListTags(c *gin.Context) {
	list, err := h.store.ListTags(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": newTagResponses(list)})
}

func (h *BlogHandler) CreateTag(c *gin.Context) {
	var req termRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	tag, err := h.store.CreateTag(c.Request.Context(), req.Name)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newTagResponses([]database.Tag{tag})[0])
}

func (h *BlogHandler) DeleteTag(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteTag(c.Request.Context(), id); err != nil {
		RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *BlogHandler) ListComments(c *gin.Context) {
	list, err := h.store.ListComments(c.Request.Context(), c.Param("slug"))
	if err != nil {
		RespondError(c, err)
		return
	}
	items := make([]commentResponse, 0, len(list))
	for _, comment := range list {
		items = append(items, newCommentResponse(comment))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type commentRequest struct {
	Content string `json:"content"`
}

func (h *BlogHandler) CreateComment(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	comment, err := h.store.CreateComment(c.Request.Context(), c.Param("slug"), user.ID, req.Content)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newCommentResponse(comment))
}

// DeleteComment 作者或管理员可删除。
func (h *BlogHandler) DeleteComment(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	commentID, ok := uintParam(c, "commentId")
	if !ok {
		return
	}
	err := h.store.DeleteComment(c.Request.Context(), c.Param("slug"), commentID, user.ID, user.Role == database.RoleAdmin)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
