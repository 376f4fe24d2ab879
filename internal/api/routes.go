package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"cvforge/internal/api/middleware"
	"cvforge/internal/auth"
	"cvforge/internal/blog"
	"cvforge/internal/photos"
	"cvforge/internal/resume"
	"cvforge/internal/stats"
	"cvforge/internal/templates"
	"cvforge/internal/users"
)

// Dependencies 汇集 HTTP 层依赖。Redis 与 Webhook 为可选项。
type Dependencies struct {
	Logger          *slog.Logger
	Sessions        middleware.SessionVerifier
	Webhooks        *auth.WebhookVerifier
	Users           *users.Directory
	CVs             *resume.Store
	Templates       *templates.Catalog
	Photos          *photos.Workflow
	Blog            *blog.Store
	Stats           *stats.Service
	Intake          *ImageIntake
	Redis           *redis.Client
	RateLimiter     *middleware.RateLimiter
	AllowedOrigins  []string
	InternalSecret  string
	AsyncProcessing bool
	Readiness       map[string]ReadinessCheck
}

// RegisterRoutes 注册 /ready 与全部业务路由；/health 与 /metrics 由 NewRouter 挂载。
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	cvHandler := NewCVHandler(deps.CVs)
	templateHandler := NewTemplateHandler(deps.Templates)
	photoHandler := NewPhotoHandler(deps.Photos, deps.Intake, deps.AsyncProcessing)
	adminHandler := NewAdminHandler(deps.Photos, deps.Users, deps.Stats, deps.Intake)
	blogHandler := NewBlogHandler(deps.Blog)
	webhookHandler := NewWebhookHandler(deps.Webhooks, deps.Users)

	requireSession := middleware.RequireSession(deps.Sessions)
	currentUser := middleware.CurrentUser(deps.Users)
	requireUser := []gin.HandlerFunc{requireSession, currentUser}
	requireAdmin := []gin.HandlerFunc{requireSession, currentUser, middleware.RequireAdmin()}
	optionalUser := middleware.OptionalCurrentUser(deps.Sessions, deps.Users)

	router.GET("/ready", Ready(deps.Readiness))

	if deps.Redis != nil {
		wsHandler := NewWsHandler(deps.Redis, deps.Sessions, deps.Users, deps.Logger, deps.AllowedOrigins)
		router.GET("/ws", wsHandler.HandleConnection)
	}

	v1 := router.Group("/v1")

	v1.POST("/webhook/identity-provider", deps.RateLimiter.Middleware("webhook"), webhookHandler.Handle)
	v1.POST("/internal/photos/:id/timeout",
		middleware.InternalSecretMiddleware(deps.InternalSecret),
		photoHandler.ExpireCancelWindowInternal,
	)

	public := v1.Group("/blog")
	public.Use(deps.RateLimiter.Middleware("public"), optionalUser)
	{
		public.GET("", blogHandler.List)
		public.GET("/categories", blogHandler.ListCategories)
		public.GET("/tags", blogHandler.ListTags)
		public.GET("/:slug", blogHandler.Get)
		public.GET("/:slug/comments", blogHandler.ListComments)
	}

	user := v1.Group("")
	user.Use(requireUser...)
	{
		user.GET("/user/me", Me)

		user.POST("/cvs", cvHandler.Create)
		user.GET("/cvs", cvHandler.List)
		user.GET("/cvs/:id", cvHandler.Get)
		user.PATCH("/cvs/:id", cvHandler.Update)
		user.DELETE("/cvs/:id", cvHandler.Delete)
		user.GET("/cv-templates", templateHandler.List)

		user.POST("/photos/upload", photoHandler.Upload)
		user.POST("/photos/create", photoHandler.Create)
		user.POST("/photos/process", photoHandler.Process)
		user.POST("/photos/cancel/:id", photoHandler.Cancel)
		user.POST("/photos/cancel/:id/timeout", photoHandler.ExpireCancelWindow)
		user.GET("/user/photos/pending", photoHandler.Pending)
		user.GET("/user/photos/operations", photoHandler.Operations)

		user.POST("/blog/:slug/comments", deps.RateLimiter.Middleware("comments"), blogHandler.CreateComment)
		user.DELETE("/blog/:slug/comments/:commentId", blogHandler.DeleteComment)
	}

	blogAdmin := v1.Group("/blog")
	blogAdmin.Use(requireAdmin...)
	{
		blogAdmin.POST("", blogHandler.Create)
		blogAdmin.PUT("/:slug", blogHandler.Update)
		blogAdmin.DELETE("/:slug", blogHandler.Delete)
		blogAdmin.POST("/categories", blogHandler.CreateCategory)
		blogAdmin.DELETE("/categories/:id", blogHandler.DeleteCategory)
		blogAdmin.POST("/tags", blogHandler.CreateTag)
		blogAdmin.DELETE("/tags/:id", blogHandler.DeleteTag)
	}

	admin := v1.Group("/admin")
	admin.Use(requireAdmin...)
	{
		admin.GET("/photos/operations", adminHandler.ListOperations)
		admin.GET("/photos/operations/:id", adminHandler.GetOperation)
		admin.DELETE("/photos/operations/:id", adminHandler.DeleteOperation)
		admin.PUT("/photos/operations/:id/status", adminHandler.SetOperationStatus)
		admin.PUT("/photos/operations/:id/notes", adminHandler.SetOperationNotes)
		admin.POST("/photos/upload", adminHandler.UploadProcessed)

		admin.GET("/users", adminHandler.ListUsers)
		admin.PUT("/users/:id/role", adminHandler.SetUserRole)
		admin.POST("/users/:id/sync", adminHandler.SyncUser)

		admin.POST("/templates/reset", templateHandler.Reset)
		admin.GET("/stats", adminHandler.Stats)
		admin.GET("/blog", blogHandler.ListAll)
	}
}
