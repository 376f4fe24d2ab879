package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"cvforge/internal/api/middleware"
	"cvforge/internal/auth"
	"cvforge/internal/errcode"
	"cvforge/internal/users"
)

const maxWebhookBody = 1 << 20

var errWebhookNotConfigured = errors.New("webhook secret is not configured")

// WebhookHandler 接收身份提供方的用户生命周期事件。
type WebhookHandler struct {
	verifier  *auth.WebhookVerifier
	directory *users.Directory
}

// NewWebhookHandler 构造 WebhookHandler。verifier 为空时接口返回 500。
func NewWebhookHandler(verifier *auth.WebhookVerifier, directory *users.Directory) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, directory: directory}
}

func (h *WebhookHandler) Handle(c *gin.Context) {
	log := middleware.LoggerFromContext(c)
	if h.verifier == nil {
		RespondError(c, errcode.Internal(errWebhookNotConfigured))
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		BadRequest(c, "failed to read body")
		return
	}
	event, err := h.verifier.Verify(c.Request.Header, body)
	if err != nil {
		log.Warn("webhook signature rejected", slog.Any("error", err))
		RespondError(c, errcode.Unauthenticated("invalid webhook signature"))
		return
	}
	if err := h.directory.ApplyWebhook(c.Request.Context(), event); err != nil {
		RespondError(c, err)
		return
	}
	log.Info("webhook applied",
		slog.String("type", event.Type),
		slog.String("svix_id", c.GetHeader("svix-id")),
	)
	c.JSON(http.StatusOK, gin.H{"received": true})
}
