package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"cvforge/internal/api/middleware"
	"cvforge/internal/database"
	"cvforge/internal/worker"
)

const (
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 5 * time.Second
	wsAuthTimeout  = 10 * time.Second
)

// UserLookup 将外部身份映射为本地用户。
type UserLookup interface {
	ResolveOrCreate(ctx context.Context, externalID string) (database.User, error)
}

// WsHandler 负责 WebSocket 鉴权，并将用户通知频道的消息转发给客户端。
type WsHandler struct {
	redisClient    *redis.Client
	verifier       middleware.SessionVerifier
	users          UserLookup
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	allowedOrigins []string
}

// NewWsHandler 构造 WebSocket 处理器。allowedOrigins 为空时只允许同源。
func NewWsHandler(redisClient *redis.Client, verifier middleware.SessionVerifier, users UserLookup, logger *slog.Logger, allowedOrigins []string) *WsHandler {
	h := &WsHandler{
		redisClient:    redisClient,
		verifier:       verifier,
		users:          users,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *WsHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.allowedOrigins) == 0 {
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
	return slices.Contains(h.allowedOrigins, origin)
}

type wsAuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type wsAuthResult struct {
	userID uint
	err    error
}

// HandleConnection 升级连接；首条消息须为 {"type":"auth","token":...}。
func (h *WsHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	baseLog := h.logger.With(
		slog.String("client_ip", c.ClientIP()),
		slog.String("correlation_id", middleware.GetCorrelationID(c)),
	)

	authCh := make(chan wsAuthResult, 1)
	errCh := make(chan error, 2)
	go h.readLoop(ctx, conn, authCh, errCh, cancel)

	var userID uint
	select {
	case <-ctx.Done():
		return
	case <-time.After(wsAuthTimeout):
		writeClose(conn, websocket.ClosePolicyViolation, "auth timeout")
		baseLog.Warn("websocket authentication timed out")
		return
	case err := <-errCh:
		baseLog.Info("websocket closed before auth", slog.Any("error", err))
		return
	case result := <-authCh:
		if result.err != nil {
			writeClose(conn, websocket.ClosePolicyViolation, "unauthorized")
			baseLog.Warn("websocket authentication failed", slog.Any("error", result.err))
			return
		}
		userID = result.userID
	}

	userLog := baseLog.With(slog.Uint64("user_id", uint64(userID)))
	userLog.Info("websocket authenticated")
	go h.subscribeLoop(ctx, conn, userID, errCh, cancel, userLog)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		userLog.Info("websocket connection closed", slog.Any("error", err))
	}
}

func (h *WsHandler) authenticate(ctx context.Context, message []byte) (uint, error) {
	var msg wsAuthMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return 0, fmt.Errorf("decode auth payload: %w", err)
	}
	if msg.Type != "auth" || strings.TrimSpace(msg.Token) == "" {
		return 0, errors.New("auth message required")
	}
	session, err := h.verifier.Verify(msg.Token)
	if err != nil {
		return 0, fmt.Errorf("verify token: %w", err)
	}
	user, err := h.users.ResolveOrCreate(ctx, session.ExternalID)
	if err != nil {
		return 0, fmt.Errorf("resolve user: %w", err)
	}
	return user.ID, nil
}

func (h *WsHandler) readLoop(
	ctx context.Context,
	conn *websocket.Conn,
	authCh chan<- wsAuthResult,
	errCh chan<- error,
	cancel context.CancelFunc,
) {
	authenticated := false
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			errCh <- fmt.Errorf("read message: %w", err)
			cancel()
			return
		}
		if !authenticated {
			userID, err := h.authenticate(ctx, message)
			authCh <- wsAuthResult{userID: userID, err: err}
			if err != nil {
				return
			}
			authenticated = true
		}
		// 认证后的客户端消息忽略，循环仅用于感知断开
	}
}

func writeClose(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(wsWriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

func (h *WsHandler) subscribeLoop(
	ctx context.Context,
	conn *websocket.Conn,
	userID uint,
	errCh chan<- error,
	cancel context.CancelFunc,
	log *slog.Logger,
) {
	channel := worker.NotifyChannel(userID)
	pubsub := h.redisClient.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug("subscribed to redis channel", slog.String("channel", channel))

	ch := pubsub.Channel()
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				errCh <- errors.New("pubsub channel closed")
				cancel()
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				errCh <- fmt.Errorf("write message: %w", err)
				cancel()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteTimeout)); err != nil {
				errCh <- fmt.Errorf("write ping: %w", err)
				cancel()
				return
			}
		}
	}
}
