package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvforge/internal/database"
	"cvforge/internal/testutil"
	"cvforge/internal/worker"
)

func newWsServer(t *testing.T) (*testServer, *miniredis.Miniredis, string) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := newTestServer(t, func(d *Dependencies) { d.Redis = client })
	httpServer := httptest.NewServer(s.router)
	t.Cleanup(httpServer.Close)
	return s, mr, "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
}

func dialWs(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWsForwardsUserNotifications(t *testing.T) {
	s, mr, url := newWsServer(t)
	user := testutil.CreateUser(t, s.db, "ws_user", database.RoleUser)

	conn := dialWs(t, url)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": s.token(t, "ws_user")}))

	channel := worker.NotifyChannel(user.ID)
	payload := `{"type":"photo_operation","operation_id":7,"status":"COMPLETED","cancellable":false}`
	require.Eventually(t, func() bool {
		return mr.Publish(channel, payload) > 0
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, payload, string(message))
}

func TestWsRejectsInvalidToken(t *testing.T) {
	_, _, url := newWsServer(t)

	conn := dialWs(t, url)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": "forged"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "unexpected error: %v", err)
}

func TestWsRejectsForeignOrigin(t *testing.T) {
	_, _, url := newWsServer(t)

	header := http.Header{}
	header.Set("Origin", "https://evil.test")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestReadyReportsFailedChecks(t *testing.T) {
	s := newTestServer(t, func(d *Dependencies) {
		d.Readiness = map[string]ReadinessCheck{
			"database": func(context.Context) error { return nil },
			"storage":  func(context.Context) error { return errors.New("bucket unreachable") },
		}
	})

	rec := s.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"database": "ok", "storage": "unavailable"}, body["checks"])

	healthy := newTestServer(t)
	rec = healthy.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}
