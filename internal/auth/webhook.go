package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	svix "github.com/svix/svix-webhooks/go"
)

// 身份提供方推送的 Webhook 事件类型。
const (
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
)

const webhookTolerance = 5 * time.Minute

var (
	ErrWebhookHeaders   = errors.New("missing webhook signature headers")
	ErrWebhookTimestamp = errors.New("webhook timestamp outside tolerance")
	ErrWebhookSignature = errors.New("no matching webhook signature")
)

// WebhookEvent 表示用户生命周期事件。
type WebhookEvent struct {
	Type string       `json:"type"`
	Data ProviderUser `json:"data"`
}

// WebhookVerifier 校验 svix-id / svix-timestamp / svix-signature 签名头。
// 签名比对交给 svix，时间窗口按注入的时钟判断。
type WebhookVerifier struct {
	webhook *svix.Webhook
	now     func() time.Time
}

// NewWebhookVerifier 解码 "whsec_<base64>" 格式的密钥。
func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if strings.TrimPrefix(secret, "whsec_") == "" {
		return nil, errors.New("webhook secret is required")
	}
	webhook, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, fmt.Errorf("decode webhook secret: %w", err)
	}
	return &WebhookVerifier{webhook: webhook, now: time.Now}, nil
}

// Verify 校验签名与时间戳，并解析事件。
func (v *WebhookVerifier) Verify(headers http.Header, body []byte) (WebhookEvent, error) {
	id := headers.Get("svix-id")
	timestamp := headers.Get("svix-timestamp")
	if id == "" || timestamp == "" || headers.Get("svix-signature") == "" {
		return WebhookEvent{}, ErrWebhookHeaders
	}

	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return WebhookEvent{}, ErrWebhookTimestamp
	}
	if d := v.now().Sub(time.Unix(seconds, 0)); d > webhookTolerance || d < -webhookTolerance {
		return WebhookEvent{}, ErrWebhookTimestamp
	}

	if err := v.webhook.VerifyIgnoringTimestamp(body, headers); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode webhook event: %w", err)
	}
	return event, nil
}

// Sign 生成 svix-signature 头的值（"v1,<base64>"）。
func (v *WebhookVerifier) Sign(id string, sent time.Time, body []byte) (string, error) {
	return v.webhook.Sign(id, sent, body)
}
