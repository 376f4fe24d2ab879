package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"cvforge/internal/errcode"
	"cvforge/internal/observability"
)

// Profile 是本地镜像的用户资料字段。
type Profile struct {
	ExternalID string
	Name       string
	Email      string
}

// ProviderUser 是身份提供方的用户结构，REST 接口与 Webhook 共用。
type ProviderUser struct {
	ID                    string `json:"id"`
	FirstName             string `json:"first_name"`
	LastName              string `json:"last_name"`
	Username              string `json:"username"`
	PrimaryEmailAddressID string `json:"primary_email_address_id"`
	EmailAddresses        []struct {
		ID           string `json:"id"`
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
}

// Profile 提取显示名与主邮箱。
func (u ProviderUser) Profile() Profile {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		name = strings.TrimSpace(u.Username)
	}
	var email string
	for _, addr := range u.EmailAddresses {
		if addr.ID == u.PrimaryEmailAddressID {
			email = addr.EmailAddress
			break
		}
	}
	if email == "" && len(u.EmailAddresses) > 0 {
		email = u.EmailAddresses[0].EmailAddress
	}
	return Profile{ExternalID: u.ID, Name: name, Email: strings.TrimSpace(email)}
}

// ProfileClient 通过身份提供方后端 API 读取用户资料。
type ProfileClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewProfileClient 构造带请求超时的客户端。
func NewProfileClient(baseURL, apiKey string, timeout time.Duration) *ProfileClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ProfileClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchProfile 拉取 externalID 对应的用户资料。
func (c *ProfileClient) FetchProfile(ctx context.Context, externalID string) (Profile, error) {
	span, ctx := observability.NewSpan(ctx, "identity_provider.fetch_profile")
	defer span.End()
	span.AddAttributes(attribute.String("user.external_id", externalID))

	if c.baseURL == "" {
		return Profile{}, errcode.Upstream("identity provider", fmt.Errorf("api base url missing"))
	}

	targetURL := fmt.Sprintf("%s/v1/users/%s", c.baseURL, url.PathEscape(externalID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return Profile{}, errcode.Internal(fmt.Errorf("build profile request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.SetError(err)
		return Profile{}, errcode.Upstream("identity provider", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Profile{}, errcode.NotFound("identity provider user")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		span.SetError(err)
		return Profile{}, errcode.Upstream("identity provider", err)
	}

	var payload ProviderUser
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return Profile{}, errcode.Upstream("identity provider", fmt.Errorf("decode profile: %w", err))
	}
	profile := payload.Profile()
	if profile.ExternalID == "" {
		profile.ExternalID = externalID
	}
	return profile, nil
}
