package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvforge/internal/errcode"
)

func newKeyPair(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return key, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func TestSessionVerifierAcceptsSignedToken(t *testing.T) {
	key, pubPEM := newKeyPair(t)
	verifier, err := NewSessionVerifier(pubPEM, "https://idp.test", nil)
	require.NoError(t, err)

	token, err := NewSignerFromKey(key, "https://idp.test", time.Minute).Sign("user_123")
	require.NoError(t, err)

	session, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user_123", session.ExternalID)
	assert.WithinDuration(t, time.Now().Add(time.Minute), session.ExpiresAt, 5*time.Second)
}

func TestSessionVerifierRejects(t *testing.T) {
	key, pubPEM := newKeyPair(t)
	otherKey, _ := newKeyPair(t)
	verifier, err := NewSessionVerifier(pubPEM, "https://idp.test", []string{"https://app.test"})
	require.NoError(t, err)

	expired := func() string {
		claims := SessionClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user_1",
			Issuer:    "https://idp.test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		}}
		s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	wrongParty := func() string {
		claims := SessionClaims{AuthorizedParty: "https://evil.test", RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user_1",
			Issuer:    "https://idp.test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
		s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	hmacSigned := func() string {
		claims := jwt.RegisteredClaims{Subject: "user_1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		require.NoError(t, err)
		return s
	}

	wrongIssuer, err := NewSignerFromKey(key, "https://other.test", time.Minute).Sign("user_1")
	require.NoError(t, err)
	wrongKey, err := NewSignerFromKey(otherKey, "https://idp.test", time.Minute).Sign("user_1")
	require.NoError(t, err)

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"expired":      expired(),
		"wrong issuer": wrongIssuer,
		"wrong key":    wrongKey,
		"wrong party":  wrongParty(),
		"hmac":         hmacSigned(),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := verifier.Verify(token)
			assert.Error(t, err)
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, TokenFromRequest(req))

	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "cookie-token"})
	assert.Equal(t, "cookie-token", TokenFromRequest(req))

	req.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "header-token", TokenFromRequest(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, TokenFromRequest(req))
}

func TestProfileClientFetchProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/users/user_1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"id": "user_1",
				"first_name": "Ada",
				"last_name": "Lovelace",
				"primary_email_address_id": "e2",
				"email_addresses": [
					{"id": "e1", "email_address": "old@example.com"},
					{"id": "e2", "email_address": "ada@example.com"}
				]
			}`))
		case "/v1/users/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := NewProfileClient(server.URL, "sk_test", time.Second)

	profile, err := client.FetchProfile(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, Profile{ExternalID: "user_1", Name: "Ada Lovelace", Email: "ada@example.com"}, profile)

	_, err = client.FetchProfile(context.Background(), "missing")
	assert.ErrorIs(t, err, errcode.ErrNotFound)

	_, err = client.FetchProfile(context.Background(), "boom")
	assert.ErrorIs(t, err, errcode.ErrUpstream)
}

func TestProviderUserProfileFallsBackToUsername(t *testing.T) {
	u := ProviderUser{ID: "user_9", Username: "ada"}
	assert.Equal(t, Profile{ExternalID: "user_9", Name: "ada"}, u.Profile())
}

func newWebhookVerifier(t *testing.T, now time.Time) *WebhookVerifier {
	t.Helper()
	v, err := NewWebhookVerifier("whsec_" + base64.StdEncoding.EncodeToString([]byte("super-secret-key")))
	require.NoError(t, err)
	v.now = func() time.Time { return now }
	return v
}

func TestWebhookVerifier(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := newWebhookVerifier(t, now)
	body := []byte(`{"type":"user.updated","data":{"id":"user_1","first_name":"Ada"}}`)

	headers := func(ts time.Time, sig string) http.Header {
		h := http.Header{}
		h.Set("svix-id", "msg_1")
		h.Set("svix-timestamp", strconv.FormatInt(ts.Unix(), 10))
		h.Set("svix-signature", sig)
		return h
	}

	sign := func(ts time.Time, payload []byte) string {
		sig, err := v.Sign("msg_1", ts, payload)
		require.NoError(t, err)
		return sig
	}

	t.Run("valid", func(t *testing.T) {
		sig := "v1,bogus " + sign(now, body)
		event, err := v.Verify(headers(now, sig), body)
		require.NoError(t, err)
		assert.Equal(t, EventUserUpdated, event.Type)
		assert.Equal(t, "user_1", event.Data.ID)
	})

	t.Run("tampered body", func(t *testing.T) {
		sig := sign(now, body)
		_, err := v.Verify(headers(now, sig), []byte(`{"type":"user.deleted"}`))
		assert.ErrorIs(t, err, ErrWebhookSignature)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		old := now.Add(-10 * time.Minute)
		sig := sign(old, body)
		_, err := v.Verify(headers(old, sig), body)
		assert.ErrorIs(t, err, ErrWebhookTimestamp)
	})

	t.Run("missing headers", func(t *testing.T) {
		_, err := v.Verify(http.Header{}, body)
		assert.ErrorIs(t, err, ErrWebhookHeaders)
	})
}

func TestNewWebhookVerifierRejectsBadSecret(t *testing.T) {
	_, err := NewWebhookVerifier("")
	assert.Error(t, err)
	_, err = NewWebhookVerifier("whsec_***")
	assert.Error(t, err)
}
