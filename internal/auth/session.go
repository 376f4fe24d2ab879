// Package auth 对接外部身份提供方（会话令牌、用户资料与 Webhook）。
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionCookieName 为身份提供方前端 SDK 写入的 Cookie 名。
const SessionCookieName = "__session"

// Session 表示已校验的会话。
type Session struct {
	ExternalID string
	SessionID  string
	ExpiresAt  time.Time
}

// SessionClaims 表示会话令牌中的字段。
type SessionClaims struct {
	SessionID       string `json:"sid,omitempty"`
	AuthorizedParty string `json:"azp,omitempty"`
	jwt.RegisteredClaims
}

// SessionVerifier 校验身份提供方签发的 RS256 会话令牌。
type SessionVerifier struct {
	publicKey         *rsa.PublicKey
	issuer            string
	authorizedParties []string
	leeway            time.Duration
}

// NewSessionVerifier 解析 PEM 公钥并构造校验器。
func NewSessionVerifier(publicKeyPEM []byte, issuer string, authorizedParties []string) (*SessionVerifier, error) {
	if len(publicKeyPEM) == 0 {
		return nil, errors.New("public key pem is required")
	}
	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse rsa public key: %w", err)
	}
	return &SessionVerifier{
		publicKey:         publicKey,
		issuer:            strings.TrimSpace(issuer),
		authorizedParties: authorizedParties,
		leeway:            5 * time.Second,
	}, nil
}

// Verify 解析并验证会话令牌。
func (v *SessionVerifier) Verify(tokenString string) (Session, error) {
	if strings.TrimSpace(tokenString) == "" {
		return Session{}, errors.New("token string is empty")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims SessionClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return v.publicKey, nil
	}, opts...)
	if err != nil {
		return Session{}, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return Session{}, errors.New("invalid token claims")
	}
	if len(v.authorizedParties) > 0 && claims.AuthorizedParty != "" &&
		!slices.Contains(v.authorizedParties, claims.AuthorizedParty) {
		return Session{}, fmt.Errorf("unauthorized party %q", claims.AuthorizedParty)
	}

	session := Session{ExternalID: claims.Subject, SessionID: claims.SessionID}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

// TokenFromRequest 优先读取 Bearer 头，其次读取会话 Cookie。
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.Fields(header)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

// Signer 使用私钥签发会话令牌，仅供本地工具与测试使用。
type Signer struct {
	privateKey *rsa.PrivateKey
	issuer     string
	ttl        time.Duration
}

// NewSigner 从 PEM 私钥构造签发器。
func NewSigner(privateKeyPEM []byte, issuer string, ttl time.Duration) (*Signer, error) {
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse rsa private key: %w", err)
	}
	return NewSignerFromKey(privateKey, issuer, ttl), nil
}

// NewSignerFromKey 使用已解析的私钥构造签发器。
func NewSignerFromKey(privateKey *rsa.PrivateKey, issuer string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Signer{privateKey: privateKey, issuer: issuer, ttl: ttl}
}

// Sign 为 externalID 签发会话令牌。
func (s *Signer) Sign(externalID string) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   externalID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
