package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"TaskPilot/pkg/logger"
)

const jwtHeaderJSON = `{"alg":"HS256","typ":"JWT"}`

// encodedJWTHeader 是编码后的 JWT 头部。
var encodedJWTHeader = base64.RawURLEncoding.EncodeToString([]byte(jwtHeaderJSON))

// Service 负责校验 API 请求中的身份。
type Service struct {
	mode    Mode
	jwt     *jwtManager
	devUser uuid.UUID
	audit   *slog.Logger
	now     func() time.Time
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{
		mode:  mode,
		audit: logger.Audit(),
		now:   time.Now,
	}

	switch mode {
	case ModeDisabled:
		if cfg.DevUserID == uuid.Nil {
			return nil, errors.New("disabled mode requires a dev user id")
		}
		svc.devUser = cfg.DevUserID
	case ModeJWT:
		if strings.TrimSpace(cfg.Secret) == "" {
			return nil, errors.New("jwt secret must be configured")
		}
		svc.jwt = &jwtManager{
			secret:   []byte(cfg.Secret),
			issuer:   cfg.Issuer,
			audience: cfg.Audience,
			now:      func() time.Time { return svc.now() },
		}
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
	return svc, nil
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 解析 Authorization 头并返回调用方。
func (s *Service) AuthenticateRequest(authorization string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}

	claims, err := s.jwt.Verify(token)
	if err != nil {
		return nil, err
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return nil, ErrMissingSubject
	}
	subject := &Subject{UserID: userID, Username: claims.Username}
	subject.normalise()
	return subject, nil
}

// IssueToken 为用户签发访问令牌。只在 jwt 模式下可用。
func (s *Service) IssueToken(userID uuid.UUID, username string, ttl time.Duration) (string, error) {
	if s == nil || s.jwt == nil {
		return "", ErrDisabled
	}
	if userID == uuid.Nil {
		return "", ErrMissingSubject
	}
	return s.jwt.Generate(userID, username, ttl)
}

// jwtManager 负责 JWT 令牌的签名和验证。
type jwtManager struct {
	secret   []byte
	issuer   string
	audience []string
	now      func() time.Time
}

// jwtClaims 定义 JWT 令牌的声明结构。
type jwtClaims struct {
	Username  string   `json:"username,omitempty"`
	Subject   string   `json:"sub"`
	Issuer    string   `json:"iss,omitempty"`
	Audience  []string `json:"aud,omitempty"`
	IssuedAt  int64    `json:"iat,omitempty"`
	ExpiresAt int64    `json:"exp,omitempty"`
}

// Generate 生成访问令牌，ttl <= 0 表示不过期。
func (m *jwtManager) Generate(userID uuid.UUID, username string, ttl time.Duration) (string, error) {
	now := m.now().Unix()
	claims := jwtClaims{
		Username: strings.TrimSpace(username),
		Subject:  userID.String(),
		Issuer:   m.issuer,
		Audience: append([]string(nil), m.audience...),
		IssuedAt: now,
	}
	if ttl > 0 {
		claims.ExpiresAt = now + int64(ttl.Seconds())
	}
	token, err := m.sign(claims)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return token, nil
}

// sign 使用 HMAC-SHA256 签名 JWT 令牌。
func (m *jwtManager) sign(claims jwtClaims) (string, error) {
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encode claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	signature := m.signature(encodedJWTHeader, payload)
	return strings.Join([]string{encodedJWTHeader, payload, base64.RawURLEncoding.EncodeToString(signature)}, "."), nil
}

func (m *jwtManager) signature(header, payload string) []byte {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(header))
	mac.Write([]byte("."))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// Verify 验证 JWT 令牌的有效性并返回其声明。
func (m *jwtManager) Verify(token string) (*jwtClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	header, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var hdr struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(header, &hdr); err != nil || hdr.Alg != "HS256" {
		return nil, ErrInvalidToken
	}

	expected := m.signature(parts[0], parts[1])
	actual, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidToken
	}
	if subtle.ConstantTimeCompare(expected, actual) != 1 {
		return nil, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims jwtClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}

	if claims.ExpiresAt != 0 && m.now().Unix() > claims.ExpiresAt {
		return nil, ErrExpiredToken
	}
	if m.issuer != "" && claims.Issuer != "" && !strings.EqualFold(m.issuer, claims.Issuer) {
		return nil, ErrInvalidToken
	}
	if len(m.audience) > 0 && len(claims.Audience) > 0 && !audienceMatches(m.audience, claims.Audience) {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

func audienceMatches(expected, provided []string) bool {
	for _, want := range expected {
		for _, got := range provided {
			if strings.EqualFold(strings.TrimSpace(want), strings.TrimSpace(got)) {
				return true
			}
		}
	}
	return false
}
