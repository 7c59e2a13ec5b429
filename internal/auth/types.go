package auth

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// 身份认证相关的错误。
var (
	ErrDisabled       = errors.New("authentication disabled")
	ErrInvalidToken   = errors.New("invalid token")
	ErrMissingToken   = errors.New("missing bearer token")
	ErrExpiredToken   = errors.New("token expired")
	ErrMissingSubject = errors.New("token subject is not a user id")
)

// Mode 表示身份认证的工作模式。
type Mode string

const (
	// ModeDisabled 不校验令牌，所有请求都归属于 DevUserID。
	ModeDisabled Mode = "disabled"
	// ModeJWT 要求 HS256 签名的 Bearer 令牌，sub 为用户 UUID。
	ModeJWT Mode = "jwt"
)

// Config 描述身份认证服务的配置。
type Config struct {
	Mode      Mode
	Secret    string
	Issuer    string
	Audience  []string
	DevUserID uuid.UUID
}

// Subject 是经过认证的调用方。
type Subject struct {
	UserID   uuid.UUID
	Username string
}

func (s *Subject) normalise() {
	if s == nil {
		return
	}
	s.Username = strings.TrimSpace(s.Username)
	if s.Username == "" {
		s.Username = s.UserID.String()
	}
}
