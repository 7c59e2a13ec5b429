package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Middleware 返回一个 HTTP 中间件，把调用方写入请求上下文。
// disabled 模式下所有请求都归属于配置的开发用户。
func (s *Service) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s == nil || s.mode == ModeDisabled {
				subject := &Subject{Username: "dev"}
				if s != nil {
					subject.UserID = s.devUser
				}
				next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
				return
			}

			subject, err := s.AuthenticateRequest(r.Header.Get("Authorization"))
			if err != nil {
				status := http.StatusUnauthorized
				writeError(w, status, err)
				s.audit.Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", status,
					"error", err.Error(),
				)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))
			s.audit.Info("api_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"user_id", subject.UserID.String(),
			)
		})
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if errors.Is(err, ErrExpiredToken) {
		message = "token expired"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// auditWriter 包装 http.ResponseWriter 以捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
