package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"TaskPilot/internal/agent"
	"TaskPilot/internal/auth"
	"TaskPilot/internal/conversation"
	xerrors "TaskPilot/internal/errors"
	"TaskPilot/internal/llm"
	"TaskPilot/internal/observability/metrics"
	"TaskPilot/internal/todo"
	"TaskPilot/pkg/logger"
)

const maxBodyBytes = 64 << 10

// Chatter 处理一轮对话，*agent.Agent 实现了该接口。
type Chatter interface {
	RunDetailed(ctx context.Context, userID uuid.UUID, message string, history []llm.Message) agent.Turn
}

// TaskLister 提供任务列表，*todo.Service 实现了该接口。
type TaskLister interface {
	List(ctx context.Context, userID uuid.UUID, limit int, status todo.Status) ([]*todo.Task, error)
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr            string
	chat            Chatter
	tasks           TaskLister
	conversations   conversation.Store
	auth            *auth.Service
	historyLimit    int
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// Option 定义可选的 Server 配置。
type Option func(*Server)

// WithAuth 指定身份认证服务，未指定时所有请求都会被拒绝。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// WithHistoryLimit 设置每轮对话带给模型的历史消息数量。
func WithHistoryLimit(limit int) Option {
	return func(s *Server) {
		if limit > 0 {
			s.historyLimit = limit
		}
	}
}

// WithShutdownTimeout 设置优雅关闭的等待时间。
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		if timeout > 0 {
			s.shutdownTimeout = timeout
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, chat Chatter, tasks TaskLister, conversations conversation.Store, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		chat:            chat,
		tasks:           tasks,
		conversations:   conversations,
		historyLimit:    20,
		shutdownTimeout: 5 * time.Second,
		logger:          logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	protected := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, instrument(pattern, s.authenticate(h)))
	}
	protected("POST /api/chat", s.handleChat)
	protected("GET /api/conversations", s.handleListConversations)
	protected("GET /api/conversations/{id}/messages", s.handleConversationMessages)
	protected("GET /api/tasks", s.handleListTasks)

	mux.Handle("GET /health", instrument("GET /health", http.HandlerFunc(handleHealth)))
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", slog.String("address", s.addr))
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("api server shutdown", slog.Any("error", err))
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	if s.auth == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusServiceUnavailable, "authentication is not configured")
		})
	}
	return s.auth.Middleware()(next)
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type chatResponse struct {
	ConversationID uuid.UUID              `json:"conversation_id"`
	Message        string                 `json:"message"`
	Model          string                 `json:"model,omitempty"`
	ToolCalls      []agent.ToolCallRecord `json:"tool_calls"`
}

// handleChat 处理一条用户消息：加载历史、执行一轮对话并保存结果。
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil || s.conversations == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	ctx := r.Context()
	conv, err := s.openConversation(ctx, userID, req)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	stored, err := s.conversations.History(ctx, conv.ID, s.historyLimit)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	turn := s.chat.RunDetailed(ctx, userID, req.Message, conversation.ToLLM(stored))

	if err := s.conversations.Append(ctx, conv.ID,
		conversation.Message{Role: llm.RoleUser, Content: req.Message},
		conversation.Message{Role: llm.RoleAssistant, Content: turn.Reply, Model: turn.Model},
	); err != nil {
		s.logger.Error("persist conversation failed",
			slog.String("conversation_id", conv.ID.String()),
			slog.Any("error", err),
		)
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ConversationID: conv.ID,
		Message:        turn.Reply,
		Model:          turn.Model,
		ToolCalls:      turn.ToolCalls,
	})
}

func (s *Server) openConversation(ctx context.Context, userID uuid.UUID, req chatRequest) (*conversation.Conversation, error) {
	if req.ConversationID == "" {
		return s.conversations.Create(ctx, userID, conversation.TitleFrom(req.Message))
	}
	id, err := uuid.Parse(req.ConversationID)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "conversation_id must be a UUID")
	}
	return s.conversations.Get(ctx, userID, id)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if s.conversations == nil {
		writeError(w, http.StatusServiceUnavailable, "conversations are not configured")
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	list, err := s.conversations.List(r.Context(), userID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if list == nil {
		list = []*conversation.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": list})
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	if s.conversations == nil {
		writeError(w, http.StatusServiceUnavailable, "conversations are not configured")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "conversation id must be a UUID")
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	conv, err := s.conversations.Get(r.Context(), userID, id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	messages, err := s.conversations.History(r.Context(), conv.ID, 0)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": conv, "messages": messages})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "tasks are not configured")
		return
	}
	query := r.URL.Query()
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	status, err := todo.ParseStatus(query.Get("status"))
	if err != nil {
		s.writeErr(w, err)
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	tasks, err := s.tasks.List(r.Context(), userID, limit, status)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if tasks == nil {
		tasks = []*todo.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.Any("error", err))
	}
	message := err.Error()
	if coded, ok := xerrors.From(err); ok {
		message = coded.Message()
	}
	writeError(w, status, message)
}

func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument, todo.CodeTaskValidation:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, todo.CodeTaskNotFound, conversation.CodeConversationNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, todo.CodeTaskConflict:
		return http.StatusConflict
	case xerrors.CodeUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

// instrument 记录每个路由的请求数与耗时。
func instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.ObserveHTTPRequest(route, r.Method, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
