package llm

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	xerrors "TaskPilot/internal/errors"
	"TaskPilot/internal/observability/metrics"
	"TaskPilot/pkg/logger"
)

// DefaultFallbackModels 是主模型之后依次尝试的免费/低成本模型。
var DefaultFallbackModels = []string{
	"google/gemini-2.0-flash-exp:free",
	"google/gemini-flash-1.5:free",
	"google/gemini-flash-1.5-8b:free",
	"meta-llama/llama-3.1-8b-instruct:free",
	"meta-llama/llama-3.2-3b-instruct:free",
	"mistralai/mistral-7b-instruct:free",
	"mistralai/pixtral-12b:free",
	"deepseek/deepseek-r1:free",
	"qwen/qwen-2-7b-instruct:free",
	"gryphe/mythomist-7b:free",
	"openchat/openchat-7b:free",
}

// transientMarkers 出现在错误文本中时（不区分大小写），切换到下一个候选模型。
var transientMarkers = []string{
	"429",
	"rate_limit",
	"404",
	"not found",
	"502",
	"503",
	"timeout",
	"connection",
}

// Cascade 按固定顺序尝试候选模型，直到有一个成功。
type Cascade struct {
	completer  ChatCompleter
	candidates []string
	timeout    time.Duration
	logger     *slog.Logger
}

// CascadeOption 定义可选配置。
type CascadeOption func(*Cascade)

// WithFallbackModels 覆盖主模型之后的候选列表。传入空列表表示只使用主模型。
func WithFallbackModels(models []string) CascadeOption {
	return func(c *Cascade) {
		c.candidates = append(c.candidates[:1:1], nonEmpty(models)...)
	}
}

// WithRequestTimeout 为每次模型请求设置超时，超时按瞬时错误处理。
func WithRequestTimeout(timeout time.Duration) CascadeOption {
	return func(c *Cascade) {
		if timeout < 0 {
			timeout = 0
		}
		c.timeout = timeout
	}
}

// WithCascadeLogger 指定日志输出。
func WithCascadeLogger(l *slog.Logger) CascadeOption {
	return func(c *Cascade) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCascade 创建降级调用链，primary 总是第一个候选。
func NewCascade(completer ChatCompleter, primary string, opts ...CascadeOption) *Cascade {
	c := &Cascade{
		completer:  completer,
		candidates: append([]string{strings.TrimSpace(primary)}, DefaultFallbackModels...),
		logger:     logger.Named("cascade"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.candidates[0] == "" {
		c.candidates = c.candidates[1:]
	}
	return c
}

// Candidates 返回候选模型列表的副本。
func (c *Cascade) Candidates() []string {
	return append([]string(nil), c.candidates...)
}

// Complete 依次调用候选模型并返回第一个成功的 assistant 消息以及对应模型。
// tools 为空时不附带工具定义，模型只能以文本作答。
func (c *Cascade) Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (Message, string, error) {
	if c.completer == nil {
		return Message{}, "", xerrors.New(xerrors.CodeInitializationFailure, "未配置模型客户端")
	}
	if len(c.candidates) == 0 {
		return Message{}, "", xerrors.New(xerrors.CodeInitializationFailure, "没有可用的候选模型")
	}

	var lastErr error
	for _, model := range c.candidates {
		if err := ctx.Err(); err != nil {
			return Message{}, "", err
		}

		req := ChatRequest{Model: model, Messages: messages}
		if len(tools) > 0 {
			req.Tools = tools
			req.ToolChoice = ToolChoiceAuto
		}

		c.logger.Info("calling model", slog.String("model", model), slog.Int("messages", len(messages)), slog.Bool("tools", len(tools) > 0))
		msg, err := c.completeOnce(ctx, req)
		if err == nil {
			metrics.ObserveModelAttempt(model, metrics.OutcomeOK)
			return msg, model, nil
		}

		if ctx.Err() != nil {
			return Message{}, "", ctx.Err()
		}
		if !IsTransient(err) {
			metrics.ObserveModelAttempt(model, metrics.OutcomeFatal)
			return Message{}, "", xerrors.Wrap(xerrors.CodeProviderFatal, err, "",
				xerrors.WithMetadata("model", model))
		}

		metrics.ObserveModelAttempt(model, metrics.OutcomeTransient)
		c.logger.Warn("model failed, trying next candidate",
			slog.String("model", model),
			slog.Any("error", err),
		)
		lastErr = err
	}

	return Message{}, "", xerrors.Wrap(xerrors.CodeCascadeExhausted, lastErr, "",
		xerrors.WithMetadata("last_model", c.candidates[len(c.candidates)-1]))
}

func (c *Cascade) completeOnce(ctx context.Context, req ChatRequest) (Message, error) {
	if c.timeout <= 0 {
		return c.completer.CompleteChat(ctx, req)
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	msg, err := c.completer.CompleteChat(reqCtx, req)
	if err != nil && reqCtx.Err() != nil && ctx.Err() == nil {
		return Message{}, xerrors.Wrap(xerrors.CodeProviderTransient, err, "model request timeout")
	}
	return msg, err
}

// IsTransient 判断错误是否应该切换到下一个候选模型。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if stdErrors.Is(err, context.DeadlineExceeded) || xerrors.CodeOf(err) == xerrors.CodeProviderTransient {
		return true
	}
	text := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
