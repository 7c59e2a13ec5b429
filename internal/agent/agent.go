package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "TaskPilot/internal/errors"
	"TaskPilot/internal/llm"
	"TaskPilot/internal/todo"
	"TaskPilot/internal/tools"
	"TaskPilot/pkg/logger"
)

// SystemPrompt 是每轮对话的第一条消息。
const SystemPrompt = "You are a helpful Todo AI assistant. You can manage tasks directly (Add, List, Update, Delete). " +
	"Perform requested actions immediately if the user is clear. " +
	"If a UUID is not available, you can use the exact Task Title instead. " +
	"Only ask for confirmation or clarify if the request is truly ambiguous."

// FallbackReply 在模型没有给出文本时返回。
const FallbackReply = "I didn't understand that."

const apologyPrefix = "Sorry, I encountered an error: "

// Completer 是降级调用链的抽象，*llm.Cascade 实现了该接口。
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message, defs []llm.ToolDefinition) (llm.Message, string, error)
}

// ToolCallRecord 记录一次工具调用及其结果，供 HTTP 层展示与审计。
type ToolCallRecord struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Result tools.Result `json:"result"`
}

// Turn 汇总一轮对话的结果。
type Turn struct {
	Reply     string           `json:"reply"`
	Model     string           `json:"model,omitempty"`
	ToolCalls []ToolCallRecord `json:"tool_calls"`
	Failed    bool             `json:"-"`
}

// Agent 把用户的一句话转换为若干工具调用和最终回复。
type Agent struct {
	completer   Completer
	tasks       tools.TaskService
	definitions []llm.ToolDefinition
	turnTimeout time.Duration
	logger      *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithTurnTimeout 限制整轮对话的耗时，<= 0 表示不限制。
func WithTurnTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout < 0 {
			timeout = 0
		}
		a.turnTimeout = timeout
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// New 创建一个 Agent。
func New(completer Completer, tasks tools.TaskService, opts ...Option) *Agent {
	ag := &Agent{
		completer:   completer,
		tasks:       tasks,
		definitions: tools.Definitions(),
		logger:      logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	return ag
}

// Run 处理一轮对话并返回回复文本，任何失败都会转换为道歉文本。
func (a *Agent) Run(ctx context.Context, userID uuid.UUID, message string, history []llm.Message) string {
	return a.RunDetailed(ctx, userID, message, history).Reply
}

// RunDetailed 与 Run 相同，但额外返回应答模型和工具调用记录。
func (a *Agent) RunDetailed(ctx context.Context, userID uuid.UUID, message string, history []llm.Message) (turn Turn) {
	start := time.Now()
	turn.ToolCalls = []ToolCallRecord{}

	defer func() {
		if r := recover(); r != nil {
			turn.Reply = apologyPrefix + fmt.Sprint(r)
			turn.Failed = true
			a.logger.Error("turn panicked", slog.Any("panic", r), slog.String("user_id", userID.String()))
		}
		logger.Audit().Info("对话轮次完成",
			slog.String("user_id", userID.String()),
			slog.String("model", turn.Model),
			slog.Int("tool_calls", len(turn.ToolCalls)),
			slog.Bool("failed", turn.Failed),
			slog.Duration("duration", time.Since(start)),
		)
	}()

	if a.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.turnTimeout)
		defer cancel()
	}
	ctx = todo.WithOwner(ctx, userID)

	if err := a.run(ctx, userID, message, history, &turn); err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) && a.turnTimeout > 0 {
			err = xerrors.Wrap(xerrors.CodeTimeout, err, "turn timed out")
		}
		a.logger.Error("turn failed", slog.Any("error", err), slog.String("user_id", userID.String()))
		turn.Reply = apologyPrefix + err.Error()
		turn.Failed = true
	}
	return turn
}

func (a *Agent) run(ctx context.Context, userID uuid.UUID, message string, history []llm.Message, turn *Turn) error {
	if a.completer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "model client is not configured")
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: SystemPrompt})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: message})

	reply, model, err := a.completer.Complete(ctx, messages, a.definitions)
	if err != nil {
		return err
	}
	turn.Model = model

	if !reply.HasToolCalls() {
		turn.Reply = textOrFallback(reply.Content)
		return nil
	}

	reply.Role = llm.RoleAssistant
	messages = append(messages, reply)

	executor := tools.NewExecutor(a.tasks, userID)
	for _, call := range reply.ToolCalls {
		result := a.execute(ctx, executor, call)
		content, err := tools.Encode(result)
		if err != nil {
			content = fmt.Sprintf(`{"error":%q}`, err.Error())
		}
		messages = append(messages, llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: call.ID,
			Name:       call.Name,
			Content:    content,
		})
		turn.ToolCalls = append(turn.ToolCalls, ToolCallRecord{ID: call.ID, Name: call.Name, Result: result})
	}

	final, model, err := a.completer.Complete(ctx, messages, nil)
	if err != nil {
		return err
	}
	turn.Model = model
	turn.Reply = textOrFallback(final.Content)
	return nil
}

func (a *Agent) execute(ctx context.Context, executor *tools.Executor, call llm.ToolCall) tools.Result {
	arguments, err := tools.ParseArguments(call.Arguments)
	if err != nil {
		a.logger.Warn("invalid tool arguments", slog.String("tool", call.Name), slog.Any("error", err))
		return tools.Result{"error": err.Error()}
	}
	return executor.Execute(ctx, call.Name, arguments)
}

func textOrFallback(content string) string {
	if strings.TrimSpace(content) == "" {
		return FallbackReply
	}
	return content
}
