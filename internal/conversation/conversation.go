// Package conversation 保存用户与助手之间的多轮对话。
package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "TaskPilot/internal/errors"
	"TaskPilot/internal/llm"
)

// Conversation 是一组有序消息的容器。
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message 是对话中持久化的一条消息，只保存 user 与 assistant 文本。
type Message struct {
	Role      llm.Role  `json:"role"`
	Content   string    `json:"content"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store 抽象了对话的持久化。
type Store interface {
	Create(ctx context.Context, userID uuid.UUID, title string) (*Conversation, error)
	// Get 只返回属于 userID 的对话，否则返回 ErrNotFound。
	Get(ctx context.Context, userID, id uuid.UUID) (*Conversation, error)
	Append(ctx context.Context, id uuid.UUID, messages ...Message) error
	// History 返回最近的 limit 条消息，按时间正序；limit <= 0 表示全部。
	History(ctx context.Context, id uuid.UUID, limit int) ([]Message, error)
	// List 返回用户的对话，最近更新的在前。
	List(ctx context.Context, userID uuid.UUID) ([]*Conversation, error)
	Close() error
}

const CodeConversationNotFound xerrors.Code = "CONVERSATION_NOT_FOUND"

// ErrNotFound 表示对话不存在或不属于当前用户。
var ErrNotFound = xerrors.New(CodeConversationNotFound, "conversation not found")

func init() {
	xerrors.Register(CodeConversationNotFound, xerrors.Attributes{
		Message:  "conversation not found",
		Severity: xerrors.SeverityInfo,
	})
}

const maxTitleRunes = 60

// TitleFrom 取首条消息的前若干字符作为对话标题。
func TitleFrom(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		return string(runes[:maxTitleRunes]) + "..."
	}
	if title == "" {
		return "New conversation"
	}
	return title
}

// ToLLM 把持久化消息转换为模型上下文，忽略空消息与非对话角色。
func ToLLM(messages []Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func cloneConversation(c *Conversation) *Conversation {
	clone := *c
	return &clone
}
