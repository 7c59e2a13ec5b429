package llm

import (
	"context"
	"encoding/json"
)

// Role 标识消息在对话中的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolChoiceAuto 允许模型自行决定是否调用工具。
const ToolChoiceAuto = "auto"

// Message 是发送给大模型的一条对话消息。
//
// assistant 消息可以只携带 ToolCalls 而没有 Content；tool 消息通过
// ToolCallID 与 Name 回指发起调用的 assistant 消息。
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// HasToolCalls 判断消息是否请求了工具调用。
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// ToolCall 是模型产生的一次工具调用请求，参数尚未经过校验。
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition 描述模型可以调用的工具。
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  Schema `json:"parameters"`
}

// Schema 是工具参数所需的 JSON Schema 子集。
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

// Property 描述单个参数。
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// ChatRequest 是一次 chat completion 请求。
type ChatRequest struct {
	Model      string
	Messages   []Message
	Tools      []ToolDefinition
	ToolChoice string
}

// ChatCompleter 定义了模型提供方的统一接口：一次请求返回一条 assistant 消息。
// 失败时返回的错误文本需保留上游的状态码或网络错误描述，供降级策略判断。
type ChatCompleter interface {
	CompleteChat(ctx context.Context, req ChatRequest) (Message, error)
}
