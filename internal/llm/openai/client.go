package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"TaskPilot/internal/llm"
	"TaskPilot/pkg/logger"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultTimeout = 60 * time.Second
)

// Config 描述了调用 OpenAI 兼容 Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	// Referer 与 Title 是 OpenRouter 用于来源统计的可选请求头。
	Referer string
	Title   string
}

// Client 通过 HTTP 调用 OpenAI 兼容接口。模型在每次请求中指定。
type Client struct {
	apiKey     string
	baseURL    string
	referer    string
	title      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		referer:    strings.TrimSpace(cfg.Referer),
		title:      strings.TrimSpace(cfg.Title),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("openai"),
	}, nil
}

var _ llm.ChatCompleter = (*Client)(nil)

type wireFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireFunctionCall `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type wireTool struct {
	Type     string             `json:"type"`
	Function llm.ToolDefinition `json:"function"`
}

type wireRequest struct {
	Model      string        `json:"model"`
	Messages   []wireMessage `json:"messages"`
	Tools      []wireTool    `json:"tools,omitempty"`
	ToolChoice string        `json:"tool_choice,omitempty"`
}

type wireError struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
}

type wireResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
	Error *wireError `json:"error"`
}

// CompleteChat 发送一次 chat completion 请求并返回 assistant 消息。
//
// 错误文本保留 HTTP 状态码或底层网络错误，例如
// "OpenAI 返回错误状态 429: ..."，降级链据此判断是否切换模型。
func (c *Client) CompleteChat(ctx context.Context, req llm.ChatRequest) (llm.Message, error) {
	payload, err := json.Marshal(buildRequest(req))
	if err != nil {
		return llm.Message{}, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}
	c.logger.Log(ctx, logger.LevelTrace, "chat request", slog.String("model", req.Model), slog.String("payload", string(payload)))

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return llm.Message{}, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if c.referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		httpReq.Header.Set("X-Title", c.title)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return llm.Message{}, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return llm.Message{}, fmt.Errorf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return llm.Message{}, fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	// OpenRouter 会以 200 返回上游错误。
	if decoded.Error != nil {
		return llm.Message{}, fmt.Errorf("OpenAI 返回错误 %v: %s", decoded.Error.Code, decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return llm.Message{}, errors.New("OpenAI 响应中没有有效的 choices")
	}

	return fromWire(decoded.Choices[0].Message), nil
}

func buildRequest(req llm.ChatRequest) wireRequest {
	out := wireRequest{
		Model:    req.Model,
		Messages: make([]wireMessage, 0, len(req.Messages)),
	}
	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, toWire(msg))
	}
	if len(req.Tools) > 0 {
		out.Tools = make([]wireTool, 0, len(req.Tools))
		for _, def := range req.Tools {
			out.Tools = append(out.Tools, wireTool{Type: "function", Function: def})
		}
		out.ToolChoice = req.ToolChoice
	}
	return out
}

func toWire(msg llm.Message) wireMessage {
	wm := wireMessage{
		Role:       string(msg.Role),
		ToolCallID: msg.ToolCallID,
		Name:       msg.Name,
	}
	// 携带工具调用的 assistant 消息允许 content 为 null。
	if msg.Content != "" || len(msg.ToolCalls) == 0 {
		content := msg.Content
		wm.Content = &content
	}
	for _, call := range msg.ToolCalls {
		args := strings.TrimSpace(string(call.Arguments))
		if args == "" {
			args = "{}"
		}
		wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
			ID:       call.ID,
			Type:     "function",
			Function: wireFunctionCall{Name: call.Name, Arguments: args},
		})
	}
	return wm
}

func fromWire(wm wireMessage) llm.Message {
	msg := llm.Message{Role: llm.Role(wm.Role)}
	if msg.Role == "" {
		msg.Role = llm.RoleAssistant
	}
	if wm.Content != nil {
		msg.Content = strings.TrimSpace(*wm.Content)
	}
	for _, call := range wm.ToolCalls {
		args := strings.TrimSpace(call.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	return msg
}
