// Package llmtest provides deterministic ChatCompleter fakes for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"TaskPilot/internal/llm"
)

// Step configures one CompleteChat call in a scripted sequence.
type Step struct {
	Message llm.Message
	Err     error
}

// Reply is a shorthand for a plain-text assistant step.
func Reply(content string) Step {
	return Step{Message: llm.Message{Role: llm.RoleAssistant, Content: content}}
}

// Fail is a shorthand for a failing step.
func Fail(err error) Step {
	return Step{Err: err}
}

// Calls is a shorthand for an assistant step requesting tool calls.
func Calls(calls ...llm.ToolCall) Step {
	return Step{Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: calls}}
}

// ScriptedCompleter replays Steps in order and records every request.
type ScriptedCompleter struct {
	mu       sync.Mutex
	steps    []Step
	requests []llm.ChatRequest
}

// NewScriptedCompleter creates a completer that returns steps in order.
func NewScriptedCompleter(steps ...Step) *ScriptedCompleter {
	return &ScriptedCompleter{steps: append([]Step(nil), steps...)}
}

var _ llm.ChatCompleter = (*ScriptedCompleter)(nil)

// CompleteChat implements llm.ChatCompleter.
func (s *ScriptedCompleter) CompleteChat(ctx context.Context, req llm.ChatRequest) (llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req.Messages = append([]llm.Message(nil), req.Messages...)
	req.Tools = append([]llm.ToolDefinition(nil), req.Tools...)
	s.requests = append(s.requests, req)

	if err := ctx.Err(); err != nil {
		return llm.Message{}, err
	}
	idx := len(s.requests) - 1
	if idx >= len(s.steps) {
		return llm.Message{}, fmt.Errorf("script exhausted at step %d", idx+1)
	}
	step := s.steps[idx]
	if step.Err != nil {
		return llm.Message{}, step.Err
	}
	msg := step.Message
	if msg.Role == "" {
		msg.Role = llm.RoleAssistant
	}
	return msg, nil
}

// Requests returns a copy of every request received so far.
func (s *ScriptedCompleter) Requests() []llm.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.ChatRequest(nil), s.requests...)
}

// Models returns the model identifier of each request in call order.
func (s *ScriptedCompleter) Models() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	models := make([]string, 0, len(s.requests))
	for _, req := range s.requests {
		models = append(models, req.Model)
	}
	return models
}
