// Package events 发布任务变更事件，供外部系统订阅。
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type 表示事件类型。
type Type string

const (
	TaskCreated   Type = "task.created"
	TaskUpdated   Type = "task.updated"
	TaskCompleted Type = "task.completed"
	TaskReopened  Type = "task.reopened"
	TaskDeleted   Type = "task.deleted"
)

// Event 描述一次任务变更。
type Event struct {
	Type       Type      `json:"type"`
	TaskID     uuid.UUID `json:"task_id"`
	UserID     uuid.UUID `json:"user_id"`
	Title      string    `json:"title"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher 负责投递事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

func encode(event Event) ([]byte, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	return json.Marshal(event)
}

// Noop 丢弃所有事件。
type Noop struct{}

// Publish 实现 Publisher。
func (Noop) Publish(context.Context, Event) error { return nil }

// Close 实现 Publisher。
func (Noop) Close() error { return nil }
