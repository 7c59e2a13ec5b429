package todo

import (
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "TaskPilot/internal/errors"
)

// Priority 表示任务优先级。
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority 解析优先级，空字符串返回默认的 medium。
func ParsePriority(value string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(value))); p {
	case "":
		return PriorityMedium, nil
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	default:
		return "", xerrors.New(CodeTaskValidation, "priority must be one of low, medium, high",
			xerrors.WithMetadata("priority", value))
	}
}

// MarshalText 输出优先级的原始值。
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p), nil
}

// UnmarshalText 校验并解析优先级。
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Status 是列表查询时的完成状态过滤条件。
type Status string

const (
	StatusAll       Status = "all"
	StatusCompleted Status = "completed"
	StatusPending   Status = "pending"
)

// ParseStatus 解析状态过滤条件，空字符串等同于 all。
func ParseStatus(value string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(value))); s {
	case "":
		return StatusAll, nil
	case StatusAll, StatusCompleted, StatusPending:
		return s, nil
	default:
		return "", xerrors.New(CodeTaskValidation, "status must be one of all, completed, pending",
			xerrors.WithMetadata("status", value))
	}
}

// Task 是用户待办列表中的一项。
type Task struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    Priority  `json:"priority"`
	IsCompleted bool      `json:"is_completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Matches 判断任务是否满足状态过滤。
func (t *Task) Matches(status Status) bool {
	switch status {
	case StatusCompleted:
		return t.IsCompleted
	case StatusPending:
		return !t.IsCompleted
	default:
		return true
	}
}

// newerThan 按创建时间比较，时间相同则比较 ID 的字典序。
func (t *Task) newerThan(other *Task) bool {
	if !t.CreatedAt.Equal(other.CreatedAt) {
		return t.CreatedAt.After(other.CreatedAt)
	}
	return t.ID.String() > other.ID.String()
}

// Patch 描述一次部分更新，nil 字段保持不变。
type Patch struct {
	Title       *string
	Description *string
	Priority    *Priority
	IsCompleted *bool
}

// Empty 判断是否没有任何需要修改的字段。
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil && p.IsCompleted == nil
}

func (p Patch) apply(t *Task) {
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.IsCompleted != nil {
		t.IsCompleted = *p.IsCompleted
	}
}

// Outcome 是修改类操作返回给调用方的结果记录。
type Outcome struct {
	Success bool      `json:"success"`
	TaskID  uuid.UUID `json:"task_id"`
	Message string    `json:"message"`
	Task    *Task     `json:"task,omitempty"`
}

const (
	CodeTaskNotFound   xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict   xerrors.Code = "TASK_CONFLICT"
	CodeTaskValidation xerrors.Code = "TASK_VALIDATION_FAILED"
)

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrTaskConflict 表示任务 ID 已存在。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:  "task not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:  "task conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeTaskValidation, xerrors.Attributes{
		Message:  "task validation failed",
		Severity: xerrors.SeverityInfo,
	})
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}
	clone := *task
	return &clone
}

func validateTask(task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if task.ID == uuid.Nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	if strings.TrimSpace(task.Title) == "" {
		return xerrors.New(CodeTaskValidation, "title must not be empty")
	}
	if _, err := ParsePriority(string(task.Priority)); err != nil {
		return err
	}
	return nil
}
