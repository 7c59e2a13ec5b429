package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	xerrors "TaskPilot/internal/errors"
	"TaskPilot/internal/observability/metrics"
	"TaskPilot/internal/todo"
	"TaskPilot/pkg/logger"
)

// UserIDKey is the argument key carrying the caller's identity.
const UserIDKey = "user_id"

// Result is the structured outcome of one tool call. Failures are reported
// as {"error": "<message>"} instead of a Go error.
type Result map[string]any

// Err returns the error message of a failed result.
func (r Result) Err() (string, bool) {
	msg, ok := r["error"].(string)
	return msg, ok
}

func errorResult(msg string) Result {
	return Result{"error": msg}
}

// TaskService is the task-data collaborator the tools operate on.
type TaskService interface {
	List(ctx context.Context, userID uuid.UUID, limit int, status todo.Status) ([]*todo.Task, error)
	Create(ctx context.Context, userID uuid.UUID, title, description string, priority todo.Priority) (*todo.Task, error)
	SetCompletion(ctx context.Context, ref string, completed bool) (todo.Outcome, error)
	Update(ctx context.Context, ref string, patch todo.Patch) (todo.Outcome, error)
	Search(ctx context.Context, userID uuid.UUID, query string) ([]*todo.Task, error)
	Delete(ctx context.Context, ref string) (todo.Outcome, error)
}

type handler func(ctx context.Context, svc TaskService, a args) (Result, error)

var handlers = map[string]handler{
	ListTasks:        listTasks,
	AddTask:          addTask,
	UpdateTaskStatus: updateTaskStatus,
	SearchTasks:      searchTasks,
	UpdateTask:       updateTask,
	DeleteTask:       deleteTask,
}

// These operations are not keyed by user; ownership is enforced through
// todo.WithOwner on the context.
var stripUserID = map[string]bool{
	UpdateTaskStatus: true,
	UpdateTask:       true,
	DeleteTask:       true,
}

// Executor runs tool calls on behalf of one user. It is cheap to create and
// is meant to live for a single turn.
type Executor struct {
	tasks  TaskService
	userID uuid.UUID
	logger *slog.Logger
}

// NewExecutor binds an executor to the given user.
func NewExecutor(tasks TaskService, userID uuid.UUID) *Executor {
	return &Executor{tasks: tasks, userID: userID, logger: logger.Named("tools")}
}

// Execute dispatches one tool call. It never panics and never returns a Go
// error: every failure, including an unknown tool name, becomes an error
// result.
func (e *Executor) Execute(ctx context.Context, name string, arguments map[string]any) (result Result) {
	start := time.Now()
	a := make(args, len(arguments)+1)
	for k, v := range arguments {
		a[k] = v
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool panicked", slog.String("tool", name), slog.Any("panic", r))
			result = errorResult(fmt.Sprintf("tool %s failed: %v", name, r))
		}
		e.record(name, result, time.Since(start))
	}()

	if !a.has(UserIDKey) {
		a[UserIDKey] = e.userID.String()
	}

	h, ok := handlers[name]
	if !ok {
		return errorResult(xerrors.AttributesOf(xerrors.CodeUnknownTool).Message)
	}
	if e.tasks == nil {
		return errorResult("task service is not configured")
	}
	if stripUserID[name] {
		delete(a, UserIDKey)
	} else if e.userID != uuid.Nil {
		supplied, err := a.userFrom()
		if err != nil {
			return errorResult(err.Error())
		}
		if supplied != e.userID {
			return errorResult("user_id does not match the current user")
		}
		a[UserIDKey] = e.userID.String()
	}

	res, err := h(ctx, e.tasks, a)
	if err != nil {
		return errorResult(errorMessage(err))
	}
	if res == nil {
		res = Result{}
	}
	return res
}

func (e *Executor) record(name string, result Result, elapsed time.Duration) {
	outcome := metrics.OutcomeOK
	attrs := []any{
		slog.String("tool", name),
		slog.String("user_id", e.userID.String()),
		slog.Duration("duration", elapsed),
	}
	if msg, failed := result.Err(); failed {
		outcome = metrics.OutcomeError
		attrs = append(attrs, slog.String("error", msg))
	}
	attrs = append(attrs, slog.String("outcome", outcome))
	metrics.ObserveToolExecution(name, outcome)
	logger.Audit().Info("工具已执行", attrs...)
}

// errorMessage prefers the coded message so the model sees "task 'x' not
// found" rather than the bracketed code.
func errorMessage(err error) string {
	if coded, ok := xerrors.From(err); ok {
		if cause := coded.Unwrap(); cause != nil {
			return coded.Message() + ": " + cause.Error()
		}
		return coded.Message()
	}
	return err.Error()
}

// userFrom reads the injected identity.
func (a args) userFrom() (uuid.UUID, error) {
	raw, err := a.requiredString(UserIDKey)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user_id: %s", raw)
	}
	return id, nil
}

func listTasks(ctx context.Context, svc TaskService, a args) (Result, error) {
	userID, err := a.userFrom()
	if err != nil {
		return nil, err
	}
	limit, _, err := a.integer("limit")
	if err != nil {
		return nil, err
	}
	rawStatus, _ := a.str("status")
	status, err := todo.ParseStatus(rawStatus)
	if err != nil {
		return nil, err
	}
	tasks, err := svc.List(ctx, userID, limit, status)
	if err != nil {
		return nil, err
	}
	return taskList(tasks), nil
}

func addTask(ctx context.Context, svc TaskService, a args) (Result, error) {
	userID, err := a.userFrom()
	if err != nil {
		return nil, err
	}
	title, err := a.requiredString("title")
	if err != nil {
		return nil, err
	}
	description, _ := a.str("description")
	priority, _ := a.str("priority")
	task, err := svc.Create(ctx, userID, title, description, todo.Priority(priority))
	if err != nil {
		return nil, err
	}
	return taskRecord(task), nil
}

func updateTaskStatus(ctx context.Context, svc TaskService, a args) (Result, error) {
	ref, err := a.requiredString("task_id")
	if err != nil {
		return nil, err
	}
	completed, ok, err := a.boolean("is_completed")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("missing required argument: is_completed")
	}
	outcome, err := svc.SetCompletion(ctx, ref, completed)
	if err != nil {
		return nil, err
	}
	return outcomeRecord(outcome), nil
}

func searchTasks(ctx context.Context, svc TaskService, a args) (Result, error) {
	userID, err := a.userFrom()
	if err != nil {
		return nil, err
	}
	query, err := a.requiredString("query")
	if err != nil {
		return nil, err
	}
	tasks, err := svc.Search(ctx, userID, query)
	if err != nil {
		return nil, err
	}
	return taskList(tasks), nil
}

func updateTask(ctx context.Context, svc TaskService, a args) (Result, error) {
	ref, err := a.requiredString("task_id")
	if err != nil {
		return nil, err
	}
	var patch todo.Patch
	if v, ok := a.str("title"); ok {
		patch.Title = &v
	}
	if v, ok := a.str("description"); ok {
		patch.Description = &v
	}
	if v, ok := a.str("priority"); ok {
		p := todo.Priority(v)
		patch.Priority = &p
	}
	completed, ok, err := a.boolean("is_completed")
	if err != nil {
		return nil, err
	}
	if ok {
		patch.IsCompleted = &completed
	}
	outcome, err := svc.Update(ctx, ref, patch)
	if err != nil {
		return nil, err
	}
	return outcomeRecord(outcome), nil
}

func deleteTask(ctx context.Context, svc TaskService, a args) (Result, error) {
	ref, err := a.requiredString("task_id")
	if err != nil {
		return nil, err
	}
	outcome, err := svc.Delete(ctx, ref)
	if err != nil {
		return nil, err
	}
	return outcomeRecord(outcome), nil
}

func taskRecord(t *todo.Task) Result {
	return Result{
		"id":           t.ID,
		"title":        t.Title,
		"description":  t.Description,
		"priority":     t.Priority,
		"is_completed": t.IsCompleted,
		"created_at":   t.CreatedAt,
		"updated_at":   t.UpdatedAt,
	}
}

func taskList(tasks []*todo.Task) Result {
	records := make([]Result, 0, len(tasks))
	for _, t := range tasks {
		records = append(records, taskRecord(t))
	}
	return Result{"tasks": records, "count": len(records)}
}

func outcomeRecord(o todo.Outcome) Result {
	res := Result{
		"success": o.Success,
		"task_id": o.TaskID,
		"message": o.Message,
	}
	if o.Task != nil {
		res["task"] = taskRecord(o.Task)
	}
	return res
}
