package todo

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "TaskPilot/internal/errors"
	"TaskPilot/internal/events"
	"TaskPilot/pkg/logger"
)

type ownerKey struct{}

// WithOwner 将当前用户写入 context。按 ID 或标题引用任务时，
// Service 只会解析到该用户的任务。
func WithOwner(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, ownerKey{}, userID)
}

// OwnerFrom 读取 WithOwner 写入的用户，未设置时返回 uuid.Nil。
func OwnerFrom(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(ownerKey{}).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// Service 负责待办任务的增删改查，并在变更后发布事件。
type Service struct {
	store     Store
	publisher events.Publisher
	logger    *slog.Logger
	newID     func() uuid.UUID
}

// ServiceOption 定义可选配置。
type ServiceOption func(*Service)

// WithPublisher 指定事件发布器。
func WithPublisher(p events.Publisher) ServiceOption {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithIDGenerator 替换任务 ID 生成器。
func WithIDGenerator(fn func() uuid.UUID) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewService 构造任务服务。
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:     store,
		publisher: events.Noop{},
		logger:    logger.Named("todo"),
		newID:     uuid.New,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// List 返回用户的任务。limit <= 0 时使用默认值。
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit int, status Status) ([]*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	if userID == uuid.Nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "user_id is required")
	}
	return s.store.List(ctx, buildListOptions(userID, []ListOption{WithLimit(limit), WithStatus(status)}))
}

// Search 按关键字检索用户的任务，匹配标题与描述。
func (s *Service) Search(ctx context.Context, userID uuid.UUID, query string) ([]*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	if userID == uuid.Nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "user_id is required")
	}
	if strings.TrimSpace(query) == "" {
		return nil, xerrors.New(CodeTaskValidation, "query must not be empty")
	}
	return s.store.List(ctx, buildListOptions(userID, []ListOption{WithQuery(query)}))
}

// Create 为用户新建任务。
func (s *Service) Create(ctx context.Context, userID uuid.UUID, title, description string, priority Priority) (*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	if userID == uuid.Nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "user_id is required")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, xerrors.New(CodeTaskValidation, "title must not be empty")
	}
	parsed, err := ParsePriority(string(priority))
	if err != nil {
		return nil, err
	}

	task := &Task{
		ID:          s.newID(),
		UserID:      userID,
		Title:       title,
		Description: strings.TrimSpace(description),
		Priority:    parsed,
	}
	if err := s.store.Create(ctx, task); err != nil {
		return nil, err
	}
	s.publish(ctx, events.TaskCreated, task)
	logger.Audit().Info("任务已创建",
		slog.String("task_id", task.ID.String()),
		slog.String("user_id", userID.String()),
		slog.String("priority", string(task.Priority)),
	)
	return task, nil
}

// Resolve 根据 UUID 或完整标题定位任务。
//
// 同一标题存在多个任务时取最近创建的一个，创建时间相同则取 ID 字典序最大者。
func (s *Service) Resolve(ctx context.Context, ref string) (*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, xerrors.New(CodeTaskValidation, "task_id must not be empty")
	}
	owner := OwnerFrom(ctx)

	if id, err := uuid.Parse(ref); err == nil {
		task, err := s.store.Get(ctx, id)
		switch {
		case err == nil:
			if owner != uuid.Nil && task.UserID != owner {
				return nil, notFound(ref)
			}
			return task, nil
		case !stdErrors.Is(err, ErrTaskNotFound):
			return nil, err
		}
		// 标题本身可能就是 UUID 格式，继续按标题查找。
	}

	matches, err := s.store.FindByTitle(ctx, owner, ref)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, notFound(ref)
	}
	if len(matches) > 1 {
		s.logger.Debug("multiple tasks share the title, using newest",
			slog.String("title", ref),
			slog.Int("matches", len(matches)),
		)
	}
	return matches[0], nil
}

// SetCompletion 标记任务完成或未完成。
func (s *Service) SetCompletion(ctx context.Context, ref string, completed bool) (Outcome, error) {
	return s.Update(ctx, ref, Patch{IsCompleted: &completed})
}

// Update 修改任务的部分字段。
func (s *Service) Update(ctx context.Context, ref string, patch Patch) (Outcome, error) {
	if patch.Empty() {
		return Outcome{}, xerrors.New(CodeTaskValidation, "no fields to update")
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return Outcome{}, xerrors.New(CodeTaskValidation, "title must not be empty")
	}
	if patch.Priority != nil {
		parsed, err := ParsePriority(string(*patch.Priority))
		if err != nil {
			return Outcome{}, err
		}
		patch.Priority = &parsed
	}

	task, err := s.Resolve(ctx, ref)
	if err != nil {
		return Outcome{}, err
	}
	wasCompleted := task.IsCompleted
	patch.apply(task)
	if err := s.store.Update(ctx, task); err != nil {
		return Outcome{}, err
	}

	eventType := events.TaskUpdated
	message := fmt.Sprintf("Task '%s' updated", task.Title)
	if patch.IsCompleted != nil && task.IsCompleted != wasCompleted {
		if task.IsCompleted {
			eventType = events.TaskCompleted
			message = fmt.Sprintf("Task '%s' marked as completed", task.Title)
		} else {
			eventType = events.TaskReopened
			message = fmt.Sprintf("Task '%s' marked as pending", task.Title)
		}
	}
	s.publish(ctx, eventType, task)
	logger.Audit().Info("任务已更新",
		slog.String("task_id", task.ID.String()),
		slog.String("event", string(eventType)),
	)
	return Outcome{Success: true, TaskID: task.ID, Message: message, Task: task}, nil
}

// Delete 删除任务。
func (s *Service) Delete(ctx context.Context, ref string) (Outcome, error) {
	task, err := s.Resolve(ctx, ref)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.store.Delete(ctx, task.ID); err != nil {
		return Outcome{}, err
	}
	s.publish(ctx, events.TaskDeleted, task)
	logger.Audit().Info("任务已删除", slog.String("task_id", task.ID.String()))
	return Outcome{
		Success: true,
		TaskID:  task.ID,
		Message: fmt.Sprintf("Task '%s' deleted", task.Title),
	}, nil
}

// Close 释放存储与发布器。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	return stdErrors.Join(errs...)
}

// publish 发布失败只记录日志，不影响已完成的变更。
func (s *Service) publish(ctx context.Context, typ events.Type, task *Task) {
	err := s.publisher.Publish(ctx, events.Event{
		Type:       typ,
		TaskID:     task.ID,
		UserID:     task.UserID,
		Title:      task.Title,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("发布任务事件失败",
			slog.String("event", string(typ)),
			slog.String("task_id", task.ID.String()),
			slog.Any("error", xerrors.Wrap(xerrors.CodePublishFailure, err, "")),
		)
	}
}

func notFound(ref string) error {
	return xerrors.New(CodeTaskNotFound, fmt.Sprintf("task '%s' not found", ref))
}
