package todo

import (
	"context"

	"github.com/google/uuid"
)

// Store 抽象了任务的持久化接口。
//
// userID 为 uuid.Nil 时表示不限定用户。
type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id uuid.UUID) (*Task, error)
	// FindByTitle 返回标题完全相同的任务，最新创建的排在最前。
	FindByTitle(ctx context.Context, userID uuid.UUID, title string) ([]*Task, error)
	List(ctx context.Context, opts ListOptions) ([]*Task, error)
	Update(ctx context.Context, task *Task) error
	Delete(ctx context.Context, id uuid.UUID) error
	Close() error
}
