package todo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore 以内存方式保存任务，适用于本地开发与测试。
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*Task
	now   func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[uuid.UUID]*Task), now: time.Now}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, task *Task) error {
	if err := validateTask(task); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; ok {
		return ErrTaskConflict
	}
	now := m.now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	m.tasks[task.ID] = cloneTask(task)
	return nil
}

// Get 返回任务。
func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(task), nil
}

// FindByTitle 返回标题完全匹配的任务。
func (m *MemoryStore) FindByTitle(_ context.Context, userID uuid.UUID, title string) ([]*Task, error) {
	title = strings.TrimSpace(title)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Task
	for _, task := range m.tasks {
		if userID != uuid.Nil && task.UserID != userID {
			continue
		}
		if task.Title == title {
			matched = append(matched, cloneTask(task))
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].newerThan(matched[j]) })
	return matched, nil
}

// List 返回满足过滤条件的任务，按创建时间倒序。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Task, error) {
	opts.applyDefaults()

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		if opts.matches(task) {
			results = append(results, cloneTask(task))
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].newerThan(results[j]) })

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Update 覆盖已有任务，CreatedAt 与 UserID 不会被修改。
func (m *MemoryStore) Update(_ context.Context, task *Task) error {
	if err := validateTask(task); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.tasks[task.ID]
	if !ok {
		return ErrTaskNotFound
	}
	task.UserID = existing.UserID
	task.CreatedAt = existing.CreatedAt
	task.UpdatedAt = m.now().UTC()
	m.tasks[task.ID] = cloneTask(task)
	return nil
}

// Delete 删除任务。
func (m *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	delete(m.tasks, id)
	return nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
