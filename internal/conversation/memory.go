package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore 在进程内保存对话。
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[uuid.UUID]*Conversation
	messages      map[uuid.UUID][]Message
	now           func() time.Time
}

// NewMemoryStore 创建内存对话存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[uuid.UUID]*Conversation),
		messages:      make(map[uuid.UUID][]Message),
		now:           time.Now,
	}
}

// Create 新建对话。
func (m *MemoryStore) Create(_ context.Context, userID uuid.UUID, title string) (*Conversation, error) {
	now := m.now().UTC()
	c := &Conversation{ID: uuid.New(), UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	m.mu.Lock()
	m.conversations[c.ID] = cloneConversation(c)
	m.mu.Unlock()
	return c, nil
}

// Get 返回属于用户的对话。
func (m *MemoryStore) Get(_ context.Context, userID, id uuid.UUID) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok || c.UserID != userID {
		return nil, ErrNotFound
	}
	return cloneConversation(c), nil
}

// Append 追加消息并刷新更新时间。
func (m *MemoryStore) Append(_ context.Context, id uuid.UUID, messages ...Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	now := m.now().UTC()
	for _, msg := range messages {
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		m.messages[id] = append(m.messages[id], msg)
	}
	c.UpdatedAt = now
	return nil
}

// History 返回最近的消息。
func (m *MemoryStore) History(_ context.Context, id uuid.UUID, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.conversations[id]; !ok {
		return nil, ErrNotFound
	}
	all := m.messages[id]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]Message(nil), all...), nil
}

// List 返回用户的对话。
func (m *MemoryStore) List(_ context.Context, userID uuid.UUID) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Conversation
	for _, c := range m.conversations {
		if c.UserID == userID {
			out = append(out, cloneConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
