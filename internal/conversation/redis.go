package conversation

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	xerrors "TaskPilot/internal/errors"
)

// RedisConfig 描述 Redis 对话存储的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	// TTL 大于 0 时，对话在最后一次写入后过期。
	TTL time.Duration
}

// RedisStore 使用 Redis 保存对话：
//
//	<prefix>:conv:<id>           hash  对话元数据
//	<prefix>:conv:<id>:messages  list  JSON 编码的消息
//	<prefix>:user:<uid>:convs    zset  按更新时间排序的对话 ID
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore 建立连接并校验可用性。
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return NewRedisStoreWithClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisStoreWithClient 复用已有客户端。
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "taskpilot"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (s *RedisStore) convKey(id uuid.UUID) string {
	return s.prefix + ":conv:" + id.String()
}

func (s *RedisStore) messagesKey(id uuid.UUID) string {
	return s.prefix + ":conv:" + id.String() + ":messages"
}

func (s *RedisStore) userKey(userID uuid.UUID) string {
	return s.prefix + ":user:" + userID.String() + ":convs"
}

// Create 新建对话。
func (s *RedisStore) Create(ctx context.Context, userID uuid.UUID, title string) (*Conversation, error) {
	now := s.now().UTC()
	c := &Conversation{ID: uuid.New(), UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.convKey(c.ID), map[string]any{
			"user_id":    userID.String(),
			"title":      title,
			"created_at": now.UnixNano(),
			"updated_at": now.UnixNano(),
		})
		pipe.ZAdd(ctx, s.userKey(userID), redis.Z{Score: float64(now.UnixMilli()), Member: c.ID.String()})
		if s.ttl > 0 {
			pipe.Expire(ctx, s.convKey(c.ID), s.ttl)
		}
		return nil
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建对话失败")
	}
	return c, nil
}

// Get 返回属于用户的对话。
func (s *RedisStore) Get(ctx context.Context, userID, id uuid.UUID) (*Conversation, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *RedisStore) load(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	fields, err := s.client.HGetAll(ctx, s.convKey(id)).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取对话失败")
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeConversation(id, fields)
}

// Append 追加消息。
func (s *RedisStore) Append(ctx context.Context, id uuid.UUID, messages ...Message) error {
	c, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	values := make([]any, 0, len(messages))
	for _, msg := range messages {
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		encoded, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("编码消息失败: %w", err)
		}
		values = append(values, encoded)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(values) > 0 {
			pipe.RPush(ctx, s.messagesKey(id), values...)
		}
		pipe.HSet(ctx, s.convKey(id), "updated_at", now.UnixNano())
		pipe.ZAdd(ctx, s.userKey(c.UserID), redis.Z{Score: float64(now.UnixMilli()), Member: id.String()})
		if s.ttl > 0 {
			pipe.Expire(ctx, s.convKey(id), s.ttl)
			pipe.Expire(ctx, s.messagesKey(id), s.ttl)
		}
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "追加对话消息失败")
	}
	return nil
}

// History 返回最近的消息。
func (s *RedisStore) History(ctx context.Context, id uuid.UUID, limit int) ([]Message, error) {
	exists, err := s.client.Exists(ctx, s.convKey(id)).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取对话失败")
	}
	if exists == 0 {
		return nil, ErrNotFound
	}
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := s.client.LRange(ctx, s.messagesKey(id), start, -1).Result()
	if err != nil && !stdErrors.Is(err, redis.Nil) {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取对话消息失败")
	}
	out := make([]Message, 0, len(raw))
	for _, item := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析对话消息失败")
		}
		out = append(out, msg)
	}
	return out, nil
}

// List 返回用户的对话，过期的对话会从索引中清理。
func (s *RedisStore) List(ctx context.Context, userID uuid.UUID) ([]*Conversation, error) {
	ids, err := s.client.ZRevRange(ctx, s.userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取对话列表失败")
	}
	out := make([]*Conversation, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		c, err := s.load(ctx, id)
		if stdErrors.Is(err, ErrNotFound) {
			s.client.ZRem(ctx, s.userKey(userID), raw)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func decodeConversation(id uuid.UUID, fields map[string]string) (*Conversation, error) {
	userID, err := uuid.Parse(fields["user_id"])
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析对话用户失败")
	}
	created, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	updated, _ := strconv.ParseInt(fields["updated_at"], 10, 64)
	return &Conversation{
		ID:        id,
		UserID:    userID,
		Title:     fields["title"],
		CreatedAt: time.Unix(0, created).UTC(),
		UpdatedAt: time.Unix(0, updated).UTC(),
	}, nil
}

var _ Store = (*RedisStore)(nil)
