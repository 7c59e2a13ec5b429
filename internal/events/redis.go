package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 发布通道。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

// RedisPublisher 通过 PUBLISH 广播事件。
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	owned   bool
}

// NewRedisPublisher 创建独立连接的发布器。
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	p := NewRedisPublisherWithClient(client, cfg.Channel)
	p.owned = true
	return p, nil
}

// NewRedisPublisherWithClient 复用已有连接，Close 不会关闭该连接。
func NewRedisPublisherWithClient(client redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = "taskpilot:task_events"
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Publish 发布事件。
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	body, err := encode(event)
	if err != nil {
		return fmt.Errorf("编码事件失败: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return fmt.Errorf("Redis 发布事件失败: %w", err)
	}
	return nil
}

// Close 关闭自建的 Redis 连接。
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil || !p.owned {
		return nil
	}
	return p.client.Close()
}
