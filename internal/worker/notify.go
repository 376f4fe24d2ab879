package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"cvforge/internal/photos"
)

// NotifyChannel 返回用户的 Redis Pub/Sub 频道，WebSocket 端订阅同一频道。
func NotifyChannel(userID uint) string {
	return fmt.Sprintf("user_notify:%d", userID)
}

// Publisher 是 redis.Client 的子集。
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisNotifier 将照片操作状态变化发布到用户频道。
type RedisNotifier struct {
	client Publisher
}

// NewRedisNotifier 构造 RedisNotifier。
func NewRedisNotifier(client Publisher) *RedisNotifier {
	return &RedisNotifier{client: client}
}

// Publish 实现 photos.Notifier。
func (n *RedisNotifier) Publish(ctx context.Context, userID uint, msg photos.Notification) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := NotifyChannel(userID)
	if err := n.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}
