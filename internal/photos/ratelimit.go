package photos

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"cvforge/internal/errcode"
	"cvforge/internal/metrics"
)

// Counter 是实现每日提交计数所需的 Redis 能力。
type Counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

func incrWithTTL(ctx context.Context, client Counter, key string, ttl time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = client.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}

func dailyLimitKey(userID uint, now time.Time) string {
	return fmt.Sprintf("photo_submissions:%d:%s", userID, now.UTC().Format("20060102"))
}

// checkDailyLimit 按 UTC 自然日计数；Redis 不可用时放行。
func (w *Workflow) checkDailyLimit(ctx context.Context, userID uint, now time.Time) error {
	if w.counter == nil || w.cfg.DailyLimit <= 0 {
		return nil
	}
	count, err := incrWithTTL(ctx, w.counter, dailyLimitKey(userID, now), 24*time.Hour)
	if err != nil {
		w.logger.Warn("photo rate counter unavailable", slog.Uint64("user_id", uint64(userID)), slog.Any("error", err))
		return nil
	}
	if count > int64(w.cfg.DailyLimit) {
		metrics.IncRateLimited("photo_submit")
		return errcode.RateLimited("daily photo submission limit reached")
	}
	return nil
}
