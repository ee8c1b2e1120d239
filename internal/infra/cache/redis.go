package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"voiture-alert/internal/domain"
)

// RedisGuard реализует domain.Guard через Redis SETNX.
type RedisGuard struct {
	client *redis.Client
}

var _ domain.Guard = (*RedisGuard)(nil)

// NewRedisGuard создаёт guard.
func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

// Once захватывает ключ на ttl. Возвращает true при первом захвате,
// false — если ключ уже занят (повторное событие).
func (g *RedisGuard) Once(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.client.SetNX(ctx, key, "1", ttl).Result()
}
