package xredis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard 基于 SetNX 的软幂等保护：同一个 key 在 ttl 内只放行一次。
// 真正的幂等由数据库唯一约束保证，这里只是挡住并发重放。
type Guard struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewGuard(client redis.Cmdable, prefix string, ttl time.Duration) *Guard {
	return &Guard{client: client, prefix: prefix, ttl: ttl}
}

// Acquire 返回 true 表示本次拿到了处理权
func (g *Guard) Acquire(ctx context.Context, key string) (bool, error) {
	return g.client.SetNX(ctx, g.prefix+key, "1", g.ttl).Result()
}

// Release 处理结束后释放，允许后续重试
func (g *Guard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, g.prefix+key).Err()
}
