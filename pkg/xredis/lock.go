package xredis

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 只有持有者 (value == token) 才能删除或续期
var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)
	extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// DistLock 单 key 互斥锁，token 区分持有者，TTL 到期自动释放
type DistLock struct {
	client redis.Cmdable
	key    string
	token  string
	ttl    time.Duration
}

func NewDistLock(client redis.Cmdable, key string, ttl time.Duration) *DistLock {
	return &DistLock{client: client, key: key, token: uuid.NewString(), ttl: ttl}
}

func (l *DistLock) Key() string { return l.key }

// TryLock 只试一次
func (l *DistLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
}

// Lock 最多尝试 attempts 次，每次间隔 backoff 加最多 1/4 的随机抖动
func (l *DistLock) Lock(ctx context.Context, attempts int, backoff time.Duration) (bool, error) {
	for i := range attempts {
		ok, err := l.TryLock(ctx)
		if err != nil || ok {
			return ok, err
		}
		if i == attempts-1 {
			break
		}
		wait := backoff
		if q := int64(backoff / 4); q > 0 {
			wait += time.Duration(rand.Int64N(q))
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return false, ctx.Err()
		case <-t.C:
		}
	}
	return false, nil
}

// Extend 长任务续期；锁已过期或被别人拿走时返回 false
func (l *DistLock) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Unlock false 表示锁早已不属于自己
func (l *DistLock) Unlock(ctx context.Context) (bool, error) {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
