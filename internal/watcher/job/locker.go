package job

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/redis/go-redis/v9"

	"gopherex.com/custody/pkg/xredis"
)

var ErrLockHeld = errors.New("job lock held by another instance")

// RedisLocker 多副本部署时同一个任务同一时刻只跑一份。
// 锁只减少重复工作，正确性靠存储层的唯一约束和状态 CAS。
type RedisLocker struct {
	client redis.Cmdable
	ttl    time.Duration
}

var _ gocron.Locker = (*RedisLocker)(nil)

func NewRedisLocker(client redis.Cmdable, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// Lock key 是任务名，例如 scan:evm:mainnet
func (l *RedisLocker) Lock(ctx context.Context, key string) (gocron.Lock, error) {
	dl := xredis.NewDistLock(l.client, "job:"+key, l.ttl)
	ok, err := dl.TryLock(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return redisLock{dl}, nil
}

type redisLock struct {
	dl *xredis.DistLock
}

func (l redisLock) Unlock(ctx context.Context) error {
	_, err := l.dl.Unlock(ctx)
	return err
}
