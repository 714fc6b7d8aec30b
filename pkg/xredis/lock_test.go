package xredis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestDistLock_Exclusive(t *testing.T) {
	_, rdb := newTestClient(t)
	ctx := context.Background()

	a := NewDistLock(rdb, "job:scan:evm:mainnet", time.Minute)
	b := NewDistLock(rdb, "job:scan:evm:mainnet", time.Minute)

	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "第二个实例不能拿到同一把锁")

	// b 不能释放 a 的锁
	released, err := b.Unlock(ctx)
	require.NoError(t, err)
	assert.False(t, released)

	released, err = a.Unlock(ctx)
	require.NoError(t, err)
	assert.True(t, released)

	ok, err = b.Lock(ctx, 3, 5*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDistLock_Expires(t *testing.T) {
	mr, rdb := newTestClient(t)
	ctx := context.Background()

	a := NewDistLock(rdb, "job:confirm:tron:mainnet", time.Second)
	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	b := NewDistLock(rdb, "job:confirm:tron:mainnet", time.Second)
	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "过期后锁应当可以被重新获取")
}

func TestDistLock_ExtendAndGiveUp(t *testing.T) {
	mr, rdb := newTestClient(t)
	ctx := context.Background()

	a := NewDistLock(rdb, "job:scan:xrp:mainnet", time.Second)
	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	extended, err := a.Extend(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, extended)
	mr.FastForward(10 * time.Second)
	assert.True(t, mr.Exists("job:scan:xrp:mainnet"), "续期后不会按旧 TTL 过期")

	b := NewDistLock(rdb, "job:scan:xrp:mainnet", time.Second)
	extended, err = b.Extend(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, extended, "非持有者不能续期")

	ok, err = b.Lock(ctx, 2, time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "重试用完仍未拿到")
}

func TestGuard(t *testing.T) {
	_, rdb := newTestClient(t)
	ctx := context.Background()
	g := NewGuard(rdb, "idempotent:allocate:", time.Minute)

	ok, err := g.Acquire(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Acquire(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, g.Release(ctx, "k1"))
	ok, err = g.Acquire(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
}
