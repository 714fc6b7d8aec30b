package xredis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigOptions(t *testing.T) {
	o := (&Config{Addr: "x:6379"}).Options()
	assert.Equal(t, 32, o.PoolSize)
	assert.Equal(t, 4, o.MinIdleConns)
	assert.Equal(t, 3*time.Second, o.ReadTimeout)

	o = (&Config{PoolSize: 2, Timeout: time.Second}).Options()
	assert.Equal(t, 2, o.MinIdleConns)
	assert.Equal(t, time.Second, o.WriteTimeout)
}

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := NewRedis(context.Background(), &Config{Addr: mr.Addr()})
	require.NoError(t, err)
	defer rdb.Close()

	gone, err := miniredis.Run()
	require.NoError(t, err)
	addr := gone.Addr()
	gone.Close()
	_, err = NewRedis(context.Background(), &Config{Addr: addr, Timeout: 100 * time.Millisecond})
	assert.Error(t, err)
}
