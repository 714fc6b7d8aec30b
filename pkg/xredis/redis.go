// Package xredis redis 客户端以及基于它的锁和幂等保护
package xredis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	PoolSize int    `mapstructure:"pool_size" yaml:"pool_size"`
	// 单条命令超时，0 用默认 3s
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Options 把配置翻译成 go-redis 参数
func (c *Config) Options() *redis.Options {
	pool := c.PoolSize
	if pool <= 0 {
		pool = 32
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		PoolSize:     pool,
		MinIdleConns: min(4, pool),
	}
}

// NewRedis 连接并 ping，连不上直接返回错误由调用方决定是否退出
func NewRedis(ctx context.Context, c *Config) (*redis.Client, error) {
	rdb := redis.NewClient(c.Options())
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", c.Addr, err)
	}
	return rdb, nil
}
