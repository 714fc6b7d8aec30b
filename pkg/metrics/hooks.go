package metrics

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const gormStartKey = "metrics:start"

// GormPlugin 记录每条 SQL 的耗时，按操作类型打标签
type GormPlugin struct{}

func (GormPlugin) Name() string { return "custody:metrics" }

func (GormPlugin) Initialize(db *gorm.DB) error {
	before := func(tx *gorm.DB) { tx.InstanceSet(gormStartKey, time.Now()) }
	after := func(op string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			v, ok := tx.InstanceGet(gormStartKey)
			if !ok {
				return
			}
			status := "ok"
			if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
				status = "error"
			}
			DbQueryDuration.WithLabelValues(op+":"+tx.Statement.Table, status).Observe(time.Since(v.(time.Time)).Seconds())
		}
	}
	cb := db.Callback()
	if err := cb.Create().Before("gorm:create").Register("metrics:before_create", before); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("metrics:after_create", after("create")); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("metrics:before_query", before); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("metrics:after_query", after("query")); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("metrics:before_update", before); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("metrics:after_update", after("update")); err != nil {
		return err
	}
	if err := cb.Raw().Before("gorm:raw").Register("metrics:before_raw", before); err != nil {
		return err
	}
	return cb.Raw().After("gorm:raw").Register("metrics:after_raw", after("raw"))
}

// RedisHook 记录 redis 命令耗时和错误
type RedisHook struct{}

var _ redis.Hook = RedisHook{}

func (RedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (RedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		observeRedis(cmd.Name(), err, start)
		return err
	}
}

func (RedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		observeRedis("pipeline", err, start)
		return err
	}
}

func observeRedis(name string, err error, start time.Time) {
	status := "ok"
	if err != nil && !errors.Is(err, redis.Nil) {
		status = "error"
		code := "error"
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			code = "timeout"
		}
		RedisErrors.WithLabelValues(name, code).Inc()
	}
	RedisCmdDuration.WithLabelValues(name, status).Observe(time.Since(start).Seconds())
}
