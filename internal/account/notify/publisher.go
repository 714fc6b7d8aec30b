// Package notify 充值到账事件的发布。只负责投递到消息系统，不做 webhook。
package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"gopherex.com/custody/internal/account/model"
	"gopherex.com/custody/pkg/logger"
	"gopherex.com/custody/pkg/metrics"
)

const (
	DefaultStream  = "stream:deposit:completed"
	DefaultSubject = "custody.deposit.completed"
)

type Publisher interface {
	Name() string
	Publish(ctx context.Context, ev model.DepositCompleted) error
}

// RedisStream XADD 到 stream，消费方用消费组读
type RedisStream struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

func NewRedisStream(client redis.Cmdable, stream string, maxLen int64) *RedisStream {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStream{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisStream) Name() string { return "redis" }

func (p *RedisStream) Publish(ctx context.Context, ev model.DepositCompleted) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"deposit_id": strconv.FormatInt(ev.DepositID, 10),
			"user_id":    strconv.FormatInt(ev.UserID, 10),
			"payload":    string(b),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return p.client.XAdd(ctx, args).Err()
}

// natsConn *nats.Conn 的最小子集
type natsConn interface {
	Publish(subj string, data []byte) error
}

type NATS struct {
	conn    natsConn
	subject string
}

func NewNATS(nc *nats.Conn, subject string) *NATS {
	return newNATS(nc, subject)
}

func newNATS(nc natsConn, subject string) *NATS {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATS{conn: nc, subject: subject}
}

// DialNATS 建连，断线自动重连
func DialNATS(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectHandler(func(c *nats.Conn) {
			logger.Warn(context.Background(), "nats disconnected", zap.Error(c.LastError()))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info(context.Background(), "nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
}

func (p *NATS) Name() string { return "nats" }

func (p *NATS) Publish(_ context.Context, ev model.DepositCompleted) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.subject, b)
}

// Log 没有配置消息系统时只打日志，通知保持在 outbox 里
type Log struct{}

func (Log) Name() string { return "log" }

func (Log) Publish(ctx context.Context, ev model.DepositCompleted) error {
	logger.Info(ctx, "deposit completed",
		zap.Int64("deposit_id", ev.DepositID),
		zap.Int64("user_id", ev.UserID),
		zap.String("asset", ev.Asset),
		zap.String("amount", ev.Amount),
	)
	return nil
}

// New 按 driver 选择实现
func New(driver string, rdb redis.Cmdable, nc *nats.Conn, stream, subject string) (Publisher, error) {
	switch driver {
	case "", "log", "none":
		return Log{}, nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("notify driver redis requires a redis client")
		}
		return NewRedisStream(rdb, stream, 100000), nil
	case "nats":
		if nc == nil {
			return nil, fmt.Errorf("notify driver nats requires a nats connection")
		}
		return NewNATS(nc, subject), nil
	default:
		return nil, fmt.Errorf("unknown notify driver %q", driver)
	}
}

// PublishOne 发布并记录指标，失败只打日志
func PublishOne(ctx context.Context, p Publisher, ev model.DepositCompleted) bool {
	if err := p.Publish(ctx, ev); err != nil {
		metrics.NotificationsPublished.WithLabelValues(p.Name(), "error").Inc()
		logger.Warn(ctx, "publish deposit notification failed",
			zap.String("driver", p.Name()),
			zap.Int64("deposit_id", ev.DepositID),
			zap.Error(err),
		)
		return false
	}
	metrics.NotificationsPublished.WithLabelValues(p.Name(), "ok").Inc()
	return true
}
