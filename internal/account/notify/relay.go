package notify

import (
	"context"

	"go.uber.org/zap"
	"gopherex.com/custody/internal/account/model"
	"gopherex.com/custody/pkg/logger"
)

type OutboxRepo interface {
	Transaction(ctx context.Context, fn func(txCtx context.Context) error) error
	AcquireUnpublished(ctx context.Context, limit int) ([]*model.DepositNotification, error)
	MarkPublished(ctx context.Context, id int64) error
}

// Relay 把 outbox 中没发出去的通知补发
type Relay struct {
	repo  OutboxRepo
	pub   Publisher
	batch int
}

func NewRelay(repo OutboxRepo, pub Publisher, batch int) *Relay {
	if batch <= 0 {
		batch = 100
	}
	return &Relay{repo: repo, pub: pub, batch: batch}
}

// Run 处理一批，返回成功发布的条数
func (r *Relay) Run(ctx context.Context) (int, error) {
	published := 0
	err := r.repo.Transaction(ctx, func(txCtx context.Context) error {
		rows, err := r.repo.AcquireUnpublished(txCtx, r.batch)
		if err != nil {
			return err
		}
		for _, n := range rows {
			ev, err := n.Event()
			if err != nil {
				// payload 坏了重试也没用，记日志跳过
				logger.Error(txCtx, "bad notification payload", zap.Int64("id", n.ID), zap.Error(err))
				continue
			}
			if !PublishOne(txCtx, r.pub, ev) {
				continue
			}
			if err := r.repo.MarkPublished(txCtx, n.ID); err != nil {
				return err
			}
			published++
		}
		return nil
	})
	return published, err
}
