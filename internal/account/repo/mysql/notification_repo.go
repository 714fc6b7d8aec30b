package mysql

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"gopherex.com/custody/internal/account/model"
	"gopherex.com/custody/pkg/xerr"
)

// InsertNotification deposit_id 唯一，重复插入忽略
func (r *Repo) InsertNotification(ctx context.Context, n *model.DepositNotification) error {
	err := r.getDb(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(n).Error
	if err != nil {
		return xerr.Wrap(xerr.DbError, "insert notification failed", err)
	}
	return nil
}

// AcquireUnpublished 取一批未发布的通知
// FOR UPDATE SKIP LOCKED：多个副本同时跑 relay 不会互相阻塞，也不会重复领取
func (r *Repo) AcquireUnpublished(ctx context.Context, limit int) ([]*model.DepositNotification, error) {
	var rows []*model.DepositNotification
	err := r.getDb(ctx).
		Model(&model.DepositNotification{}).
		Where("published_at IS NULL").
		Order("id ASC").
		Limit(limit).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Find(&rows).Error
	if err != nil {
		return nil, xerr.Wrap(xerr.DbError, "acquire notifications failed", err)
	}
	return rows, nil
}

// MarkPublished 只允许 NULL -> 时间戳
func (r *Repo) MarkPublished(ctx context.Context, id int64) error {
	err := r.getDb(ctx).Model(&model.DepositNotification{}).
		Where("id = ? AND published_at IS NULL", id).
		Update("published_at", time.Now().UTC()).Error
	if err != nil {
		return xerr.Wrap(xerr.DbError, "mark notification published failed", err)
	}
	return nil
}
