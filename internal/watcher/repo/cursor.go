package repo

import (
	"context"
	"time"

	"gopherex.com/custody/internal/watcher/domain"
	"gopherex.com/custody/pkg/orm"
	"gopherex.com/custody/pkg/xerr"
	"gorm.io/gorm/clause"
)

// GetCursor 获取指定链/币种的扫描断点
func (r *Repo) GetCursor(ctx context.Context, chain, network, asset string) (*domain.ScanCursor, error) {
	var c domain.ScanCursor
	err := r.getDb(ctx).
		Where("chain = ? AND network = ? AND asset = ?", chain, network, asset).
		First(&c).Error
	if err != nil {
		if orm.IsNotFound(err) {
			// 第一次运行
			return nil, nil
		}
		return nil, xerr.Wrap(xerr.DbError, "query cursor failed", err)
	}
	return &c, nil
}

// SaveCursor Upsert: 不存在则插入，存在则更新
func (r *Repo) SaveCursor(ctx context.Context, c *domain.ScanCursor) error {
	c.UpdatedAt = time.Now()
	err := r.getDb(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chain"}, {Name: "network"}, {Name: "asset"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_block", "last_time", "updated_at"}),
	}).Create(c).Error
	if err != nil {
		return xerr.Wrap(xerr.DbError, "update cursor failed", err)
	}
	return nil
}
