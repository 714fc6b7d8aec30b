package mysql

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gopherex.com/custody/internal/account/model"
	"gopherex.com/custody/pkg/orm"
	"gopherex.com/custody/pkg/xerr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AddBalance 原子加余额，没有行就插入
// MySQL: INSERT ... ON DUPLICATE KEY UPDATE available = available + ?, version = version + 1
func (r *Repo) AddBalance(ctx context.Context, userID int64, currency string, amount decimal.Decimal) error {
	now := time.Now()
	row := &model.UserBalance{
		UserID:    userID,
		Currency:  currency,
		Available: amount,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := r.getDb(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "currency"}},
		DoUpdates: clause.Assignments(map[string]any{
			"available":  gorm.Expr("available + ?", amount),
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		}),
	}).Create(row).Error
	if err != nil {
		if orm.IsLockConflict(err) {
			return xerr.Wrap(xerr.StateConflict, "balance row locked", err)
		}
		return xerr.Wrap(xerr.DbError, "add balance failed", err)
	}
	return nil
}

func (r *Repo) GetBalance(ctx context.Context, userID int64, currency string) (*model.UserBalance, error) {
	var b model.UserBalance
	err := r.getDb(ctx).Where("user_id = ? AND currency = ?", userID, currency).First(&b).Error
	if err != nil {
		if orm.IsNotFound(err) {
			return nil, nil
		}
		return nil, xerr.Wrap(xerr.DbError, "query balance failed", err)
	}
	return &b, nil
}

func (r *Repo) ListBalances(ctx context.Context, userID int64) ([]*model.UserBalance, error) {
	var rows []*model.UserBalance
	err := r.getDb(ctx).Where("user_id = ?", userID).Order("currency ASC").Find(&rows).Error
	if err != nil {
		return nil, xerr.Wrap(xerr.DbError, "list balances failed", err)
	}
	return rows, nil
}
