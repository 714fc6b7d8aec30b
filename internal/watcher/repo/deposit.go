package repo

import (
	"context"
	"time"

	"gopherex.com/custody/internal/watcher/domain"
	"gopherex.com/custody/pkg/orm"
	"gopherex.com/custody/pkg/xerr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *Repo) FindDeposit(ctx context.Context, txHash, toAddress, asset string) (*domain.DepositTransaction, error) {
	var d domain.DepositTransaction
	err := r.getDb(ctx).
		Where("tx_hash = ? AND to_address = ? AND asset = ?", txHash, toAddress, asset).
		First(&d).Error
	if err != nil {
		if orm.IsNotFound(err) {
			return nil, nil
		}
		return nil, xerr.Wrap(xerr.DbError, "query deposit failed", err)
	}
	return &d, nil
}

// InsertDeposit INSERT ... ON CONFLICT DO NOTHING，并发扫描同一窗口时只有一方插入成功
func (r *Repo) InsertDeposit(ctx context.Context, d *domain.DepositTransaction) (bool, error) {
	res := r.getDb(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(d)
	if res.Error != nil {
		return false, xerr.Wrap(xerr.DbError, "insert deposit failed", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *Repo) GetDeposit(ctx context.Context, id int64) (*domain.DepositTransaction, error) {
	var d domain.DepositTransaction
	if err := r.getDb(ctx).First(&d, id).Error; err != nil {
		if orm.IsNotFound(err) {
			return nil, nil
		}
		return nil, xerr.Wrap(xerr.DbError, "query deposit failed", err)
	}
	return &d, nil
}

func (r *Repo) ListPending(ctx context.Context, chain, network string, limit int) ([]*domain.DepositTransaction, error) {
	var rows []*domain.DepositTransaction
	err := r.getDb(ctx).
		Where("status = ? AND chain = ? AND network = ?", domain.StatusPending, chain, network).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, xerr.Wrap(xerr.DbError, "list pending deposits failed", err)
	}
	return rows, nil
}

// AdvanceConfirmations
// SQL: UPDATE deposit_transactions SET confirmations_observed = ? WHERE id = ? AND status = 'pending' AND confirmations_observed < ?
func (r *Repo) AdvanceConfirmations(ctx context.Context, id int64, observed uint64) (bool, error) {
	res := r.getDb(ctx).Model(&domain.DepositTransaction{}).
		Where("id = ? AND status = ? AND confirmations_observed < ?", id, domain.StatusPending, observed).
		Updates(map[string]any{
			"confirmations_observed": observed,
			"updated_at":             time.Now(),
		})
	if res.Error != nil {
		return false, xerr.Wrap(xerr.DbError, "update confirmations failed", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkConfirmed 状态 CAS，只有从 pending 改成功的那一次返回 true
func (r *Repo) MarkConfirmed(ctx context.Context, id int64, observed uint64, at time.Time) (bool, error) {
	res := r.getDb(ctx).Model(&domain.DepositTransaction{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]any{
			"status":                 domain.StatusConfirmed,
			"confirmations_observed": observed,
			"confirmed_at":           at,
			"updated_at":             time.Now(),
		})
	if res.Error != nil {
		if orm.IsLockConflict(res.Error) {
			return false, xerr.Wrap(xerr.StateConflict, "deposit row locked", res.Error)
		}
		return false, xerr.Wrap(xerr.DbError, "confirm deposit failed", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ListDeposits 运营查询，按 id 倒序
func (r *Repo) ListDeposits(ctx context.Context, f DepositFilter) ([]*domain.DepositTransaction, int64, error) {
	q := r.getDb(ctx).Model(&domain.DepositTransaction{})
	if f.UserID > 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Chain != "" {
		q = q.Where("chain = ?", f.Chain)
	}
	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, xerr.Wrap(xerr.DbError, "count deposits failed", err)
	}
	var rows []*domain.DepositTransaction
	if err := q.Session(&gorm.Session{}).Order("id DESC").Scopes(orm.Paginate(f.Page, f.Limit)).Find(&rows).Error; err != nil {
		return nil, 0, xerr.Wrap(xerr.DbError, "list deposits failed", err)
	}
	return rows, total, nil
}

type DepositFilter struct {
	UserID int64
	Status string
	Chain  string
	Page   int
	Limit  int
}
