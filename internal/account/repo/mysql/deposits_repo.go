package mysql

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gopherex.com/custody/internal/account/model"
	"gopherex.com/custody/pkg/orm"
	"gopherex.com/custody/pkg/xerr"
)

// UpsertSummary 镜像充值状态；credited_at 只在第一次写入时生效，之后的更新不覆盖
func (r *Repo) UpsertSummary(ctx context.Context, s *model.DepositSummary) error {
	updates := []string{"status", "confirmations", "required", "confirmed_at", "amount", "updated_at"}
	if s.CreditedAt != nil {
		updates = append(updates, "credited_at")
	}
	err := r.getDb(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_hash"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(s).Error
	if err != nil {
		return xerr.Wrap(xerr.DbError, "upsert deposit summary failed", err)
	}
	return nil
}

func (r *Repo) GetSummary(ctx context.Context, txHash string, userID int64) (*model.DepositSummary, error) {
	var s model.DepositSummary
	err := r.getDb(ctx).Where("tx_hash = ? AND user_id = ?", txHash, userID).First(&s).Error
	if err != nil {
		if orm.IsNotFound(err) {
			return nil, nil
		}
		return nil, xerr.Wrap(xerr.DbError, "query deposit summary failed", err)
	}
	return &s, nil
}

// ListSummaries 用户充值记录，status 为空表示全部
func (r *Repo) ListSummaries(ctx context.Context, userID int64, status string, page, limit int) ([]*model.DepositSummary, int64, error) {
	query := func() *gorm.DB {
		q := r.getDb(ctx).Model(&model.DepositSummary{}).Where("user_id = ?", userID)
		if status != "" {
			q = q.Where("status = ?", status)
		}
		return q
	}
	var total int64
	if err := query().Count(&total).Error; err != nil {
		return nil, 0, xerr.Wrap(xerr.DbError, "count deposits failed", err)
	}
	var rows []*model.DepositSummary
	if err := query().Order("id DESC").Scopes(orm.Paginate(page, limit)).Find(&rows).Error; err != nil {
		return nil, 0, xerr.Wrap(xerr.DbError, "list deposits failed", err)
	}
	return rows, total, nil
}
