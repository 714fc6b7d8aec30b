package mysql

import (
	"context"

	"gopherex.com/custody/internal/account/model"
	"gopherex.com/custody/pkg/orm"
	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repo { return &Repo{db: db} }

// Transaction 事务放进 ctx，钱包/扫描侧仓储在同一个 ctx 下共用
func (r *Repo) Transaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	return orm.Transaction(ctx, r.db, fn)
}

func (r *Repo) getDb(ctx context.Context) *gorm.DB {
	return orm.Conn(ctx, r.db)
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.UserBalance{}, &model.DepositSummary{}, &model.DepositNotification{})
}
