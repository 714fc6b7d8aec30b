package repo

import (
	"context"

	"gopherex.com/custody/internal/wallet/domain"
	"gopherex.com/custody/pkg/orm"
	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

var (
	_ domain.AddressRepo = (*Repo)(nil)
)

// Transaction 实现事务，tx 放进 ctx，其他仓储在同一个 ctx 下会复用它
func (r *Repo) Transaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	return orm.Transaction(ctx, r.db, fn)
}

// getDb 获取数据库连接，如果 context 中有事务则使用事务，否则使用普通连接
func (r *Repo) getDb(ctx context.Context) *gorm.DB {
	return orm.Conn(ctx, r.db)
}

// AutoMigrate 建表 (开发/测试环境)
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&domain.WalletRoot{}, &domain.DepositAddress{}, &domain.AllocationRequest{})
}
