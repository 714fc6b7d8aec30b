package repo

import (
	"context"

	"gopherex.com/custody/internal/watcher/domain"
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
	_ domain.DepositRepo = (*Repo)(nil)
	_ domain.CursorRepo  = (*Repo)(nil)
)

// Transaction 实现事务，tx 放在 ctx 里，账户侧仓储会复用同一个事务
func (r *Repo) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return orm.Transaction(ctx, r.db, fn)
}

// getDb 获取数据库连接，如果 context 中有事务则使用事务，否则使用普通连接
func (r *Repo) getDb(ctx context.Context) *gorm.DB {
	return orm.Conn(ctx, r.db)
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&domain.DepositTransaction{}, &domain.ScanCursor{})
}
