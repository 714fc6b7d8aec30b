package orm

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// Transaction 开启事务，并把 tx 注入 ctx；嵌套调用复用外层事务
func Transaction(ctx context.Context, db *gorm.DB, fn func(txCtx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// Conn 如果 context 中有事务则使用事务，否则使用普通连接
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// InTx 当前 ctx 是否已经在事务中
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*gorm.DB)
	return ok
}
