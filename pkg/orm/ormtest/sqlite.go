// Package ormtest 提供测试用的内存 SQLite
package ormtest

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"gopherex.com/custody/pkg/orm"
)

// Open 打开内存库并迁移给定模型。单连接，保证同一个测试看到同一份数据。
func Open(t testing.TB, models ...any) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), orm.GormConfig("silent"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			t.Fatalf("auto migrate: %v", err)
		}
	}
	return db
}
