package orm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopherex.com/custody/pkg/orm"
	"gopherex.com/custody/pkg/orm/ormtest"
)

type item struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex"`
}

func TestTransaction_RollbackOnError(t *testing.T) {
	db := ormtest.Open(t, &item{})
	ctx := context.Background()

	err := orm.Transaction(ctx, db, func(txCtx context.Context) error {
		assert.True(t, orm.InTx(txCtx))
		require.NoError(t, orm.Conn(txCtx, db).Create(&item{Name: "a"}).Error)
		return errors.New("boom")
	})
	require.Error(t, err)

	var n int64
	require.NoError(t, db.Model(&item{}).Count(&n).Error)
	assert.Equal(t, int64(0), n, "事务失败必须回滚")
}

func TestTransaction_Nested(t *testing.T) {
	db := ormtest.Open(t, &item{})
	ctx := context.Background()

	err := orm.Transaction(ctx, db, func(txCtx context.Context) error {
		return orm.Transaction(txCtx, db, func(inner context.Context) error {
			return orm.Conn(inner, db).Create(&item{Name: "b"}).Error
		})
	})
	require.NoError(t, err)

	var n int64
	require.NoError(t, db.Model(&item{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestIsDuplicate(t *testing.T) {
	db := ormtest.Open(t, &item{})
	require.NoError(t, db.Create(&item{Name: "dup"}).Error)
	err := db.Create(&item{Name: "dup"}).Error
	require.Error(t, err)
	assert.True(t, orm.IsDuplicate(err))
	assert.False(t, orm.IsLockConflict(err))
}

func TestPaginate(t *testing.T) {
	db := ormtest.Open(t, &item{})
	for i := 0; i < 25; i++ {
		require.NoError(t, db.Create(&item{Name: string(rune('a' + i))}).Error)
	}
	var page []item
	require.NoError(t, db.Order("id").Scopes(orm.Paginate(2, 2)).Find(&page).Error)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].Name)

	var first []item
	require.NoError(t, db.Order("id").Scopes(orm.Paginate(0, 0)).Find(&first).Error)
	assert.Len(t, first, orm.DefaultPageSize, "缺省第一页 20 条")
	assert.Equal(t, "a", first[0].Name)
}

func TestNormalizePage(t *testing.T) {
	tests := []struct{ page, limit, wantPage, wantLimit int }{
		{0, 0, 1, 20},
		{-3, 5, 1, 5},
		{4, 1000, 4, 200},
		{2, 200, 2, 200},
	}
	for _, tt := range tests {
		p, l := orm.NormalizePage(tt.page, tt.limit)
		assert.Equal(t, tt.wantPage, p)
		assert.Equal(t, tt.wantLimit, l)
	}
}
