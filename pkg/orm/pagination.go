package orm

import "gorm.io/gorm"

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// NormalizePage page 从 1 开始；limit 缺省 20，上限 200
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}
	return page, limit
}

// Paginate 用法：db.Scopes(orm.Paginate(page, limit)).Find(&rows)
func Paginate(page, limit int) func(*gorm.DB) *gorm.DB {
	page, limit = NormalizePage(page, limit)
	return func(db *gorm.DB) *gorm.DB {
		return db.Offset((page - 1) * limit).Limit(limit)
	}
}
