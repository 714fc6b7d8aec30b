package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserBalance 用户可用余额，一个 (user, currency) 一行
type UserBalance struct {
	ID        int64           `gorm:"column:id;primaryKey" json:"-"`
	UserID    int64           `gorm:"column:user_id;uniqueIndex:uniq_user_currency,priority:1" json:"user_id"`
	Currency  string          `gorm:"column:currency;size:32;uniqueIndex:uniq_user_currency,priority:2" json:"currency"`
	Available decimal.Decimal `gorm:"column:available;type:decimal(36,18);not null;default:0" json:"available"`
	Version   int64           `gorm:"column:version;not null;default:0" json:"version"`
	CreatedAt time.Time       `gorm:"column:created_at" json:"-"`
	UpdatedAt time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (UserBalance) TableName() string {
	return "user_balances"
}
