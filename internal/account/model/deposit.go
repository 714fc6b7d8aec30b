package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type DepositStatus string

const (
	DepositPending   DepositStatus = "pending"
	DepositConfirmed DepositStatus = "confirmed"
)

// DepositSummary 账户侧的充值镜像，由确认追踪器维护，用户查询走这张表
type DepositSummary struct {
	ID            int64           `gorm:"column:id;primaryKey"`
	TxHash        string          `gorm:"column:tx_hash;size:128;uniqueIndex:uniq_tx_user,priority:1"`
	UserID        int64           `gorm:"column:user_id;uniqueIndex:uniq_tx_user,priority:2;index:idx_user_status,priority:1"`
	DepositID     int64           `gorm:"column:deposit_id;index"`
	Chain         string          `gorm:"column:chain;size:16"`
	Network       string          `gorm:"column:network;size:16"`
	Asset         string          `gorm:"column:asset;size:32"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(36,18)"`
	Status        DepositStatus   `gorm:"column:status;size:16;index:idx_user_status,priority:2"`
	Confirmations uint64          `gorm:"column:confirmations"`
	Required      uint32          `gorm:"column:required"`

	ConfirmedAt *time.Time `gorm:"column:confirmed_at"`
	// 入账时间，只在 pending -> confirmed 那一次写入
	CreditedAt *time.Time `gorm:"column:credited_at"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (DepositSummary) TableName() string {
	return "account_deposits"
}
