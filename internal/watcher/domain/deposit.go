package domain

import (
	"context"
	"time"
)

type DepositStatus string

const (
	StatusPending   DepositStatus = "pending"
	StatusConfirmed DepositStatus = "confirmed"
)

// DepositTransaction 扫描器插入，确认追踪器推进；(tx_hash, to_address, asset) 唯一
type DepositTransaction struct {
	ID                    int64         `gorm:"primaryKey" json:"id"`
	Chain                 string        `gorm:"size:16;index:idx_pending,priority:2" json:"chain"`
	Network               string        `gorm:"size:16;index:idx_pending,priority:3" json:"network"`
	Asset                 string        `gorm:"size:32;uniqueIndex:uniq_tx_to_asset,priority:3" json:"asset"`
	TxHash                string        `gorm:"size:128;uniqueIndex:uniq_tx_to_asset,priority:1" json:"tx_hash"`
	LogIndex              uint32        `json:"log_index"`
	FromAddress           string        `gorm:"size:128" json:"from_address"`
	ToAddress             string        `gorm:"size:128;uniqueIndex:uniq_tx_to_asset,priority:2" json:"to_address"`
	DestinationTag        *uint32       `json:"destination_tag,omitempty"`
	TokenAddress          string        `gorm:"size:128" json:"token_address,omitempty"`
	Amount                string        `gorm:"size:80" json:"amount"` // 按币种精度格式化后的字符串，原样保存
	BlockNumber           uint64        `json:"block_number"`
	ConfirmationsObserved uint64        `json:"confirmations_observed"`
	ConfirmationsRequired uint32        `json:"confirmations_required"`
	Status                DepositStatus `gorm:"size:16;index:idx_pending,priority:1" json:"status"`
	UserID                int64         `gorm:"index" json:"user_id"`
	DepositAddressID      int64         `json:"deposit_address_id"`
	DetectedAt            time.Time     `json:"detected_at"`
	ConfirmedAt           *time.Time    `json:"confirmed_at,omitempty"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

func (DepositTransaction) TableName() string {
	return "deposit_transactions"
}

type DepositRepo interface {
	Transaction(ctx context.Context, fn func(txCtx context.Context) error) error

	FindDeposit(ctx context.Context, txHash, toAddress, asset string) (*DepositTransaction, error)
	// InsertDeposit 冲突时不报错，返回 false
	InsertDeposit(ctx context.Context, d *DepositTransaction) (bool, error)
	ListPending(ctx context.Context, chain, network string, limit int) ([]*DepositTransaction, error)
	// AdvanceConfirmations 只增不减，只作用于 pending 行
	AdvanceConfirmations(ctx context.Context, id int64, observed uint64) (bool, error)
	// MarkConfirmed pending -> confirmed 的 CAS，返回是否由本次调用完成
	MarkConfirmed(ctx context.Context, id int64, observed uint64, at time.Time) (bool, error)
}
