package domain

import (
	"context"
	"time"
)

// DepositAddress 用户充值地址，创建后不删除
// ActiveSlot: 1 表示当前生效，NULL 表示已停用；唯一索引保证每个用户每条链每个网络最多一个生效地址
type DepositAddress struct {
	ID             int64   `gorm:"primaryKey"`
	UserID         int64   `gorm:"uniqueIndex:uniq_user_chain_active,priority:1"`
	Chain          string  `gorm:"size:16;uniqueIndex:uniq_user_chain_active,priority:2;index:idx_chain_net"`
	Network        string  `gorm:"size:16;uniqueIndex:uniq_user_chain_active,priority:3;index:idx_chain_net"`
	ActiveSlot     *int8   `gorm:"uniqueIndex:uniq_user_chain_active,priority:4"`
	Asset          string  `gorm:"size:32"`
	Address        string  `gorm:"size:128;uniqueIndex:uniq_address_tag,priority:1"`
	DestinationTag *uint32 `gorm:"uniqueIndex:uniq_address_tag,priority:2"`
	AddressIndex   int64
	DerivationPath string `gorm:"size:64"`
	RoutingType    string `gorm:"size:20"`
	WalletRootID   int64
	CreatedAt      time.Time
}

func (DepositAddress) TableName() string {
	return "deposit_addresses"
}

func (a *DepositAddress) Active() bool {
	return a.ActiveSlot != nil && *a.ActiveSlot == 1
}

// AllocationRequest 幂等键 -> 分配结果，同一个 key 永远返回同一个结果
type AllocationRequest struct {
	ID               int64  `gorm:"primaryKey"`
	IdempotencyKey   string `gorm:"size:128;uniqueIndex"`
	RequestHash      string `gorm:"size:64"` // sha256(user|chain|network|asset)
	UserID           int64  `gorm:"index"`
	Chain            string `gorm:"size:16"`
	Network          string `gorm:"size:16"`
	Asset            string `gorm:"size:32"`
	Address          string `gorm:"size:128"`
	DestinationTag   *uint32
	RoutingType      string `gorm:"size:20"`
	DerivationPath   string `gorm:"size:64"`
	DepositAddressID int64
	CreatedAt        time.Time
}

func (AllocationRequest) TableName() string {
	return "address_allocation_requests"
}

// AddressRepo 充值地址仓储
type AddressRepo interface {
	Transaction(ctx context.Context, fn func(txCtx context.Context) error) error

	FindAllocation(ctx context.Context, idempotencyKey string) (*AllocationRequest, error)
	SaveAllocation(ctx context.Context, req *AllocationRequest) error

	FindActiveAddress(ctx context.Context, userID int64, chain, network string) (*DepositAddress, error)
	// FindActiveAddressOnRoot literal 根只能归一个用户
	FindActiveAddressOnRoot(ctx context.Context, rootID int64) (*DepositAddress, error)
	ListActiveAddresses(ctx context.Context, chain, network string) ([]*DepositAddress, error)
	CreateAddress(ctx context.Context, addr *DepositAddress) error

	// ResolveRoot 优先 auto_generated，没有则回退 legacy
	ResolveRoot(ctx context.Context, chain, network string) (*WalletRoot, error)
	// ListActiveRoots 按 id 排序，XRP 主地址池
	ListActiveRoots(ctx context.Context, chain, network string) ([]*WalletRoot, error)
	// AllocateIndex 原子递增 next_index，返回本次分到的下标
	AllocateIndex(ctx context.Context, rootID int64) (int64, error)
}
