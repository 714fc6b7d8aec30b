package repo

import (
	"context"
	"fmt"

	"gopherex.com/custody/internal/wallet/domain"
	"gopherex.com/custody/pkg/orm"
	"gopherex.com/custody/pkg/xerr"
	"gorm.io/gorm"
)

const activeSlot int8 = 1

// ActiveSlot 生效地址的 slot 值
func ActiveSlot() *int8 {
	v := activeSlot
	return &v
}

func (r *Repo) FindAllocation(ctx context.Context, idempotencyKey string) (*domain.AllocationRequest, error) {
	var req domain.AllocationRequest
	err := r.getDb(ctx).Where("idempotency_key = ?", idempotencyKey).First(&req).Error
	if err != nil {
		if orm.IsNotFound(err) {
			return nil, nil
		}
		return nil, xerr.Wrap(xerr.DbError, "query allocation request failed", err)
	}
	return &req, nil
}

// SaveAllocation 唯一键冲突原样返回，由上层决定怎么处理
func (r *Repo) SaveAllocation(ctx context.Context, req *domain.AllocationRequest) error {
	if err := r.getDb(ctx).Create(req).Error; err != nil {
		if orm.IsDuplicate(err) {
			return err
		}
		return xerr.Wrap(xerr.DbError, "save allocation request failed", err)
	}
	return nil
}

func (r *Repo) FindActiveAddress(ctx context.Context, userID int64, chain, network string) (*domain.DepositAddress, error) {
	var addr domain.DepositAddress
	err := r.getDb(ctx).
		Where("user_id = ? AND chain = ? AND network = ? AND active_slot = ?", userID, chain, network, activeSlot).
		First(&addr).Error
	if err != nil {
		if orm.IsNotFound(err) {
			return nil, nil
		}
		return nil, xerr.Wrap(xerr.DbError, "query deposit address failed", err)
	}
	return &addr, nil
}

// FindActiveAddressOnRoot 某个钱包根上任意一条生效地址，没有返回 nil
func (r *Repo) FindActiveAddressOnRoot(ctx context.Context, rootID int64) (*domain.DepositAddress, error) {
	var addr domain.DepositAddress
	err := r.getDb(ctx).
		Where("wallet_root_id = ? AND active_slot = ?", rootID, activeSlot).
		Order("id ASC").
		First(&addr).Error
	if err != nil {
		if orm.IsNotFound(err) {
			return nil, nil
		}
		return nil, xerr.Wrap(xerr.DbError, "query deposit address by root failed", err)
	}
	return &addr, nil
}

func (r *Repo) ListActiveAddresses(ctx context.Context, chain, network string) ([]*domain.DepositAddress, error) {
	var rows []*domain.DepositAddress
	err := r.getDb(ctx).
		Where("chain = ? AND network = ? AND active_slot = ?", chain, network, activeSlot).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, xerr.Wrap(xerr.DbError, "list deposit addresses failed", err)
	}
	return rows, nil
}

func (r *Repo) CreateAddress(ctx context.Context, addr *domain.DepositAddress) error {
	if err := r.getDb(ctx).Create(addr).Error; err != nil {
		if orm.IsDuplicate(err) {
			return err
		}
		return xerr.Wrap(xerr.DbError, "create deposit address failed", err)
	}
	return nil
}

func (r *Repo) ResolveRoot(ctx context.Context, chain, network string) (*domain.WalletRoot, error) {
	var root domain.WalletRoot
	err := r.getDb(ctx).
		Where("chain = ? AND network = ? AND active = ?", chain, network, true).
		Order("auto_generated DESC, id ASC").
		First(&root).Error
	if err != nil {
		if orm.IsNotFound(err) {
			return nil, xerr.Newf(xerr.ConfigurationError, "NoActiveWalletRoot: %s/%s", chain, network)
		}
		return nil, xerr.Wrap(xerr.DbError, "query wallet root failed", err)
	}
	return &root, nil
}

func (r *Repo) ListActiveRoots(ctx context.Context, chain, network string) ([]*domain.WalletRoot, error) {
	var roots []*domain.WalletRoot
	err := r.getDb(ctx).
		Where("chain = ? AND network = ? AND active = ?", chain, network, true).
		Order("id ASC").
		Find(&roots).Error
	if err != nil {
		return nil, xerr.Wrap(xerr.DbError, "list wallet roots failed", err)
	}
	if len(roots) == 0 {
		return nil, xerr.Newf(xerr.ConfigurationError, "NoActiveWalletRoot: %s/%s", chain, network)
	}
	return roots, nil
}

// AllocateIndex 单条 UPDATE 原子递增，行锁持有到事务结束，并发请求不会拿到同一个下标
// SQL: UPDATE wallet_roots SET next_index = next_index + 1 WHERE id = ? AND active = 1
func (r *Repo) AllocateIndex(ctx context.Context, rootID int64) (int64, error) {
	db := r.getDb(ctx)
	res := db.Model(&domain.WalletRoot{}).
		Where("id = ? AND active = ?", rootID, true).
		UpdateColumn("next_index", gorm.Expr("next_index + 1"))
	if res.Error != nil {
		if orm.IsLockConflict(res.Error) {
			return 0, xerr.Wrap(xerr.StateConflict, "IndexAllocationConflict", res.Error)
		}
		return 0, xerr.Wrap(xerr.DbError, "increment next_index failed", res.Error)
	}
	if res.RowsAffected != 1 {
		return 0, xerr.Newf(xerr.ConfigurationError, "NoActiveWalletRoot: root %d deactivated", rootID)
	}

	var root domain.WalletRoot
	if err := db.Select("id", "next_index").First(&root, rootID).Error; err != nil {
		return 0, xerr.Wrap(xerr.DbError, fmt.Sprintf("read next_index of root %d failed", rootID), err)
	}
	return root.NextIndex - 1, nil
}

func (r *Repo) CreateRoot(ctx context.Context, root *domain.WalletRoot) error {
	if err := r.getDb(ctx).Create(root).Error; err != nil {
		return xerr.Wrap(xerr.DbError, "create wallet root failed", err)
	}
	return nil
}
