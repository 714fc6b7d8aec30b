package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
	"gopherex.com/custody/internal/asset"
	"gopherex.com/custody/internal/wallet/domain"
	"gopherex.com/custody/internal/wallet/encoder"
	"gopherex.com/custody/internal/wallet/repo"
	"gopherex.com/custody/pkg/hdwallet"
	"gopherex.com/custody/pkg/logger"
	"gopherex.com/custody/pkg/metrics"
	"gopherex.com/custody/pkg/orm"
	"gopherex.com/custody/pkg/xerr"
)

// AssetLookup 币种配置查询
type AssetLookup interface {
	Get(ctx context.Context, chain, network, symbol string) (asset.ChainConfig, bool, error)
}

// IdempotencyGuard 可选的 redis 软保护，nil 时跳过
type IdempotencyGuard interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type AllocateRequest struct {
	UserID         int64
	IdempotencyKey string
	Chain          string
	Network        string
	Asset          string
}

type AllocationResult struct {
	Address        string              `json:"address"`
	DestinationTag *uint32             `json:"destination_tag,omitempty"`
	RoutingType    encoder.RoutingType `json:"routing_type"`
	DerivationPath string              `json:"derivation_path,omitempty"`
	Reused         bool                `json:"reused"`
}

type AllocationService struct {
	repo   domain.AddressRepo
	assets AssetLookup
	guard  IdempotencyGuard
}

func NewAllocationService(r domain.AddressRepo, assets AssetLookup, guard IdempotencyGuard) *AllocationService {
	return &AllocationService{repo: r, assets: assets, guard: guard}
}

// Allocate 给用户分配 (或复用) 充值地址，同一个幂等键永远返回同一个结果
func (s *AllocationService) Allocate(ctx context.Context, req AllocateRequest) (*AllocationResult, error) {
	chain, network, err := s.validate(ctx, req)
	if err != nil {
		return nil, err
	}
	req.Chain, req.Network = string(chain), string(network)

	if s.guard != nil {
		ok, gerr := s.guard.Acquire(ctx, req.IdempotencyKey)
		if gerr != nil {
			// redis 不可用不影响正确性，唯一约束兜底
			logger.Warn(ctx, "idempotency guard unavailable", zap.Error(gerr))
		} else if !ok {
			return nil, xerr.New(xerr.StateConflict, "allocation with the same idempotency key is in progress")
		} else {
			defer func() { _ = s.guard.Release(context.WithoutCancel(ctx), req.IdempotencyKey) }()
		}
	}

	// 1. 幂等记录
	if res, ok, err := s.fromIdempotency(ctx, req); err != nil || ok {
		return res, err
	}

	// 2. 已有生效地址
	existing, err := s.repo.FindActiveAddress(ctx, req.UserID, req.Chain, req.Network)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.reuse(ctx, req, existing)
	}

	// 3~5. 派生并落库，和下标递增在同一个事务
	var result *AllocationResult
	err = s.repo.Transaction(ctx, func(txCtx context.Context) error {
		addr, err := s.derive(txCtx, chain, network, req)
		if err != nil {
			return err
		}
		if err := s.repo.CreateAddress(txCtx, addr); err != nil {
			return err
		}
		if err := s.repo.SaveAllocation(txCtx, allocationRecord(req, addr)); err != nil {
			return err
		}
		result = toResult(addr, false)
		return nil
	})
	if err == nil {
		metrics.AllocationsTotal.WithLabelValues(req.Chain, resultLabel(chain, result)).Inc()
		logger.Info(ctx, "deposit address allocated",
			zap.Int64("user_id", req.UserID),
			zap.String("chain", req.Chain),
			zap.String("network", req.Network),
			zap.String("address", result.Address),
			zap.String("path", result.DerivationPath),
		)
		return result, nil
	}

	// 并发场景：别的请求先插入了同用户的生效地址或同一个幂等键，回滚后返回赢家的结果
	if orm.IsDuplicate(err) {
		if res, ok, ierr := s.fromIdempotency(ctx, req); ierr != nil || ok {
			return res, ierr
		}
		existing, ferr := s.repo.FindActiveAddress(ctx, req.UserID, req.Chain, req.Network)
		if ferr != nil {
			return nil, ferr
		}
		if existing != nil {
			return s.reuse(ctx, req, existing)
		}
		return nil, xerr.Wrap(xerr.StateConflict, "IndexAllocationConflict", err)
	}
	if orm.IsLockConflict(err) {
		return nil, xerr.Wrap(xerr.StateConflict, "IndexAllocationConflict", err)
	}
	metrics.AllocationsTotal.WithLabelValues(req.Chain, "error").Inc()
	return nil, err
}

// GetActiveAddress 查询当前生效地址，没有返回 nil
func (s *AllocationService) GetActiveAddress(ctx context.Context, userID int64, chain, network string) (*domain.DepositAddress, error) {
	c, err := encoder.ParseChain(chain)
	if err != nil {
		return nil, err
	}
	n, err := encoder.ParseNetwork(c, network)
	if err != nil {
		return nil, err
	}
	return s.repo.FindActiveAddress(ctx, userID, string(c), string(n))
}

// ListActiveAddresses 扫描器用
func (s *AllocationService) ListActiveAddresses(ctx context.Context, chain, network string) ([]*domain.DepositAddress, error) {
	return s.repo.ListActiveAddresses(ctx, chain, network)
}

func (s *AllocationService) validate(ctx context.Context, req AllocateRequest) (encoder.Chain, encoder.Network, error) {
	if req.UserID <= 0 {
		return "", "", xerr.New(xerr.RequestParamsError, "user_id must be positive")
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" || len(req.IdempotencyKey) > 128 {
		return "", "", xerr.New(xerr.RequestParamsError, "idempotency_key is required (max 128 chars)")
	}
	chain, err := encoder.ParseChain(req.Chain)
	if err != nil {
		return "", "", err
	}
	network, err := encoder.ParseNetwork(chain, req.Network)
	if err != nil {
		return "", "", err
	}
	cfg, ok, err := s.assets.Get(ctx, string(chain), string(network), req.Asset)
	if err != nil {
		return "", "", xerr.Wrap(xerr.DbError, "load chain config failed", err)
	}
	if !ok || !cfg.Active {
		return "", "", xerr.Newf(xerr.RequestParamsError, "InvalidAsset: %q on %s/%s", req.Asset, chain, network)
	}
	return chain, network, nil
}

func (s *AllocationService) fromIdempotency(ctx context.Context, req AllocateRequest) (*AllocationResult, bool, error) {
	rec, err := s.repo.FindAllocation(ctx, req.IdempotencyKey)
	if err != nil || rec == nil {
		return nil, false, err
	}
	if rec.RequestHash != requestHash(req) {
		// 同一个 key 不同参数：仍返回首次结果，留日志排查
		logger.Warn(ctx, "idempotency key reused with different parameters",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("stored_user_id", rec.UserID),
			zap.Int64("user_id", req.UserID),
			zap.String("stored_chain", rec.Chain),
			zap.String("chain", req.Chain),
		)
	}
	metrics.AllocationsTotal.WithLabelValues(req.Chain, "idempotent").Inc()
	return &AllocationResult{
		Address:        rec.Address,
		DestinationTag: rec.DestinationTag,
		RoutingType:    encoder.RoutingType(rec.RoutingType),
		DerivationPath: rec.DerivationPath,
		Reused:         true,
	}, true, nil
}

// reuse 返回已有地址，并把新的幂等键记下来
func (s *AllocationService) reuse(ctx context.Context, req AllocateRequest, addr *domain.DepositAddress) (*AllocationResult, error) {
	if err := s.repo.SaveAllocation(ctx, allocationRecord(req, addr)); err != nil {
		if !orm.IsDuplicate(err) {
			return nil, err
		}
		if res, ok, ierr := s.fromIdempotency(ctx, req); ierr != nil || ok {
			return res, ierr
		}
	}
	metrics.AllocationsTotal.WithLabelValues(req.Chain, "reused").Inc()
	return toResult(addr, true), nil
}

func (s *AllocationService) derive(ctx context.Context, chain encoder.Chain, network encoder.Network, req AllocateRequest) (*domain.DepositAddress, error) {
	if chain == encoder.ChainXRP {
		return s.allocateTag(ctx, network, req)
	}

	root, err := s.repo.ResolveRoot(ctx, string(chain), string(network))
	if err != nil {
		return nil, err
	}
	variant, err := root.Resolve()
	if err != nil {
		return nil, err
	}
	addr := &domain.DepositAddress{
		UserID:       req.UserID,
		Chain:        string(chain),
		Network:      string(network),
		ActiveSlot:   repo.ActiveSlot(),
		Asset:        req.Asset,
		RoutingType:  string(encoder.RoutingAddress),
		WalletRootID: root.ID,
	}

	switch v := variant.(type) {
	case domain.LiteralRoot:
		// legacy 根：存的值就是地址，只能绑定一个用户，否则入账无法归属
		holder, err := s.repo.FindActiveAddressOnRoot(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		if holder != nil && holder.UserID != req.UserID {
			return nil, xerr.Newf(xerr.ConfigurationError,
				"literal wallet root %d already bound to user %d", v.ID, holder.UserID)
		}
		addr.Address = v.Address
		addr.AddressIndex = -1
		return addr, nil
	case domain.DerivableRoot:
		index, err := s.repo.AllocateIndex(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		if index >= 1<<31 {
			return nil, xerr.Newf(xerr.ConfigurationError, "wallet root %d exhausted non-hardened indexes", v.ID)
		}
		in, path, err := deriveKeys(chain, v, uint32(index))
		if err != nil {
			return nil, err
		}
		enc, err := encoder.For(chain)
		if err != nil {
			return nil, err
		}
		address, err := enc.Encode(in, network)
		if err != nil {
			return nil, err
		}
		addr.Address = address
		addr.AddressIndex = index
		addr.DerivationPath = path
		return addr, nil
	default:
		return nil, xerr.Newf(xerr.ConfigurationError, "unsupported wallet root variant %T", variant)
	}
}

// allocateTag XRP：主地址池按用户取模，tag 来自该根的原子计数器
func (s *AllocationService) allocateTag(ctx context.Context, network encoder.Network, req AllocateRequest) (*domain.DepositAddress, error) {
	roots, err := s.repo.ListActiveRoots(ctx, string(encoder.ChainXRP), string(network))
	if err != nil {
		return nil, err
	}
	root := roots[req.UserID%int64(len(roots))]
	variant, err := root.Resolve()
	if err != nil {
		return nil, err
	}
	lit, ok := variant.(domain.LiteralRoot)
	if !ok {
		return nil, xerr.Newf(xerr.ConfigurationError, "xrp wallet root %d must be a literal master address", root.ID)
	}
	enc, err := encoder.For(encoder.ChainXRP)
	if err != nil {
		return nil, err
	}
	master, err := enc.Encode(encoder.KeyMaterial{Literal: lit.Address}, network)
	if err != nil {
		return nil, xerr.Wrap(xerr.ConfigurationError, "invalid xrp master address", err)
	}
	next, err := s.repo.AllocateIndex(ctx, lit.ID)
	if err != nil {
		return nil, err
	}
	// tag 0 留给运营，不分给用户
	tagValue := next + 1
	if tagValue > math.MaxUint32 {
		return nil, xerr.Newf(xerr.ConfigurationError, "xrp master %s exhausted destination tags", master)
	}
	tag := uint32(tagValue)
	return &domain.DepositAddress{
		UserID:         req.UserID,
		Chain:          string(encoder.ChainXRP),
		Network:        string(network),
		ActiveSlot:     repo.ActiveSlot(),
		Asset:          req.Asset,
		Address:        master,
		DestinationTag: &tag,
		AddressIndex:   next,
		RoutingType:    string(encoder.RoutingDestinationTag),
		WalletRootID:   lit.ID,
	}, nil
}

// deriveKeys 按链选择派生方式，Cardano 支付链和质押链各自独立派生
func deriveKeys(chain encoder.Chain, root domain.DerivableRoot, index uint32) (encoder.KeyMaterial, string, error) {
	switch chain {
	case encoder.ChainCardano:
		pay, err := hdwallet.DeriveEd25519(root.ExtendedKey, 0, index)
		if err != nil {
			return encoder.KeyMaterial{}, "", xerr.Wrap(xerr.ConfigurationError, "derive cardano payment key", err)
		}
		path := hdwallet.Path(1852, hdwallet.CoinCardano, 0, 0, index)
		if root.Version == domain.DerivationCardanoLegacy {
			return encoder.KeyMaterial{PubKey: pay}, path, nil
		}
		stake, err := hdwallet.DeriveEd25519(root.ExtendedKey, 2, index)
		if err != nil {
			return encoder.KeyMaterial{}, "", xerr.Wrap(xerr.ConfigurationError, "derive cardano stake key", err)
		}
		return encoder.KeyMaterial{PubKey: pay, StakeKey: stake}, path, nil
	default:
		pub, err := hdwallet.DerivePublic(root.ExtendedKey, 0, index)
		if err != nil {
			return encoder.KeyMaterial{}, "", xerr.Wrap(xerr.ConfigurationError, "derive child public key", err)
		}
		return encoder.KeyMaterial{PubKey: pub.SerializeCompressed()}, hdwallet.Path(44, CoinType(chain), 0, 0, index), nil
	}
}

// CoinType secp256k1 链的 BIP44 coin type，离线导出 xpub 时要用同一个
func CoinType(c encoder.Chain) uint32 {
	switch c {
	case encoder.ChainBitcoin:
		return hdwallet.CoinBitcoin
	case encoder.ChainTron:
		return hdwallet.CoinTron
	default:
		return hdwallet.CoinEthereum
	}
}

func requestHash(req AllocateRequest) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s|%s", req.UserID, req.Chain, req.Network, req.Asset)))
	return hex.EncodeToString(sum[:])
}

func allocationRecord(req AllocateRequest, addr *domain.DepositAddress) *domain.AllocationRequest {
	return &domain.AllocationRequest{
		IdempotencyKey:   req.IdempotencyKey,
		RequestHash:      requestHash(req),
		UserID:           req.UserID,
		Chain:            req.Chain,
		Network:          req.Network,
		Asset:            req.Asset,
		Address:          addr.Address,
		DestinationTag:   addr.DestinationTag,
		RoutingType:      addr.RoutingType,
		DerivationPath:   addr.DerivationPath,
		DepositAddressID: addr.ID,
	}
}

func toResult(addr *domain.DepositAddress, reused bool) *AllocationResult {
	return &AllocationResult{
		Address:        addr.Address,
		DestinationTag: addr.DestinationTag,
		RoutingType:    encoder.RoutingType(addr.RoutingType),
		DerivationPath: addr.DerivationPath,
		Reused:         reused,
	}
}

func resultLabel(chain encoder.Chain, r *AllocationResult) string {
	switch {
	case chain == encoder.ChainXRP:
		return "tag"
	case r.DerivationPath == "":
		return "literal"
	default:
		return "derived"
	}
}
