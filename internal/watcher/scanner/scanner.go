package scanner

import (
	"context"
	"math/big"
	"strconv"
	"time"

	"go.uber.org/zap"

	"gopherex.com/custody/internal/asset"
	"gopherex.com/custody/internal/wallet/encoder"
	walletdomain "gopherex.com/custody/internal/wallet/domain"
	"gopherex.com/custody/internal/watcher/domain"
	"gopherex.com/custody/pkg/logger"
	"gopherex.com/custody/pkg/metrics"
	"gopherex.com/custody/pkg/xerr"
)

// AddressSource 当前生效的充值地址
type AddressSource interface {
	ListActiveAddresses(ctx context.Context, chain, network string) ([]*walletdomain.DepositAddress, error)
}

// AssetSource 币种配置，只读
type AssetSource interface {
	Get(ctx context.Context, chain, network, symbol string) (asset.ChainConfig, bool, error)
	Supported(ctx context.Context, chain, network string) ([]asset.ChainConfig, error)
}

type Config struct {
	Chain            string
	Network          string
	MaxBlocksPerScan uint64
	// TimeIndexed 数据源按时间过滤 (TronGrid)，窗口只带 Since/Until
	TimeIndexed bool
	// InitialLookback 第一次运行往前看多久
	InitialLookback time.Duration
	// Overlap 按时间扫描时窗口回退，防止边界漏扫
	Overlap time.Duration
}

type Scanner struct {
	cfg       Config
	chain     encoder.Chain
	client    domain.ChainClient
	deposits  domain.DepositRepo
	cursors   domain.CursorRepo
	addresses AddressSource
	assets    AssetSource
	now       func() time.Time
}

func New(cfg Config, client domain.ChainClient, deposits domain.DepositRepo, cursors domain.CursorRepo,
	addresses AddressSource, assets AssetSource) (*Scanner, error) {
	chain, err := encoder.ParseChain(cfg.Chain)
	if err != nil {
		return nil, err
	}
	network, err := encoder.ParseNetwork(chain, cfg.Network)
	if err != nil {
		return nil, err
	}
	cfg.Chain, cfg.Network = string(chain), string(network)
	if cfg.MaxBlocksPerScan == 0 {
		cfg.MaxBlocksPerScan = 500
	}
	if cfg.InitialLookback <= 0 {
		cfg.InitialLookback = 24 * time.Hour
	}
	if cfg.Overlap <= 0 {
		cfg.Overlap = 10 * time.Minute
	}
	if chain == encoder.ChainTron {
		cfg.TimeIndexed = true
	}
	return &Scanner{
		cfg:       cfg,
		chain:     chain,
		client:    client,
		deposits:  deposits,
		cursors:   cursors,
		addresses: addresses,
		assets:    assets,
		now:       time.Now,
	}, nil
}

func (s *Scanner) Chain() string   { return s.cfg.Chain }
func (s *Scanner) Network() string { return s.cfg.Network }

// SupportedAssets 活跃币种；没有合约地址的代币不扫
func (s *Scanner) SupportedAssets(ctx context.Context) ([]asset.ChainConfig, error) {
	all, err := s.assets.Supported(ctx, s.cfg.Chain, s.cfg.Network)
	if err != nil {
		return nil, err
	}
	out := make([]asset.ChainConfig, 0, len(all))
	for _, a := range all {
		if !a.Scannable() {
			logger.Debug(ctx, "skip asset without contract",
				zap.String("chain", s.cfg.Chain), zap.String("asset", a.Asset))
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// ScanNative 扫描本链原生币
func (s *Scanner) ScanNative(ctx context.Context, w domain.Window) ([]*domain.DepositTransaction, error) {
	assets, err := s.SupportedAssets(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range assets {
		if a.Kind != asset.KindToken {
			return s.scanAsset(ctx, a, w)
		}
	}
	return nil, xerr.Newf(xerr.ConfigurationError, "no active native asset for %s/%s", s.cfg.Chain, s.cfg.Network)
}

// ScanToken 按合约地址扫描代币转账
func (s *Scanner) ScanToken(ctx context.Context, contract, symbol string, decimals int32, w domain.Window) ([]*domain.DepositTransaction, error) {
	if contract == "" {
		return nil, xerr.New(xerr.RequestParamsError, "token contract required")
	}
	return s.scanAsset(ctx, asset.ChainConfig{
		Asset:           symbol,
		Chain:           s.cfg.Chain,
		Network:         s.cfg.Network,
		Kind:            asset.KindToken,
		ContractAddress: contract,
		Decimals:        decimals,
		Active:          true,
	}, w)
}

func (s *Scanner) scanAsset(ctx context.Context, a asset.ChainConfig, w domain.Window) ([]*domain.DepositTransaction, error) {
	book, err := s.loadBook(ctx)
	if err != nil {
		return nil, err
	}
	if len(book.query) == 0 {
		return nil, nil
	}

	var ops []domain.Operation
	if a.Kind == asset.KindToken {
		ops, err = s.client.TokenTransfers(ctx, a.ContractAddress, book.query, w)
	} else {
		ops, err = s.client.NativeTransfers(ctx, book.query, w)
	}
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues(s.cfg.Chain, "transfers").Inc()
		return nil, xerr.Wrap(xerr.UpstreamError, "fetch transfers "+a.Asset, err)
	}

	accepted := s.accept(ctx, a, book, w, ops)
	out := make([]*domain.DepositTransaction, 0, len(accepted))
	for _, c := range accepted {
		amount, err := asset.FormatUnits(c.value, a.Decimals)
		if err != nil {
			return out, xerr.Wrap(xerr.ConfigurationError, "format amount "+a.Asset, err)
		}
		d, err := s.RecordDeposit(ctx, RecordInput{
			UserID:         c.addr.UserID,
			AddressID:      c.addr.ID,
			Asset:          a.Asset,
			Amount:         amount,
			TxHash:         c.op.TxHash,
			LogIndex:       c.op.LogIndex,
			BlockNumber:    c.op.BlockNumber,
			FromAddress:    c.op.From,
			ToAddress:      c.addr.Address,
			DestinationTag: c.addr.DestinationTag,
			TokenAddress:   a.ContractAddress,
		})
		if err != nil {
			return out, err
		}
		if d != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

type candidate struct {
	op    domain.Operation
	addr  *walletdomain.DepositAddress
	value *big.Int
}

// accept 过滤 + 同一笔交易打到同一地址的多个输出合并
func (s *Scanner) accept(ctx context.Context, a asset.ChainConfig, book *addressBook, w domain.Window, ops []domain.Operation) []*candidate {
	var out []*candidate
	idx := make(map[string]*candidate)
	for _, op := range ops {
		reason := ""
		var addr *walletdomain.DepositAddress
		switch {
		case op.Kind != domain.KindTransfer:
			reason = "not a transfer"
		case op.Value == nil || op.Value.Sign() <= 0:
			reason = "zero amount"
		case !w.Contains(op):
			reason = "outside window"
		case a.Kind == asset.KindToken && !s.sameContract(op.Contract, a.ContractAddress):
			reason = "contract mismatch"
		case a.Kind != asset.KindToken && op.Contract != "":
			reason = "token op in native scan"
		default:
			if addr = book.match(op); addr == nil {
				reason = "unknown destination"
			}
		}
		if reason != "" {
			logger.Debug(ctx, "drop operation",
				zap.String("chain", s.cfg.Chain), zap.String("tx", op.TxHash), zap.String("reason", reason))
			continue
		}

		key := op.TxHash + "|" + addr.Address
		if c, ok := idx[key]; ok {
			c.value.Add(c.value, op.Value)
			continue
		}
		c := &candidate{op: op, addr: addr, value: new(big.Int).Set(op.Value)}
		idx[key] = c
		out = append(out, c)
	}
	return out
}

func (s *Scanner) sameContract(a, b string) bool {
	return encoder.NormalizeAddress(s.chain, a) == encoder.NormalizeAddress(s.chain, b)
}

// addressBook 规范化地址 (XRP 为 master#tag) -> 充值地址
type addressBook struct {
	chain encoder.Chain
	byKey map[string]*walletdomain.DepositAddress
	query []string
}

func (s *Scanner) loadBook(ctx context.Context) (*addressBook, error) {
	list, err := s.addresses.ListActiveAddresses(ctx, s.cfg.Chain, s.cfg.Network)
	if err != nil {
		return nil, err
	}
	b := &addressBook{chain: s.chain, byKey: make(map[string]*walletdomain.DepositAddress, len(list))}
	seen := make(map[string]struct{})
	ambiguous := make(map[string]struct{})
	for _, a := range list {
		k := b.key(a.Address, a.DestinationTag)
		if _, bad := ambiguous[k]; bad {
			continue
		}
		// 同一个地址挂在多个用户名下，入账归属不清，整条丢掉
		if prev, ok := b.byKey[k]; ok && prev.UserID != a.UserID {
			logger.Warn(ctx, "deposit address shared by multiple users, skipped",
				zap.String("chain", s.cfg.Chain),
				zap.String("address", a.Address),
				zap.Int64("user_id", prev.UserID),
				zap.Int64("other_user_id", a.UserID),
			)
			delete(b.byKey, k)
			ambiguous[k] = struct{}{}
			continue
		}
		b.byKey[k] = a
		if _, ok := seen[a.Address]; !ok {
			seen[a.Address] = struct{}{}
			b.query = append(b.query, a.Address)
		}
	}
	return b, nil
}

func (b *addressBook) key(addr string, tag *uint32) string {
	k := encoder.NormalizeAddress(b.chain, addr)
	if b.chain.Routing() == encoder.RoutingDestinationTag {
		if tag == nil {
			return k + "#"
		}
		k += "#" + strconv.FormatUint(uint64(*tag), 10)
	}
	return k
}

// match XRP 没带 tag 的入账无法归属，丢弃
func (b *addressBook) match(op domain.Operation) *walletdomain.DepositAddress {
	if b.chain.Routing() == encoder.RoutingDestinationTag && op.DestinationTag == nil {
		return nil
	}
	return b.byKey[b.key(op.To, op.DestinationTag)]
}
