package app

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gopherex.com/custody/internal/wallet/encoder"
	"gopherex.com/custody/internal/watcher/chain/bitcoin"
	"gopherex.com/custody/internal/watcher/chain/cardano"
	"gopherex.com/custody/internal/watcher/chain/evm"
	"gopherex.com/custody/internal/watcher/chain/tron"
	"gopherex.com/custody/internal/watcher/chain/xrp"
	"gopherex.com/custody/internal/watcher/domain"
	"gopherex.com/custody/pkg/httpx"
	"gopherex.com/custody/pkg/logger"
	"gopherex.com/custody/pkg/metrics"
	"gopherex.com/custody/pkg/ratelimit"
	"gopherex.com/custody/pkg/xerr"
)

type closer interface{ Close() }

// NewChainClient 按链和 provider 创建数据源；chain/network 必须已规范化
func NewChainClient(ctx context.Context, cc ChainCfg, breakers *ratelimit.Manager) (domain.ChainClient, error) {
	if cc.Endpoint == "" {
		return nil, xerr.Newf(xerr.ConfigurationError, "chain %s/%s: endpoint is required", cc.Chain, cc.Network)
	}
	hcfg := httpx.Config{
		Name:    cc.Chain + ":" + cc.Network,
		BaseURL: cc.Endpoint,
		Timeout: cc.Timeout,
		RPS:     cc.RPS,
		Burst:   cc.Burst,
	}
	switch encoder.Chain(cc.Chain) {
	case encoder.ChainEVM:
		return evm.Dial(ctx, httpx.New(hcfg, breakers))
	case encoder.ChainBitcoin:
		switch cc.Provider {
		case "", "esplora":
			return bitcoin.NewEsplora(httpx.New(hcfg, breakers)), nil
		case "bitcoind":
			return bitcoin.NewBitcoind(cc.Endpoint, cc.User, cc.Password, encoder.BitcoinParams(encoder.Network(cc.Network)))
		}
	case encoder.ChainTron:
		if cc.APIKey != "" {
			hcfg.Headers = map[string]string{tron.HeaderAPIKey: cc.APIKey}
		}
		return tron.New(httpx.New(hcfg, breakers)), nil
	case encoder.ChainCardano:
		if cc.APIKey != "" {
			hcfg.Headers = map[string]string{cardano.HeaderProjectID: cc.APIKey}
		}
		return cardano.New(httpx.New(hcfg, breakers)), nil
	case encoder.ChainXRP:
		return xrp.New(httpx.New(hcfg, breakers)), nil
	}
	return nil, xerr.Newf(xerr.ConfigurationError, "chain %s: unsupported provider %q", cc.Chain, cc.Provider)
}

// normalize 校验并规范化 chain/network，套上默认调度参数
func normalize(cc ChainCfg) (ChainCfg, error) {
	chain, err := encoder.ParseChain(cc.Chain)
	if err != nil {
		return cc, err
	}
	network, err := encoder.ParseNetwork(chain, cc.Network)
	if err != nil {
		return cc, err
	}
	cc.Chain, cc.Network = string(chain), string(network)
	if cc.ScanInterval == 0 {
		cc.ScanInterval = defaultScanInterval(chain)
	}
	if cc.ConfirmInterval == 0 {
		cc.ConfirmInterval = cc.ScanInterval
	}
	return cc, nil
}

// 大致按出块时间
func defaultScanInterval(c encoder.Chain) time.Duration {
	switch c {
	case encoder.ChainBitcoin:
		return 2 * time.Minute
	case encoder.ChainCardano:
		return time.Minute
	default:
		return 15 * time.Second
	}
}

// probeTips 启动时并发拉一次各链高度，只打日志
func probeTips(ctx context.Context, clients map[string]domain.ChainClient) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var g errgroup.Group
	g.SetLimit(4)
	for key, c := range clients {
		g.Go(func() error {
			tip, err := c.Tip(ctx)
			if err != nil {
				metrics.UpstreamErrors.WithLabelValues(c.Chain(), "tip").Inc()
				logger.Warn(ctx, "chain unreachable at startup", zap.String("chain", key), zap.Error(err))
				return nil
			}
			logger.Info(ctx, "chain reachable", zap.String("chain", key), zap.Uint64("tip", tip))
			return nil
		})
	}
	_ = g.Wait()
}
