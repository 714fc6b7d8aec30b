package scanner

import (
	"context"

	"go.uber.org/zap"

	"gopherex.com/custody/internal/asset"
	"gopherex.com/custody/internal/watcher/domain"
	"gopherex.com/custody/pkg/logger"
	"gopherex.com/custody/pkg/metrics"
)

// ScanAll 依次扫描所有支持的币种。
// w 为 nil 时按游标推进，[cursor+1, tip] 且不超过 MaxBlocksPerScan；
// 单个币种失败只记日志，不影响其他币种，也不推进它的游标。
func (s *Scanner) ScanAll(ctx context.Context, w *domain.Window) ([]*domain.DepositTransaction, error) {
	tip, err := s.client.Tip(ctx)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues(s.cfg.Chain, "tip").Inc()
		logger.Warn(ctx, "scan skipped: tip unavailable",
			zap.String("chain", s.cfg.Chain), zap.String("network", s.cfg.Network), zap.Error(err))
		return nil, nil
	}
	metrics.ChainTip.WithLabelValues(s.cfg.Chain, s.cfg.Network).Set(float64(tip))

	assets, err := s.SupportedAssets(ctx)
	if err != nil {
		return nil, err
	}

	var out []*domain.DepositTransaction
	for _, a := range assets {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		win := w
		var cur *domain.ScanCursor
		if win == nil {
			cur, win, err = s.nextWindow(ctx, a, tip)
			if err != nil {
				logger.Error(ctx, "load scan cursor failed", zap.String("asset", a.Asset), zap.Error(err))
				continue
			}
			if win == nil {
				continue
			}
		}

		got, err := s.scanAsset(ctx, a, *win)
		if err != nil {
			logger.Warn(ctx, "asset scan failed",
				zap.String("chain", s.cfg.Chain), zap.String("asset", a.Asset), zap.Error(err))
			continue
		}
		out = append(out, got...)

		if cur != nil {
			cur.LastBlock = win.ToBlock
			if s.cfg.TimeIndexed {
				cur.LastBlock = tip
			}
			cur.LastTime = win.Until
			if err := s.cursors.SaveCursor(ctx, cur); err != nil {
				// 游标没存上只会导致下次重扫，去重保证安全
				logger.Error(ctx, "save scan cursor failed", zap.String("asset", a.Asset), zap.Error(err))
			}
		}
	}
	return out, nil
}

// nextWindow 根据游标计算下一段窗口；已追上链头时返回 nil 窗口
func (s *Scanner) nextWindow(ctx context.Context, a asset.ChainConfig, tip uint64) (*domain.ScanCursor, *domain.Window, error) {
	cur, err := s.cursors.GetCursor(ctx, s.cfg.Chain, s.cfg.Network, a.Asset)
	if err != nil {
		return nil, nil, err
	}
	now := s.now().UTC()
	w := &domain.Window{Until: now}

	var from uint64
	if cur == nil {
		cur = &domain.ScanCursor{Chain: s.cfg.Chain, Network: s.cfg.Network, Asset: a.Asset}
		if tip >= s.cfg.MaxBlocksPerScan {
			from = tip - s.cfg.MaxBlocksPerScan + 1
		}
		w.Since = now.Add(-s.cfg.InitialLookback)
	} else {
		from = cur.LastBlock + 1
		if !cur.LastTime.IsZero() {
			w.Since = cur.LastTime.Add(-s.cfg.Overlap)
		} else {
			w.Since = now.Add(-s.cfg.InitialLookback)
		}
	}
	if from == 0 {
		from = 1
	}

	if s.cfg.TimeIndexed {
		return cur, w, nil
	}
	if from > tip {
		return nil, nil, nil
	}
	to := tip
	if to-from+1 > s.cfg.MaxBlocksPerScan {
		to = from + s.cfg.MaxBlocksPerScan - 1
	}
	// 按区块扫描时不带时间边界
	return cur, &domain.Window{FromBlock: from, ToBlock: to, Until: w.Until}, nil
}
