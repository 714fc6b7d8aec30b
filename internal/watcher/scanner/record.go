package scanner

import (
	"context"

	"go.uber.org/zap"

	"gopherex.com/custody/internal/watcher/domain"
	"gopherex.com/custody/pkg/logger"
	"gopherex.com/custody/pkg/metrics"
	"gopherex.com/custody/pkg/xerr"
)

// RecordInput 一笔已经通过校验、金额已格式化的充值
type RecordInput struct {
	UserID         int64
	AddressID      int64
	Asset          string
	Amount         string
	TxHash         string
	LogIndex       uint32
	BlockNumber    uint64
	FromAddress    string
	ToAddress      string
	DestinationTag *uint32
	TokenAddress   string
}

// RecordDeposit 按 (tx_hash, to_address, asset) 去重。
// 已存在时返回 nil, nil；并发插入靠唯一索引兜底。
func (s *Scanner) RecordDeposit(ctx context.Context, in RecordInput) (*domain.DepositTransaction, error) {
	if in.TxHash == "" || in.ToAddress == "" || in.Asset == "" {
		return nil, xerr.New(xerr.RequestParamsError, "tx_hash, to_address and asset are required")
	}
	existing, err := s.deposits.FindDeposit(ctx, in.TxHash, in.ToAddress, in.Asset)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logger.Debug(ctx, "deposit already recorded",
			zap.String("tx", in.TxHash), zap.String("asset", in.Asset), zap.Int64("id", existing.ID))
		return nil, nil
	}

	required, err := s.requiredConfirmations(ctx, in.Asset)
	if err != nil {
		return nil, err
	}
	d := &domain.DepositTransaction{
		Chain:                 s.cfg.Chain,
		Network:               s.cfg.Network,
		Asset:                 in.Asset,
		TxHash:                in.TxHash,
		LogIndex:              in.LogIndex,
		FromAddress:           in.FromAddress,
		ToAddress:             in.ToAddress,
		DestinationTag:        in.DestinationTag,
		TokenAddress:          in.TokenAddress,
		Amount:                in.Amount,
		BlockNumber:           in.BlockNumber,
		ConfirmationsRequired: required,
		Status:                domain.StatusPending,
		UserID:                in.UserID,
		DepositAddressID:      in.AddressID,
		DetectedAt:            s.now().UTC(),
	}
	inserted, err := s.deposits.InsertDeposit(ctx, d)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, nil
	}

	metrics.DepositsRecorded.WithLabelValues(s.cfg.Chain, s.cfg.Network, in.Asset).Inc()
	logger.Info(ctx, "deposit recorded",
		zap.Int64("id", d.ID),
		zap.Int64("user_id", d.UserID),
		zap.String("chain", d.Chain),
		zap.String("asset", d.Asset),
		zap.String("amount", d.Amount),
		zap.String("tx", d.TxHash),
		zap.Uint32("required", required),
	)
	return d, nil
}

// requiredConfirmations 币种配置优先，否则链默认值
func (s *Scanner) requiredConfirmations(ctx context.Context, symbol string) (uint32, error) {
	cfg, ok, err := s.assets.Get(ctx, s.cfg.Chain, s.cfg.Network, symbol)
	if err != nil {
		return 0, err
	}
	if ok {
		return cfg.RequiredConfirmations(), nil
	}
	return s.chain.DefaultConfirmations(), nil
}
