// Package tracker 推进 pending 充值的确认数，达到要求后在同一事务里完成状态 CAS 和入账
package tracker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gopherex.com/custody/internal/account/model"
	"gopherex.com/custody/internal/account/notify"
	"gopherex.com/custody/internal/wallet/encoder"
	"gopherex.com/custody/internal/watcher/domain"
	"gopherex.com/custody/pkg/logger"
	"gopherex.com/custody/pkg/metrics"
)

// Settler 账户侧，写方法复用 ctx 里的事务
type Settler interface {
	SettleDeposit(ctx context.Context, ev model.DepositCompleted, required uint32) (*model.DepositNotification, error)
	MirrorProgress(ctx context.Context, s *model.DepositSummary) error
}

type OutboxMarker interface {
	MarkPublished(ctx context.Context, id int64) error
}

type Config struct {
	Chain     string
	Network   string
	BatchSize int
}

type Tracker struct {
	cfg      Config
	chain    encoder.Chain
	client   domain.ChainClient
	deposits domain.DepositRepo
	ledger   Settler
	outbox   OutboxMarker
	pub      notify.Publisher
	now      func() time.Time
}

func New(cfg Config, client domain.ChainClient, deposits domain.DepositRepo, ledger Settler,
	outbox OutboxMarker, pub notify.Publisher) (*Tracker, error) {
	chain, err := encoder.ParseChain(cfg.Chain)
	if err != nil {
		return nil, err
	}
	network, err := encoder.ParseNetwork(chain, cfg.Network)
	if err != nil {
		return nil, err
	}
	cfg.Chain, cfg.Network = string(chain), string(network)
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if pub == nil {
		pub = notify.Log{}
	}
	return &Tracker{
		cfg:      cfg,
		chain:    chain,
		client:   client,
		deposits: deposits,
		ledger:   ledger,
		outbox:   outbox,
		pub:      pub,
		now:      time.Now,
	}, nil
}

func (t *Tracker) Chain() string   { return t.cfg.Chain }
func (t *Tracker) Network() string { return t.cfg.Network }

// UpdatePending 处理一批 pending 充值，返回确认数或状态发生变化的条数。
// 不返回错误：上游或单行失败只记日志，下一轮重试。
func (t *Tracker) UpdatePending(ctx context.Context) int {
	rows, err := t.deposits.ListPending(ctx, t.cfg.Chain, t.cfg.Network, t.cfg.BatchSize)
	if err != nil {
		logger.Error(ctx, "list pending deposits failed", zap.String("chain", t.cfg.Chain), zap.Error(err))
		return 0
	}
	if len(rows) == 0 {
		return 0
	}

	tip, err := t.client.Tip(ctx)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues(t.cfg.Chain, "tip").Inc()
		logger.Warn(ctx, "confirmations skipped: tip unavailable",
			zap.String("chain", t.cfg.Chain), zap.String("network", t.cfg.Network), zap.Error(err))
		return 0
	}
	metrics.ChainTip.WithLabelValues(t.cfg.Chain, t.cfg.Network).Set(float64(tip))

	changed := 0
	for _, d := range rows {
		if ctx.Err() != nil {
			break
		}
		ok, err := t.update(ctx, d, tip)
		if err != nil {
			logger.Warn(ctx, "update deposit confirmations failed",
				zap.Int64("id", d.ID), zap.String("tx", d.TxHash), zap.Error(err))
			continue
		}
		if ok {
			changed++
		}
	}
	return changed
}

func (t *Tracker) update(ctx context.Context, d *domain.DepositTransaction, tip uint64) (bool, error) {
	inc, err := t.client.Inclusion(ctx, domain.TxRef{
		TxHash:      d.TxHash,
		BlockNumber: d.BlockNumber,
		ToAddress:   d.ToAddress,
		Contract:    d.TokenAddress,
	})
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues(t.cfg.Chain, "inclusion").Inc()
		return false, err
	}
	if inc.Included && !inc.Success {
		// 回滚的交易永远不入账，保持 pending 等人工处理
		logger.Warn(ctx, "deposit transaction reverted", zap.Int64("id", d.ID), zap.String("tx", d.TxHash))
	}

	observed := max(d.ConfirmationsObserved, Confirmations(inc, tip))
	required := uint64(d.ConfirmationsRequired)
	if required == 0 {
		required = uint64(t.chain.DefaultConfirmations())
	}

	if inc.Success && observed >= required {
		return t.confirm(ctx, d, observed, uint32(required))
	}
	if observed <= d.ConfirmationsObserved {
		return false, nil
	}
	return t.advance(ctx, d, observed, uint32(required))
}

// Confirmations 数据源直接给出的确认数优先，否则 tip-block+1
func Confirmations(inc domain.Inclusion, tip uint64) uint64 {
	if inc.Confirmations != nil {
		return *inc.Confirmations
	}
	if !inc.Included || !inc.Success || inc.BlockNumber == 0 || tip < inc.BlockNumber {
		return 0
	}
	return tip - inc.BlockNumber + 1
}

func (t *Tracker) advance(ctx context.Context, d *domain.DepositTransaction, observed uint64, required uint32) (bool, error) {
	amount, err := decimal.NewFromString(d.Amount)
	if err != nil {
		return false, err
	}
	advanced := false
	err = t.deposits.Transaction(ctx, func(txCtx context.Context) error {
		ok, err := t.deposits.AdvanceConfirmations(txCtx, d.ID, observed)
		if err != nil || !ok {
			return err
		}
		advanced = true
		return t.ledger.MirrorProgress(txCtx, &model.DepositSummary{
			TxHash:        d.TxHash,
			UserID:        d.UserID,
			DepositID:     d.ID,
			Chain:         d.Chain,
			Network:       d.Network,
			Asset:         d.Asset,
			Amount:        amount,
			Confirmations: observed,
			Required:      required,
		})
	})
	if err != nil {
		return false, err
	}
	if advanced {
		d.ConfirmationsObserved = observed
		logger.Debug(ctx, "deposit confirmations advanced",
			zap.Int64("id", d.ID), zap.Uint64("observed", observed), zap.Uint32("required", required))
	}
	return advanced, nil
}

// confirm 状态 CAS 成功的一方负责入账，保证每笔充值只入账一次
func (t *Tracker) confirm(ctx context.Context, d *domain.DepositTransaction, observed uint64, required uint32) (bool, error) {
	at := t.now().UTC()
	ev := model.DepositCompleted{
		DepositID:     d.ID,
		UserID:        d.UserID,
		Chain:         d.Chain,
		Network:       d.Network,
		Asset:         d.Asset,
		Amount:        d.Amount,
		TxHash:        d.TxHash,
		Confirmations: observed,
		ConfirmedAt:   at,
	}

	var n *model.DepositNotification
	err := t.deposits.Transaction(ctx, func(txCtx context.Context) error {
		won, err := t.deposits.MarkConfirmed(txCtx, d.ID, observed, at)
		if err != nil || !won {
			return err
		}
		n, err = t.ledger.SettleDeposit(txCtx, ev, required)
		return err
	})
	if err != nil {
		return false, err
	}
	if n == nil {
		// 别的实例已经确认过
		return false, nil
	}

	d.Status, d.ConfirmationsObserved, d.ConfirmedAt = domain.StatusConfirmed, observed, &at
	metrics.DepositsConfirmed.WithLabelValues(d.Chain, d.Network, d.Asset).Inc()
	logger.Info(ctx, "deposit confirmed",
		zap.Int64("id", d.ID),
		zap.Int64("user_id", d.UserID),
		zap.String("asset", d.Asset),
		zap.String("amount", d.Amount),
		zap.Uint64("confirmations", observed),
	)

	// 提交之后再发，失败留给 relay
	if notify.PublishOne(ctx, t.pub, ev) && t.outbox != nil {
		if err := t.outbox.MarkPublished(ctx, n.ID); err != nil {
			logger.Warn(ctx, "mark notification published failed", zap.Int64("id", n.ID), zap.Error(err))
		}
	}
	return true, nil
}
