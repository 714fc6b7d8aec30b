package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopherex.com/custody/internal/account/model"
	"gopherex.com/custody/pkg/logger"
	"gopherex.com/custody/pkg/xerr"
)

type BalanceRepo interface {
	AddBalance(ctx context.Context, userID int64, currency string, amount decimal.Decimal) error
	GetBalance(ctx context.Context, userID int64, currency string) (*model.UserBalance, error)
	ListBalances(ctx context.Context, userID int64) ([]*model.UserBalance, error)
}

type SummaryRepo interface {
	UpsertSummary(ctx context.Context, s *model.DepositSummary) error
	ListSummaries(ctx context.Context, userID int64, status string, page, limit int) ([]*model.DepositSummary, int64, error)
}

type NotificationRepo interface {
	InsertNotification(ctx context.Context, n *model.DepositNotification) error
}

// Ledger 余额入账 + 充值镜像 + 通知 outbox
// 所有写方法都使用 ctx 里的事务 (如果有)，由调用方决定事务边界
type Ledger struct {
	balances      BalanceRepo
	summaries     SummaryRepo
	notifications NotificationRepo
}

func NewLedger(b BalanceRepo, s SummaryRepo, n NotificationRepo) *Ledger {
	return &Ledger{balances: b, summaries: s, notifications: n}
}

// CreditBalance 给用户加可用余额。
// 不做去重：只能由 pending -> confirmed 的状态 CAS 成功方调用。
func (l *Ledger) CreditBalance(ctx context.Context, userID int64, currency string, amount decimal.Decimal) error {
	if userID <= 0 || currency == "" {
		return xerr.New(xerr.RequestParamsError, "user_id and currency are required")
	}
	if !amount.IsPositive() {
		return xerr.Newf(xerr.RequestParamsError, "credit amount must be positive, got %s", amount)
	}
	if err := l.balances.AddBalance(ctx, userID, currency, amount); err != nil {
		return err
	}
	logger.Info(ctx, "balance credited",
		zap.Int64("user_id", userID),
		zap.String("currency", currency),
		zap.String("amount", amount.String()),
	)
	return nil
}

// GetBalance 没有记录时返回零余额
func (l *Ledger) GetBalance(ctx context.Context, userID int64, currency string) (*model.UserBalance, error) {
	b, err := l.balances.GetBalance(ctx, userID, currency)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return &model.UserBalance{UserID: userID, Currency: currency, Available: decimal.Zero}, nil
	}
	return b, nil
}

func (l *Ledger) ListBalances(ctx context.Context, userID int64) ([]*model.UserBalance, error) {
	return l.balances.ListBalances(ctx, userID)
}

func (l *Ledger) ListDeposits(ctx context.Context, userID int64, status string, page, limit int) ([]*model.DepositSummary, int64, error) {
	switch model.DepositStatus(status) {
	case "", model.DepositPending, model.DepositConfirmed:
	default:
		return nil, 0, xerr.Newf(xerr.RequestParamsError, "unknown deposit status %q", status)
	}
	return l.summaries.ListSummaries(ctx, userID, status, page, limit)
}

// MirrorProgress 确认数变化时同步镜像
func (l *Ledger) MirrorProgress(ctx context.Context, s *model.DepositSummary) error {
	s.Status = model.DepositPending
	return l.summaries.UpsertSummary(ctx, s)
}

// SettleDeposit 充值确认：入账、镜像、写通知，需在状态 CAS 的同一事务内调用
func (l *Ledger) SettleDeposit(ctx context.Context, ev model.DepositCompleted, required uint32) (*model.DepositNotification, error) {
	amount, err := decimal.NewFromString(ev.Amount)
	if err != nil {
		return nil, xerr.Wrap(xerr.RequestParamsError, "bad deposit amount", err)
	}
	if err := l.CreditBalance(ctx, ev.UserID, ev.Asset, amount); err != nil {
		return nil, err
	}

	confirmedAt := ev.ConfirmedAt
	creditedAt := time.Now().UTC()
	if err := l.summaries.UpsertSummary(ctx, &model.DepositSummary{
		TxHash:        ev.TxHash,
		UserID:        ev.UserID,
		DepositID:     ev.DepositID,
		Chain:         ev.Chain,
		Network:       ev.Network,
		Asset:         ev.Asset,
		Amount:        amount,
		Status:        model.DepositConfirmed,
		Confirmations: ev.Confirmations,
		Required:      required,
		ConfirmedAt:   &confirmedAt,
		CreditedAt:    &creditedAt,
	}); err != nil {
		return nil, err
	}

	n, err := model.NewNotification(ev)
	if err != nil {
		return nil, xerr.Wrap(xerr.ServerCommonError, "encode deposit event", err)
	}
	if err := l.notifications.InsertNotification(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}
