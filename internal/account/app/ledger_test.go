package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopherex.com/custody/internal/account/model"
	"gopherex.com/custody/internal/account/repo/mysql"
	"gopherex.com/custody/pkg/orm/ormtest"
	"gopherex.com/custody/pkg/xerr"
)

func newLedger(t *testing.T) (*Ledger, *mysql.Repo) {
	t.Helper()
	db := ormtest.Open(t, &model.UserBalance{}, &model.DepositSummary{}, &model.DepositNotification{})
	r := mysql.New(db)
	return NewLedger(r, r, r), r
}

func TestCreditBalance_Accumulates(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	require.NoError(t, l.CreditBalance(ctx, 7, "USDT", decimal.RequireFromString("100")))
	require.NoError(t, l.CreditBalance(ctx, 7, "USDT", decimal.RequireFromString("0.5")))

	b, err := l.GetBalance(ctx, 7, "USDT")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("100.5").Equal(b.Available), b.Available.String())
	assert.EqualValues(t, 2, b.Version)
}

func TestCreditBalance_Rejects(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		user   int64
		cur    string
		amount string
	}{
		{"零金额", 1, "BTC", "0"},
		{"负金额", 1, "BTC", "-1"},
		{"缺少币种", 1, "", "1"},
		{"非法用户", 0, "BTC", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.CreditBalance(ctx, tt.user, tt.cur, decimal.RequireFromString(tt.amount))
			assert.True(t, xerr.IsCode(err, xerr.RequestParamsError))
		})
	}
}

func TestGetBalance_ZeroWhenAbsent(t *testing.T) {
	l, _ := newLedger(t)
	b, err := l.GetBalance(context.Background(), 99, "ETH")
	require.NoError(t, err)
	assert.True(t, b.Available.IsZero())
}

func TestSettleDeposit_WritesSummaryAndNotification(t *testing.T) {
	l, r := newLedger(t)
	ctx := context.Background()

	pending := &model.DepositSummary{
		TxHash: "0xabc", UserID: 3, DepositID: 11, Chain: "evm", Network: "mainnet",
		Asset: "USDT", Amount: decimal.RequireFromString("100"), Confirmations: 4, Required: 12,
	}
	require.NoError(t, l.MirrorProgress(ctx, pending))

	ev := model.DepositCompleted{
		DepositID: 11, UserID: 3, Chain: "evm", Network: "mainnet", Asset: "USDT",
		Amount: "100.000000", TxHash: "0xabc", Confirmations: 12, ConfirmedAt: time.Now().UTC(),
	}
	err := r.Transaction(ctx, func(txCtx context.Context) error {
		_, err := l.SettleDeposit(txCtx, ev, 12)
		return err
	})
	require.NoError(t, err)

	s, err := r.GetSummary(ctx, "0xabc", 3)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, model.DepositConfirmed, s.Status)
	assert.EqualValues(t, 12, s.Confirmations)
	assert.NotNil(t, s.CreditedAt)

	rows, total, err := l.ListDeposits(ctx, 3, "confirmed", 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, rows, 1)

	ns, err := r.AcquireUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	got, err := ns[0].Event()
	require.NoError(t, err)
	assert.Equal(t, "100.000000", got.Amount)
	assert.EqualValues(t, 11, got.DepositID)

	b, err := l.GetBalance(ctx, 3, "USDT")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(b.Available))
}

func TestSettleDeposit_RollsBackWithTransaction(t *testing.T) {
	l, r := newLedger(t)
	ctx := context.Background()
	boom := errors.New("cas lost")

	err := r.Transaction(ctx, func(txCtx context.Context) error {
		if _, err := l.SettleDeposit(txCtx, model.DepositCompleted{
			DepositID: 1, UserID: 1, Asset: "BTC", Amount: "0.1", TxHash: "t1",
		}, 3); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	b, err := l.GetBalance(ctx, 1, "BTC")
	require.NoError(t, err)
	assert.True(t, b.Available.IsZero(), "事务回滚后余额不能变化")
}

func TestListDeposits_BadStatus(t *testing.T) {
	l, _ := newLedger(t)
	_, _, err := l.ListDeposits(context.Background(), 1, "weird", 1, 10)
	assert.True(t, xerr.IsCode(err, xerr.RequestParamsError))
}
