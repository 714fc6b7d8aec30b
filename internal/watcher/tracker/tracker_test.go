package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherex.com/custody/internal/account/app"
	"gopherex.com/custody/internal/account/model"
	"gopherex.com/custody/internal/account/repo/mysql"
	"gopherex.com/custody/internal/watcher/domain"
	"gopherex.com/custody/internal/watcher/repo"
	"gopherex.com/custody/pkg/orm/ormtest"
)

type fakeChain struct {
	tip    uint64
	tipErr error
	inc    map[string]domain.Inclusion
	incErr map[string]error
}

func (f *fakeChain) Chain() string                       { return "fake" }
func (f *fakeChain) Tip(context.Context) (uint64, error) { return f.tip, f.tipErr }

func (f *fakeChain) NativeTransfers(context.Context, []string, domain.Window) ([]domain.Operation, error) {
	return nil, nil
}

func (f *fakeChain) TokenTransfers(context.Context, string, []string, domain.Window) ([]domain.Operation, error) {
	return nil, nil
}

func (f *fakeChain) Inclusion(_ context.Context, ref domain.TxRef) (domain.Inclusion, error) {
	if err := f.incErr[ref.TxHash]; err != nil {
		return domain.Inclusion{}, err
	}
	return f.inc[ref.TxHash], nil
}

type recordingPub struct {
	fail   bool
	events []model.DepositCompleted
}

func (p *recordingPub) Name() string { return "test" }

func (p *recordingPub) Publish(_ context.Context, ev model.DepositCompleted) error {
	if p.fail {
		return errors.New("broker down")
	}
	p.events = append(p.events, ev)
	return nil
}

type fixture struct {
	deposits *repo.Repo
	accounts *mysql.Repo
	ledger   *app.Ledger
	client   *fakeChain
	pub      *recordingPub
	tr       *Tracker
}

func newFixture(t *testing.T, chain, network string) *fixture {
	t.Helper()
	db := ormtest.Open(t,
		&domain.DepositTransaction{},
		&model.UserBalance{}, &model.DepositSummary{}, &model.DepositNotification{},
	)
	deposits := repo.New(db)
	accounts := mysql.New(db)
	ledger := app.NewLedger(accounts, accounts, accounts)
	client := &fakeChain{inc: map[string]domain.Inclusion{}, incErr: map[string]error{}}
	pub := &recordingPub{}

	tr, err := New(Config{Chain: chain, Network: network}, client, deposits, ledger, accounts, pub)
	require.NoError(t, err)
	return &fixture{deposits: deposits, accounts: accounts, ledger: ledger, client: client, pub: pub, tr: tr}
}

func (f *fixture) pending(t *testing.T, chain, tx, amount string, block uint64, required uint32) *domain.DepositTransaction {
	t.Helper()
	d := &domain.DepositTransaction{
		Chain: chain, Network: "mainnet", Asset: "USDT", TxHash: tx, ToAddress: "addr-" + tx,
		Amount: amount, BlockNumber: block, ConfirmationsRequired: required,
		Status: domain.StatusPending, UserID: 7, DetectedAt: time.Now().UTC(),
	}
	ok, err := f.deposits.InsertDeposit(context.Background(), d)
	require.NoError(t, err)
	require.True(t, ok)
	return d
}

func (f *fixture) reload(t *testing.T, id int64) *domain.DepositTransaction {
	t.Helper()
	d, err := f.deposits.GetDeposit(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, d)
	return d
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	b, err := f.ledger.GetBalance(context.Background(), 7, "USDT")
	require.NoError(t, err)
	return b.Available
}

func included(block uint64) domain.Inclusion {
	return domain.Inclusion{Included: true, Success: true, BlockNumber: block}
}

func TestUpdatePending_ConfirmsAtRequiredDepth(t *testing.T) {
	f := newFixture(t, "evm", "mainnet")
	ctx := context.Background()
	d := f.pending(t, "evm", "0xabc", "1.500000", 990, 12)
	f.client.inc["0xabc"] = included(990)

	f.client.tip = 1000
	assert.Equal(t, 1, f.tr.UpdatePending(ctx))
	got := f.reload(t, d.ID)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, uint64(11), got.ConfirmationsObserved)
	assert.True(t, f.balance(t).IsZero())

	s, err := f.accounts.GetSummary(ctx, "0xabc", 7)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, model.DepositPending, s.Status)
	assert.EqualValues(t, 11, s.Confirmations)

	f.client.tip = 1001
	assert.Equal(t, 1, f.tr.UpdatePending(ctx))
	got = f.reload(t, d.ID)
	assert.Equal(t, domain.StatusConfirmed, got.Status)
	assert.Equal(t, uint64(12), got.ConfirmationsObserved)
	assert.NotNil(t, got.ConfirmedAt)
	assert.True(t, decimal.RequireFromString("1.5").Equal(f.balance(t)))

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, d.ID, f.pub.events[0].DepositID)
	unpublished, err := f.accounts.AcquireUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unpublished, "发布成功后标记 published_at")

	// 已确认的行不再处理
	f.client.tip = 2000
	assert.Equal(t, 0, f.tr.UpdatePending(ctx))
	assert.True(t, decimal.RequireFromString("1.5").Equal(f.balance(t)))
}

func TestUpdatePending_TronDepth(t *testing.T) {
	f := newFixture(t, "tron", "mainnet")
	d := f.pending(t, "tron", "trx1", "10.000000", 49_999_980, 19)
	f.client.inc["trx1"] = included(49_999_980)
	f.client.tip = 50_000_000

	assert.Equal(t, 1, f.tr.UpdatePending(context.Background()))
	got := f.reload(t, d.ID)
	assert.Equal(t, domain.StatusConfirmed, got.Status)
	assert.Equal(t, uint64(21), got.ConfirmationsObserved)
}

func TestUpdatePending_DirectConfirmationsAndDefaults(t *testing.T) {
	f := newFixture(t, "bitcoin", "mainnet")
	d := f.pending(t, "bitcoin", "btc1", "0.01000000", 0, 0)
	n := uint64(3)
	f.client.inc["btc1"] = domain.Inclusion{Included: true, Success: true, BlockNumber: 10, Confirmations: &n}
	f.client.tip = 999_999

	assert.Equal(t, 1, f.tr.UpdatePending(context.Background()))
	got := f.reload(t, d.ID)
	assert.Equal(t, domain.StatusConfirmed, got.Status, "没有配置时用链默认值 3")
	assert.Equal(t, uint64(3), got.ConfirmationsObserved)
}

func TestConfirm_CreditsExactlyOnce(t *testing.T) {
	f := newFixture(t, "evm", "mainnet")
	ctx := context.Background()
	d := f.pending(t, "evm", "0xdup", "2", 100, 12)
	f.client.inc["0xdup"] = included(100)

	// 两个实例拿到同一份 pending 快照
	a, b := *d, *d
	okA, err := f.tr.update(ctx, &a, 200)
	require.NoError(t, err)
	okB, err := f.tr.update(ctx, &b, 200)
	require.NoError(t, err)

	assert.True(t, okA)
	assert.False(t, okB, "CAS 失败的一方不入账")
	assert.True(t, decimal.NewFromInt(2).Equal(f.balance(t)))
	assert.Len(t, f.pub.events, 1)
}

func TestUpdatePending_ConfirmationsNeverDecrease(t *testing.T) {
	f := newFixture(t, "evm", "mainnet")
	ctx := context.Background()
	d := f.pending(t, "evm", "0xmono", "1", 990, 12)
	f.client.inc["0xmono"] = included(990)

	f.client.tip = 999
	assert.Equal(t, 1, f.tr.UpdatePending(ctx))
	assert.Equal(t, uint64(10), f.reload(t, d.ID).ConfirmationsObserved)

	// 落后的节点给出更小的 tip
	f.client.tip = 994
	assert.Equal(t, 0, f.tr.UpdatePending(ctx))
	assert.Equal(t, uint64(10), f.reload(t, d.ID).ConfirmationsObserved)

	// 暂时查不到交易
	f.client.inc["0xmono"] = domain.Inclusion{}
	f.client.tip = 1005
	assert.Equal(t, 0, f.tr.UpdatePending(ctx))
	assert.Equal(t, uint64(10), f.reload(t, d.ID).ConfirmationsObserved)
}

func TestUpdatePending_RevertedNeverCredits(t *testing.T) {
	f := newFixture(t, "evm", "mainnet")
	d := f.pending(t, "evm", "0xrev", "5", 100, 12)
	f.client.inc["0xrev"] = domain.Inclusion{Included: true, Success: false, BlockNumber: 100}
	f.client.tip = 10_000

	assert.Equal(t, 0, f.tr.UpdatePending(context.Background()))
	got := f.reload(t, d.ID)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Zero(t, got.ConfirmationsObserved)
	assert.True(t, f.balance(t).IsZero())
}

func TestUpdatePending_UpstreamFailures(t *testing.T) {
	f := newFixture(t, "evm", "mainnet")
	ctx := context.Background()
	bad := f.pending(t, "evm", "0xbad", "1", 100, 12)
	good := f.pending(t, "evm", "0xgood", "1", 100, 12)
	f.client.incErr["0xbad"] = errors.New("rpc timeout")
	f.client.inc["0xgood"] = included(100)
	f.client.tip = 105

	assert.Equal(t, 1, f.tr.UpdatePending(ctx), "单行失败不影响整批")
	assert.Zero(t, f.reload(t, bad.ID).ConfirmationsObserved)
	assert.Equal(t, uint64(6), f.reload(t, good.ID).ConfirmationsObserved)

	f.client.tipErr = errors.New("node down")
	f.client.tip = 500
	assert.Equal(t, 0, f.tr.UpdatePending(ctx))
	assert.Equal(t, uint64(6), f.reload(t, good.ID).ConfirmationsObserved)
}

func TestUpdatePending_PublishFailureStaysInOutbox(t *testing.T) {
	f := newFixture(t, "evm", "mainnet")
	ctx := context.Background()
	f.pending(t, "evm", "0xnp", "1", 100, 12)
	f.client.inc["0xnp"] = included(100)
	f.client.tip = 200
	f.pub.fail = true

	assert.Equal(t, 1, f.tr.UpdatePending(ctx))
	rows, err := f.accounts.AcquireUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, decimal.NewFromInt(1).Equal(f.balance(t)), "入账不依赖通知")
}

func TestConfirmations(t *testing.T) {
	five := uint64(5)
	tests := []struct {
		name string
		inc  domain.Inclusion
		tip  uint64
		want uint64
	}{
		{"direct", domain.Inclusion{Included: true, Success: true, BlockNumber: 1, Confirmations: &five}, 100, 5},
		{"computed", included(990), 1001, 12},
		{"same block", included(1000), 1000, 1},
		{"tip behind", included(1000), 999, 0},
		{"not included", domain.Inclusion{}, 1000, 0},
		{"failed", domain.Inclusion{Included: true, BlockNumber: 10}, 1000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Confirmations(tt.inc, tt.tip))
		})
	}
}
