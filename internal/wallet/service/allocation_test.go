package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopherex.com/custody/internal/asset"
	"gopherex.com/custody/internal/wallet/domain"
	"gopherex.com/custody/internal/wallet/encoder"
	"gopherex.com/custody/internal/wallet/repo"
	"gopherex.com/custody/pkg/orm/ormtest"
	"gopherex.com/custody/pkg/xerr"
	"gorm.io/gorm"
)

const (
	// BIP32 test vector 1, m
	testXPub    = "xpub661MyMwAqRbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8NqtwybGhePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8"
	cardanoAcct = "b437da09d1b4833b4edad04cd0866c51152dd2996a7a93edb139a95e0447b2ce" +
		"9414886b1ebf025db067a4cbd13a0903fbd9733a5372bba1b58bd72c1699b798"
	xrpMasterA = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
)

type fixture struct {
	db  *gorm.DB
	svc *AllocationService
}

func newFixture(t *testing.T, roots ...*domain.WalletRoot) *fixture {
	t.Helper()
	db := ormtest.Open(t, &domain.WalletRoot{}, &domain.DepositAddress{}, &domain.AllocationRequest{}, &asset.ChainConfig{})

	configs := []asset.ChainConfig{
		{Chain: "evm", Network: "mainnet", Asset: "ETH", Kind: asset.KindNative, Decimals: 18, Active: true},
		{Chain: "evm", Network: "mainnet", Asset: "OLD", Kind: asset.KindNative, Decimals: 18, Active: false},
		{Chain: "bitcoin", Network: "testnet", Asset: "BTC", Kind: asset.KindNative, Decimals: 8, Active: true},
		{Chain: "tron", Network: "mainnet", Asset: "TRX", Kind: asset.KindNative, Decimals: 6, Active: true},
		{Chain: "xrp", Network: "mainnet", Asset: "XRP", Kind: asset.KindNative, Decimals: 6, Active: true},
		{Chain: "cardano", Network: "mainnet", Asset: "ADA", Kind: asset.KindNative, Decimals: 6, Active: true},
	}
	require.NoError(t, db.Create(&configs).Error)

	for _, r := range roots {
		require.NoError(t, db.Create(r).Error)
	}

	registry := asset.NewRegistry(asset.DBLoader(db), 0)
	return &fixture{db: db, svc: NewAllocationService(repo.New(db), registry, nil)}
}

func derivable(chain, network, xpub string, version uint8, next int64) *domain.WalletRoot {
	return &domain.WalletRoot{
		Chain: chain, Network: network, ExtendedPublicKey: xpub,
		DerivationVersion: version, NextIndex: next, AutoGenerated: true, Active: true,
	}
}

func req(user int64, key, chain, network, sym string) AllocateRequest {
	return AllocateRequest{UserID: user, IdempotencyKey: key, Chain: chain, Network: network, Asset: sym}
}

func TestAllocate_EVMDerivesAndIsIdempotent(t *testing.T) {
	f := newFixture(t, derivable("evm", "mainnet", testXPub, domain.DerivationBIP44, 0))
	ctx := context.Background()

	first, err := f.svc.Allocate(ctx, req(1, "k-1", "eth", "mainnet", "ETH"))
	require.NoError(t, err)
	assert.Equal(t, "0x4b7115ad9623a528f1845eaf85d166de1e869bfb", strings.ToLower(first.Address))
	assert.Equal(t, "m/44'/60'/0'/0/0", first.DerivationPath)
	assert.Equal(t, encoder.RoutingAddress, first.RoutingType)
	assert.False(t, first.Reused)

	// 同一个 key 重放
	again, err := f.svc.Allocate(ctx, req(1, "k-1", "evm", "mainnet", "ETH"))
	require.NoError(t, err)
	assert.Equal(t, first.Address, again.Address)
	assert.True(t, again.Reused)

	// 新 key，同用户同链：复用生效地址，不再消耗下标
	other, err := f.svc.Allocate(ctx, req(1, "k-2", "evm", "mainnet", "ETH"))
	require.NoError(t, err)
	assert.Equal(t, first.Address, other.Address)
	assert.True(t, other.Reused)

	var root domain.WalletRoot
	require.NoError(t, f.db.First(&root).Error)
	assert.EqualValues(t, 1, root.NextIndex)

	var count int64
	require.NoError(t, f.db.Model(&domain.DepositAddress{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
	require.NoError(t, f.db.Model(&domain.AllocationRequest{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)

	// 另一个用户拿下一个下标
	second, err := f.svc.Allocate(ctx, req(2, "k-3", "evm", "mainnet", "ETH"))
	require.NoError(t, err)
	assert.NotEqual(t, first.Address, second.Address)
	assert.Equal(t, "m/44'/60'/0'/0/1", second.DerivationPath)
}

func TestAllocate_KeyReusedWithDifferentParamsReturnsStored(t *testing.T) {
	f := newFixture(t,
		derivable("evm", "mainnet", testXPub, domain.DerivationBIP44, 0),
		derivable("tron", "mainnet", testXPub, domain.DerivationBIP44, 7),
	)
	ctx := context.Background()

	first, err := f.svc.Allocate(ctx, req(1, "same-key", "evm", "mainnet", "ETH"))
	require.NoError(t, err)

	got, err := f.svc.Allocate(ctx, req(1, "same-key", "tron", "mainnet", "TRX"))
	require.NoError(t, err)
	assert.Equal(t, first.Address, got.Address, "同一个幂等键永远返回首次结果")
}

func TestAllocate_TronAndBitcoin(t *testing.T) {
	f := newFixture(t,
		derivable("tron", "mainnet", testXPub, domain.DerivationBIP44, 7),
		derivable("bitcoin", "testnet", testXPub, domain.DerivationBIP44, 0),
	)
	ctx := context.Background()

	tron, err := f.svc.Allocate(ctx, req(9, "t-1", "trx", "mainnet", "TRX"))
	require.NoError(t, err)
	assert.Equal(t, "TW15Kn1sYoXYzjLv5X3X8n5bcU6Zkkhg3r", tron.Address)
	assert.Equal(t, "m/44'/195'/0'/0/7", tron.DerivationPath)

	btc, err := f.svc.Allocate(ctx, req(9, "b-1", "btc", "testnet", "BTC"))
	require.NoError(t, err)
	assert.Equal(t, "tb1qp5wfcq48h6d63wyy9qz0awtpfqwwv4smhppgv3", btc.Address)
	assert.Equal(t, "m/44'/0'/0'/0/0", btc.DerivationPath)
}

func TestAllocate_Cardano(t *testing.T) {
	tests := []struct {
		name    string
		version uint8
		want    string
	}{
		{"base 地址", domain.DerivationCardanoShelley,
			"addr1q8f0prxnpz8dzq552n67lesjtpf42zstcs8l7jww83umdlp7ku09y2d93adp8xqksuvgqmjeshhjv63urfu90lmq50cqjty4zs"},
		{"legacy 单密钥", domain.DerivationCardanoLegacy,
			"addr1v8f0prxnpz8dzq552n67lesjtpf42zstcs8l7jww83umdlq9z6p03"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, derivable("cardano", "mainnet", cardanoAcct, tt.version, 0))
			res, err := f.svc.Allocate(context.Background(), req(5, "ada-1", "ada", "mainnet", "ADA"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Address)
			assert.Equal(t, "m/1852'/1815'/0'/0/0", res.DerivationPath)
		})
	}
}

func TestAllocate_XRPDestinationTags(t *testing.T) {
	f := newFixture(t, &domain.WalletRoot{
		Chain: "xrp", Network: "mainnet", LiteralAddress: xrpMasterA, LegacyLiteral: true, Active: true,
	})
	ctx := context.Background()

	a, err := f.svc.Allocate(ctx, req(1, "x-1", "xrp", "mainnet", "XRP"))
	require.NoError(t, err)
	b, err := f.svc.Allocate(ctx, req(2, "x-2", "xrp", "mainnet", "XRP"))
	require.NoError(t, err)

	assert.Equal(t, xrpMasterA, a.Address)
	assert.Equal(t, xrpMasterA, b.Address)
	assert.Equal(t, encoder.RoutingDestinationTag, a.RoutingType)
	require.NotNil(t, a.DestinationTag)
	require.NotNil(t, b.DestinationTag)
	assert.EqualValues(t, 1, *a.DestinationTag)
	assert.EqualValues(t, 2, *b.DestinationTag)

	again, err := f.svc.Allocate(ctx, req(1, "x-3", "xrp", "mainnet", "XRP"))
	require.NoError(t, err)
	assert.Equal(t, *a.DestinationTag, *again.DestinationTag)
}

func TestAllocate_XRPRejectsDerivableRoot(t *testing.T) {
	f := newFixture(t, derivable("xrp", "mainnet", testXPub, domain.DerivationBIP44, 0))
	_, err := f.svc.Allocate(context.Background(), req(1, "x-1", "xrp", "mainnet", "XRP"))
	assert.True(t, xerr.IsCode(err, xerr.ConfigurationError))
}

func TestAllocate_LiteralRootSkipsDerivation(t *testing.T) {
	f := newFixture(t, &domain.WalletRoot{
		Chain: "evm", Network: "mainnet", LiteralAddress: "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf",
		LegacyLiteral: true, Active: true,
	})
	res, err := f.svc.Allocate(context.Background(), req(3, "lit-1", "evm", "mainnet", "ETH"))
	require.NoError(t, err)
	assert.Equal(t, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", res.Address)
	assert.Empty(t, res.DerivationPath)

	var root domain.WalletRoot
	require.NoError(t, f.db.First(&root).Error)
	assert.EqualValues(t, 0, root.NextIndex, "literal 根不消耗下标")
}

func TestAllocate_LiteralRootBindsOneUser(t *testing.T) {
	f := newFixture(t, &domain.WalletRoot{
		Chain: "evm", Network: "mainnet", LiteralAddress: "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf",
		LegacyLiteral: true, Active: true,
	})
	ctx := context.Background()

	first, err := f.svc.Allocate(ctx, req(3, "lit-1", "evm", "mainnet", "ETH"))
	require.NoError(t, err)

	// 第二个用户拿到同一个地址的话，入账会记错人
	_, err = f.svc.Allocate(ctx, req(4, "lit-2", "evm", "mainnet", "ETH"))
	require.Error(t, err)
	assert.Equal(t, xerr.ConfigurationError, xerr.CodeOf(err))
	assert.Contains(t, err.Error(), "already bound to user 3")

	again, err := f.svc.Allocate(ctx, req(3, "lit-3", "evm", "mainnet", "ETH"))
	require.NoError(t, err)
	assert.Equal(t, first.Address, again.Address)
	assert.True(t, again.Reused)

	var count int64
	require.NoError(t, f.db.Model(&domain.DepositAddress{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestAllocate_ConcurrentNeverReusesIndex(t *testing.T) {
	f := newFixture(t, derivable("evm", "mainnet", testXPub, domain.DerivationBIP44, 0))
	ctx := context.Background()

	const users, workers = 10, 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		errs    []error
		perUser = make(map[int64]map[string]struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := int64(i%users + 1)
			res, err := f.svc.Allocate(ctx, req(user, fmt.Sprintf("c-%d", i), "evm", "mainnet", "ETH"))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if perUser[user] == nil {
				perUser[user] = make(map[string]struct{})
			}
			perUser[user][res.Address] = struct{}{}
		}(i)
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, perUser, users)
	distinct := make(map[string]int64)
	for user, addrs := range perUser {
		require.Len(t, addrs, 1, "user %d 拿到了多个地址", user)
		for a := range addrs {
			other, dup := distinct[a]
			assert.False(t, dup, "user %d 和 %d 共用地址 %s", user, other, a)
			distinct[a] = user
		}
	}
	assert.Len(t, distinct, users)

	var root domain.WalletRoot
	require.NoError(t, f.db.First(&root).Error)
	assert.EqualValues(t, users, root.NextIndex)

	var count int64
	require.NoError(t, f.db.Model(&domain.AllocationRequest{}).Count(&count).Error)
	assert.EqualValues(t, workers, count)
}

// lateWinnerRepo 前几次查询看不到别的请求刚提交的数据，模拟检查和插入之间被抢先
type lateWinnerRepo struct {
	*repo.Repo
	hideAddress    int
	hideAllocation int
}

func (r *lateWinnerRepo) FindActiveAddress(ctx context.Context, userID int64, chain, network string) (*domain.DepositAddress, error) {
	if r.hideAddress > 0 {
		r.hideAddress--
		return nil, nil
	}
	return r.Repo.FindActiveAddress(ctx, userID, chain, network)
}

func (r *lateWinnerRepo) FindAllocation(ctx context.Context, key string) (*domain.AllocationRequest, error) {
	if r.hideAllocation > 0 {
		r.hideAllocation--
		return nil, nil
	}
	return r.Repo.FindAllocation(ctx, key)
}

func TestAllocate_DuplicateInsertReturnsWinner(t *testing.T) {
	const winner = "0x00000000000000000000000000000000000000aa"
	in := req(1, "dup-1", "evm", "mainnet", "ETH")

	tests := []struct {
		name        string
		sameKey     bool
		hideAddress int
		hideAlloc   int
	}{
		{name: "同用户生效地址先落库", hideAddress: 1},
		{name: "同幂等键先落库", sameKey: true, hideAddress: 1, hideAlloc: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := derivable("evm", "mainnet", testXPub, domain.DerivationBIP44, 0)
			f := newFixture(t, root)
			ctx := context.Background()

			won := &domain.DepositAddress{
				UserID: 1, Chain: "evm", Network: "mainnet", ActiveSlot: repo.ActiveSlot(), Asset: "ETH",
				Address: winner, AddressIndex: 42, RoutingType: string(encoder.RoutingAddress), WalletRootID: root.ID,
			}
			require.NoError(t, f.db.Create(won).Error)
			if tt.sameKey {
				require.NoError(t, f.db.Create(allocationRecord(in, won)).Error)
			}

			r := &lateWinnerRepo{Repo: repo.New(f.db), hideAddress: tt.hideAddress, hideAllocation: tt.hideAlloc}
			svc := NewAllocationService(r, f.svc.assets, nil)

			res, err := svc.Allocate(ctx, in)
			require.NoError(t, err)
			assert.Equal(t, winner, res.Address)
			assert.True(t, res.Reused)

			// 输家的事务整体回滚，下标不被消耗
			var got domain.WalletRoot
			require.NoError(t, f.db.First(&got, root.ID).Error)
			assert.EqualValues(t, 0, got.NextIndex)

			var count int64
			require.NoError(t, f.db.Model(&domain.DepositAddress{}).Count(&count).Error)
			assert.EqualValues(t, 1, count)

			stored, err := repo.New(f.db).FindAllocation(ctx, in.IdempotencyKey)
			require.NoError(t, err)
			require.NotNil(t, stored)
			assert.Equal(t, winner, stored.Address)
		})
	}
}

func TestAllocate_PrefersAutoGeneratedRoot(t *testing.T) {
	legacy := &domain.WalletRoot{
		Chain: "evm", Network: "mainnet", LiteralAddress: "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf",
		LegacyLiteral: true, Active: true,
	}
	f := newFixture(t, legacy, derivable("evm", "mainnet", testXPub, domain.DerivationBIP44, 0))
	res, err := f.svc.Allocate(context.Background(), req(3, "k", "evm", "mainnet", "ETH"))
	require.NoError(t, err)
	assert.Equal(t, "0x4b7115ad9623a528f1845eaf85d166de1e869bfb", strings.ToLower(res.Address))
}

func TestAllocate_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   AllocateRequest
		code int
	}{
		{"未知链", req(1, "k", "dogecoin", "mainnet", "DOGE"), xerr.RequestParamsError},
		{"链不支持的网络", req(1, "k", "evm", "preprod", "ETH"), xerr.RequestParamsError},
		{"空幂等键", req(1, " ", "evm", "mainnet", "ETH"), xerr.RequestParamsError},
		{"非法用户", req(0, "k", "evm", "mainnet", "ETH"), xerr.RequestParamsError},
		{"未配置币种", req(1, "k", "evm", "mainnet", "USDT"), xerr.RequestParamsError},
		{"已停用币种", req(1, "k", "evm", "mainnet", "OLD"), xerr.RequestParamsError},
		{"没有钱包根", req(1, "k", "evm", "mainnet", "ETH"), xerr.ConfigurationError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Allocate(ctx, tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.code, xerr.CodeOf(err), err.Error())
		})
	}

	var count int64
	require.NoError(t, f.db.Model(&domain.AllocationRequest{}).Count(&count).Error)
	assert.Zero(t, count)
}

type busyGuard struct{}

func (busyGuard) Acquire(context.Context, string) (bool, error) { return false, nil }
func (busyGuard) Release(context.Context, string) error         { return nil }

func TestAllocate_GuardInFlight(t *testing.T) {
	f := newFixture(t, derivable("evm", "mainnet", testXPub, domain.DerivationBIP44, 0))
	f.svc.guard = busyGuard{}
	_, err := f.svc.Allocate(context.Background(), req(1, "k", "evm", "mainnet", "ETH"))
	assert.True(t, xerr.IsCode(err, xerr.StateConflict))
	assert.True(t, xerr.Retryable(err))
}

func TestGetAndListActiveAddresses(t *testing.T) {
	f := newFixture(t, derivable("evm", "mainnet", testXPub, domain.DerivationBIP44, 0))
	ctx := context.Background()

	none, err := f.svc.GetActiveAddress(ctx, 1, "evm", "mainnet")
	require.NoError(t, err)
	assert.Nil(t, none)

	res, err := f.svc.Allocate(ctx, req(1, "k", "evm", "mainnet", "ETH"))
	require.NoError(t, err)

	got, err := f.svc.GetActiveAddress(ctx, 1, "ETH", "mainnet")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, res.Address, got.Address)
	assert.True(t, got.Active())

	all, err := f.svc.ListActiveAddresses(ctx, "evm", "mainnet")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
