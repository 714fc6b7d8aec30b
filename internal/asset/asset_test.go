package asset

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopherex.com/custody/pkg/orm/ormtest"
)

func TestFormatUnits(t *testing.T) {
	tests := []struct {
		name     string
		v        *big.Int
		decimals int32
		want     string
	}{
		{"原生币 6 位", big.NewInt(1_000_000), 6, "1.000000"},
		{"代币 6 位", big.NewInt(100_000_000), 6, "100.000000"},
		{"ETH 18 位", new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil), 18, "1.000000000000000000"},
		{"BTC 8 位小额", big.NewInt(1), 8, "0.00000001"},
		{"0 位精度", big.NewInt(42), 0, "42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatUnits(tt.v, tt.decimals)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := FormatUnits(big.NewInt(1), 19)
	assert.Error(t, err)
	_, err = FormatUnits(nil, 6)
	assert.Error(t, err)
}

func TestParseUnits(t *testing.T) {
	v, err := ParseUnits("1.5", 6)
	require.NoError(t, err)
	assert.Equal(t, "1500000", v.String())

	_, err = ParseUnits("1.0000001", 6)
	assert.Error(t, err)
	_, err = ParseUnits("abc", 6)
	assert.Error(t, err)
}

func TestChainConfig_Rules(t *testing.T) {
	usdt := ChainConfig{Chain: "tron", Asset: "USDT", Kind: KindToken, Active: true}
	assert.False(t, usdt.Scannable(), "没有合约地址的代币不扫描")
	usdt.ContractAddress = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	assert.True(t, usdt.Scannable())
	assert.Equal(t, uint32(19), usdt.RequiredConfirmations())

	usdt.MinConfirmations = 30
	assert.Equal(t, uint32(30), usdt.RequiredConfirmations())

	usdt.Active = false
	assert.False(t, usdt.Scannable())
}

func TestRegistry_SupportedFromDB(t *testing.T) {
	db := ormtest.Open(t, &ChainConfig{})
	rows := []ChainConfig{
		{Chain: "tron", Network: "mainnet", Asset: "TRX", Kind: KindNative, Decimals: 6, Active: true},
		{Chain: "tron", Network: "mainnet", Asset: "USDT", Kind: KindToken, ContractAddress: "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", Decimals: 6, Active: true},
		{Chain: "tron", Network: "mainnet", Asset: "USDC", Kind: KindToken, Decimals: 6, Active: true},
		{Chain: "tron", Network: "mainnet", Asset: "OLD", Kind: KindNative, Decimals: 6, Active: false},
		{Chain: "evm", Network: "mainnet", Asset: "ETH", Kind: KindNative, Decimals: 18, Active: true},
	}
	require.NoError(t, db.Create(&rows).Error)

	reg := NewRegistry(DBLoader(db), 0)
	got, err := reg.Supported(context.Background(), "tron", "mainnet")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "TRX", got[0].Asset)
	assert.Equal(t, "USDT", got[1].Asset)

	c, ok, err := reg.Get(context.Background(), "tron", "mainnet", "OLD")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, c.Active)
}

func TestRegistry_CachesWithinTTL(t *testing.T) {
	var calls int32
	reg := NewRegistry(func(ctx context.Context) ([]ChainConfig, error) {
		atomic.AddInt32(&calls, 1)
		return []ChainConfig{{Chain: "evm", Network: "mainnet", Asset: "ETH", Active: true}}, nil
	}, time.Minute)

	for i := 0; i < 5; i++ {
		_, ok, err := reg.Get(context.Background(), "evm", "mainnet", "ETH")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	reg.Invalidate()
	_, _, err := reg.Get(context.Background(), "evm", "mainnet", "ETH")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRegistry_LoaderError(t *testing.T) {
	reg := NewRegistry(func(ctx context.Context) ([]ChainConfig, error) {
		return nil, errors.New("db down")
	}, time.Minute)
	_, err := reg.Supported(context.Background(), "evm", "mainnet")
	assert.Error(t, err)
}
