package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopherex.com/custody/internal/wallet/domain"
	"gopherex.com/custody/internal/wallet/repo"
	"gopherex.com/custody/pkg/orm/ormtest"
	"gopherex.com/custody/pkg/xerr"
)

func TestRegisterRoot(t *testing.T) {
	tests := []struct {
		name    string
		in      NewRoot
		wantErr int
		check   func(t *testing.T, r *domain.WalletRoot)
	}{
		{
			name: "evm xpub",
			in:   NewRoot{Chain: "ETH", Network: "mainnet", XPub: testXPub, Auto: true},
			check: func(t *testing.T, r *domain.WalletRoot) {
				assert.Equal(t, "evm", r.Chain)
				assert.Equal(t, testXPub, r.ExtendedPublicKey)
				assert.True(t, r.AutoGenerated)
				assert.Equal(t, domain.DerivationBIP44, r.DerivationVersion)
			},
		},
		{
			name: "cardano account key",
			in:   NewRoot{Chain: "ada", Network: "preprod", XPub: cardanoAcct},
			check: func(t *testing.T, r *domain.WalletRoot) {
				assert.Equal(t, cardanoAcct, r.ExtendedPublicKey)
				assert.Equal(t, domain.DerivationCardanoShelley, r.DerivationVersion)
			},
		},
		{
			name: "cardano legacy",
			in:   NewRoot{Chain: "ada", Network: "mainnet", XPub: cardanoAcct, Legacy: true},
			check: func(t *testing.T, r *domain.WalletRoot) {
				assert.Equal(t, domain.DerivationCardanoLegacy, r.DerivationVersion)
				v, err := r.Resolve()
				require.NoError(t, err)
				assert.Equal(t, domain.DerivationCardanoLegacy, v.(domain.DerivableRoot).Version)
			},
		},
		{
			name: "xrp master",
			in:   NewRoot{Chain: "xrp", Network: "mainnet", Literal: xrpMasterA},
			check: func(t *testing.T, r *domain.WalletRoot) {
				assert.Equal(t, xrpMasterA, r.LiteralAddress)
				assert.False(t, r.LegacyLiteral)
			},
		},
		{
			name: "legacy literal",
			in:   NewRoot{Chain: "tron", Network: "mainnet", Literal: "TLegacy"},
			check: func(t *testing.T, r *domain.WalletRoot) {
				assert.True(t, r.LegacyLiteral)
			},
		},
		{name: "both", in: NewRoot{Chain: "evm", Network: "mainnet", XPub: testXPub, Literal: "0xabc"}, wantErr: xerr.RequestParamsError},
		{name: "neither", in: NewRoot{Chain: "evm", Network: "mainnet"}, wantErr: xerr.RequestParamsError},
		{name: "xrp needs literal", in: NewRoot{Chain: "xrp", Network: "mainnet", XPub: testXPub}, wantErr: xerr.RequestParamsError},
		{name: "bad xpub", in: NewRoot{Chain: "bitcoin", Network: "testnet", XPub: "xpub-nope"}, wantErr: xerr.RequestParamsError},
		{name: "bad xrp", in: NewRoot{Chain: "xrp", Network: "mainnet", Literal: "rNope"}, wantErr: xerr.EncodingError},
		{name: "legacy 只给 cardano", in: NewRoot{Chain: "evm", Network: "mainnet", XPub: testXPub, Legacy: true}, wantErr: xerr.RequestParamsError},
		{name: "legacy 不配 literal", in: NewRoot{Chain: "ada", Network: "mainnet", Literal: "addr1xyz", Legacy: true}, wantErr: xerr.RequestParamsError},
		{name: "bad network", in: NewRoot{Chain: "tron", Network: "preview", XPub: testXPub}, wantErr: xerr.RequestParamsError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := ormtest.Open(t, &domain.WalletRoot{})
			got, err := RegisterRoot(context.Background(), repo.New(db), tt.in)
			if tt.wantErr != 0 {
				assert.Equal(t, tt.wantErr, xerr.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.NotZero(t, got.ID)
			assert.True(t, got.Active)
			tt.check(t, got)

			var n int64
			require.NoError(t, db.Model(&domain.WalletRoot{}).Count(&n).Error)
			assert.Equal(t, int64(1), n)
		})
	}
}
