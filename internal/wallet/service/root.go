package service

import (
	"context"
	"strings"

	"gopherex.com/custody/internal/wallet/domain"
	"gopherex.com/custody/internal/wallet/encoder"
	"gopherex.com/custody/pkg/hdwallet"
	"gopherex.com/custody/pkg/xerr"
)

type RootStore interface {
	CreateRoot(ctx context.Context, root *domain.WalletRoot) error
}

// NewRoot 录入钱包根。xpub 和 literal 二选一；XRP 只能是主地址
type NewRoot struct {
	Chain       string
	Network     string
	XPub        string
	Literal     string
	MasterKeyID string
	Auto        bool
	// Legacy 仅 Cardano：单密钥 enterprise 地址
	Legacy      bool
}

// RegisterRoot 先校验能否派生/解析，再落库
func RegisterRoot(ctx context.Context, store RootStore, in NewRoot) (*domain.WalletRoot, error) {
	chain, err := encoder.ParseChain(in.Chain)
	if err != nil {
		return nil, err
	}
	network, err := encoder.ParseNetwork(chain, in.Network)
	if err != nil {
		return nil, err
	}
	xpub, literal := strings.TrimSpace(in.XPub), strings.TrimSpace(in.Literal)
	if (xpub == "") == (literal == "") {
		return nil, xerr.New(xerr.RequestParamsError, "exactly one of xpub and literal address is required")
	}
	if in.Legacy && (chain != encoder.ChainCardano || xpub == "") {
		return nil, xerr.New(xerr.RequestParamsError, "legacy derivation only applies to cardano xpub roots")
	}
	root := &domain.WalletRoot{
		Chain:         string(chain),
		Network:       string(network),
		MasterKeyID:   in.MasterKeyID,
		AutoGenerated: in.Auto,
		Active:        true,
	}
	switch {
	case chain == encoder.ChainXRP:
		if literal == "" {
			return nil, xerr.New(xerr.RequestParamsError, "xrp root must be a literal address")
		}
		if err := encoder.ValidateXRPAddress(literal); err != nil {
			return nil, err
		}
		root.LiteralAddress = literal
	case literal != "":
		root.LiteralAddress = encoder.NormalizeAddress(chain, literal)
		root.LegacyLiteral = true
	case chain == encoder.ChainCardano:
		if _, err := hdwallet.ParseEd25519XPub(xpub); err != nil {
			return nil, xerr.Wrap(xerr.RequestParamsError, "invalid cardano account xpub", err)
		}
		root.ExtendedPublicKey = xpub
		root.DerivationVersion = domain.DerivationCardanoShelley
		if in.Legacy {
			root.DerivationVersion = domain.DerivationCardanoLegacy
		}
	default:
		if _, err := hdwallet.DerivePublic(xpub, 0, 0); err != nil {
			return nil, xerr.Wrap(xerr.RequestParamsError, "invalid account xpub", err)
		}
		root.ExtendedPublicKey = xpub
		root.DerivationVersion = domain.DerivationBIP44
	}
	if err := store.CreateRoot(ctx, root); err != nil {
		return nil, err
	}
	return root, nil
}
