package domain

import (
	"time"

	"gopherex.com/custody/pkg/xerr"
)

// 派生版本
const (
	DerivationBIP44          uint8 = 1 // secp256k1: xpub/0/i
	DerivationCardanoShelley uint8 = 2 // Cardano 支付 + 质押 base 地址
	DerivationCardanoLegacy  uint8 = 3 // Cardano 单密钥 enterprise 地址
)

// WalletRoot 每条链/网络的钱包根，运营配置，核心只会递增 next_index
type WalletRoot struct {
	ID                int64  `gorm:"primaryKey"`
	Chain             string `gorm:"size:16;index:idx_root_chain_net"`
	Network           string `gorm:"size:16;index:idx_root_chain_net"`
	ExtendedPublicKey string `gorm:"size:256"`
	LiteralAddress    string `gorm:"size:128"`
	DerivationVersion uint8
	NextIndex         int64 `gorm:"not null;default:0"`
	AutoGenerated     bool
	LegacyLiteral     bool
	MasterKeyID       string `gorm:"size:64"`
	Active            bool   `gorm:"index"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (WalletRoot) TableName() string {
	return "wallet_roots"
}

// RootVariant 钱包根的两种形态，调用方用 type switch 穷举
type RootVariant interface {
	rootID() int64
}

// LiteralRoot 存的就是地址本身，不派生 (legacy 根 / XRP 主地址)
type LiteralRoot struct {
	ID      int64
	Address string
}

// DerivableRoot 账户级扩展公钥
type DerivableRoot struct {
	ID          int64
	ExtendedKey string
	Version     uint8
}

func (l LiteralRoot) rootID() int64   { return l.ID }
func (d DerivableRoot) rootID() int64 { return d.ID }

// RootIDOf 取变体对应的 wallet_roots.id
func RootIDOf(v RootVariant) int64 { return v.rootID() }

// Resolve 把表里的行转换成明确的变体
func (r *WalletRoot) Resolve() (RootVariant, error) {
	switch {
	case r.LegacyLiteral || (r.ExtendedPublicKey == "" && r.LiteralAddress != ""):
		if r.LiteralAddress == "" {
			return nil, xerr.Newf(xerr.ConfigurationError, "wallet root %d: literal root without address", r.ID)
		}
		return LiteralRoot{ID: r.ID, Address: r.LiteralAddress}, nil
	case r.ExtendedPublicKey != "":
		return DerivableRoot{ID: r.ID, ExtendedKey: r.ExtendedPublicKey, Version: r.DerivationVersion}, nil
	default:
		return nil, xerr.Newf(xerr.ConfigurationError, "wallet root %d: neither extended key nor literal address", r.ID)
	}
}
