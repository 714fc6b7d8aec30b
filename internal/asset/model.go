package asset

import (
	"time"

	"gopherex.com/custody/internal/wallet/encoder"
)

type Kind string

const (
	KindNative Kind = "native"
	KindToken  Kind = "token"
)

// ChainConfig 运营配置的币种，核心只读
type ChainConfig struct {
	ID               int64  `gorm:"primaryKey"`
	Asset            string `gorm:"size:32;uniqueIndex:uniq_asset_chain_net,priority:3"`
	Chain            string `gorm:"size:16;uniqueIndex:uniq_asset_chain_net,priority:1"`
	Network          string `gorm:"size:16;uniqueIndex:uniq_asset_chain_net,priority:2"`
	Kind             Kind   `gorm:"size:10;default:native"`
	ContractAddress  string `gorm:"size:128"`
	Decimals         int32
	MinConfirmations uint32
	Active           bool `gorm:"index"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (ChainConfig) TableName() string {
	return "chain_configs"
}

// Scannable 代币必须有合约地址，否则不参与扫描
func (c *ChainConfig) Scannable() bool {
	if !c.Active {
		return false
	}
	return c.Kind != KindToken || c.ContractAddress != ""
}

// RequiredConfirmations 配置优先，否则用链默认值
func (c *ChainConfig) RequiredConfirmations() uint32 {
	if c.MinConfirmations > 0 {
		return c.MinConfirmations
	}
	return encoder.Chain(c.Chain).DefaultConfirmations()
}

// Key 缓存 key
func Key(chain, network, asset string) string {
	return chain + ":" + network + ":" + asset
}
