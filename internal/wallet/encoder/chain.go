// Package encoder 各链公钥到充值地址的纯函数编码，不做任何 I/O
package encoder

import (
	"strings"

	"gopherex.com/custody/pkg/xerr"
)

// Chain 链类型 (tagged enum)
type Chain string

const (
	ChainEVM     Chain = "evm"
	ChainBitcoin Chain = "bitcoin"
	ChainTron    Chain = "tron"
	ChainXRP     Chain = "xrp"
	ChainCardano Chain = "cardano"
)

// Network 网络
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Regtest Network = "regtest"
	Preprod Network = "preprod"
	Preview Network = "preview"
)

var chainAliases = map[string]Chain{
	"evm": ChainEVM, "eth": ChainEVM, "ethereum": ChainEVM,
	"bitcoin": ChainBitcoin, "btc": ChainBitcoin,
	"tron": ChainTron, "trx": ChainTron,
	"xrp": ChainXRP, "ripple": ChainXRP,
	"cardano": ChainCardano, "ada": ChainCardano,
}

// 每条链允许的网络
var chainNetworks = map[Chain][]Network{
	ChainEVM:     {Mainnet, Testnet},
	ChainBitcoin: {Mainnet, Testnet, Regtest},
	ChainTron:    {Mainnet, Testnet},
	ChainXRP:     {Mainnet, Testnet},
	ChainCardano: {Mainnet, Testnet, Preprod, Preview},
}

// ParseChain 解析链名，支持常见别名
func ParseChain(s string) (Chain, error) {
	c, ok := chainAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", xerr.Newf(xerr.RequestParamsError, "InvalidChain: %q", s)
	}
	return c, nil
}

// ParseNetwork 校验网络是否属于该链
func ParseNetwork(c Chain, s string) (Network, error) {
	n := Network(strings.ToLower(strings.TrimSpace(s)))
	for _, allowed := range chainNetworks[c] {
		if allowed == n {
			return n, nil
		}
	}
	return "", xerr.Newf(xerr.RequestParamsError, "InvalidNetwork: %q for chain %s", s, c)
}

// IsMainnet 非主网都按测试网编码
func (n Network) IsMainnet() bool { return n == Mainnet }

// AllChains 所有支持的链
func AllChains() []Chain {
	return []Chain{ChainEVM, ChainBitcoin, ChainTron, ChainXRP, ChainCardano}
}

// RoutingType 充值路由方式
type RoutingType string

const (
	RoutingAddress        RoutingType = "address"
	RoutingDestinationTag RoutingType = "destination_tag"
)

// Routing 该链是否使用共享地址 + destination tag
func (c Chain) Routing() RoutingType {
	if c == ChainXRP {
		return RoutingDestinationTag
	}
	return RoutingAddress
}

// DefaultConfirmations 链默认确认数
func (c Chain) DefaultConfirmations() uint32 {
	switch c {
	case ChainEVM:
		return 12
	case ChainBitcoin:
		return 3
	case ChainTron:
		return 19
	case ChainCardano:
		return 15
	case ChainXRP:
		return 1
	}
	return 1
}

// NormalizeAddress 地址比较用的规范形式
// EVM / bech32 大小写不敏感，base58 大小写敏感
func NormalizeAddress(c Chain, addr string) string {
	addr = strings.TrimSpace(addr)
	switch c {
	case ChainEVM, ChainBitcoin:
		return strings.ToLower(addr)
	}
	return addr
}
