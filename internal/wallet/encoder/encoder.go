package encoder

import (
	"fmt"

	"gopherex.com/custody/pkg/xerr"
)

// KeyMaterial 编码输入
//   - PubKey: secp256k1 (33/65 字节) 或 ed25519 支付公钥 (32 字节)
//   - StakeKey: 仅 Cardano，为空时走 legacy 单密钥地址
//   - Literal: 仅 XRP，主地址
type KeyMaterial struct {
	PubKey   []byte
	StakeKey []byte
	Literal  string
}

// Encoder 每条链一个实现
type Encoder interface {
	Chain() Chain
	Encode(in KeyMaterial, net Network) (string, error)
}

var registry = map[Chain]Encoder{
	ChainEVM:     EVM{},
	ChainBitcoin: Bitcoin{},
	ChainTron:    Tron{},
	ChainXRP:     XRP{},
	ChainCardano: NewCardano(nil),
}

// For 按链选择编码器
func For(c Chain) (Encoder, error) {
	e, ok := registry[c]
	if !ok {
		return nil, xerr.Newf(xerr.RequestParamsError, "InvalidChain: %q", c)
	}
	return e, nil
}

func encodingErr(c Chain, format string, args ...any) error {
	return xerr.New(xerr.EncodingError, fmt.Sprintf("%s: ", c)+fmt.Sprintf(format, args...))
}
