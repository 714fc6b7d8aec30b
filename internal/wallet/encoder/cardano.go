package encoder

import (
	"github.com/btcsuite/btcd/btcutil/bech32"
	"golang.org/x/crypto/blake2b"
)

const (
	cardanoKeyLen  = 32
	cardanoHashLen = 28

	cardanoBaseHeader       = 0x00 // 支付 key hash + 质押 key hash
	cardanoEnterpriseHeader = 0x60 // 只有支付 key hash
)

// CardanoAddressBuilder 地址拼装，隔离在接口后面方便替换成外部地址库
type CardanoAddressBuilder interface {
	BaseAddress(paymentHash, stakeHash []byte, mainnet bool) (string, error)
	EnterpriseAddress(paymentHash []byte, mainnet bool) (string, error)
}

// Cardano 支付链和质押链两次独立派生，结果交给 builder 拼装
type Cardano struct {
	builder CardanoAddressBuilder
}

func NewCardano(b CardanoAddressBuilder) Cardano {
	if b == nil {
		b = ShelleyBuilder{}
	}
	return Cardano{builder: b}
}

func (Cardano) Chain() Chain { return ChainCardano }

func (c Cardano) Encode(in KeyMaterial, net Network) (string, error) {
	payHash, err := CardanoKeyHash(in.PubKey)
	if err != nil {
		return "", err
	}
	if len(in.StakeKey) == 0 {
		// legacy 单密钥模式
		return c.builder.EnterpriseAddress(payHash, net.IsMainnet())
	}
	stakeHash, err := CardanoKeyHash(in.StakeKey)
	if err != nil {
		return "", err
	}
	return c.builder.BaseAddress(payHash, stakeHash, net.IsMainnet())
}

// CardanoKeyHash blake2b-224(pubkey)
func CardanoKeyHash(pub []byte) ([]byte, error) {
	if len(pub) != cardanoKeyLen {
		return nil, encodingErr(ChainCardano, "ed25519 public key must be 32 bytes, got %d", len(pub))
	}
	h, err := blake2b.New(cardanoHashLen, nil)
	if err != nil {
		return nil, encodingErr(ChainCardano, "%v", err)
	}
	h.Write(pub)
	return h.Sum(nil), nil
}

// ShelleyBuilder 纯 Go 的 Shelley 地址拼装 (CIP-19)
type ShelleyBuilder struct{}

func (ShelleyBuilder) BaseAddress(paymentHash, stakeHash []byte, mainnet bool) (string, error) {
	if len(paymentHash) != cardanoHashLen || len(stakeHash) != cardanoHashLen {
		return "", encodingErr(ChainCardano, "key hash must be %d bytes", cardanoHashLen)
	}
	raw := make([]byte, 0, 1+2*cardanoHashLen)
	raw = append(raw, cardanoBaseHeader|networkID(mainnet))
	raw = append(raw, paymentHash...)
	raw = append(raw, stakeHash...)
	return encodeCardano(raw, mainnet)
}

func (ShelleyBuilder) EnterpriseAddress(paymentHash []byte, mainnet bool) (string, error) {
	if len(paymentHash) != cardanoHashLen {
		return "", encodingErr(ChainCardano, "key hash must be %d bytes", cardanoHashLen)
	}
	raw := append([]byte{cardanoEnterpriseHeader | networkID(mainnet)}, paymentHash...)
	return encodeCardano(raw, mainnet)
}

func networkID(mainnet bool) byte {
	if mainnet {
		return 1
	}
	return 0
}

func encodeCardano(raw []byte, mainnet bool) (string, error) {
	hrp := "addr_test"
	if mainnet {
		hrp = "addr"
	}
	conv, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", encodingErr(ChainCardano, "%v", err)
	}
	// Shelley 地址超过 90 字符，bech32.Encode 本身不限制长度
	out, err := bech32.Encode(hrp, conv)
	if err != nil {
		return "", encodingErr(ChainCardano, "%v", err)
	}
	return out, nil
}
