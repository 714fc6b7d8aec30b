package encoder

import (
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	tronAddressVersion = 0x41

	// btcec/v2 只导出压缩长度
	pubKeyBytesLenUncompressed = 65
)

func parseSecp256k1(c Chain, raw []byte) (*btcec.PublicKey, error) {
	if len(raw) != btcec.PubKeyBytesLenCompressed && len(raw) != pubKeyBytesLenUncompressed {
		return nil, encodingErr(c, "public key must be 33 or 65 bytes, got %d", len(raw))
	}
	pub, err := btcec.ParsePubKey(raw)
	if err != nil {
		return nil, encodingErr(c, "invalid public key: %v", err)
	}
	return pub, nil
}

// keccak(X||Y) 的后 20 字节
func keccakAccount(pub *btcec.PublicKey) []byte {
	return crypto.Keccak256(pub.SerializeUncompressed()[1:])[12:]
}

// EVM 0x + 20 字节 hex (EIP-55 大小写)
type EVM struct{}

func (EVM) Chain() Chain { return ChainEVM }

func (EVM) Encode(in KeyMaterial, _ Network) (string, error) {
	pub, err := parseSecp256k1(ChainEVM, in.PubKey)
	if err != nil {
		return "", err
	}
	return common.BytesToAddress(keccakAccount(pub)).Hex(), nil
}

// Bitcoin P2WPKH bech32
type Bitcoin struct{}

func (Bitcoin) Chain() Chain { return ChainBitcoin }

func (Bitcoin) Encode(in KeyMaterial, net Network) (string, error) {
	pub, err := parseSecp256k1(ChainBitcoin, in.PubKey)
	if err != nil {
		return "", err
	}
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), BitcoinParams(net))
	if err != nil {
		return "", encodingErr(ChainBitcoin, "%v", err)
	}
	return addr.EncodeAddress(), nil
}

// BitcoinParams 网络参数: bc / tb / bcrt
func BitcoinParams(net Network) *chaincfg.Params {
	switch net {
	case Mainnet:
		return &chaincfg.MainNetParams
	case Regtest:
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.TestNet3Params
	}
}

// Tron 0x41 + 20 字节，Base58Check
type Tron struct{}

func (Tron) Chain() Chain { return ChainTron }

func (Tron) Encode(in KeyMaterial, _ Network) (string, error) {
	pub, err := parseSecp256k1(ChainTron, in.PubKey)
	if err != nil {
		return "", err
	}
	return base58.CheckEncode(keccakAccount(pub), tronAddressVersion), nil
}

// TronHexToBase58 41xxxx (或 0x 前缀的 20 字节) -> T 开头地址，TronGrid 有些接口返回 hex
func TronHexToBase58(h string) (string, error) {
	h = strings.TrimPrefix(strings.TrimPrefix(h, "0x"), "0X")
	raw, err := hex.DecodeString(h)
	if err != nil {
		return "", encodingErr(ChainTron, "invalid hex address: %v", err)
	}
	switch len(raw) {
	case 21:
		if raw[0] != tronAddressVersion {
			return "", encodingErr(ChainTron, "unexpected version byte 0x%x", raw[0])
		}
		raw = raw[1:]
	case 20:
	default:
		return "", encodingErr(ChainTron, "hex address must be 20 or 21 bytes, got %d", len(raw))
	}
	return base58.CheckEncode(raw, tronAddressVersion), nil
}

// TronBase58ToHex T 开头地址 -> 41xxxx
func TronBase58ToHex(addr string) (string, error) {
	payload, version, err := base58.CheckDecode(addr)
	if err != nil {
		return "", encodingErr(ChainTron, "invalid base58 address: %v", err)
	}
	if version != tronAddressVersion || len(payload) != 20 {
		return "", encodingErr(ChainTron, "not a tron address: %s", addr)
	}
	return hex.EncodeToString(append([]byte{tronAddressVersion}, payload...)), nil
}
