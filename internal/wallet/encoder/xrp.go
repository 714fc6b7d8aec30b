package encoder

import (
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
)

const (
	rippleAlphabet  = "rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz"
	bitcoinAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
)

// 两套字母表只是排列不同，映射后即可复用 base58check
var rippleToBitcoin = strings.NewReplacer(func() []string {
	pairs := make([]string, 0, 2*len(rippleAlphabet))
	for i := range rippleAlphabet {
		pairs = append(pairs, rippleAlphabet[i:i+1], bitcoinAlphabet[i:i+1])
	}
	return pairs
}()...)

// XRP 不做派生，地址就是主地址，用户靠 destination tag 区分
type XRP struct{}

func (XRP) Chain() Chain { return ChainXRP }

func (XRP) Encode(in KeyMaterial, _ Network) (string, error) {
	if err := ValidateXRPAddress(in.Literal); err != nil {
		return "", err
	}
	return in.Literal, nil
}

// ValidateXRPAddress 校验 classic address (r 开头，版本 0x00，20 字节账户)
func ValidateXRPAddress(addr string) error {
	if len(addr) < 25 || len(addr) > 35 || addr[0] != 'r' {
		return encodingErr(ChainXRP, "malformed classic address %q", addr)
	}
	for _, ch := range addr {
		if !strings.ContainsRune(rippleAlphabet, ch) {
			return encodingErr(ChainXRP, "malformed classic address %q", addr)
		}
	}
	payload, version, err := base58.CheckDecode(rippleToBitcoin.Replace(addr))
	if err != nil {
		return encodingErr(ChainXRP, "checksum mismatch for %q", addr)
	}
	if version != 0 || len(payload) != 20 {
		return encodingErr(ChainXRP, "not an account address %q", addr)
	}
	return nil
}
