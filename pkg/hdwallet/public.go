package hdwallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// DerivePublic 从账户级 xpub 做非硬化派生: xpub/role/index
func DerivePublic(xpub string, role, index uint32) (*btcec.PublicKey, error) {
	if index >= hdkeychain.HardenedKeyStart || role >= hdkeychain.HardenedKeyStart {
		return nil, fmt.Errorf("hardened index not allowed from xpub: %d/%d", role, index)
	}
	key, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return nil, fmt.Errorf("parse extended key: %w", err)
	}
	if key.IsPrivate() {
		// 服务端只允许保存公钥，私钥串一律拒绝
		return nil, fmt.Errorf("extended private key is not accepted")
	}
	child, err := key.Derive(role)
	if err != nil {
		return nil, err
	}
	child, err = child.Derive(index)
	if err != nil {
		return nil, err
	}
	return child.ECPubKey()
}
