// Package hdwallet BIP39/BIP32 密钥派生。助记词相关只给离线工具用，服务进程只碰公钥
package hdwallet

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
)

// SLIP-44 coin type
const (
	CoinBitcoin  uint32 = 0
	CoinEthereum uint32 = 60
	CoinRipple   uint32 = 144
	CoinTron     uint32 = 195
	CoinCardano  uint32 = 1815
)

const purposeBIP44 uint32 = 44

var ErrInvalidMnemonic = errors.New("hdwallet: invalid mnemonic")

// HDWallet 持有 master 私钥，用完即丢
type HDWallet struct {
	master *hdkeychain.ExtendedKey
}

type options struct {
	passphrase string
}

type Option func(*options)

// WithPassphrase BIP39 的第 25 个词
func WithPassphrase(p string) Option {
	return func(o *options) { o.passphrase = p }
}

// New params 决定导出的前缀 (xpub/tpub)
func New(mnemonic string, params *chaincfg.Params, opts ...Option) (*HDWallet, error) {
	if mnemonic == "" || !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	master, err := hdkeychain.NewMaster(bip39.NewSeed(mnemonic, o.passphrase), params)
	if err != nil {
		return nil, fmt.Errorf("hdwallet: master key: %w", err)
	}
	return &HDWallet{master: master}, nil
}

// NewMnemonic 256 位熵，24 个词
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// AccountXPub m/44'/coin'/account' 的扩展公钥，服务端在它下面做非硬化派生
func (w *HDWallet) AccountXPub(coinType, account uint32) (string, error) {
	key, err := deriveHardened(w.master, purposeBIP44, coinType, account)
	if err != nil {
		return "", err
	}
	pub, err := key.Neuter()
	if err != nil {
		return "", err
	}
	return pub.String(), nil
}

func deriveHardened(key *hdkeychain.ExtendedKey, path ...uint32) (*hdkeychain.ExtendedKey, error) {
	for _, i := range path {
		var err error
		if key, err = key.Derive(hdkeychain.HardenedKeyStart + i); err != nil {
			return nil, fmt.Errorf("hdwallet: derive %d': %w", i, err)
		}
	}
	return key, nil
}

// Path 存库用的完整路径，例如 m/44'/60'/0'/0/7
func Path(purpose, coinType, account, role, index uint32) string {
	return fmt.Sprintf("m/%d'/%d'/%d'/%d/%d", purpose, coinType, account, role, index)
}
