package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/btcsuite/btcd/chaincfg"

	"gopherex.com/custody/internal/wallet/encoder"
	"gopherex.com/custody/internal/wallet/service"
	"gopherex.com/custody/pkg/hdwallet"
)

// 助记词和口令只从环境变量读，不进 shell history
const (
	mnemonicEnv   = "ROOTCTL_MNEMONIC"
	passphraseEnv = "ROOTCTL_PASSPHRASE"
)

func cmdMnemonic(out io.Writer) error {
	m, err := hdwallet.NewMnemonic()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, m)
	return err
}

func cmdXPub(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("xpub", flag.ContinueOnError)
	chain := fs.String("chain", "", "evm, bitcoin or tron")
	network := fs.String("network", "mainnet", "network of the chain")
	account := fs.Uint("account", 0, "BIP44 account index")
	if err := fs.Parse(args); err != nil {
		return err
	}
	xpub, err := accountXPub(os.Getenv(mnemonicEnv), *chain, *network, uint32(*account),
		hdwallet.WithPassphrase(os.Getenv(passphraseEnv)))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, xpub)
	return err
}

// accountXPub m/44'/coin'/account'，coin 与服务端派生用的一致
func accountXPub(mnemonic, chain, network string, account uint32, opts ...hdwallet.Option) (string, error) {
	c, err := encoder.ParseChain(chain)
	if err != nil {
		return "", err
	}
	n, err := encoder.ParseNetwork(c, network)
	if err != nil {
		return "", err
	}
	switch c {
	case encoder.ChainXRP:
		return "", errors.New("xrp roots are literal addresses, use add-root -literal")
	case encoder.ChainCardano:
		return "", errors.New("cardano account keys come from a BIP32-Ed25519 wallet, export acct_xvk there")
	}
	params := &chaincfg.MainNetParams
	if c == encoder.ChainBitcoin {
		params = encoder.BitcoinParams(n)
	}
	w, err := hdwallet.New(mnemonic, params, opts...)
	if err != nil {
		return "", err
	}
	return w.AccountXPub(service.CoinType(c), account)
}
