package hdwallet

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcd/btcutil/bech32"
)

// Ed25519XPub BIP32-Ed25519 扩展公钥 (Cardano 账户级 acct_xvk)
type Ed25519XPub struct {
	Key       [32]byte
	ChainCode [32]byte
}

// ParseEd25519XPub 支持 128 位 hex 或 bech32 (acct_xvk / xpub 前缀)
func ParseEd25519XPub(s string) (*Ed25519XPub, error) {
	s = strings.TrimSpace(s)
	var raw []byte
	if b, err := hex.DecodeString(s); err == nil {
		raw = b
	} else {
		_, data, err := bech32.DecodeNoLimit(s)
		if err != nil {
			return nil, fmt.Errorf("decode ed25519 xpub: %w", err)
		}
		raw, err = bech32.ConvertBits(data, 5, 8, false)
		if err != nil {
			return nil, fmt.Errorf("decode ed25519 xpub: %w", err)
		}
	}
	if len(raw) != 64 {
		return nil, fmt.Errorf("ed25519 xpub must be 64 bytes, got %d", len(raw))
	}
	if _, err := new(edwards25519.Point).SetBytes(raw[:32]); err != nil {
		return nil, fmt.Errorf("ed25519 xpub: invalid point: %w", err)
	}
	x := &Ed25519XPub{}
	copy(x.Key[:], raw[:32])
	copy(x.ChainCode[:], raw[32:])
	return x, nil
}

// Derive 软派生 (V2)，只支持非硬化索引
//
//	Z   = HMAC-SHA512(c, 0x02 || A || i)
//	A_i = A + [8 * ZL[:28]]B
//	c_i = HMAC-SHA512(c, 0x03 || A || i)[32:]
func (x *Ed25519XPub) Derive(index uint32) (*Ed25519XPub, error) {
	if index >= 1<<31 {
		return nil, errors.New("hardened index not allowed from public key")
	}
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], index)

	z := hmacSHA512(x.ChainCode[:], []byte{0x02}, x.Key[:], idx[:])

	// 8 * ZL，28 字节小端整数左移 3 位，结果 < 2^227，一定小于群阶
	var zl8 [32]byte
	var carry byte
	for i := 0; i < 28; i++ {
		zl8[i] = z[i]<<3 | carry
		carry = z[i] >> 5
	}
	zl8[28] = carry

	s, err := edwards25519.NewScalar().SetCanonicalBytes(zl8[:])
	if err != nil {
		return nil, err
	}
	parent, err := new(edwards25519.Point).SetBytes(x.Key[:])
	if err != nil {
		return nil, err
	}
	child := new(edwards25519.Point).Add(parent, new(edwards25519.Point).ScalarBaseMult(s))

	cc := hmacSHA512(x.ChainCode[:], []byte{0x03}, x.Key[:], idx[:])

	out := &Ed25519XPub{}
	copy(out.Key[:], child.Bytes())
	copy(out.ChainCode[:], cc[32:])
	return out, nil
}

// DeriveEd25519 账户 xpub -> role -> index，返回 32 字节公钥
func DeriveEd25519(accountXPub string, role, index uint32) ([]byte, error) {
	acct, err := ParseEd25519XPub(accountXPub)
	if err != nil {
		return nil, err
	}
	r, err := acct.Derive(role)
	if err != nil {
		return nil, err
	}
	k, err := r.Derive(index)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), k.Key[:]...), nil
}

func hmacSHA512(key []byte, parts ...[]byte) []byte {
	m := hmac.New(sha512.New, key)
	for _, p := range parts {
		m.Write(p)
	}
	return m.Sum(nil)
}
