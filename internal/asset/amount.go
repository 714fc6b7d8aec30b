package asset

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// MaxDecimals decimal(36,18) 能存下的最大精度
const MaxDecimals = 18

// FormatUnits 最小单位 -> 固定 decimals 位小数的字符串，例如 1000000@6 -> "1.000000"
func FormatUnits(v *big.Int, decimals int32) (string, error) {
	if v == nil {
		return "", fmt.Errorf("nil amount")
	}
	if decimals < 0 || decimals > MaxDecimals {
		return "", fmt.Errorf("bad decimals %d", decimals)
	}
	return decimal.NewFromBigInt(v, -decimals).StringFixed(decimals), nil
}

// ParseUnits 十进制字符串 -> 最小单位，多余精度报错
func ParseUnits(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("malformed amount %q: %w", s, err)
	}
	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("amount %q exceeds %d decimals", s, decimals)
	}
	return shifted.BigInt(), nil
}
