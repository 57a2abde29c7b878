package evm

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// TokenDecimals is the precision of the staking token and of the contract's USD figures.
const TokenDecimals = 18

// OneToken is 10^18 base units.
var OneToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(TokenDecimals), nil)

// FormatUnits renders a fixed-point amount truncated to places decimals, trailing zeros removed.
func FormatUnits(amount *big.Int, decimals int32, places int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).Truncate(places).String()
}

// FormatToken renders an 18 decimal token amount w/ up to 4 decimals.
func FormatToken(amount *big.Int) string {
	return FormatUnits(amount, TokenDecimals, 4)
}

// FormatUSD renders an 18 decimal USD amount w/ exactly 2 decimals.
func FormatUSD(amount *big.Int) string {
	if amount == nil {
		return "0.00"
	}
	return decimal.NewFromBigInt(amount, -TokenDecimals).StringFixed(2)
}

// ParseUnits converts a decimal string (ie: "1000.5") into base units. Digits beyond decimals are truncated.
func ParseUnits(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: negative", s)
	}
	return d.Shift(decimals).BigInt(), nil
}

// ToFloat converts base units to a float for display only calculations.
func ToFloat(amount *big.Int, decimals int32) float64 {
	if amount == nil {
		return 0
	}
	return decimal.NewFromBigInt(amount, -decimals).InexactFloat64()
}
