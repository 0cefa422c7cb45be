// Package units converts token amounts between decimal precisions and formats them for display
package units

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// BasisPoints is the denominator for fee and slippage rates
const BasisPoints = 10000

var (
	ErrOverflow      = errors.New("amount overflows 256 bits")
	ErrInvalidAmount = errors.New("invalid amount")
)

// pow10 caches 10^n for every exponent a token can realistically use
var pow10 [78]*uint256.Int

func init() {
	pow10[0] = uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := 1; i < len(pow10); i++ {
		pow10[i] = new(uint256.Int).Mul(pow10[i-1], ten)
	}
}

// Convert rescales amount from one decimal precision to another. Scaling down truncates.
func Convert(amount *uint256.Int, fromDecimals, toDecimals uint8) (*uint256.Int, error) {
	if amount == nil {
		return nil, ErrInvalidAmount
	}
	if fromDecimals == toDecimals {
		return amount.Clone(), nil
	}
	if int(fromDecimals) >= len(pow10) || int(toDecimals) >= len(pow10) {
		return nil, fmt.Errorf("unsupported precision %d -> %d", fromDecimals, toDecimals)
	}
	if toDecimals > fromDecimals {
		out, overflow := new(uint256.Int).MulOverflow(amount, pow10[toDecimals-fromDecimals])
		if overflow {
			return nil, ErrOverflow
		}
		return out, nil
	}
	return new(uint256.Int).Div(amount, pow10[fromDecimals-toDecimals]), nil
}

// ApplyBps returns amount * bps / 10000
func ApplyBps(amount *uint256.Int, bps uint64) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(amount, uint256.NewInt(bps))
	if overflow {
		return nil, ErrOverflow
	}
	return out.Div(out, uint256.NewInt(BasisPoints)), nil
}

// MinOutput returns the smallest acceptable output for an expected amount and a slippage
// tolerance in basis points
func MinOutput(expected *uint256.Int, slippageBps uint64) (*uint256.Int, error) {
	if slippageBps > BasisPoints {
		return nil, fmt.Errorf("slippage %d bps exceeds 100%%", slippageBps)
	}
	return ApplyBps(expected, BasisPoints-slippageBps)
}

// Parse reads a base-unit decimal string such as "100000000"
func Parse(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, ErrInvalidAmount
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	return v, nil
}

// MustParse is Parse for constants and tests
func MustParse(s string) *uint256.Int {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FromWhole returns whole * 10^decimals, e.g. FromWhole(100, 6) == 100_000_000
func FromWhole(whole uint64, decimals uint8) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(whole), pow10[decimals])
}

// Format renders a base-unit amount as a human readable decimal string, e.g. "99.9"
func Format(amount *uint256.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return ToDecimal(amount, decimals).String()
}

// ToDecimal converts a base-unit amount to a decimal value in whole tokens
func ToDecimal(amount *uint256.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(amount.ToBig(), -int32(decimals))
}

// String renders nil amounts as "0" so records and events never carry empty amounts
func String(amount *uint256.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.Dec()
}
