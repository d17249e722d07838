package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Decimals is the fixed number of implied decimal places for every amount.
const Decimals = 4

var scale = big.NewInt(10_000)

var (
	errBadAmount      = errors.New("ledger: malformed amount")
	errSymbolMismatch = errors.New("ledger: symbol mismatch")
)

// ParseAmount converts an asset string such as "100.0000 AIM" into raw token
// units, validating the symbol and the fixed four-decimal precision. A bare
// integer part ("100 AIM") is accepted and scaled.
func ParseAmount(s, symbol string) (*big.Int, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) != 2 {
		return nil, fmt.Errorf("%w: %q", errBadAmount, s)
	}
	if fields[1] != symbol {
		return nil, fmt.Errorf("%w: got %q, want %q", errSymbolMismatch, fields[1], symbol)
	}

	whole, frac, hasFrac := strings.Cut(fields[0], ".")
	if hasFrac && len(frac) != Decimals {
		return nil, fmt.Errorf("%w: %q needs %d decimal places", errBadAmount, s, Decimals)
	}

	negative := strings.HasPrefix(whole, "-")
	whole = strings.TrimPrefix(whole, "-")

	units, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errBadAmount, s)
	}
	units.Mul(units, scale)
	if hasFrac {
		fracUnits, ok := new(big.Int).SetString(frac, 10)
		if !ok {
			return nil, fmt.Errorf("%w: %q", errBadAmount, s)
		}
		units.Add(units, fracUnits)
	}
	if negative {
		units.Neg(units)
	}
	return units, nil
}

// FormatAmount renders raw token units as an asset string with the fixed
// four-decimal precision.
func FormatAmount(amount *big.Int, symbol string) string {
	if amount == nil {
		amount = big.NewInt(0)
	}
	sign := ""
	abs := new(big.Int).Abs(amount)
	if amount.Sign() < 0 {
		sign = "-"
	}
	whole := new(big.Int)
	frac := new(big.Int)
	whole.QuoRem(abs, scale, frac)
	return fmt.Sprintf("%s%s.%04d %s", sign, whole.String(), frac.Int64(), symbol)
}
