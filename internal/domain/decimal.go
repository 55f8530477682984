package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// Decimal is an arbitrary-precision amount expressed in a token's base
// units (e.g. wei, or 10^-6 USDT). It never carries a floating-point
// representation; comparisons and arithmetic go through math/big so that
// amounts like "10.00" and "9.999999" can never compare equal by accident.
type Decimal struct {
	base *big.Int
}

// NewDecimalFromBaseUnits wraps an already base-unit integer (as parsed
// from an on-chain log, typically via uint256.Int for ERC-20/TRC-20
// Transfer event values).
func NewDecimalFromBaseUnits(base *big.Int) Decimal {
	if base == nil {
		return Decimal{base: big.NewInt(0)}
	}
	return Decimal{base: new(big.Int).Set(base)}
}

// NewDecimalFromUint256 converts a 256-bit on-chain integer value.
func NewDecimalFromUint256(v *uint256.Int) Decimal {
	if v == nil {
		return Decimal{base: big.NewInt(0)}
	}
	return Decimal{base: v.ToBig()}
}

// ParseDecimal parses a human-readable decimal string ("10.00") against a
// token's base-unit exponent into a Decimal. It rejects scientific
// notation and more fractional digits than the token supports.
func ParseDecimal(human string, decimals int32) (Decimal, error) {
	human = strings.TrimSpace(human)
	if human == "" {
		return Decimal{}, fmt.Errorf("domain: empty decimal amount")
	}
	neg := false
	if strings.HasPrefix(human, "-") {
		neg = true
		human = human[1:]
	}
	intPart, fracPart, hasFrac := strings.Cut(human, ".")
	if hasFrac && int32(len(fracPart)) > decimals {
		return Decimal{}, fmt.Errorf("domain: %q has more than %d fractional digits", human, decimals)
	}
	for _, r := range intPart + fracPart {
		if r < '0' || r > '9' {
			return Decimal{}, fmt.Errorf("domain: %q is not a plain decimal number", human)
		}
	}
	if intPart == "" {
		intPart = "0"
	}
	fracPart = fracPart + strings.Repeat("0", int(decimals)-len(fracPart))

	base, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok {
		return Decimal{}, fmt.Errorf("domain: %q is not a valid integer after scaling", human)
	}
	if neg {
		base.Neg(base)
	}
	return Decimal{base: base}, nil
}

// BaseUnits returns the underlying base-unit integer. Callers must not
// mutate the result.
func (d Decimal) BaseUnits() *big.Int {
	if d.base == nil {
		return big.NewInt(0)
	}
	return d.base
}

// String renders the base-unit integer verbatim (for logging); use Format
// for a human decimal rendering.
func (d Decimal) String() string {
	return d.BaseUnits().String()
}

// Format renders a human-readable decimal string for the given token
// exponent, e.g. Format(6) on base units 10000000 yields "10.00".
// Trailing zeros past the second fractional digit are dropped.
func (d Decimal) Format(decimals int32) string {
	base := new(big.Int).Set(d.BaseUnits())
	neg := base.Sign() < 0
	if neg {
		base.Neg(base)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	intPart := new(big.Int)
	fracPart := new(big.Int)
	intPart.QuoRem(base, scale, fracPart)
	fracStr := fracPart.String()
	if pad := int(decimals) - len(fracStr); pad > 0 {
		fracStr = strings.Repeat("0", pad) + fracStr
	}
	for len(fracStr) > 2 && fracStr[len(fracStr)-1] == '0' {
		fracStr = fracStr[:len(fracStr)-1]
	}
	sign := ""
	if neg {
		sign = "-"
	}
	if decimals == 0 {
		return sign + intPart.String()
	}
	return fmt.Sprintf("%s%s.%s", sign, intPart.String(), fracStr)
}

// Cmp compares two Decimals; both must already be in the same base-unit
// scale (the caller is responsible for comparing like tokens).
func (d Decimal) Cmp(other Decimal) int {
	return d.BaseUnits().Cmp(other.BaseUnits())
}

// GreaterOrEqual reports d >= other.
func (d Decimal) GreaterOrEqual(other Decimal) bool {
	return d.Cmp(other) >= 0
}

func (d Decimal) IsZero() bool {
	return d.BaseUnits().Sign() == 0
}
