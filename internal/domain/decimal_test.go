package domain_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
)

func TestParseDecimalScalesToBaseUnits(t *testing.T) {
	d, err := domain.ParseDecimal("10.00", 6)
	require.NoError(t, err)
	assert.Equal(t, "10000000", d.String())
	assert.Equal(t, "10.00", d.Format(6))
}

func TestParseDecimalRejectsTooManyFractionalDigits(t *testing.T) {
	_, err := domain.ParseDecimal("10.0000001", 6)
	assert.Error(t, err)
}

func TestParseDecimalRejectsNonNumeric(t *testing.T) {
	_, err := domain.ParseDecimal("10.00e3", 6)
	assert.Error(t, err)
}

func TestParseDecimalRejectsEmpty(t *testing.T) {
	_, err := domain.ParseDecimal("", 6)
	assert.Error(t, err)
}

func TestParseDecimalAcceptsIntegerOnly(t *testing.T) {
	d, err := domain.ParseDecimal("5", 6)
	require.NoError(t, err)
	assert.Equal(t, "5000000", d.String())
}

func TestDecimalGreaterOrEqualNeverCompareByFloat(t *testing.T) {
	// 9.999999 and 10.00 must never compare equal even though a naive
	// float64 round-trip could collapse the difference.
	nine, err := domain.ParseDecimal("9.999999", 6)
	require.NoError(t, err)
	ten, err := domain.ParseDecimal("10.00", 6)
	require.NoError(t, err)

	assert.False(t, nine.GreaterOrEqual(ten))
	assert.True(t, ten.GreaterOrEqual(nine))
	assert.True(t, ten.GreaterOrEqual(ten))
}

func TestDecimalIsZero(t *testing.T) {
	zero := domain.NewDecimalFromBaseUnits(big.NewInt(0))
	assert.True(t, zero.IsZero())

	nonzero := domain.NewDecimalFromBaseUnits(big.NewInt(1))
	assert.False(t, nonzero.IsZero())
}

func TestDecimalFormatNegative(t *testing.T) {
	neg, err := domain.ParseDecimal("-1.50", 2)
	require.NoError(t, err)
	assert.Equal(t, "-1.50", neg.Format(2))
	assert.Equal(t, "-150", neg.String())
}

func TestDecimalFormatZeroDecimals(t *testing.T) {
	d := domain.NewDecimalFromBaseUnits(big.NewInt(42))
	assert.Equal(t, "42", d.Format(0))
}
