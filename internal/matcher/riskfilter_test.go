package matcher

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/store"
)

func TestRiskFilterNoExpressionAllowsEverything(t *testing.T) {
	f, err := NewRiskFilter("")
	require.NoError(t, err)

	allow, err := f.Allow(store.UnknownPaymentDetail{ToAddress: "0xknown"})
	require.NoError(t, err)
	require.True(t, allow)
}

func TestRiskFilterSuppressesMatchingAddress(t *testing.T) {
	f, err := NewRiskFilter(`to_address == "0xsweep"`)
	require.NoError(t, err)

	allow, err := f.Allow(store.UnknownPaymentDetail{
		ToAddress: "0xsweep",
		Network:   domain.NetworkEthereum,
		Value:     domain.NewDecimalFromBaseUnits(big.NewInt(1)),
	})
	require.NoError(t, err)
	require.False(t, allow)

	allow, err = f.Allow(store.UnknownPaymentDetail{
		ToAddress: "0xother",
		Network:   domain.NetworkEthereum,
		Value:     domain.NewDecimalFromBaseUnits(big.NewInt(1)),
	})
	require.NoError(t, err)
	require.True(t, allow)
}

func TestNewRiskFilterRejectsInvalidExpression(t *testing.T) {
	_, err := NewRiskFilter("not a valid expression (((")
	require.Error(t, err)
}
