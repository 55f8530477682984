package ocrchmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/ocrchmetrics"
)

func TestNewRegistersEveryMetricExactlyOnce(t *testing.T) {
	r := ocrchmetrics.New()
	families, err := r.Gatherer.Gather()
	require.NoError(t, err)
	assert.Empty(t, families, "a freshly built registry has no observed samples yet")
}

func TestCountersAccumulateByLabel(t *testing.T) {
	r := ocrchmetrics.New()
	r.MatchesFulfilled.With(map[string]string{"network": "polygon", "token": "usdt"}).Inc()
	r.MatchesFulfilled.With(map[string]string{"network": "polygon", "token": "usdt"}).Inc()
	r.MatchesFulfilled.With(map[string]string{"network": "tron", "token": "usdt"}).Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(r.MatchesFulfilled.With(map[string]string{"network": "polygon", "token": "usdt"})))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.MatchesFulfilled.With(map[string]string{"network": "tron", "token": "usdt"})))
}

func TestNewDoesNotDoubleRegisterAgainstItsOwnRegistry(t *testing.T) {
	// Registering the same collector twice against one registerer is a
	// caller bug client_golang surfaces by panicking; New must not
	// accidentally register any metric twice against its own registry.
	assert.NotPanics(t, func() { ocrchmetrics.New() })
}
