package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/config"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
)

func TestConfirmationsForDispatchesByNetworkFamily(t *testing.T) {
	cfg := &config.Config{ConfirmationsEVM: 12, ConfirmationsTron: 20}
	assert.Equal(t, 12, confirmationsFor(cfg, domain.NetworkPolygon))
	assert.Equal(t, 20, confirmationsFor(cfg, domain.NetworkTron))
}

func TestBuildAdapterRejectsUnknownNetwork(t *testing.T) {
	cfg := &config.Config{Explorer: map[domain.Network]config.ExplorerConfig{}}
	_, err := buildAdapter(cfg, domain.Pair{Network: domain.NetworkPolygon, Token: domain.TokenUSDT})
	assert.Error(t, err)
}

func TestBuildAdapterPicksEVMOrTronByNetwork(t *testing.T) {
	cfg := &config.Config{
		ConfirmationsEVM:  12,
		ConfirmationsTron: 20,
		Explorer: map[domain.Network]config.ExplorerConfig{
			domain.NetworkPolygon: {BaseURL: "https://polygonscan.example"},
			domain.NetworkTron:    {BaseURL: "https://tronscan.example"},
		},
	}

	evmAdapter, err := buildAdapter(cfg, domain.Pair{Network: domain.NetworkPolygon, Token: domain.TokenUSDT})
	require.NoError(t, err)
	assert.NotNil(t, evmAdapter)

	tronAdapter, err := buildAdapter(cfg, domain.Pair{Network: domain.NetworkTron, Token: domain.TokenUSDT})
	require.NoError(t, err)
	assert.NotNil(t, tronAdapter)
}
