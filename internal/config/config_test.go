package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
)

func TestEnsureHashedSecretHashesPlaintext(t *testing.T) {
	encoded, rewritten, err := EnsureHashedSecret("hunter2")
	require.NoError(t, err)
	require.True(t, rewritten)
	require.Contains(t, encoded, argon2Prefix)

	ok, err := VerifySecret("hunter2", encoded)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifySecret("wrong", encoded)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEnsureHashedSecretPassesThroughExisting(t *testing.T) {
	encoded, _, err := EnsureHashedSecret("hunter2")
	require.NoError(t, err)

	again, rewritten, err := EnsureHashedSecret(encoded)
	require.NoError(t, err)
	require.False(t, rewritten)
	require.Equal(t, encoded, again)
}

func TestConfigValidateRejectsMissingExplorer(t *testing.T) {
	cfg := &Config{
		Pairs: []PairConfig{{
			Pair:           domain.Pair{Network: domain.NetworkEthereum, Token: domain.TokenUSDT},
			MerchantWallet: "0xabc",
			Enabled:        true,
		}},
		Explorer: map[domain.Network]ExplorerConfig{},
	}
	err := cfg.Validate()
	require.Error(t, err)
}
