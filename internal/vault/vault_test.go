package vault

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiteflow/trader/internal/brokererr"
	"github.com/kiteflow/trader/internal/domain"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(t.TempDir(), "unit-test-master-key-material", zerolog.Nop())
	require.NoError(t, err)
	return v
}

func TestVaultSaveLoadRoundTrip(t *testing.T) {
	v := newTestVault(t)
	cred := domain.Credential{Broker: "zerodha", APIKey: "key123", APISecret: "secret456"}

	require.NoError(t, v.Save("zerodha", cred))

	got, err := v.Load("zerodha")
	require.NoError(t, err)
	assert.Equal(t, cred, got)
}

func TestVaultSaveLoadSaveIdempotentCanonicalForm(t *testing.T) {
	v := newTestVault(t)
	cred := domain.Credential{Broker: "zerodha", APIKey: "key123", APISecret: "secret456"}

	require.NoError(t, v.Save("zerodha", cred))
	loaded1, err := v.Load("zerodha")
	require.NoError(t, err)

	require.NoError(t, v.Save("zerodha", loaded1))
	loaded2, err := v.Load("zerodha")
	require.NoError(t, err)

	assert.Equal(t, loaded1, loaded2)
}

func TestVaultLoadMissingReturnsNotFound(t *testing.T) {
	v := newTestVault(t)
	_, err := v.Load("nonexistent")
	assert.ErrorIs(t, err, brokererr.ErrNotFound)
}

func TestVaultLoadCorruptReturnsDecryptFailed(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.Save("zerodha", domain.Credential{Broker: "zerodha", APIKey: "k"}))

	// Corrupt the ciphertext file in place.
	path := v.path("zerodha")
	require.NoError(t, writeGarbage(path))

	_, err := v.Load("zerodha")
	assert.ErrorIs(t, err, brokererr.ErrDecryptFailed)
}

func TestVaultDeleteAndList(t *testing.T) {
	v := newTestVault(t)
	require.NoError(t, v.Save("zerodha", domain.Credential{Broker: "zerodha"}))
	require.NoError(t, v.Save("paper", domain.Credential{Broker: "paper"}))

	brokers, err := v.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"zerodha", "paper"}, brokers)

	require.NoError(t, v.Delete("zerodha"))
	brokers, err = v.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"paper"}, brokers)
}

func writeGarbage(path string) error {
	return os.WriteFile(path, []byte(`{"salt":"AAAA","nonce":"AAAA","ciphertext":"AAAA"}`), 0o600)
}
