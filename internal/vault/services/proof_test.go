package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altexo/walletvault/internal/vault/interfaces"
)

func TestParseProofPrivateKey(t *testing.T) {
	for _, raw := range []string{
		testPrivateKey,
		"0x" + testPrivateKey,
		"  " + strings.ToUpper(testPrivateKey) + "  ",
	} {
		proof, err := ParseProof(raw)
		require.NoError(t, err)
		pk, ok := proof.(PrivateKeyProof)
		require.True(t, ok, "raw %q", raw)
		assert.Equal(t, testPrivateKey, pk.Hex)
	}
}

func TestParseProofSignedMessage(t *testing.T) {
	sig := strings.Repeat("ab", 65)
	proof, err := ParseProof("0x" + sig)
	require.NoError(t, err)
	sm, ok := proof.(SignedMessageProof)
	require.True(t, ok)
	assert.Equal(t, sig, sm.Signature)
}

func TestParseProofWalletConnection(t *testing.T) {
	for _, raw := range []string{
		"wc:abc123@2?relay-protocol=irn",
		"ethereum:0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266",
	} {
		proof, err := ParseProof(raw)
		require.NoError(t, err)
		_, ok := proof.(WalletConnectionProof)
		assert.True(t, ok, "raw %q", raw)
	}
}

func TestParseProofUnrecognized(t *testing.T) {
	for _, raw := range []string{
		"",
		"hello world",
		strings.Repeat("ab", 20),  // 40 hex chars: address-shaped, not a key
		strings.Repeat("ab", 100), // 200 hex chars
		"wcx:not-a-connection",
	} {
		_, err := ParseProof(raw)
		assert.ErrorIs(t, err, interfaces.ErrUnsupportedProofType, "raw %q", raw)
	}
}
