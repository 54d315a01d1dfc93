package solana

import (
	"strings"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWallet_DecodesKeypair(t *testing.T) {
	raw := make([]byte, 64)
	for i := range raw {
		raw[i] = byte(i)
	}
	wallet, err := NewWallet(base58.Encode(raw))
	require.NoError(t, err)

	assert.Equal(t, Pubkey(base58.Encode(raw[32:])), wallet.Pubkey())
	assert.False(t, wallet.DryRun())
}

func TestNewWallet_RejectsBadInput(t *testing.T) {
	_, err := NewWallet("not-base58-0OIl")
	assert.ErrorContains(t, err, "decode private key")

	_, err = NewWallet(base58.Encode(make([]byte, 32)))
	assert.ErrorContains(t, err, "64-byte keypair")
}

func TestDryRunWallet_SyntheticSignatures(t *testing.T) {
	wallet := NewDryRunWallet()
	assert.True(t, wallet.DryRun())
	assert.NotEmpty(t, wallet.Pubkey())

	sig1 := wallet.SignSynthetic("buy:pos-1")
	sig2 := wallet.SignSynthetic("buy:pos-1")

	assert.True(t, strings.HasPrefix(string(sig1), "DRY"))
	assert.NotEqual(t, sig1, sig2, "sequence makes signatures unique")
}
