package crypto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCipherRejectsEmptyMasterKey(t *testing.T) {
	_, err := NewCipher("")
	require.Error(t, err)
}

func TestSealOpenRoundtrip(t *testing.T) {
	c, err := NewCipher("correct horse battery staple")
	require.NoError(t, err)

	for _, plaintext := range []string{"api-secret-xyz", "", "pässphräse ☕"} {
		sealed, err := c.Seal(plaintext)
		require.NoError(t, err)

		got, err := c.Open(sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestSealUsesFreshSaltAndNonce(t *testing.T) {
	c, err := NewCipher("master")
	require.NoError(t, err)

	a, err := c.Seal("same secret")
	require.NoError(t, err)
	b, err := c.Seal("same secret")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)

	var sa, sb sealedJSON
	require.NoError(t, json.Unmarshal([]byte(a), &sa))
	require.NoError(t, json.Unmarshal([]byte(b), &sb))
	assert.NotEqual(t, sa.Salt, sb.Salt)
	assert.NotEqual(t, sa.Nonce, sb.Nonce)
	assert.Equal(t, currentVersion, sa.Version)
}

func TestOpenWithWrongMasterKeyFails(t *testing.T) {
	sealer, err := NewCipher("the right key")
	require.NoError(t, err)
	sealed, err := sealer.Seal("api-secret")
	require.NoError(t, err)

	opener, err := NewCipher("the wrong key")
	require.NoError(t, err)
	_, err = opener.Open(sealed)
	require.Error(t, err)
}

func TestOpenRejectsMalformedInput(t *testing.T) {
	c, err := NewCipher("master")
	require.NoError(t, err)

	_, err = c.Open("not json")
	assert.Error(t, err)

	_, err = c.Open(`{"version":9,"salt":"","nonce":"","ciphertext":""}`)
	assert.Error(t, err)
}
