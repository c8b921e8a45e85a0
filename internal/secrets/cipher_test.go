package secrets

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMasterKey = []byte("0123456789abcdef0123456789abcdef")

func TestCipher_SealOpen(t *testing.T) {
	c, err := NewCipher(testMasterKey, 1)
	require.NoError(t, err)

	sealed, err := c.Seal("api-secret-value")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "ENC[v1]:"))
	assert.NotContains(t, sealed, "api-secret-value")

	opened, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "api-secret-value", opened)
}

func TestCipher_SealIsRandomized(t *testing.T) {
	c, err := NewCipher(testMasterKey, 1)
	require.NoError(t, err)
	a, err := c.Seal("same")
	require.NoError(t, err)
	b, err := c.Seal("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCipher_OpenErrors(t *testing.T) {
	c, err := NewCipher(testMasterKey, 1)
	require.NoError(t, err)
	other, err := NewCipher([]byte("ffffffffffffffffffffffffffffffff"), 1)
	require.NoError(t, err)
	v2, err := NewCipher(testMasterKey, 2)
	require.NoError(t, err)

	sealed, err := c.Seal("secret")
	require.NoError(t, err)

	_, err = other.Open(sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = v2.Open(sealed)
	assert.ErrorIs(t, err, ErrUnknownKeyVersion)

	_, err = c.Open("plaintext")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = c.Open("ENC[v1]:AAAA")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	opened, err := c.Open("")
	require.NoError(t, err)
	assert.Empty(t, opened)
}

func TestNewCipherFromBase64(t *testing.T) {
	enc := base64.StdEncoding.EncodeToString(testMasterKey)
	c, err := NewCipherFromBase64(enc, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Version())

	_, err = NewCipherFromBase64("not base64!!", 1)
	assert.Error(t, err)

	_, err = NewCipher([]byte("short"), 1)
	assert.ErrorIs(t, err, ErrInvalidMasterKey)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "****", Mask("abc"))
	assert.Equal(t, "****wxyz", Mask("abcdefwxyz"))
}
