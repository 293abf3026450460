package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New("master-secret")
	require.NoError(t, err)

	sealed, err := c.Encrypt("api-key-value")
	require.NoError(t, err)
	assert.NotEqual(t, "api-key-value", sealed)

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "api-key-value", plain)
}

func TestEncryptNoncesDiffer(t *testing.T) {
	c, err := New("master-secret")
	require.NoError(t, err)

	a, err := c.Encrypt("same")
	require.NoError(t, err)
	b, err := c.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptSurvivesRestart(t *testing.T) {
	first, err := New("master-secret")
	require.NoError(t, err)
	sealed, err := first.Encrypt("value")
	require.NoError(t, err)

	// A fresh cipher from the same master must decrypt existing values.
	second, err := New("master-secret")
	require.NoError(t, err)
	plain, err := second.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "value", plain)
}

func TestDecryptWrongMasterFails(t *testing.T) {
	a, err := New("master-a")
	require.NoError(t, err)
	b, err := New("master-b")
	require.NoError(t, err)

	sealed, err := a.Encrypt("value")
	require.NoError(t, err)
	_, err = b.Decrypt(sealed)
	assert.Error(t, err)
}

func TestDecryptMalformedInput(t *testing.T) {
	c, err := New("master-secret")
	require.NoError(t, err)

	_, err = c.Decrypt("not base64 !!!")
	assert.Error(t, err)

	_, err = c.Decrypt("c2hvcnQ=") // valid base64, shorter than a nonce
	assert.Error(t, err)
}

func TestNewEmptyMaster(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
