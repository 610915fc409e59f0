package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "12345678901234567890123456789012"

func TestNewCryptoService(t *testing.T) {
	_, err := NewCryptoService("short")
	assert.ErrorIs(t, err, ErrInvalidKeyLength)

	svc, err := NewCryptoService(testKey)
	require.NoError(t, err)
	assert.NotContains(t, svc.String(), testKey)
}

func TestEncryptDecrypt(t *testing.T) {
	svc, err := NewCryptoService(testKey)
	require.NoError(t, err)

	c1, err := svc.Encrypt("s3cret")
	require.NoError(t, err)
	c2, err := svc.Encrypt("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2, "nonce must differ per call")

	plain, err := svc.Decrypt(c1)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", plain)
}

func TestDecryptErrors(t *testing.T) {
	svc, _ := NewCryptoService(testKey)
	other, _ := NewCryptoService("abcdefghijklmnopqrstuvwxyz123456")

	_, err := svc.Decrypt("%%%")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = svc.Decrypt(base64.StdEncoding.EncodeToString([]byte("x")))
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	c, _ := other.Encrypt("pw")
	_, err = svc.Decrypt(c)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestExpandDSN(t *testing.T) {
	svc, _ := NewCryptoService(testKey)
	enc, _ := svc.Encrypt("pa:ss")

	dsn, err := svc.ExpandDSN("root:{password}@tcp(db:3306)/acme", enc)
	require.NoError(t, err)
	assert.Equal(t, "root:pa:ss@tcp(db:3306)/acme", dsn)

	dsn, err = svc.ExpandDSN("file:acme.db", "")
	require.NoError(t, err)
	assert.Equal(t, "file:acme.db", dsn)

	var none *CryptoService
	_, err = none.ExpandDSN("root:{password}@tcp(db)/x", enc)
	assert.ErrorIs(t, err, ErrNoKey)
}
