package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	key, err := DeriveKey("passphrase", salt)
	require.NoError(t, err)
	assert.Len(t, key, 32)

	encoded, err := Encrypt([]byte("eyJhbGciOi..."), key)
	require.NoError(t, err)

	plain, err := Decrypt(encoded, key)
	require.NoError(t, err)
	assert.Equal(t, "eyJhbGciOi...", string(plain))

	other, err := DeriveKey("other", salt)
	require.NoError(t, err)
	_, err = Decrypt(encoded, other)
	assert.Error(t, err)
}

func TestDeriveKey_Rejects(t *testing.T) {
	_, err := DeriveKey("", make([]byte, saltLen))
	assert.Error(t, err)

	_, err = DeriveKey("passphrase", []byte("short"))
	assert.Error(t, err)
}

func TestDecrypt_Garbage(t *testing.T) {
	key := make([]byte, 32)
	_, err := Decrypt("not base64!", key)
	assert.Error(t, err)

	_, err = Decrypt("AAAA", key)
	assert.Error(t, err)
}
