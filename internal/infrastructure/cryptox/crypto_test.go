package cryptox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	salt := []byte("fixed-salt-16byt")

	k1 := DeriveKey([]byte("passphrase"), salt)
	k2 := DeriveKey([]byte("passphrase"), salt)

	assert.Len(t, k1, KeySize)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, DeriveKey([]byte("passphrase"), []byte("other-salt-16byt")))
}

func TestSealOpen(t *testing.T) {
	plaintext := []byte(`{"version":2}`)

	sealed, err := Seal([]byte("hunter2"), plaintext)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "version")

	opened, err := Open([]byte("hunter2"), sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestSeal_FreshSaltEachTime(t *testing.T) {
	a, err := Seal([]byte("k"), []byte("same"))
	require.NoError(t, err)
	b, err := Seal([]byte("k"), []byte("same"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestOpen_WrongPassphrase(t *testing.T) {
	sealed, err := Seal([]byte("right"), []byte("data"))
	require.NoError(t, err)

	_, err = Open([]byte("wrong"), sealed)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestOpen_Truncated(t *testing.T) {
	_, err := Open([]byte("k"), []byte("short"))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestOpen_Tampered(t *testing.T) {
	sealed, err := Seal([]byte("k"), []byte("data"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff

	_, err = Open([]byte("k"), sealed)
	assert.ErrorIs(t, err, ErrDecrypt)
}
