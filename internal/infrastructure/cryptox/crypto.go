// Package cryptox seals snapshot payloads with a passphrase.
//
// Keys are derived with argon2id; payloads are encrypted with AES-256-GCM.
// Sealed output layout: salt (16) | nonce (12) | ciphertext+tag.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	// SaltSize is the length of the random argon2 salt.
	SaltSize = 16

	// KeySize is the derived key length (AES-256).
	KeySize = 32

	nonceSize = 12
)

// ErrDecrypt is returned when a sealed payload cannot be opened: wrong
// passphrase, truncated input or tampered ciphertext.
var ErrDecrypt = errors.New("cryptox: cannot decrypt payload")

// DeriveKey derives an AES key from a passphrase and salt.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, KeySize)
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}

// Seal encrypts plaintext with a key derived from passphrase and a fresh salt.
func Seal(passphrase, plaintext []byte) ([]byte, error) {
	salt, err := RandomBytes(SaltSize)
	if err != nil {
		return nil, err
	}
	nonce, err := RandomBytes(nonceSize)
	if err != nil {
		return nil, err
	}

	aead, err := newGCM(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, SaltSize+nonceSize+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func Open(passphrase, sealed []byte) ([]byte, error) {
	if len(sealed) < SaltSize+nonceSize {
		return nil, ErrDecrypt
	}
	salt := sealed[:SaltSize]
	nonce := sealed[SaltSize : SaltSize+nonceSize]
	ciphertext := sealed[SaltSize+nonceSize:]

	aead, err := newGCM(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return aead, nil
}
