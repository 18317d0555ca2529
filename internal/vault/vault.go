// Package vault provides the encrypt/decrypt capability for per-user
// credential fields. Ciphertexts are AES-256-GCM sealed with the nonce
// prepended, then base64-encoded so they can live in a TEXT column.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrDecrypt is returned for malformed or unauthenticated ciphertext.
// Callers report a stable reason string and must not echo the ciphertext.
var ErrDecrypt = errors.New("vault: decryption failed")

// ErrNoSecret is returned when the vault is constructed without a master secret.
var ErrNoSecret = errors.New("vault: master secret not configured")

// Vault seals and opens credential strings with a derived 32-byte key.
type Vault struct {
	key []byte
}

// New derives the vault key from the configured master secret using
// HKDF-SHA256 with a fixed info label, so rotating the label version
// invalidates old ciphertexts deliberately.
func New(masterSecret string) (*Vault, error) {
	if masterSecret == "" {
		return nil, ErrNoSecret
	}
	h := hkdf.New(sha256.New, []byte(masterSecret), nil, []byte("sessionrelay-vault-v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}
	return &Vault{key: key}, nil
}

// Encrypt seals a plaintext credential and returns base64(nonce || ciphertext).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	gcm, err := v.aead()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Any malformed or
// tampered input yields ErrDecrypt; details are not propagated to avoid
// leaking oracle information into error strings.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecrypt
	}
	gcm, err := v.aead()
	if err != nil {
		return "", err
	}
	ns := gcm.NonceSize()
	if len(blob) < ns {
		return "", ErrDecrypt
	}
	plain, err := gcm.Open(nil, blob[:ns], blob[ns:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

func (v *Vault) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
