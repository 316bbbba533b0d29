// Package cryptox implements the credential vault: authenticated symmetric
// encryption of stored secrets, access/master key generation and
// constant-time comparison.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/snapvault/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// IVSize is the random initialization vector length (128 bit).
	IVSize = 16
	// TagSize is the GCM authentication tag length (128 bit).
	TagSize = 16

	separator = ":"
)

// Vault encrypts and decrypts short secrets (access keys, master keys) with
// AES-256-GCM. It holds only the key and is safe for concurrent use.
//
// Ciphertexts are encoded as three hex parts joined by colons:
//
//	hex(iv) ":" hex(tag) ":" hex(ciphertext)
type Vault struct {
	aead cipher.AEAD
}

// NewVault builds a Vault from a 32-byte key.
func NewVault(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, err
	}
	return &Vault{aead: aead}, nil
}

// ParseKey decodes a 64 character hex string into a 32-byte key.
func ParseKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("encryption key is not hex: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d hex characters", KeySize*2)
	}
	return key, nil
}

// DeriveKey stretches a passphrase into a vault key with argon2id.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, KeySize)
}

// Encrypt seals plaintext under a fresh random IV.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	iv := common.GenerateRandByteArray(IVSize)
	sealed := v.aead.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	return strings.Join([]string{
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ct),
	}, separator), nil
}

// Decrypt opens a payload produced by Encrypt. Malformed payloads and
// payloads whose tag does not verify yield an error wrapping common.ErrIntegrity.
func (v *Vault) Decrypt(payload string) (string, error) {
	parts := strings.Split(payload, separator)
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: expected 3 parts, got %d", common.ErrIntegrity, len(parts))
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != IVSize {
		return "", fmt.Errorf("%w: bad iv", common.ErrIntegrity)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != TagSize {
		return "", fmt.Errorf("%w: bad tag", common.ErrIntegrity)
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext", common.ErrIntegrity)
	}

	plaintext, err := v.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrIntegrity, err)
	}
	return string(plaintext), nil
}

// SecureCompare reports whether a and b are equal. Strings of different
// length return false immediately; equal-length inputs are compared in
// constant time.
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
