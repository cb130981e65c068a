// Copyright 2026 The Loopkit Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"

	"github.com/loop-social/loopkit/lib/secret"
)

// KeyDerivation selects how the cipher key is derived from the store
// passphrase.
type KeyDerivation string

const (
	// KeyDerivationLegacy pads or truncates the passphrase bytes to
	// the AES-256 key length with zero fill. This matches the mobile
	// client's historical derivation so existing session files remain
	// readable. It is not a cryptographic KDF: no salt, no iteration.
	KeyDerivationLegacy KeyDerivation = "legacy"

	// KeyDerivationScrypt derives the key with scrypt. Stores written
	// under this mode cannot be opened by clients using the legacy
	// derivation.
	KeyDerivationScrypt KeyDerivation = "scrypt"
)

const keyLength = 32 // AES-256

// scryptSalt is a fixed application salt. The session store holds one
// record for one user, so a per-store random salt would only defend
// against precomputation across installations; the passphrase remains
// the sole secret either way.
var scryptSalt = []byte("loopkit/session/v1")

// DeriveKey builds the AES-256 key from a passphrase under the chosen
// derivation mode. The passphrase buffer is read, not consumed — the
// caller retains ownership. The returned key buffer must be closed by
// the caller. Once derived, the key is immutable for the process
// lifetime.
func DeriveKey(passphrase *secret.Buffer, mode KeyDerivation) (*secret.Buffer, error) {
	if passphrase == nil || passphrase.Len() == 0 {
		return nil, fmt.Errorf("session: passphrase is required to derive a key")
	}

	switch mode {
	case KeyDerivationLegacy, "":
		keyBytes := make([]byte, keyLength)
		copy(keyBytes, passphrase.Bytes())
		return secret.NewFromBytes(keyBytes)
	case KeyDerivationScrypt:
		keyBytes, err := scrypt.Key(passphrase.Bytes(), scryptSalt, 1<<15, 8, 1, keyLength)
		if err != nil {
			return nil, fmt.Errorf("session: scrypt derivation: %w", err)
		}
		return secret.NewFromBytes(keyBytes)
	default:
		return nil, fmt.Errorf("session: unknown key derivation %q", mode)
	}
}

// Cipher encrypts and decrypts individual store fields with AES-256 in
// counter mode. Each Encrypt call draws a fresh random IV, so no two
// encrypted fields are bit-comparable even when their plaintexts match.
type Cipher struct {
	key *secret.Buffer
}

// NewCipher wraps a derived key. The Cipher does not take ownership of
// the key buffer.
func NewCipher(key *secret.Buffer) *Cipher {
	return &Cipher{key: key}
}

// Encrypt encrypts a field value, returning hex(iv) + ":" + hex(ct).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if c == nil || c.key == nil {
		return "", ErrNoEncryptionKey
	}

	block, err := aes.NewCipher(c.key.Bytes())
	if err != nil {
		return "", fmt.Errorf("session: creating cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("session: generating IV: %w", err)
	}

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, []byte(plaintext))

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. The input must be of the form produced by
// Encrypt: a 32-hex-char IV, a colon, and the hex ciphertext.
func (c *Cipher) Decrypt(encrypted string) (string, error) {
	if c == nil || c.key == nil {
		return "", ErrNoEncryptionKey
	}

	ivHex, ciphertextHex, found := strings.Cut(encrypted, ":")
	if !found {
		return "", fmt.Errorf("session: encrypted value missing IV delimiter")
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", fmt.Errorf("session: invalid IV %q", ivHex)
	}
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", fmt.Errorf("session: invalid ciphertext hex: %w", err)
	}

	block, err := aes.NewCipher(c.key.Bytes())
	if err != nil {
		return "", fmt.Errorf("session: creating cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)
	return string(plaintext), nil
}

// IsEncrypted reports whether a stored field value carries the
// Encrypt sentinel format. The store has no explicit encryption flag —
// this heuristic is how Load distinguishes encrypted from plaintext
// records.
func IsEncrypted(value string) bool {
	ivHex, ciphertextHex, found := strings.Cut(value, ":")
	if !found || len(ivHex) != 2*aes.BlockSize {
		return false
	}
	if _, err := hex.DecodeString(ivHex); err != nil {
		return false
	}
	if _, err := hex.DecodeString(ciphertextHex); err != nil {
		return false
	}
	return true
}
