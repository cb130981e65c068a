// Copyright 2026 The Loopkit Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"strings"
	"testing"

	"github.com/loop-social/loopkit/lib/secret"
)

func testCipher(t *testing.T, passphrase string, mode KeyDerivation) *Cipher {
	t.Helper()
	buffer, err := secret.NewFromString(passphrase)
	if err != nil {
		t.Fatalf("creating passphrase buffer: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })

	key, err := DeriveKey(buffer, mode)
	if err != nil {
		t.Fatalf("deriving key: %v", err)
	}
	t.Cleanup(func() { key.Close() })
	return NewCipher(key)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	cipher := testCipher(t, "hunter2", KeyDerivationLegacy)

	encrypted, err := cipher.Encrypt("access-token-value")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if !IsEncrypted(encrypted) {
		t.Errorf("Encrypt output %q does not carry the sentinel format", encrypted)
	}

	decrypted, err := cipher.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if decrypted != "access-token-value" {
		t.Errorf("Decrypt = %q, want original plaintext", decrypted)
	}
}

func TestEncryptFreshIVPerCall(t *testing.T) {
	cipher := testCipher(t, "hunter2", KeyDerivationLegacy)

	first, err := cipher.Encrypt("same-plaintext")
	if err != nil {
		t.Fatalf("first Encrypt failed: %v", err)
	}
	second, err := cipher.Encrypt("same-plaintext")
	if err != nil {
		t.Fatalf("second Encrypt failed: %v", err)
	}
	if first == second {
		t.Error("two encryptions of the same plaintext are bit-comparable")
	}
}

func TestCipherWithoutKey(t *testing.T) {
	var cipher Cipher
	if _, err := cipher.Encrypt("x"); !errors.Is(err, ErrNoEncryptionKey) {
		t.Errorf("Encrypt error = %v, want ErrNoEncryptionKey", err)
	}
	if _, err := cipher.Decrypt("00:00"); !errors.Is(err, ErrNoEncryptionKey) {
		t.Errorf("Decrypt error = %v, want ErrNoEncryptionKey", err)
	}
}

func TestDecryptMalformed(t *testing.T) {
	cipher := testCipher(t, "hunter2", KeyDerivationLegacy)

	for _, input := range []string{"no-delimiter", "zz:00", "00:zz", "0011:00"} {
		if _, err := cipher.Decrypt(input); err == nil {
			t.Errorf("Decrypt(%q) succeeded, want error", input)
		}
	}
}

func TestIsEncrypted(t *testing.T) {
	if IsEncrypted("plain-token") {
		t.Error("plain token classified as encrypted")
	}
	if IsEncrypted("with:colon-but-not-hex") {
		t.Error("non-hex value classified as encrypted")
	}
	if !IsEncrypted(strings.Repeat("ab", 16) + ":deadbeef") {
		t.Error("sentinel-format value not classified as encrypted")
	}
	// An email hash has no delimiter and must never look encrypted.
	if IsEncrypted(hashEmail("user@example.com")) {
		t.Error("email hash classified as encrypted")
	}
}

func TestDeriveKeyModes(t *testing.T) {
	passphrase, err := secret.NewFromString("correct horse")
	if err != nil {
		t.Fatalf("creating passphrase: %v", err)
	}
	defer passphrase.Close()

	legacy, err := DeriveKey(passphrase, KeyDerivationLegacy)
	if err != nil {
		t.Fatalf("legacy derivation failed: %v", err)
	}
	defer legacy.Close()
	if legacy.Len() != keyLength {
		t.Errorf("legacy key length = %d, want %d", legacy.Len(), keyLength)
	}

	// Legacy derivation is passphrase bytes zero-filled to key length.
	want := make([]byte, keyLength)
	copy(want, "correct horse")
	if string(legacy.Bytes()) != string(want) {
		t.Error("legacy key is not the zero-padded passphrase")
	}

	scryptKey, err := DeriveKey(passphrase, KeyDerivationScrypt)
	if err != nil {
		t.Fatalf("scrypt derivation failed: %v", err)
	}
	defer scryptKey.Close()
	if string(scryptKey.Bytes()) == string(legacy.Bytes()) {
		t.Error("scrypt and legacy derivations produced the same key")
	}

	if _, err := DeriveKey(passphrase, KeyDerivation("rot13")); err == nil {
		t.Error("unknown derivation mode accepted")
	}
}

func TestDeriveKeyRequiresPassphrase(t *testing.T) {
	if _, err := DeriveKey(nil, KeyDerivationLegacy); err == nil {
		t.Fatal("expected error for nil passphrase")
	}
}
