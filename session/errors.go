// Copyright 2026 The Loopkit Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "errors"

// Store errors indicate misconfiguration (wrong passphrase, corrupted
// file, email mismatch) and are never retried. Match with errors.Is.
var (
	// ErrStoreNotFound is returned by Load when no session file exists
	// at the configured path.
	ErrStoreNotFound = errors.New("session: store not found")

	// ErrIdentityMismatch is returned by Load when the supplied email
	// does not hash to the stored email hash. The comparison is
	// case-sensitive with no normalization.
	ErrIdentityMismatch = errors.New("session: email does not match stored identity")

	// ErrMissingPassphrase is returned by Load when the stored fields
	// are encrypted but no passphrase was configured.
	ErrMissingPassphrase = errors.New("session: store is encrypted but no passphrase is configured")

	// ErrNoEncryptionKey is returned by Cipher operations when no key
	// has been derived.
	ErrNoEncryptionKey = errors.New("session: no encryption key configured")

	// ErrStoreDeleteFailed is returned by Destroy when the session
	// file cannot be removed.
	ErrStoreDeleteFailed = errors.New("session: deleting store failed")
)
