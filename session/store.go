// Copyright 2026 The Loopkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package session owns the durable identity and token state for one
// Loop account: a single-record store bound to one email address,
// optionally encrypted at rest with a passphrase-derived key.
//
// At rest the email is stored only as a one-way hash — a verification
// token, never round-tripped. Token and UUID fields are either all
// plaintext or all encrypted; a store is never mixed. Encryption of a
// field is detected by the hex(iv):hex(ct) sentinel format, not by an
// explicit flag.
package session

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeebo/blake3"
)

// Record is the in-memory identity and token state. Email is plaintext
// here; it is hashed at the storage boundary.
type Record struct {
	Email        string
	UserID       int64
	UserUUID     string
	DeviceUUID   string
	AccessToken  string
	RefreshToken string
}

// complete reports whether every identity field is populated. Set
// rejects partial records — the store is replaced all-or-nothing.
func (r Record) complete() bool {
	return r.Email != "" && r.UserID != 0 && r.UserUUID != "" &&
		r.DeviceUUID != "" && r.AccessToken != "" && r.RefreshToken != ""
}

// storeFile is the persisted JSON shape.
type storeFile struct {
	Authentication storeAuthentication `json:"authentication"`
	User           storeUser           `json:"user"`
	Device         storeDevice         `json:"device"`
}

type storeAuthentication struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type storeUser struct {
	Email  string `json:"email"` // one-way hash, never the address itself
	UserID int64  `json:"userId"`
	UUID   string `json:"uuid"`
}

type storeDevice struct {
	DeviceUUID string `json:"deviceUuid"`
}

// StoreConfig configures a Store.
type StoreConfig struct {
	// Path is the session file location. Empty disables persistence:
	// Save becomes a no-op and the record lives only in memory.
	Path string

	// Cipher encrypts token and UUID fields at rest. Nil persists the
	// record in clear.
	Cipher *Cipher

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Store is the session store. All operations serialize on an internal
// mutex — concurrent saves never interleave mid-write, and the backing
// file has a single writer.
type Store struct {
	path   string
	cipher *Cipher
	logger *slog.Logger

	mu     sync.Mutex
	record Record
}

// NewStore creates a session store.
func NewStore(config StoreConfig) *Store {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   config.Path,
		cipher: config.Cipher,
		logger: logger,
	}
}

// Set replaces the in-memory record atomically and, when persistence is
// enabled, writes it through to disk. Partial records are rejected —
// the store never holds a half-populated identity.
func (s *Store) Set(record Record) error {
	if !record.complete() {
		return fmt.Errorf("session: rejecting partial record for %q", record.Email)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.record = record
	return s.saveLocked()
}

// Get returns a snapshot of the current in-memory record. The zero
// Record means no session is loaded.
func (s *Store) Get() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

// UpdateTokens replaces the access and refresh tokens after a refresh
// cycle and persists the change. The identity fields are untouched.
func (s *Store) UpdateTokens(accessToken, refreshToken string) error {
	if accessToken == "" || refreshToken == "" {
		return fmt.Errorf("session: refusing to store empty tokens")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.record.AccessToken = accessToken
	s.record.RefreshToken = refreshToken
	return s.saveLocked()
}

// Save persists the current snapshot. No-op when persistence is
// disabled.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// saveLocked writes the record to disk, fully overwriting prior
// content. Caller holds s.mu.
func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}

	file := storeFile{
		Authentication: storeAuthentication{
			AccessToken:  s.record.AccessToken,
			RefreshToken: s.record.RefreshToken,
		},
		User: storeUser{
			Email:  hashEmail(s.record.Email),
			UserID: s.record.UserID,
			UUID:   s.record.UserUUID,
		},
		Device: storeDevice{
			DeviceUUID: s.record.DeviceUUID,
		},
	}

	if s.cipher != nil {
		// Each field is encrypted independently with its own IV, so
		// no two stored values are bit-comparable.
		var err error
		if file.Authentication.AccessToken, err = s.cipher.Encrypt(s.record.AccessToken); err != nil {
			return err
		}
		if file.Authentication.RefreshToken, err = s.cipher.Encrypt(s.record.RefreshToken); err != nil {
			return err
		}
		if file.User.UUID, err = s.cipher.Encrypt(s.record.UserUUID); err != nil {
			return err
		}
		if file.Device.DeviceUUID, err = s.cipher.Encrypt(s.record.DeviceUUID); err != nil {
			return err
		}
	}

	data, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("session: encoding store: %w", err)
	}

	// Write-then-rename so a crash mid-write never leaves a truncated
	// store behind.
	temp, err := os.CreateTemp(filepath.Dir(s.path), ".loopkit-session-*")
	if err != nil {
		return fmt.Errorf("session: creating temp store: %w", err)
	}
	if _, err := temp.Write(data); err != nil {
		temp.Close()
		os.Remove(temp.Name())
		return fmt.Errorf("session: writing store: %w", err)
	}
	if err := temp.Chmod(0o600); err != nil {
		temp.Close()
		os.Remove(temp.Name())
		return fmt.Errorf("session: setting store mode: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(temp.Name())
		return fmt.Errorf("session: closing temp store: %w", err)
	}
	if err := os.Rename(temp.Name(), s.path); err != nil {
		os.Remove(temp.Name())
		return fmt.Errorf("session: replacing store: %w", err)
	}
	return nil
}

// Load reads the backing store for the given email. The email is
// verified against the stored hash before anything else is restored —
// a mismatch never partially restores state.
//
// A plaintext store loaded while a cipher is configured is re-encrypted
// and persisted before the record enters memory (migrate-on-read).
func (s *Store) Load(email string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return Record{}, fmt.Errorf("%w: persistence disabled", ErrStoreNotFound)
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, fmt.Errorf("%w: %s", ErrStoreNotFound, s.path)
		}
		return Record{}, fmt.Errorf("session: reading store: %w", err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return Record{}, fmt.Errorf("session: store is corrupted: %w", err)
	}

	if file.User.Email != hashEmail(email) {
		return Record{}, fmt.Errorf("%w: %q", ErrIdentityMismatch, email)
	}

	encrypted := IsEncrypted(file.Authentication.AccessToken)
	if encrypted && s.cipher == nil {
		return Record{}, ErrMissingPassphrase
	}

	record := Record{
		Email:        email,
		UserID:       file.User.UserID,
		UserUUID:     file.User.UUID,
		DeviceUUID:   file.Device.DeviceUUID,
		AccessToken:  file.Authentication.AccessToken,
		RefreshToken: file.Authentication.RefreshToken,
	}

	if encrypted {
		if record.AccessToken, err = s.cipher.Decrypt(file.Authentication.AccessToken); err != nil {
			return Record{}, fmt.Errorf("session: decrypting access token: %w", err)
		}
		if record.RefreshToken, err = s.cipher.Decrypt(file.Authentication.RefreshToken); err != nil {
			return Record{}, fmt.Errorf("session: decrypting refresh token: %w", err)
		}
		if record.UserUUID, err = s.cipher.Decrypt(file.User.UUID); err != nil {
			return Record{}, fmt.Errorf("session: decrypting user UUID: %w", err)
		}
		if record.DeviceUUID, err = s.cipher.Decrypt(file.Device.DeviceUUID); err != nil {
			return Record{}, fmt.Errorf("session: decrypting device UUID: %w", err)
		}
	}

	// Validated before any migration write: an incomplete stored record
	// is rejected outright, never re-persisted or left in memory.
	if !record.complete() {
		return Record{}, fmt.Errorf("session: store record is incomplete")
	}

	if !encrypted && s.cipher != nil {
		// Plaintext store under a configured cipher: upgrade it on
		// disk before the record enters memory.
		s.record = record
		if err := s.saveLocked(); err != nil {
			s.record = Record{}
			return Record{}, fmt.Errorf("session: migrating store to encrypted form: %w", err)
		}
		s.logger.Info("migrated session store to encrypted form", "path", s.path)
	}

	s.record = record
	return s.record, nil
}

// Destroy removes the backing store and clears the in-memory record.
func (s *Store) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record = Record{}
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreDeleteFailed, err)
	}
	s.logger.Info("destroyed session store", "path", s.path)
	return nil
}

// hashEmail computes the at-rest representation of the account email: a
// one-way hash used as a verification token on Load. Case-sensitive, no
// normalization.
func hashEmail(email string) string {
	sum := blake3.Sum256([]byte(email))
	return hex.EncodeToString(sum[:])
}
