// SPDX-License-Identifier: MPL-2.0

// Package sealer encrypts package payloads and computes their integrity tag.
//
// The integrity tag is a shared-secret tamper check, not a signature: anyone
// who holds the key material can both produce and verify it. Key derivation
// uses a fixed salt so that every installation derives the same key from the
// same passphrase; this trades per-installation salting for package
// portability and is a known weakness.
package sealer

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"slices"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the symmetric key length in bytes.
	KeySize = chacha20poly1305.KeySize

	// TagFile is the payload entry holding the hex integrity tag.
	TagFile = "signature"

	// Salt and Iterations parameterize passphrase derivation.
	Salt       = "alienmodule_salt"
	Iterations = 100_000
)

// ErrCrypto is the sentinel wrapped by every CryptoError.
var ErrCrypto = errors.New("crypto failure")

type (
	// Sealer holds derived key material for one encryption key.
	Sealer struct {
		material string
		key      []byte
		derived  bool
	}

	// CryptoError reports a key derivation, encryption or decryption failure.
	CryptoError struct {
		Op  string
		Err error
	}
)

// Error implements the error interface.
func (e *CryptoError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, ErrCrypto)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, ErrCrypto, e.Err)
}

// Unwrap returns ErrCrypto and the underlying cause.
func (e *CryptoError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCrypto}
	}
	return []error{ErrCrypto, e.Err}
}

// New returns a Sealer for keyMaterial. Material that is URL-safe base64 of
// exactly KeySize bytes is used as the key; anything else is treated as a
// passphrase and stretched with PBKDF2-HMAC-SHA256.
func New(keyMaterial string) (*Sealer, error) {
	if keyMaterial == "" {
		return nil, &CryptoError{Op: "derive key", Err: errors.New("key material is empty")}
	}

	if raw, err := base64.URLEncoding.DecodeString(keyMaterial); err == nil && len(raw) == KeySize {
		return &Sealer{material: keyMaterial, key: raw}, nil
	}

	key := pbkdf2.Key([]byte(keyMaterial), []byte(Salt), Iterations, KeySize, sha256.New)
	return &Sealer{material: keyMaterial, key: key, derived: true}, nil
}

// GenerateKey returns fresh random key material usable directly by New.
func GenerateKey() string {
	key := make([]byte, KeySize)
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(key)
	return base64.URLEncoding.EncodeToString(key)
}

// Derived reports whether the key was stretched from a passphrase.
func (s *Sealer) Derived() bool { return s.derived }

// Seal encrypts plaintext with XChaCha20-Poly1305. The random nonce is prefixed
// to the returned ciphertext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, &CryptoError{Op: "seal", Err: err}
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, &CryptoError{Op: "seal", Err: err}
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Unseal decrypts a Seal output. Truncated input, a wrong key or any
// modification of the ciphertext yields a CryptoError.
func (s *Sealer) Unseal(ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, &CryptoError{Op: "unseal", Err: err}
	}

	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, &CryptoError{Op: "unseal", Err: fmt.Errorf("ciphertext too short (%d bytes)", len(ciphertext))}
	}
	nonce, body := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, &CryptoError{Op: "unseal", Err: errors.New("authentication failed (wrong key or corrupted package)")}
	}
	return plaintext, nil
}

// Tag computes the integrity tag of a file tree: the SHA-256 of the contents
// of every regular file in sorted path order, excluding the root TagFile,
// hex-encoded and hashed again together with the key material.
func (s *Sealer) Tag(files fs.FS) (string, error) {
	var paths []string
	err := fs.WalkDir(files, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && p != TagFile {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking payload: %w", err)
	}
	slices.Sort(paths)

	content := sha256.New()
	for _, p := range paths {
		data, err := fs.ReadFile(files, p)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", p, err)
		}
		content.Write(data)
	}

	tag := sha256.Sum256([]byte(hex.EncodeToString(content.Sum(nil)) + ":" + s.material))
	return hex.EncodeToString(tag[:]), nil
}

// Verify recomputes the tag of files and compares it with want in constant time.
func (s *Sealer) Verify(files fs.FS, want string) bool {
	got, err := s.Tag(files)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
