// Package secret seals credential secrets at rest with NaCl secretbox.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

// Prefix marks a sealed value. Values without it are treated as plain text.
const Prefix = "sb1:"

const nonceSize = 24

var (
	// ErrNoKey is returned when a sealed value is opened without a sealing key.
	ErrNoKey = errors.New("secret is sealed but no sealing key is configured")
	// ErrCorrupt is returned when a sealed value cannot be decoded or authenticated.
	ErrCorrupt = errors.New("sealed secret is corrupt or was sealed with a different key")
)

// Sealer seals and opens secrets. A Sealer without a key passes plain values
// through unchanged.
type Sealer struct {
	key    [32]byte
	hasKey bool
}

// NewSealer derives a secretbox key from passphrase. An empty passphrase
// disables sealing.
func NewSealer(passphrase string) (*Sealer, error) {
	s := &Sealer{}
	if passphrase == "" {
		return s, nil
	}
	kdf := hkdf.New(sha256.New, []byte(passphrase), nil, []byte("invoicematch credential secret"))
	if _, err := io.ReadFull(kdf, s.key[:]); err != nil {
		return nil, fmt.Errorf("failed to derive sealing key: %w", err)
	}
	s.hasKey = true
	return s, nil
}

// Enabled reports whether Seal produces sealed values.
func (s *Sealer) Enabled() bool {
	return s != nil && s.hasKey
}

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// Seal returns the sealed form of plain. Without a key, or when plain is
// already sealed, the value is returned as is.
func (s *Sealer) Seal(plain string) (string, error) {
	if !s.Enabled() || IsSealed(plain) {
		return plain, nil
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(plain), &nonce, &s.key)
	return Prefix + base64.RawStdEncoding.EncodeToString(box), nil
}

// Open returns the plain form of value. Plain values pass through.
func (s *Sealer) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if !s.Enabled() {
		return "", ErrNoKey
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, Prefix))
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrCorrupt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", ErrCorrupt
	}
	return string(plain), nil
}
