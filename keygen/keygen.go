// Package keygen provides short key generation and custom alias validation.
// Generators should be safe for concurrent use.
package keygen

import (
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// DefaultKeyLength gives a 62^6 (~5.7e10) keyspace, large enough that
	// generation collisions stay negligible at the expected link volume.
	DefaultKeyLength = 6

	MinAliasLength = 4
	MaxAliasLength = 32
)

// Generator generates short keys.
// Implementations should be safe for concurrent use.
type Generator interface {
	Generate(length int) (string, error)
}

// base62Generator implements Generator using base62 encoding.
// It is safe for concurrent use.
type base62Generator struct{}

// NewBase62 returns a new base62 key generator.
func NewBase62() Generator {
	return &base62Generator{}
}

// Generate generates a random base62 string of the specified length.
func (g *base62Generator) Generate(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("length must be positive")
	}

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	for i := range b {
		b[i] = base62Chars[int(b[i])%len(base62Chars)]
	}

	return string(b), nil
}

// ValidateAlias checks a caller-supplied custom key: 4-32 characters from
// [A-Za-z0-9_-]. Keys are case-sensitive.
func ValidateAlias(alias string) error {
	if alias == "" {
		return errors.New("alias cannot be empty")
	}
	if len(alias) < MinAliasLength {
		return fmt.Errorf("alias too short (minimum %d characters)", MinAliasLength)
	}
	if len(alias) > MaxAliasLength {
		return fmt.Errorf("alias too long (maximum %d characters)", MaxAliasLength)
	}
	for _, c := range alias {
		if !isValidKeyChar(c) {
			return errors.New("alias contains invalid characters (only alphanumeric, dash, and underscore allowed)")
		}
	}
	return nil
}

// ValidateKeyFormat is a lightweight check for keys taken from the redirect
// path before any store lookup happens.
func ValidateKeyFormat(key string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	if len(key) > MaxAliasLength {
		return errors.New("key too long")
	}
	for _, c := range key {
		if !isValidKeyChar(c) {
			return errors.New("key contains invalid characters")
		}
	}
	return nil
}

func isValidKeyChar(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_':
		return true
	default:
		return false
	}
}
