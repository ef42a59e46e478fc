// Package idempotency defines the idempotency key domain type and the
// persistence contract that makes retried publish requests safe.
package idempotency

import (
	"strings"

	"github.com/inkwire/inkwire/errs"
)

// MaxKeyLength bounds stored key size and prevents abuse.
const MaxKeyLength = 50

// Sentinel validation failures for caller-supplied keys.
var (
	ErrEmptyKey   = errs.New("idempotency", errs.CodeInvalid, errs.WithMessage("idempotency key cannot be empty"))
	ErrKeyTooLong = errs.New("idempotency", errs.CodeInvalid, errs.WithMessage("idempotency key must not exceed 50 characters"))
)

// Key is a validated caller-supplied idempotency key. The zero value is not
// valid; ParseKey is the only construction path.
type Key struct {
	value string
}

// ParseKey validates raw and wraps it unchanged. No normalization is applied:
// callers must resend the identical key to obtain a replay.
func ParseKey(raw string) (Key, error) {
	if strings.TrimSpace(raw) == "" {
		return Key{}, ErrEmptyKey
	}
	if len(raw) > MaxKeyLength {
		return Key{}, ErrKeyTooLong
	}
	return Key{value: raw}, nil
}

// String returns the raw key value.
func (k Key) String() string { return k.value }

// IsZero reports whether the key was never parsed.
func (k Key) IsZero() bool { return k.value == "" }
