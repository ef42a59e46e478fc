// Package recipient defines the validated delivery address type.
package recipient

import (
	"net/mail"
	"strings"

	"github.com/inkwire/inkwire/errs"
)

// EmailAddress is a validated recipient address. Construct via Parse.
type EmailAddress struct {
	value string
}

// Parse validates raw as an email address. Stored recipient rows may predate
// the current validation rules, so callers are expected to treat a parse
// failure for one entry as skippable rather than fatal.
func Parse(raw string) (EmailAddress, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return EmailAddress{}, errs.New("recipient", errs.CodeInvalid,
			errs.WithMessage("recipient address cannot be empty"))
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return EmailAddress{}, errs.New("recipient", errs.CodeInvalid,
			errs.WithMessage("not a valid recipient address"),
			errs.WithField("address", trimmed),
			errs.WithCause(err))
	}
	return EmailAddress{value: trimmed}, nil
}

// String returns the validated address.
func (e EmailAddress) String() string { return e.value }

// IsZero reports whether the address was never parsed.
func (e EmailAddress) IsZero() bool { return e.value == "" }
