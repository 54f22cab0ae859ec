package validation

import (
	"errors"
	"net/mail"
	"strings"
)

var (
	// ErrEmailRequired is returned when an email is missing
	ErrEmailRequired = errors.New("email is required")

	// ErrEmailTooLong is returned when an email exceeds the RFC length limit
	ErrEmailTooLong = errors.New("email is too long")

	// ErrEmailInvalid is returned when an email does not parse
	ErrEmailInvalid = errors.New("invalid email address")
)

// FieldErrors maps field names to human-readable problems. A request that
// fails validation is rejected with the whole map so the client can surface
// every problem at once.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	if len(f) == 0 {
		return "validation failed"
	}

	parts := make([]string, 0, len(f))
	for field, msg := range f {
		parts = append(parts, field+": "+msg)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a problem for a field. The first message for a field wins.
func (f FieldErrors) Add(field, message string) {
	if _, ok := f[field]; !ok {
		f[field] = message
	}
}

// AsFieldErrors extracts a FieldErrors from an error chain.
func AsFieldErrors(err error) (FieldErrors, bool) {
	var fe FieldErrors
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// NormalizeEmail trims and validates an email address (RFC 5322 simplified).
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrEmailRequired
	}
	if len(email) > 320 {
		return "", ErrEmailTooLong
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", ErrEmailInvalid
	}
	return email, nil
}

// ValidateName checks a display name for projects, users and expense titles.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name is required")
	}
	if len(name) > 255 {
		return errors.New("name must be at most 255 characters")
	}
	return nil
}
