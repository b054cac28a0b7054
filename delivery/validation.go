package delivery

import (
	"errors"
	"regexp"
)

const maxEmailLength = 255

// Email validation regex (RFC 5322 simplified)
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

var (
	ErrEmailRequired = errors.New("email is required")
	ErrEmailTooLong  = errors.New("email is too long")
	ErrEmailFormat   = errors.New("invalid email format")
)

// ValidateEmail checks if an email is in valid format
func ValidateEmail(email string) error {
	if email == "" {
		return ErrEmailRequired
	}
	if len(email) > maxEmailLength {
		return ErrEmailTooLong
	}
	if !emailRegex.MatchString(email) {
		return ErrEmailFormat
	}
	return nil
}
