package database

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	userIDPattern     = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
	identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)
	validate          = validator.New()
)

// ValidateUserID checks a user id before it is placed in a filter.
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user_id cannot be empty", ErrInvalidInput)
	}
	if !userIDPattern.MatchString(userID) {
		return fmt.Errorf("%w: invalid user_id format", ErrInvalidInput)
	}
	return nil
}

// ValidateID checks a record id.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidInput)
	}
	if !userIDPattern.MatchString(id) {
		return fmt.Errorf("%w: invalid id format", ErrInvalidInput)
	}
	return nil
}

// ValidateEmail checks an email address.
func ValidateEmail(email string) error {
	if err := validate.Var(email, "required,email,max=320"); err != nil {
		return fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	return nil
}

// ValidateTable checks a table or column identifier.
func ValidateTable(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: invalid identifier %q", ErrInvalidInput, name)
	}
	return nil
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
