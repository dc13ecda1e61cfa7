package auth

import (
	"fmt"
	"net/mail"
	"strings"
)

// DefaultMinPasswordLength matches the identity boundary's registration rule
const DefaultMinPasswordLength = 6

// Validator checks form input before it is sent to the identity boundary,
// so obviously bad input never costs a round trip or a session.
type Validator struct {
	minPasswordLength int
}

// NewValidator creates a new Validator instance
func NewValidator(minPasswordLength int) *Validator {
	if minPasswordLength <= 0 {
		minPasswordLength = DefaultMinPasswordLength
	}
	return &Validator{minPasswordLength: minPasswordLength}
}

// ValidateCredentials checks the login form
func (v *Validator) ValidateCredentials(username, password string) error {
	if strings.TrimSpace(username) == "" {
		return MissingUsernameErr
	}
	if password == "" {
		return MissingPasswordErr
	}
	return nil
}

// ValidateRegistration checks the sign up form
func (v *Validator) ValidateRegistration(username, email, password string) error {
	if err := v.ValidateCredentials(username, password); err != nil {
		return err
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: %q", InvalidEmailErr, email)
	}

	if len(password) < v.minPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters", PasswordTooShortErr, v.minPasswordLength)
	}
	return nil
}
