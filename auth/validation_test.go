package auth_test

import (
	"testing"

	"github.com/jrsteele09/go-session-client/auth"
	"github.com/stretchr/testify/require"
)

func TestValidator_ValidateCredentials(t *testing.T) {
	v := auth.NewValidator(0)

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, v.ValidateCredentials("alice", "x"))
	})

	t.Run("blank username", func(t *testing.T) {
		err := v.ValidateCredentials("   ", "password123")
		require.ErrorIs(t, err, auth.MissingUsernameErr)
	})

	t.Run("missing password", func(t *testing.T) {
		err := v.ValidateCredentials("alice", "")
		require.ErrorIs(t, err, auth.MissingPasswordErr)
	})
}

func TestValidator_ValidateRegistration(t *testing.T) {
	v := auth.NewValidator(0)

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, v.ValidateRegistration("alice", "alice@example.com", "password123"))
	})

	t.Run("invalid email", func(t *testing.T) {
		err := v.ValidateRegistration("alice", "not-an-email", "password123")
		require.ErrorIs(t, err, auth.InvalidEmailErr)
	})

	t.Run("display name form rejected", func(t *testing.T) {
		err := v.ValidateRegistration("alice", "Alice <alice@example.com>", "password123")
		require.ErrorIs(t, err, auth.InvalidEmailErr)
	})

	t.Run("password too short for default", func(t *testing.T) {
		err := v.ValidateRegistration("alice", "alice@example.com", "abc12")
		require.ErrorIs(t, err, auth.PasswordTooShortErr)
		require.Contains(t, err.Error(), "at least 6")
	})

	t.Run("custom minimum", func(t *testing.T) {
		strict := auth.NewValidator(12)
		err := strict.ValidateRegistration("alice", "alice@example.com", "password123")
		require.ErrorIs(t, err, auth.PasswordTooShortErr)
	})

	t.Run("username checked first", func(t *testing.T) {
		err := v.ValidateRegistration("", "bad", "x")
		require.ErrorIs(t, err, auth.MissingUsernameErr)
	})
}
