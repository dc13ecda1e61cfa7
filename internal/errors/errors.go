package errors

import (
	"errors"
	"fmt"
)

// Error taxonomy for the session client
var (
	// Credential judgements, these always mutate session state
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRefreshRejected    = errors.New("refresh rejected")

	// Transport and persistence, these never mutate session state
	ErrNetworkFailure     = errors.New("network failure")
	ErrStorageUnavailable = errors.New("storage unavailable")

	// Terminal per-request outcome after a failed or already attempted refresh
	ErrUnauthorized = errors.New("unauthorized")

	ErrNoRefreshCredential = errors.New("no refresh credential")
	ErrMalformedResponse   = errors.New("malformed identity response")
	ErrUnsupported         = errors.New("unsupported operation")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Join wraps err so that it also matches the sentinel kind, keeping err as the cause.
func Join(kind, err error) error {
	if err == nil {
		return kind
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsCredentialJudgement reports whether err is a verdict on the credentials themselves,
// as opposed to a transport or storage problem.
func IsCredentialJudgement(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrRefreshRejected)
}
