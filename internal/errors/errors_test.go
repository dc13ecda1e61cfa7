package errors_test

import (
	"fmt"
	"testing"

	apperrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/stretchr/testify/require"
)

type statusError struct{ status int }

func (e *statusError) Error() string { return fmt.Sprintf("status %d", e.status) }

func TestWrapf(t *testing.T) {
	require.NoError(t, apperrors.Wrapf(nil, "[Op]"))

	err := apperrors.Wrapf(apperrors.ErrNetworkFailure, "[Op %s]", "Login")
	require.EqualError(t, err, "[Op Login]: network failure")
	require.ErrorIs(t, err, apperrors.ErrNetworkFailure)
}

func TestJoinAndAs(t *testing.T) {
	cause := &statusError{status: 401}
	err := apperrors.Join(apperrors.ErrUnauthorized, apperrors.Wrapf(cause, "[Me]"))

	require.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))
	var target *statusError
	require.True(t, apperrors.As(err, &target))
	require.Equal(t, 401, target.status)

	require.Equal(t, apperrors.ErrRefreshRejected, apperrors.Join(apperrors.ErrRefreshRejected, nil))
	require.True(t, apperrors.IsCredentialJudgement(apperrors.Join(apperrors.ErrRefreshRejected, cause)))
	require.False(t, apperrors.IsCredentialJudgement(err))
}
