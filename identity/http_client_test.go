package identity_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jrsteele09/go-session-client/identity"
	"github.com/jrsteele09/go-session-client/identity/identityfake"
	"github.com/jrsteele09/go-session-client/internal/config"
	apperrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/users"
	"github.com/stretchr/testify/require"
)

const (
	testUsername = "alice"
	testPassword = "password123"
)

func defaultPaths() config.IdentityPaths {
	return config.IdentityPaths{Login: "/login", Register: "/register", Refresh: "/refresh", Logout: "/logout", Me: "/me"}
}

func setupHTTPClient(t *testing.T) (*identityfake.Server, *identity.HTTPClient) {
	t.Helper()
	fake := identityfake.New(t)
	fake.AddUser(testUsername, testPassword, "Editor")
	return fake, identity.NewHTTPClient(fake.URL, defaultPaths())
}

func TestHTTPClient_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("success returns grant with identity", func(t *testing.T) {
		fake, client := setupHTTPClient(t)

		grant, err := client.Login(ctx, identity.Credentials{Username: testUsername, Password: testPassword})
		require.NoError(t, err)
		require.NotEmpty(t, grant.AccessToken)
		require.NotEmpty(t, grant.RefreshToken)
		require.Equal(t, identity.FlexID("1"), grant.UserID)
		require.Equal(t, testUsername, grant.Username)
		require.Equal(t, users.RoleEditor, grant.Role)
		require.False(t, grant.Expiry.IsZero())
		require.EqualValues(t, 1, fake.LoginCalls.Load())
	})

	t.Run("wrong password is invalid credentials", func(t *testing.T) {
		_, client := setupHTTPClient(t)

		_, err := client.Login(ctx, identity.Credentials{Username: testUsername, Password: "nope"})
		require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
		require.True(t, identity.IsResponseStatus(err, http.StatusBadRequest))
		require.Contains(t, err.Error(), "wrong password")
	})

	t.Run("server error is a network failure", func(t *testing.T) {
		fake, client := setupHTTPClient(t)
		fake.LoginStatus = http.StatusBadGateway

		_, err := client.Login(ctx, identity.Credentials{Username: testUsername, Password: testPassword})
		require.ErrorIs(t, err, apperrors.ErrNetworkFailure)
		require.NotErrorIs(t, err, apperrors.ErrInvalidCredentials)
	})

	t.Run("unreachable boundary is a network failure", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		client := identity.NewHTTPClient(srv.URL, defaultPaths())

		_, err := client.Login(ctx, identity.Credentials{Username: testUsername, Password: testPassword})
		require.ErrorIs(t, err, apperrors.ErrNetworkFailure)
	})

	t.Run("missing access token is malformed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"user_id": 3, "username": "bob"}`))
		}))
		t.Cleanup(srv.Close)
		client := identity.NewHTTPClient(srv.URL, defaultPaths())

		_, err := client.Login(ctx, identity.Credentials{Username: "bob", Password: testPassword})
		require.ErrorIs(t, err, apperrors.ErrMalformedResponse)
	})
}

func TestHTTPClient_Register(t *testing.T) {
	ctx := context.Background()
	reg := identity.Registration{Username: "bob", Email: "bob@example.com", Password: "secret123"}

	t.Run("account created without tokens", func(t *testing.T) {
		fake, client := setupHTTPClient(t)

		grant, err := client.Register(ctx, reg)
		require.NoError(t, err)
		require.Nil(t, grant)
		require.EqualValues(t, 1, fake.RegisterCalls.Load())
	})

	t.Run("account created and signed in", func(t *testing.T) {
		fake, client := setupHTTPClient(t)
		fake.RegisterReturnsTokens = true

		grant, err := client.Register(ctx, reg)
		require.NoError(t, err)
		require.NotNil(t, grant)
		require.NotEmpty(t, grant.AccessToken)
		require.Equal(t, "bob", grant.Username)
	})

	t.Run("duplicate username rejected", func(t *testing.T) {
		_, client := setupHTTPClient(t)

		_, err := client.Register(ctx, identity.Registration{Username: testUsername, Email: "a@example.com", Password: "secret123"})
		require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
		require.Contains(t, err.Error(), "already exists")
	})
}

func TestHTTPClient_Refresh(t *testing.T) {
	ctx := context.Background()

	t.Run("issues new access token", func(t *testing.T) {
		fake, client := setupHTTPClient(t)
		access, refresh := fake.Issue(testUsername)

		grant, err := client.Refresh(ctx, refresh)
		require.NoError(t, err)
		require.NotEqual(t, access, grant.AccessToken)
		require.Empty(t, grant.RefreshToken)
		require.True(t, fake.AccessTokenValid(grant.AccessToken))
	})

	t.Run("rotated refresh token returned", func(t *testing.T) {
		fake, client := setupHTTPClient(t)
		fake.RotateRefreshTokens = true
		_, refresh := fake.Issue(testUsername)

		grant, err := client.Refresh(ctx, refresh)
		require.NoError(t, err)
		require.NotEmpty(t, grant.RefreshToken)
		require.NotEqual(t, refresh, grant.RefreshToken)
	})

	t.Run("unknown refresh token rejected", func(t *testing.T) {
		_, client := setupHTTPClient(t)

		_, err := client.Refresh(ctx, "refresh-unknown")
		require.ErrorIs(t, err, apperrors.ErrRefreshRejected)
		require.True(t, identity.IsResponseStatus(err, http.StatusUnauthorized))
	})

	t.Run("empty refresh token makes no call", func(t *testing.T) {
		fake, client := setupHTTPClient(t)

		_, err := client.Refresh(ctx, "")
		require.ErrorIs(t, err, apperrors.ErrRefreshRejected)
		require.ErrorIs(t, err, apperrors.ErrNoRefreshCredential)
		require.Zero(t, fake.RefreshCalls.Load())
	})

	t.Run("missing access token is malformed", func(t *testing.T) {
		fake, client := setupHTTPClient(t)
		fake.RefreshOmitsAccess = true
		_, refresh := fake.Issue(testUsername)

		_, err := client.Refresh(ctx, refresh)
		require.ErrorIs(t, err, apperrors.ErrMalformedResponse)
	})

	t.Run("server error is a network failure", func(t *testing.T) {
		fake, client := setupHTTPClient(t)
		fake.RefreshStatus = http.StatusServiceUnavailable
		_, refresh := fake.Issue(testUsername)

		_, err := client.Refresh(ctx, refresh)
		require.ErrorIs(t, err, apperrors.ErrNetworkFailure)
	})
}

func TestHTTPClient_LogoutAndMe(t *testing.T) {
	ctx := context.Background()

	t.Run("me reports the signed in user", func(t *testing.T) {
		fake, client := setupHTTPClient(t)
		access, _ := fake.Issue(testUsername)

		u, err := client.Me(ctx, access)
		require.NoError(t, err)
		require.Equal(t, "1", u.ID)
		require.Equal(t, testUsername, u.Username)
		require.Equal(t, testUsername+"@example.com", u.Email)
		require.Equal(t, users.RoleEditor, u.Role)
	})

	t.Run("me with unknown token is unauthorized", func(t *testing.T) {
		_, client := setupHTTPClient(t)

		_, err := client.Me(ctx, "access-unknown")
		require.ErrorIs(t, err, apperrors.ErrUnauthorized)
	})

	t.Run("logout revokes both tokens", func(t *testing.T) {
		fake, client := setupHTTPClient(t)
		access, refresh := fake.Issue(testUsername)

		require.NoError(t, client.Logout(ctx, access, refresh))
		require.False(t, fake.AccessTokenValid(access))
		_, err := client.Refresh(ctx, refresh)
		require.ErrorIs(t, err, apperrors.ErrRefreshRejected)
	})

	t.Run("logout failure is reported", func(t *testing.T) {
		fake, client := setupHTTPClient(t)
		fake.LogoutStatus = http.StatusInternalServerError
		access, refresh := fake.Issue(testUsername)

		err := client.Logout(ctx, access, refresh)
		require.Error(t, err)
		require.True(t, identity.IsResponseStatus(err, http.StatusInternalServerError))
	})

	t.Run("cookie attach presents the session cookie", func(t *testing.T) {
		fake := identityfake.New(t)
		fake.AddUser(testUsername, testPassword, "User")
		access, _ := fake.Issue(testUsername)
		client := identity.NewHTTPClient(fake.URL, defaultPaths(), identity.WithAttach(func(req *http.Request, token string) {
			req.AddCookie(&http.Cookie{Name: "sessionid", Value: token})
		}))

		u, err := client.Me(ctx, access)
		require.NoError(t, err)
		require.Equal(t, testUsername, u.Username)
	})
}

func TestFlexID(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	identity.NowTimeFunc = func() time.Time { return fixed }
	t.Cleanup(func() { identity.NowTimeFunc = time.Now })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "a", "user_id": "u-42", "expires_in": 60}`))
	}))
	t.Cleanup(srv.Close)

	grant, err := identity.NewHTTPClient(srv.URL, defaultPaths()).Login(context.Background(), identity.Credentials{Username: "x", Password: "y"})
	require.NoError(t, err)
	require.Equal(t, identity.FlexID("u-42"), grant.UserID)
	require.Equal(t, fixed.Add(time.Minute), grant.Expiry)
}
