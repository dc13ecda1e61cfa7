package identity_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/go-session-client/identity"
	"github.com/jrsteele09/go-session-client/identity/identityfake"
	"github.com/jrsteele09/go-session-client/internal/config"
	apperrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/stretchr/testify/require"
)

// setupSessionCookieClient talks to the fake in its Django mode, where login sets a
// session cookie and unsafe calls need the csrftoken echoed back
func setupSessionCookieClient(t *testing.T) (*identityfake.Server, *identity.CSRF, *identity.HTTPClient) {
	t.Helper()
	fake := identityfake.New(t)
	fake.DjangoSessions = true
	fake.AddUser(testUsername, testPassword, "")

	csrf := identity.NewCSRF(fake.URL, config.Client{}.GetCSRF())
	client := identity.NewHTTPClient(fake.URL, defaultPaths(),
		identity.WithSessionCookie(fake.SessionCookie),
		identity.WithCSRF(csrf),
		identity.WithAttach(func(req *http.Request, accessToken string) {
			identity.SetCookie(req, fake.SessionCookie, accessToken)
		}),
	)
	return fake, csrf, client
}

func TestHTTPClient_SessionCookieLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("session cookie becomes the access credential", func(t *testing.T) {
		fake, csrf, client := setupSessionCookieClient(t)

		grant, err := client.Login(ctx, identity.Credentials{Username: testUsername, Password: testPassword})
		require.NoError(t, err)
		require.NotEmpty(t, grant.AccessToken)
		require.True(t, fake.AccessTokenValid(grant.AccessToken))
		require.Empty(t, grant.RefreshToken)
		require.Equal(t, identity.FlexID("1"), grant.UserID)
		require.Equal(t, testUsername, grant.Username)
		require.False(t, grant.Expiry.IsZero())

		require.EqualValues(t, 1, fake.CSRFCalls.Load())
		require.NotEmpty(t, csrf.Token())
	})

	t.Run("rotated csrf token is kept for later calls", func(t *testing.T) {
		fake, csrf, client := setupSessionCookieClient(t)
		require.NoError(t, csrf.Ensure(ctx))
		before := csrf.Token()

		grant, err := client.Login(ctx, identity.Credentials{Username: testUsername, Password: testPassword})
		require.NoError(t, err)
		require.NotEqual(t, before, csrf.Token())

		// The old token was retired by the login, so logout only passes with the new one
		require.NoError(t, client.Logout(ctx, grant.AccessToken, ""))
		require.False(t, fake.AccessTokenValid(grant.AccessToken))
		require.EqualValues(t, 1, fake.CSRFCalls.Load())
	})

	t.Run("me revalidates the session cookie", func(t *testing.T) {
		_, _, client := setupSessionCookieClient(t)
		grant, err := client.Login(ctx, identity.Credentials{Username: testUsername, Password: testPassword})
		require.NoError(t, err)

		u, err := client.Me(ctx, grant.AccessToken)
		require.NoError(t, err)
		require.Equal(t, testUsername, u.Username)
	})

	t.Run("without csrf the boundary refuses the login", func(t *testing.T) {
		fake := identityfake.New(t)
		fake.DjangoSessions = true
		fake.AddUser(testUsername, testPassword, "")
		client := identity.NewHTTPClient(fake.URL, defaultPaths(), identity.WithSessionCookie(fake.SessionCookie))

		_, err := client.Login(ctx, identity.Credentials{Username: testUsername, Password: testPassword})
		require.Error(t, err)
		require.True(t, identity.IsResponseStatus(err, http.StatusForbidden))
	})

	t.Run("register creates the account without signing in", func(t *testing.T) {
		_, _, client := setupSessionCookieClient(t)

		grant, err := client.Register(ctx, identity.Registration{Username: "bob", Email: "bob@example.com", Password: "secret99"})
		require.NoError(t, err)
		require.Nil(t, grant)
	})
}

func TestCSRF(t *testing.T) {
	ctx := context.Background()

	t.Run("safe methods are left alone", func(t *testing.T) {
		fake, csrf, _ := setupSessionCookieClient(t)
		req := httptest.NewRequest(http.MethodGet, "/data", nil)

		csrf.Apply(req)
		require.Empty(t, req.Header.Get(identityfake.CSRFHeader))
		require.Zero(t, fake.CSRFCalls.Load())
	})

	t.Run("unsafe methods carry matching cookie and header", func(t *testing.T) {
		fake, csrf, _ := setupSessionCookieClient(t)
		req := httptest.NewRequest(http.MethodPost, "/echo", nil)
		req.AddCookie(&http.Cookie{Name: identityfake.CSRFCookie, Value: "stale"})

		csrf.Apply(req)
		token := req.Header.Get(identityfake.CSRFHeader)
		require.NotEmpty(t, token)
		c, err := req.Cookie(identityfake.CSRFCookie)
		require.NoError(t, err)
		require.Equal(t, token, c.Value)
		require.Len(t, req.Cookies(), 1)

		// Fetched once, then reused
		csrf.Apply(httptest.NewRequest(http.MethodDelete, "/echo", nil))
		require.EqualValues(t, 1, fake.CSRFCalls.Load())
	})

	t.Run("missing cookie is a malformed response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		t.Cleanup(srv.Close)
		csrf := identity.NewCSRF(srv.URL, config.Client{}.GetCSRF())

		require.ErrorIs(t, csrf.Ensure(ctx), apperrors.ErrMalformedResponse)

		req := httptest.NewRequest(http.MethodPost, "/echo", nil)
		csrf.Apply(req)
		require.Empty(t, req.Header.Get(identityfake.CSRFHeader))
	})
}
