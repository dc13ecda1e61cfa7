package strategy_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/go-session-client/identity"
	"github.com/jrsteele09/go-session-client/identity/identityfake"
	"github.com/jrsteele09/go-session-client/internal/config"
	apperrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/sessions"
	"github.com/jrsteele09/go-session-client/strategy"
	"github.com/stretchr/testify/require"
)

func setupFake(t *testing.T) (*identityfake.Server, *identity.HTTPClient) {
	t.Helper()
	fake := identityfake.New(t)
	fake.AddUser("alice", "password123", "User")
	return fake, identity.NewHTTPClient(fake.URL, config.Client{}.GetIdentityPaths())
}

func TestBearer(t *testing.T) {
	ctx := context.Background()

	t.Run("attaches authorization header", func(t *testing.T) {
		_, client := setupFake(t)
		req := httptest.NewRequest(http.MethodGet, "/data", nil)

		strategy.NewBearer(client).Attach(req, sessions.Session{AccessToken: "abc"})
		require.Equal(t, "Bearer abc", req.Header.Get("Authorization"))
	})

	t.Run("anonymous session leaves request untouched", func(t *testing.T) {
		_, client := setupFake(t)
		req := httptest.NewRequest(http.MethodGet, "/data", nil)

		strategy.NewBearer(client).Attach(req, sessions.Session{})
		require.Empty(t, req.Header.Get("Authorization"))
	})

	t.Run("refresh exchanges the refresh token", func(t *testing.T) {
		fake, client := setupFake(t)
		access, refresh := fake.Issue("alice")

		grant, err := strategy.NewBearer(client).Refresh(ctx, sessions.Session{AccessToken: access, RefreshToken: refresh})
		require.NoError(t, err)
		require.NotEqual(t, access, grant.AccessToken)
		require.EqualValues(t, 1, fake.RefreshCalls.Load())
	})

	t.Run("no refresh token is rejected without a call", func(t *testing.T) {
		fake, client := setupFake(t)

		_, err := strategy.NewBearer(client).Refresh(ctx, sessions.Session{AccessToken: "abc"})
		require.ErrorIs(t, err, apperrors.ErrRefreshRejected)
		require.ErrorIs(t, err, apperrors.ErrNoRefreshCredential)
		require.Zero(t, fake.RefreshCalls.Load())
	})
}

func TestCookie(t *testing.T) {
	ctx := context.Background()

	t.Run("attaches session cookie replacing a stale one", func(t *testing.T) {
		_, client := setupFake(t)
		req := httptest.NewRequest(http.MethodGet, "/data", nil)
		req.AddCookie(&http.Cookie{Name: "sessionid", Value: "old"})
		req.AddCookie(&http.Cookie{Name: "csrftoken", Value: "keep"})

		strategy.NewCookie("sessionid", client).Attach(req, sessions.Session{AccessToken: "new"})

		c, err := req.Cookie("sessionid")
		require.NoError(t, err)
		require.Equal(t, "new", c.Value)
		require.Len(t, req.Cookies(), 2)
		require.Empty(t, req.Header.Get("Authorization"))
	})

	t.Run("echoes the csrf token on unsafe requests only", func(t *testing.T) {
		fake, client := setupFake(t)
		csrf := identity.NewCSRF(fake.URL, config.Client{}.GetCSRF())
		cookie := strategy.NewCookie("sessionid", client, strategy.WithCSRF(csrf))

		get := httptest.NewRequest(http.MethodGet, "/data", nil)
		cookie.Attach(get, sessions.Session{AccessToken: "abc"})
		require.Empty(t, get.Header.Get(identityfake.CSRFHeader))

		post := httptest.NewRequest(http.MethodPost, "/echo", nil)
		cookie.Attach(post, sessions.Session{AccessToken: "abc"})
		require.NotEmpty(t, post.Header.Get(identityfake.CSRFHeader))
		require.Equal(t, csrf.Token(), post.Header.Get(identityfake.CSRFHeader))
		session, err := post.Cookie("sessionid")
		require.NoError(t, err)
		require.Equal(t, "abc", session.Value)
		require.EqualValues(t, 1, fake.CSRFCalls.Load())
	})

	t.Run("revalidates a live cookie", func(t *testing.T) {
		fake, client := setupFake(t)
		access, _ := fake.Issue("alice")

		grant, err := strategy.NewCookie("sessionid", client).Refresh(ctx, sessions.Session{AccessToken: access})
		require.NoError(t, err)
		require.Equal(t, access, grant.AccessToken)
		require.Equal(t, "alice", grant.Username)
		require.Zero(t, fake.RefreshCalls.Load())
		require.EqualValues(t, 1, fake.MeCalls.Load())
	})

	t.Run("dead cookie is rejected", func(t *testing.T) {
		fake, client := setupFake(t)
		access, _ := fake.Issue("alice")
		fake.ExpireAccessTokens()

		_, err := strategy.NewCookie("sessionid", client).Refresh(ctx, sessions.Session{AccessToken: access})
		require.ErrorIs(t, err, apperrors.ErrRefreshRejected)
	})

	t.Run("uses the refresh token when there is one", func(t *testing.T) {
		fake, client := setupFake(t)
		access, refresh := fake.Issue("alice")

		grant, err := strategy.NewCookie("sessionid", client).Refresh(ctx, sessions.Session{AccessToken: access, RefreshToken: refresh})
		require.NoError(t, err)
		require.NotEqual(t, access, grant.AccessToken)
		require.EqualValues(t, 1, fake.RefreshCalls.Load())
	})
}

func TestNew(t *testing.T) {
	_, client := setupFake(t)

	require.Equal(t, config.StrategyCookie, strategy.New(config.StrategyCookie, client, config.Client{}).Name())
	require.Equal(t, config.StrategyBearer, strategy.New(config.StrategyBearer, client, config.Client{}).Name())
	require.Equal(t, config.StrategyBearer, strategy.New(config.StrategyOAuth2, client, config.Client{}).Name())
}
