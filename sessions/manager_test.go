package sessions_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-session-client/credstore"
	apperrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/sessions"
	"github.com/jrsteele09/go-session-client/storage/kvfake"
	"github.com/jrsteele09/go-session-client/users"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	kv      *kvfake.FakeKV
	store   *credstore.KVStore
	manager *sessions.Manager
}

func setupFixture(t *testing.T, options ...sessions.ManagerOption) *fixture {
	t.Helper()
	kv := kvfake.NewFakeKV()
	store := credstore.New(kv, credstore.WithLogger(zerolog.Nop()))
	options = append([]sessions.ManagerOption{sessions.WithLogger(zerolog.Nop())}, options...)
	return &fixture{kv: kv, store: store, manager: sessions.NewManager(store, options...)}
}

func testSession() sessions.Session {
	return sessions.Session{
		UserID:       "1",
		Username:     "demo_user",
		Role:         users.RoleUser,
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
	}
}

func TestManager_AnonymousByDefault(t *testing.T) {
	f := setupFixture(t)

	require.False(t, f.manager.IsAuthenticated())
	require.False(t, f.manager.HasRole(users.RoleUser))
	require.Equal(t, sessions.Session{}, f.manager.Current())
}

func TestManager_SetSessionWritesThrough(t *testing.T) {
	f := setupFixture(t)

	require.NoError(t, f.manager.SetSession(testSession()))
	require.True(t, f.manager.IsAuthenticated())

	rec, err := f.store.Load()
	require.NoError(t, err)
	require.Equal(t, &credstore.Record{AccessToken: "access-1", RefreshToken: "refresh-1"}, rec)
}

func TestManager_SetSessionThenReloadRestoresEquivalentSession(t *testing.T) {
	f := setupFixture(t)
	require.NoError(t, f.manager.SetSession(testSession()))

	// New manager over the same storage, as after a reload
	reloaded := sessions.NewManager(f.store, sessions.WithLogger(zerolog.Nop()))
	s, ok := reloaded.Restore()

	require.True(t, ok)
	require.True(t, reloaded.IsAuthenticated())
	require.Equal(t, "access-1", s.AccessToken)
	require.Equal(t, "refresh-1", s.RefreshToken)
}

func TestManager_SessionCookieWithoutRefreshSurvivesReload(t *testing.T) {
	f := setupFixture(t)
	require.NoError(t, f.manager.SetSession(sessions.Session{UserID: "7", Username: "demo_user", AccessToken: "sessionid-abc"}))

	reloaded := sessions.NewManager(f.store, sessions.WithLogger(zerolog.Nop()))
	s, ok := reloaded.Restore()

	require.True(t, ok)
	require.True(t, reloaded.IsAuthenticated())
	require.Equal(t, "sessionid-abc", s.AccessToken)
	require.Empty(t, s.RefreshToken)
}

func TestManager_RestoreRecoversIdentityFromToken(t *testing.T) {
	expiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	decoder := func(token string) (sessions.Identity, bool) {
		if token != "access-1" {
			return sessions.Identity{}, false
		}
		return sessions.Identity{UserID: "1", Username: "demo_user", Role: users.RoleEditor, Expiry: expiry}, true
	}
	f := setupFixture(t)
	require.NoError(t, f.store.Save(credstore.Record{AccessToken: "access-1", RefreshToken: "refresh-1"}))

	m := sessions.NewManager(f.store, sessions.WithIdentityDecoder(decoder), sessions.WithLogger(zerolog.Nop()))
	s, ok := m.Restore()

	require.True(t, ok)
	require.Equal(t, "demo_user", s.Username)
	require.Equal(t, expiry, s.Expiry)
	require.True(t, m.HasRole(users.RoleEditor))
}

func TestManager_RestoreWithNothingStored(t *testing.T) {
	f := setupFixture(t)
	_, ok := f.manager.Restore()
	require.False(t, ok)
	require.False(t, f.manager.IsAuthenticated())
}

func TestManager_ClearSession(t *testing.T) {
	f := setupFixture(t)
	require.NoError(t, f.manager.SetSession(testSession()))

	require.NoError(t, f.manager.ClearSession())

	require.False(t, f.manager.IsAuthenticated())
	rec, err := f.store.Load()
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestManager_SetSessionWithoutAccessTokenClears(t *testing.T) {
	f := setupFixture(t)
	require.NoError(t, f.manager.SetSession(testSession()))

	s := testSession()
	s.AccessToken = ""
	require.NoError(t, f.manager.SetSession(s))
	require.False(t, f.manager.IsAuthenticated())
}

func TestManager_CurrentIsACopy(t *testing.T) {
	f := setupFixture(t)
	require.NoError(t, f.manager.SetSession(testSession()))

	s := f.manager.Current()
	s.AccessToken = "tampered"

	require.Equal(t, "access-1", f.manager.Current().AccessToken)
	rec, _ := f.store.Load()
	require.Equal(t, "access-1", rec.AccessToken)
}

func TestManager_HasRolePolicies(t *testing.T) {
	t.Run("default policy collapses admin upward", func(t *testing.T) {
		f := setupFixture(t)
		s := testSession()
		s.Role = users.RoleAdmin
		require.NoError(t, f.manager.SetSession(s))

		require.True(t, f.manager.HasRole(users.RoleEditor))
		require.True(t, f.manager.HasRole(users.RoleAdmin))
	})

	t.Run("ranked hierarchy", func(t *testing.T) {
		f := setupFixture(t, sessions.WithRolePolicy(users.NewRankedHierarchy(users.RoleUser, users.RoleEditor, users.RoleAdmin)))
		s := testSession()
		s.Role = users.RoleEditor
		require.NoError(t, f.manager.SetSession(s))

		require.True(t, f.manager.HasRole(users.RoleUser))
		require.False(t, f.manager.HasRole(users.RoleAdmin))
	})
}

func TestManager_UpdateCredentials(t *testing.T) {
	f := setupFixture(t)
	require.NoError(t, f.manager.SetSession(testSession()))
	_, gen := f.manager.Snapshot()

	t.Run("keeps refresh token when not rotated", func(t *testing.T) {
		s, err := f.manager.UpdateCredentials(gen, "access-2", "", time.Time{})
		require.NoError(t, err)
		require.Equal(t, "access-2", s.AccessToken)
		require.Equal(t, "refresh-1", s.RefreshToken)
		require.Equal(t, "demo_user", s.Username)

		rec, _ := f.store.Load()
		require.Equal(t, "access-2", rec.AccessToken)
	})

	t.Run("stale generation is rejected", func(t *testing.T) {
		_, err := f.manager.UpdateCredentials(gen, "access-3", "refresh-3", time.Time{})
		require.ErrorIs(t, err, sessions.ErrSessionReplaced)
		require.Equal(t, "access-2", f.manager.Current().AccessToken)
	})

	t.Run("refresh landing after logout does not resurrect the session", func(t *testing.T) {
		_, gen := f.manager.Snapshot()
		require.NoError(t, f.manager.ClearSession())

		_, err := f.manager.UpdateCredentials(gen, "access-4", "refresh-4", time.Time{})
		require.ErrorIs(t, err, sessions.ErrSessionReplaced)
		require.False(t, f.manager.IsAuthenticated())
	})
}

func TestManager_ClearSessionIf(t *testing.T) {
	f := setupFixture(t)
	require.NoError(t, f.manager.SetSession(testSession()))
	_, oldGen := f.manager.Snapshot()

	// A new login replaced the session; clearing for the old one is a no-op
	require.NoError(t, f.manager.SetSession(testSession()))
	cleared, err := f.manager.ClearSessionIf(oldGen)
	require.NoError(t, err)
	require.False(t, cleared)
	require.True(t, f.manager.IsAuthenticated())

	_, gen := f.manager.Snapshot()
	cleared, err = f.manager.ClearSessionIf(gen)
	require.NoError(t, err)
	require.True(t, cleared)
	require.False(t, f.manager.IsAuthenticated())
}

func TestManager_StorageUnavailableIsNonFatal(t *testing.T) {
	f := setupFixture(t)
	f.kv.SetUnavailable(true)

	err := f.manager.SetSession(testSession())
	require.ErrorIs(t, err, apperrors.ErrStorageUnavailable)
	require.True(t, f.manager.IsAuthenticated(), "session still applies in memory")

	_, ok := sessions.NewManager(f.store, sessions.WithLogger(zerolog.Nop())).Restore()
	require.False(t, ok, "session does not survive a reload")
}

func TestManager_SetIdentity(t *testing.T) {
	f := setupFixture(t)
	f.manager.SetIdentity(users.User{ID: "9"})
	require.Empty(t, f.manager.Current().UserID, "ignored while anonymous")

	s := testSession()
	s.Role = ""
	require.NoError(t, f.manager.SetSession(s))
	f.manager.SetIdentity(users.User{ID: "1", Username: "demo_user", Role: users.RoleAdmin})
	require.True(t, f.manager.HasRole(users.RoleAdmin))
}
