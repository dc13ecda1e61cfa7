package sessions

import (
	"errors"
	"sync"
	"time"

	"github.com/jrsteele09/go-session-client/credstore"
	"github.com/jrsteele09/go-session-client/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrSessionReplaced is returned when a credential update targets a session that has
// since been cleared or replaced by a new login.
var ErrSessionReplaced = errors.New("session replaced")

// Manager owns the current Session. SetSession, ClearSession and UpdateCredentials are
// the only mutators and write through to the credential store before returning.
type Manager struct {
	mu         sync.RWMutex
	current    Session
	generation uint64

	store   credstore.Store
	policy  users.RolePolicy
	decoder IdentityDecoder
	logger  zerolog.Logger
}

var _ View = (*Manager)(nil)

// ManagerOption defines a function type to modify the Manager instance.
type ManagerOption func(*Manager)

// WithRolePolicy replaces the default role policy (Admin satisfies everything)
func WithRolePolicy(policy users.RolePolicy) ManagerOption {
	return func(m *Manager) {
		m.policy = policy
	}
}

// WithIdentityDecoder recovers identity fields from access tokens on restore and refresh
func WithIdentityDecoder(decoder IdentityDecoder) ManagerOption {
	return func(m *Manager) {
		m.decoder = decoder
	}
}

func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates an anonymous session manager over store
func NewManager(store credstore.Store, options ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		policy: users.DefaultPolicy(),
		logger: log.Logger,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Current returns a copy of the session
func (m *Manager) Current() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Snapshot returns a copy of the session and the generation it belongs to
func (m *Manager) Snapshot() (Session, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.generation
}

func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.IsAuthenticated()
}

// HasRole reports whether the current role satisfies role under the configured policy
func (m *Manager) HasRole(role users.RoleType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.current.IsAuthenticated() {
		return false
	}
	return m.policy.Satisfies(m.current.Role, role)
}

// SetSession replaces the session. An unauthenticated session is equivalent to ClearSession.
// The in-memory state is always applied; a returned error only reports that the session
// could not be persisted.
func (m *Manager) SetSession(s Session) error {
	if !s.IsAuthenticated() {
		return m.ClearSession()
	}
	if m.decoder != nil {
		if id, ok := m.decoder(s.AccessToken); ok {
			s.applyIdentity(id)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = s
	m.generation++
	m.logger.Debug().Str("user_id", s.UserID).Str("role", string(s.Role)).Msg("session established")
	return m.store.Save(s.Record())
}

// ClearSession drops the session and its persisted credentials
func (m *Manager) ClearSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clearLocked()
}

// ClearSessionIf clears the session only if it is still the given generation.
// It reports whether the session was cleared.
func (m *Manager) ClearSessionIf(generation uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != generation {
		return false, nil
	}
	return true, m.clearLocked()
}

func (m *Manager) clearLocked() error {
	wasAuthenticated := m.current.IsAuthenticated()
	m.current = Session{}
	m.generation++
	if wasAuthenticated {
		m.logger.Debug().Msg("session cleared")
	}
	return m.store.Clear()
}

// UpdateCredentials swaps in refreshed credentials while keeping the identity fields.
// An empty refreshToken keeps the current one (the boundary did not rotate it).
// It fails with ErrSessionReplaced if the session changed since generation was observed,
// so a refresh that lands after logout cannot resurrect the session.
func (m *Manager) UpdateCredentials(generation uint64, accessToken, refreshToken string, expiry time.Time) (Session, error) {
	var id Identity
	var decoded bool
	if m.decoder != nil {
		id, decoded = m.decoder(accessToken)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != generation || !m.current.IsAuthenticated() {
		return m.current, ErrSessionReplaced
	}

	next := m.current
	next.AccessToken = accessToken
	if refreshToken != "" {
		next.RefreshToken = refreshToken
	}
	next.Expiry = expiry
	if decoded {
		next.applyIdentity(id)
	}

	m.current = next
	m.generation++
	return next, m.store.Save(next.Record())
}

// Restore seeds the session from the credential store, the way a reload picks the
// session back up. It reports whether a session was restored.
func (m *Manager) Restore() (Session, bool) {
	rec, err := m.store.Load()
	if err != nil || rec == nil {
		return Session{}, false
	}

	s := Session{AccessToken: rec.AccessToken, RefreshToken: rec.RefreshToken}
	if m.decoder != nil {
		if id, ok := m.decoder(s.AccessToken); ok {
			s.applyIdentity(id)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = s
	m.generation++
	return s, true
}

// SetIdentity fills in identity fields (from /me) without touching credentials
func (m *Manager) SetIdentity(user users.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current.IsAuthenticated() {
		return
	}
	if user.ID != "" {
		m.current.UserID = user.ID
	}
	if user.Username != "" {
		m.current.Username = user.Username
	}
	if user.Role != "" {
		m.current.Role = user.Role
	}
}
