package sessions

import (
	"time"

	"github.com/jrsteele09/go-session-client/credstore"
	"github.com/jrsteele09/go-session-client/users"
)

// Session is the authoritative in-memory record of who is signed in.
// AccessToken is non-empty if and only if the session is authenticated.
type Session struct {
	UserID       string         // Set from the login response, /me, or access token claims
	Username     string         // Display name of the account
	Role         users.RoleType // Empty for anonymous sessions
	AccessToken  string         // Short lived credential attached to outbound calls
	RefreshToken string         // Long lived credential used only to obtain a new AccessToken
	Expiry       time.Time      // Zero when the boundary does not say
}

// IsAuthenticated is derived from the access credential alone
func (s Session) IsAuthenticated() bool {
	return s.AccessToken != ""
}

// Record is the persisted copy of the session's credentials
func (s Session) Record() credstore.Record {
	return credstore.Record{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken}
}

// Identity is the part of a session that can be recovered from an access token
type Identity struct {
	UserID   string
	Username string
	Role     users.RoleType
	Expiry   time.Time
}

// IdentityDecoder recovers identity from an access token, reporting false when the
// token carries none (opaque tokens).
type IdentityDecoder func(accessToken string) (Identity, bool)

// View is the read-only slice of session state the navigation guard consults
type View interface {
	IsAuthenticated() bool
	HasRole(role users.RoleType) bool
}

func (s *Session) applyIdentity(id Identity) {
	if s.UserID == "" {
		s.UserID = id.UserID
	}
	if s.Username == "" {
		s.Username = id.Username
	}
	if s.Role == "" {
		s.Role = id.Role
	}
	if !id.Expiry.IsZero() {
		s.Expiry = id.Expiry
	}
}
