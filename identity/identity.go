// Package identity talks to the identity boundary: the service that issues, refreshes
// and revokes credentials. Calls made here never pass through the request interceptor.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jrsteele09/go-session-client/users"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Credentials are what the user types into the login form
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Registration is the sign up form
type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Grant is a set of credentials issued by the boundary, with whatever identity came along.
type Grant struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	UserID       FlexID         `json:"user_id,omitempty"`
	Username     string         `json:"username,omitempty"`
	Role         users.RoleType `json:"role,omitempty"`
	ExpiresIn    int            `json:"expires_in,omitempty"`
	Expiry       time.Time      `json:"-"`
}

// Client is the identity boundary
type Client interface {
	Login(ctx context.Context, creds Credentials) (*Grant, error)
	// Register returns a nil Grant when the boundary creates the account without signing in
	Register(ctx context.Context, reg Registration) (*Grant, error)
	Refresher
	// Logout revokes server side state for the given credentials, best effort
	Logout(ctx context.Context, accessToken, refreshToken string) error
	Revalidator
}

// Refresher exchanges a refresh credential for a new access credential
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Grant, error)
}

// Revalidator reports who an access credential belongs to
type Revalidator interface {
	Me(ctx context.Context, accessToken string) (*users.User, error)
}

// FlexID accepts both JSON numbers and strings, since user ids arrive as either.
type FlexID string

func (id *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("user id is neither string nor number: %w", err)
	}
	*id = FlexID(n.String())
	return nil
}

func (id FlexID) String() string {
	return string(id)
}

// UserPayload is the /me response body
type UserPayload struct {
	ID           FlexID         `json:"user_id"`
	Username     string         `json:"username"`
	Email        string         `json:"email,omitempty"`
	Role         users.RoleType `json:"role,omitempty"`
	ProfileImage string         `json:"profile_image,omitempty"`
	CreatedAt    string         `json:"created_at,omitempty"`
}

func (w UserPayload) User() *users.User {
	u := &users.User{
		ID:           w.ID.String(),
		Username:     w.Username,
		Email:        w.Email,
		Role:         w.Role,
		ProfileImage: w.ProfileImage,
	}
	if t, err := time.Parse(time.RFC3339, w.CreatedAt); err == nil {
		u.CreatedAt = t
	}
	return u
}

func (g *Grant) setExpiry() {
	if g.ExpiresIn > 0 && g.Expiry.IsZero() {
		g.Expiry = NowTimeFunc().Add(time.Duration(g.ExpiresIn) * time.Second)
	}
}
