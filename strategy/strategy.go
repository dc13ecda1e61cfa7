// Package strategy decides how the access credential travels on outbound requests and
// how a rejected credential is renewed.
package strategy

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-session-client/identity"
	"github.com/jrsteele09/go-session-client/internal/config"
	apperrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/sessions"
)

// CredentialStrategy attaches credentials and renews them.
// Refresh must not go through the request interceptor.
type CredentialStrategy interface {
	Name() string
	Attach(req *http.Request, s sessions.Session)
	// AttachToken presents a bare access token, for identity boundary calls
	AttachToken(req *http.Request, accessToken string)
	Refresh(ctx context.Context, s sessions.Session) (*identity.Grant, error)
}

// Bearer sends "Authorization: Bearer <access>" and renews with the refresh token
type Bearer struct {
	refresher identity.Refresher
}

var _ CredentialStrategy = (*Bearer)(nil)

func NewBearer(refresher identity.Refresher) *Bearer {
	return &Bearer{refresher: refresher}
}

func (b *Bearer) Name() string {
	return config.StrategyBearer
}

func (b *Bearer) Attach(req *http.Request, s sessions.Session) {
	if s.AccessToken == "" {
		return
	}
	b.AttachToken(req, s.AccessToken)
}

func (b *Bearer) AttachToken(req *http.Request, accessToken string) {
	identity.BearerAttach(req, accessToken)
}

func (b *Bearer) Refresh(ctx context.Context, s sessions.Session) (*identity.Grant, error) {
	if s.RefreshToken == "" {
		return nil, apperrors.Join(apperrors.ErrRefreshRejected, apperrors.ErrNoRefreshCredential)
	}
	grant, err := b.refresher.Refresh(ctx, s.RefreshToken)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[Bearer Refresh]")
	}
	return grant, nil
}

// Cookie carries the access credential as a session cookie. With a refresh token it
// renews like Bearer; without one the cookie can only be revalidated against /me.
type Cookie struct {
	name        string
	refresher   identity.Refresher
	revalidator identity.Revalidator
	csrf        *identity.CSRF
}

var _ CredentialStrategy = (*Cookie)(nil)

type CookieOption func(*Cookie)

// WithCSRF echoes the boundary's anti-forgery token on unsafe requests
func WithCSRF(csrf *identity.CSRF) CookieOption {
	return func(c *Cookie) {
		c.csrf = csrf
	}
}

func NewCookie(name string, client identity.Client, options ...CookieOption) *Cookie {
	c := &Cookie{name: name, refresher: client, revalidator: client}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func (c *Cookie) Name() string {
	return config.StrategyCookie
}

func (c *Cookie) Attach(req *http.Request, s sessions.Session) {
	if s.AccessToken == "" {
		return
	}
	c.AttachToken(req, s.AccessToken)
}

// AttachToken replaces any cookie of the same name already on the request
func (c *Cookie) AttachToken(req *http.Request, accessToken string) {
	identity.SetCookie(req, c.name, accessToken)
	if c.csrf != nil {
		c.csrf.Apply(req)
	}
}

func (c *Cookie) Refresh(ctx context.Context, s sessions.Session) (*identity.Grant, error) {
	if s.RefreshToken != "" {
		grant, err := c.refresher.Refresh(ctx, s.RefreshToken)
		if err != nil {
			return nil, apperrors.Wrapf(err, "[Cookie Refresh]")
		}
		return grant, nil
	}
	if s.AccessToken == "" {
		return nil, apperrors.Join(apperrors.ErrRefreshRejected, apperrors.ErrNoRefreshCredential)
	}

	user, err := c.revalidator.Me(ctx, s.AccessToken)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrUnauthorized) {
			return nil, apperrors.Join(apperrors.ErrRefreshRejected, fmt.Errorf("[Cookie Refresh] session cookie no longer valid: %w", err))
		}
		return nil, apperrors.Wrapf(err, "[Cookie Refresh]")
	}
	return &identity.Grant{
		AccessToken: s.AccessToken,
		UserID:      identity.FlexID(user.ID),
		Username:    user.Username,
		Role:        user.Role,
	}, nil
}

// New selects a strategy by its configured name; unknown names get Bearer.
// The OAuth2 strategy is Bearer over an OAuth2 identity client.
func New(name string, client identity.Client, cfg config.ClientConfig, options ...CookieOption) CredentialStrategy {
	switch name {
	case config.StrategyCookie:
		return NewCookie(cfg.GetSessionCookieName(), client, options...)
	default:
		return NewBearer(client)
	}
}
