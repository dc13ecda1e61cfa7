package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	apperrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// OAuth2Client speaks to an OpenID Connect provider: resource owner password grant to
// sign in, refresh_token grant to refresh, and the revocation endpoint to sign out.
type OAuth2Client struct {
	config     *oauth2.Config
	verifier   *oidc.IDTokenVerifier
	provider   *oidc.Provider
	revokeURL  string
	httpClient *http.Client
	logger     zerolog.Logger
}

var _ Client = (*OAuth2Client)(nil)

type OAuth2Option func(*OAuth2Client)

// WithOAuth2HTTPClient sets the client used for token and discovery calls
func WithOAuth2HTTPClient(c *http.Client) OAuth2Option {
	return func(o *OAuth2Client) {
		o.httpClient = c
	}
}

// WithRevocationURL overrides the discovered revocation endpoint
func WithRevocationURL(u string) OAuth2Option {
	return func(o *OAuth2Client) {
		o.revokeURL = u
	}
}

func WithOAuth2Logger(logger zerolog.Logger) OAuth2Option {
	return func(o *OAuth2Client) {
		o.logger = logger
	}
}

// DiscoverOAuth2Client builds an OAuth2Client from the issuer's discovery document
func DiscoverOAuth2Client(ctx context.Context, issuer, clientID, clientSecret string, scopes []string, options ...OAuth2Option) (*OAuth2Client, error) {
	o := newOAuth2Client(nil, nil, options...)

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, o.httpClient), issuer)
	if err != nil {
		return nil, apperrors.Join(apperrors.ErrNetworkFailure, fmt.Errorf("[DiscoverOAuth2Client] failed to create OIDC provider: %w", err))
	}

	var discovery struct {
		RevocationEndpoint string `json:"revocation_endpoint"`
	}
	if err := provider.Claims(&discovery); err != nil {
		return nil, fmt.Errorf("[DiscoverOAuth2Client] %w: %w", apperrors.ErrMalformedResponse, err)
	}

	o.provider = provider
	o.config = &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     provider.Endpoint(),
		Scopes:       scopes,
	}
	o.verifier = provider.Verifier(&oidc.Config{ClientID: clientID})
	if o.revokeURL == "" {
		o.revokeURL = discovery.RevocationEndpoint
	}
	return o, nil
}

// NewOAuth2Client builds an OAuth2Client from explicit endpoints. verifier may be nil,
// in which case identity comes from the access token claims.
func NewOAuth2Client(cfg *oauth2.Config, verifier *oidc.IDTokenVerifier, options ...OAuth2Option) *OAuth2Client {
	return newOAuth2Client(cfg, verifier, options...)
}

func newOAuth2Client(cfg *oauth2.Config, verifier *oidc.IDTokenVerifier, options ...OAuth2Option) *OAuth2Client {
	o := &OAuth2Client{
		config:     cfg,
		verifier:   verifier,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log.Logger,
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

func (o *OAuth2Client) Login(ctx context.Context, creds Credentials) (*Grant, error) {
	tok, err := o.config.PasswordCredentialsToken(o.clientContext(ctx), creds.Username, creds.Password)
	if err != nil {
		return nil, classifyTokenError("[OAuth2Client Login]", err, apperrors.ErrInvalidCredentials)
	}
	return o.grantFromToken(ctx, tok)
}

// Register is not part of OAuth2; accounts are created at the provider
func (o *OAuth2Client) Register(context.Context, Registration) (*Grant, error) {
	return nil, fmt.Errorf("[OAuth2Client Register] %w", apperrors.ErrUnsupported)
}

func (o *OAuth2Client) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	if refreshToken == "" {
		return nil, apperrors.Join(apperrors.ErrRefreshRejected, apperrors.ErrNoRefreshCredential)
	}

	// A token with no access token is never valid, so the source goes straight to the refresh grant
	tok, err := o.config.TokenSource(o.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, classifyTokenError("[OAuth2Client Refresh]", err, apperrors.ErrRefreshRejected)
	}
	grant, err := o.grantFromToken(ctx, tok)
	if err != nil {
		return nil, err
	}
	if grant.RefreshToken == refreshToken {
		// not rotated
		grant.RefreshToken = ""
	}
	return grant, nil
}

func (o *OAuth2Client) Logout(ctx context.Context, _ string, refreshToken string) error {
	if o.revokeURL == "" || refreshToken == "" {
		return nil
	}

	form := url.Values{
		"token":           {refreshToken},
		"token_type_hint": {"refresh_token"},
		"client_id":       {o.config.ClientID},
	}
	if o.config.ClientSecret != "" {
		form.Set("client_secret", o.config.ClientSecret)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("[OAuth2Client Logout] failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return apperrors.Join(apperrors.ErrNetworkFailure, fmt.Errorf("[OAuth2Client Logout] %w", err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode != http.StatusOK {
		return &ResponseError{Op: "[OAuth2Client Logout]", Status: resp.StatusCode}
	}
	return nil
}

func (o *OAuth2Client) Me(ctx context.Context, accessToken string) (*users.User, error) {
	if o.provider == nil {
		id, ok := DecodeAccessToken(accessToken)
		if !ok {
			return nil, fmt.Errorf("[OAuth2Client Me] %w: no userinfo endpoint", apperrors.ErrUnsupported)
		}
		return &users.User{ID: id.UserID, Username: id.Username, Role: id.Role}, nil
	}

	// go-oidc reports userinfo failures as text, so the status is read off the wire
	recorder := &statusRecorder{base: o.httpClient.Transport}
	client := *o.httpClient
	client.Transport = recorder
	info, err := o.provider.UserInfo(context.WithValue(ctx, oauth2.HTTPClient, &client), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	if err != nil {
		switch status := recorder.Status(); {
		case status == http.StatusOK:
			return nil, fmt.Errorf("[OAuth2Client Me] %w: %w", apperrors.ErrMalformedResponse, err)
		case status == http.StatusUnauthorized:
			return nil, apperrors.Join(apperrors.ErrUnauthorized, &ResponseError{Op: "[OAuth2Client Me]", Status: status, Detail: err.Error()})
		case status != 0:
			return nil, apperrors.Join(apperrors.ErrNetworkFailure, &ResponseError{Op: "[OAuth2Client Me]", Status: status, Detail: err.Error()})
		}
		return nil, apperrors.Join(apperrors.ErrNetworkFailure, apperrors.Wrapf(err, "[OAuth2Client Me]"))
	}

	var claims identityClaims
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("[OAuth2Client Me] %w: %w", apperrors.ErrMalformedResponse, err)
	}
	u := claims.user()
	u.ID = info.Subject
	u.Email = info.Email
	return u, nil
}

// statusRecorder keeps the status of the last response it carried
type statusRecorder struct {
	base   http.RoundTripper
	mu     sync.Mutex
	status int
}

func (r *statusRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	base := r.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err == nil {
		r.mu.Lock()
		r.status = resp.StatusCode
		r.mu.Unlock()
	}
	return resp, err
}

func (r *statusRecorder) Status() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (o *OAuth2Client) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}

// grantFromToken converts an oauth2 token, taking identity from a verified id_token when
// one was issued and from the access token claims otherwise.
func (o *OAuth2Client) grantFromToken(ctx context.Context, tok *oauth2.Token) (*Grant, error) {
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("[OAuth2Client] %w: missing access_token", apperrors.ErrMalformedResponse)
	}
	grant := &Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}

	rawIDToken, _ := tok.Extra("id_token").(string)
	if rawIDToken != "" && o.verifier != nil {
		idToken, err := o.verifier.Verify(ctx, rawIDToken)
		if err != nil {
			return nil, fmt.Errorf("[OAuth2Client] %w: id token verification failed: %w", apperrors.ErrMalformedResponse, err)
		}
		var claims identityClaims
		if err := idToken.Claims(&claims); err != nil {
			return nil, fmt.Errorf("[OAuth2Client] %w: %w", apperrors.ErrMalformedResponse, err)
		}
		u := claims.user()
		grant.UserID = FlexID(idToken.Subject)
		grant.Username = u.Username
		grant.Role = u.Role
		return grant, nil
	}

	if id, ok := DecodeAccessToken(tok.AccessToken); ok {
		grant.UserID = FlexID(id.UserID)
		grant.Username = id.Username
		grant.Role = id.Role
	}
	return grant, nil
}

type identityClaims struct {
	PreferredUsername string   `json:"preferred_username"`
	Name              string   `json:"name"`
	Email             string   `json:"email"`
	Role              string   `json:"role"`
	Roles             []string `json:"roles"`
}

func (c identityClaims) user() *users.User {
	u := &users.User{Username: c.PreferredUsername, Email: c.Email, Role: users.RoleType(c.Role)}
	if u.Username == "" {
		u.Username = c.Name
	}
	if u.Role == "" && len(c.Roles) > 0 {
		u.Role = users.RoleType(c.Roles[0])
	}
	return u
}

// classifyTokenError maps x/oauth2 failures onto the error taxonomy. A token endpoint
// answering 4xx is a credential judgement; 5xx, 429 and transport errors are network
// failures; anything else means the response could not be understood.
func classifyTokenError(op string, err error, judgement error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		respErr := &ResponseError{Op: op, Status: status, Detail: retrieveErr.ErrorDescription}
		if respErr.Detail == "" {
			respErr.Detail = retrieveErr.ErrorCode
		}
		if status == http.StatusTooManyRequests || status >= 500 {
			return apperrors.Join(apperrors.ErrNetworkFailure, respErr)
		}
		return apperrors.Join(judgement, respErr)
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Join(apperrors.ErrNetworkFailure, fmt.Errorf("%s %w", op, err))
	}
	return fmt.Errorf("%s %w: %w", op, apperrors.ErrMalformedResponse, err)
}
