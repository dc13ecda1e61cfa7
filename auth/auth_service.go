// Package auth holds the entry points that create and destroy sessions: login,
// registration, logout and restoring a session at startup.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jrsteele09/go-session-client/api"
	"github.com/jrsteele09/go-session-client/identity"
	apperrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/sessions"
	"github.com/jrsteele09/go-session-client/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultLogoutTimeout = 5 * time.Second
	defaultMePath        = "/me"
)

// Deps holds the collaborators of the Service
type Deps struct {
	Identity identity.Client   // Identity boundary, never behind the interceptor
	Sessions *sessions.Manager // Session state
	API      *api.Client       // Intercepted API client, used for /me
}

// Service signs users in and out
type Service struct {
	deps          Deps
	validator     *Validator
	mePath        string
	logoutTimeout time.Duration
	logger        zerolog.Logger
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithLogoutTimeout bounds the server side revoke on logout
func WithLogoutTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.logoutTimeout = d
		}
	}
}

// WithMePath sets the API path that reports the signed in user
func WithMePath(path string) ServiceOption {
	return func(s *Service) {
		s.mePath = path
	}
}

func WithValidator(v *Validator) ServiceOption {
	return func(s *Service) {
		s.validator = v
	}
}

func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService initializes a Service with required dependencies.
func NewService(deps Deps, options ...ServiceOption) (*Service, error) {
	if deps.Identity == nil {
		return nil, errors.New("[NewService] identity client is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("[NewService] session manager is required")
	}
	if deps.API == nil {
		return nil, errors.New("[NewService] api client is required")
	}

	s := &Service{
		deps:          deps,
		validator:     NewValidator(DefaultMinPasswordLength),
		mePath:        defaultMePath,
		logoutTimeout: defaultLogoutTimeout,
		logger:        log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Login exchanges credentials for a session. A rejection by the boundary ends any
// existing session; a network failure leaves it alone.
func (s *Service) Login(ctx context.Context, username, password string) (sessions.Session, error) {
	if err := s.validator.ValidateCredentials(username, password); err != nil {
		return sessions.Session{}, apperrors.Wrapf(err, "[Service Login]")
	}

	grant, err := s.deps.Identity.Login(ctx, identity.Credentials{Username: username, Password: password})
	if err != nil {
		s.onFailure(err)
		return sessions.Session{}, apperrors.Wrapf(err, "[Service Login]")
	}
	if grant.Username == "" {
		grant.Username = username
	}
	return s.establish(grant), nil
}

// Register creates an account. When the boundary does not sign the new account in,
// Register logs in with the same credentials.
func (s *Service) Register(ctx context.Context, username, email, password string) (sessions.Session, error) {
	if err := s.validator.ValidateRegistration(username, email, password); err != nil {
		return sessions.Session{}, apperrors.Wrapf(err, "[Service Register]")
	}

	grant, err := s.deps.Identity.Register(ctx, identity.Registration{Username: username, Email: email, Password: password})
	if err != nil {
		s.onFailure(err)
		return sessions.Session{}, apperrors.Wrapf(err, "[Service Register]")
	}
	if grant == nil {
		s.logger.Debug().Str("username", username).Msg("account created, signing in")
		return s.Login(ctx, username, password)
	}
	if grant.Username == "" {
		grant.Username = username
	}
	return s.establish(grant), nil
}

// Logout revokes the credentials server side, best effort and bounded by the logout
// timeout, then always clears the session. The returned error only reports the revoke.
func (s *Service) Logout(ctx context.Context) error {
	current := s.deps.Sessions.Current()
	var revokeErr error
	if current.IsAuthenticated() {
		revokeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.logoutTimeout)
		revokeErr = s.deps.Identity.Logout(revokeCtx, current.AccessToken, current.RefreshToken)
		cancel()
		if revokeErr != nil {
			s.logger.Warn().Err(revokeErr).Msg("server side logout failed, clearing session anyway")
		}
	}

	if err := s.deps.Sessions.ClearSession(); err != nil {
		s.logger.Warn().Err(err).Msg("cleared session not persisted")
	}
	s.logger.Info().Str("username", current.Username).Msg("signed out")

	if revokeErr != nil {
		return fmt.Errorf("[Service Logout] %w", revokeErr)
	}
	return nil
}

// Restore picks up the stored session at startup and reports whether one is active.
// With validate set the credential is checked with /me through the interceptor, so an
// expired access token is refreshed and a dead session is cleared. A network failure
// keeps the restored session and is returned.
func (s *Service) Restore(ctx context.Context, validate bool) (bool, error) {
	restored, ok := s.deps.Sessions.Restore()
	if !ok {
		return false, nil
	}
	s.logger.Debug().Str("user_id", restored.UserID).Bool("validate", validate).Msg("session restored from storage")
	if !validate {
		return true, nil
	}

	user, err := s.CurrentUser(ctx)
	switch {
	case err == nil:
		s.deps.Sessions.SetIdentity(*user)
		return true, nil
	case apperrors.Is(err, apperrors.ErrUnauthorized):
		if clearErr := s.deps.Sessions.ClearSession(); clearErr != nil {
			s.logger.Warn().Err(clearErr).Msg("cleared session not persisted")
		}
		s.logger.Info().Msg("stored session no longer valid")
		return false, nil
	default:
		return s.deps.Sessions.IsAuthenticated(), apperrors.Wrapf(err, "[Service Restore]")
	}
}

// CurrentUser asks the API who the session belongs to
func (s *Service) CurrentUser(ctx context.Context) (*users.User, error) {
	if !s.deps.Sessions.IsAuthenticated() {
		return nil, fmt.Errorf("[Service CurrentUser] %w", apperrors.ErrUnauthorized)
	}
	var payload identity.UserPayload
	if err := s.deps.API.Do(ctx, http.MethodGet, s.mePath, nil, &payload); err != nil {
		return nil, apperrors.Wrapf(err, "[Service CurrentUser]")
	}
	return payload.User(), nil
}

func (s *Service) establish(grant *identity.Grant) sessions.Session {
	session := sessions.Session{
		UserID:       grant.UserID.String(),
		Username:     grant.Username,
		Role:         grant.Role,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		Expiry:       grant.Expiry,
	}
	if err := s.deps.Sessions.SetSession(session); err != nil {
		s.logger.Warn().Err(err).Msg("session not persisted, it will not survive a restart")
	}
	s.logger.Info().Str("user_id", session.UserID).Str("username", session.Username).Msg("signed in")
	return s.deps.Sessions.Current()
}

// onFailure ends the session when the boundary passed judgement on the credentials
func (s *Service) onFailure(err error) {
	if !apperrors.IsCredentialJudgement(err) {
		return
	}
	if clearErr := s.deps.Sessions.ClearSession(); clearErr != nil {
		s.logger.Warn().Err(clearErr).Msg("cleared session not persisted")
	}
}
