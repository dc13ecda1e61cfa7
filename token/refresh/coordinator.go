// Package refresh keeps at most one credential refresh in flight and hands its outcome
// to every request that was waiting on it.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/go-session-client/identity"
	apperrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/internal/logging"
	"github.com/jrsteele09/go-session-client/sessions"
	"github.com/jrsteele09/go-session-client/strategy"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ticketKey is the only key used with the group, so there is never more than one ticket
const ticketKey = "refresh"

const defaultTimeout = 15 * time.Second

// SessionState is the part of the session manager the coordinator mutates
type SessionState interface {
	Snapshot() (sessions.Session, uint64)
	UpdateCredentials(generation uint64, accessToken, refreshToken string, expiry time.Time) (sessions.Session, error)
	ClearSessionIf(generation uint64) (bool, error)
}

var _ SessionState = (*sessions.Manager)(nil)

// Coordinator serialises refreshes. A refresh either installs the new credentials or
// clears the session; it is never retried.
type Coordinator struct {
	state    SessionState
	strategy strategy.CredentialStrategy
	group    singleflight.Group
	timeout  time.Duration
	metrics  *Metrics
	logger   zerolog.Logger
}

type Option func(*Coordinator)

// WithTimeout bounds the refresh round trip
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func NewCoordinator(state SessionState, strat strategy.CredentialStrategy, options ...Option) *Coordinator {
	c := &Coordinator{
		state:    state,
		strategy: strat,
		timeout:  defaultTimeout,
		logger:   log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	return c
}

// EnsureFresh returns an access credential newer than stale, refreshing if necessary.
// Concurrent callers share a single refresh and all observe its outcome. A caller whose
// ctx ends stops waiting, but the refresh still completes for the others.
// On failure the error matches ErrRefreshRejected and the session has been cleared.
func (c *Coordinator) EnsureFresh(ctx context.Context, stale string) (string, error) {
	if current, _ := c.state.Snapshot(); current.AccessToken != "" && current.AccessToken != stale {
		return current.AccessToken, nil
	}

	ch := c.group.DoChan(ticketKey, func() (interface{}, error) {
		return c.refresh(stale)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.Shared.Inc()
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("[Coordinator EnsureFresh] stopped waiting for refresh: %w", ctx.Err())
	}
}

// refresh runs once per ticket, detached from any single caller. A ticket that resolved
// after the caller's first check may already have replaced stale, so it is checked again.
func (c *Coordinator) refresh(stale string) (string, error) {
	current, generation := c.state.Snapshot()
	if current.AccessToken != "" && current.AccessToken != stale {
		c.logger.Debug().Msg("credential already refreshed, skipping refresh")
		return current.AccessToken, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	c.metrics.Attempts.Inc()
	start := time.Now()
	c.logger.Debug().Str("refresh_token", logging.Prefix(current.RefreshToken)).Msg("refreshing access token")

	grant, err := c.strategy.Refresh(ctx, current)
	if err == nil && (grant == nil || grant.AccessToken == "") {
		err = fmt.Errorf("%w: refresh returned no access token", apperrors.ErrMalformedResponse)
	}
	if err != nil {
		c.metrics.Failures.Inc()
		c.logger.Warn().Err(err).Dur("duration", time.Since(start)).Msg("token refresh failed, ending session")
		c.fail(generation)
		return "", apperrors.Join(apperrors.ErrRefreshRejected, fmt.Errorf("[Coordinator refresh] %w", err))
	}

	updated, err := c.state.UpdateCredentials(generation, grant.AccessToken, grant.RefreshToken, grantExpiry(grant))
	switch {
	case errors.Is(err, sessions.ErrSessionReplaced):
		// Logged out or signed in again while the refresh was in flight
		c.logger.Debug().Msg("discarding refresh result for replaced session")
		if updated.IsAuthenticated() {
			return updated.AccessToken, nil
		}
		return "", apperrors.Join(apperrors.ErrRefreshRejected, fmt.Errorf("[Coordinator refresh] %w", err))
	case err != nil:
		// In memory state is updated, only persistence failed
		c.logger.Warn().Err(err).Msg("refreshed credentials not persisted")
	}

	c.logger.Info().
		Bool("rotated", grant.RefreshToken != "").
		Dur("duration", time.Since(start)).
		Msg("access token refreshed")
	return updated.AccessToken, nil
}

func (c *Coordinator) fail(generation uint64) {
	cleared, err := c.state.ClearSessionIf(generation)
	if err != nil {
		c.logger.Warn().Err(err).Msg("cleared session not persisted")
	}
	if !cleared {
		c.logger.Debug().Msg("session already replaced, nothing to clear")
	}
}

func grantExpiry(g *identity.Grant) time.Time {
	if !g.Expiry.IsZero() {
		return g.Expiry
	}
	if g.ExpiresIn > 0 {
		return identity.NowTimeFunc().Add(time.Duration(g.ExpiresIn) * time.Second)
	}
	return time.Time{}
}
