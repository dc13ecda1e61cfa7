// Package transport intercepts outbound API calls: it attaches the session credential,
// and on a 401 waits for the shared refresh and replays the call once.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/sessions"
	"github.com/jrsteele09/go-session-client/strategy"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RequestIDHeader is added to every outbound call that does not carry one
const RequestIDHeader = "X-Request-ID"

// maxBufferedBody bounds how much of a 401 body is kept for the caller
const maxBufferedBody = 64 << 10

// State is where a request is in the interceptor
type State int

const (
	StateSent State = iota
	StateAwaitingRefresh
	StateRetried
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSent:
		return "sent"
	case StateAwaitingRefresh:
		return "awaiting-refresh"
	case StateRetried:
		return "retried"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Refresher hands out an access credential newer than stale
type Refresher interface {
	EnsureFresh(ctx context.Context, stale string) (string, error)
}

// SessionSource reads the current session
type SessionSource interface {
	Current() sessions.Session
}

// StateObserver is told about every state a request enters
type StateObserver func(req *http.Request, state State)

type Transport struct {
	base      http.RoundTripper
	sessions  SessionSource
	strategy  strategy.CredentialStrategy
	refresher Refresher
	observer  StateObserver
	metrics   *Metrics
	logger    zerolog.Logger
}

var _ http.RoundTripper = (*Transport)(nil)

type Option func(*Transport)

// WithBase sets the RoundTripper that carries requests (default http.DefaultTransport)
func WithBase(base http.RoundTripper) Option {
	return func(t *Transport) {
		t.base = base
	}
}

func WithObserver(observer StateObserver) Option {
	return func(t *Transport) {
		t.observer = observer
	}
}

func WithMetrics(m *Metrics) Option {
	return func(t *Transport) {
		t.metrics = m
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

func New(source SessionSource, strat strategy.CredentialStrategy, refresher Refresher, options ...Option) *Transport {
	t := &Transport{
		base:      http.DefaultTransport,
		sessions:  source,
		strategy:  strat,
		refresher: refresher,
		logger:    log.Logger,
	}
	for _, opt := range options {
		opt(t)
	}
	if t.metrics == nil {
		t.metrics = NewMetrics(nil)
	}
	return t
}

// Client returns an http.Client that sends everything through t
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := replayableBody(req)
	if err != nil {
		return nil, fmt.Errorf("[Transport RoundTrip] failed to buffer request body: %w", err)
	}
	requestID := req.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	session := t.sessions.Current()
	out, err := prepare(req, body, requestID)
	if err != nil {
		return nil, err
	}
	t.strategy.Attach(out, session)
	t.observe(req, StateSent)

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || !session.IsAuthenticated() {
		return resp, nil
	}

	// Keep the 401 so it can still be surfaced if the refresh fails
	bufferResponse(resp)
	t.observe(req, StateAwaitingRefresh)

	logger := t.logger.With().Str("request_id", requestID).Str("method", req.Method).Str("path", req.URL.Path).Logger()
	token, err := t.refresher.EnsureFresh(req.Context(), session.AccessToken)
	if err != nil {
		t.observe(req, StateFailed)
		if ctxErr := req.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		t.metrics.Failed.Inc()
		logger.Debug().Err(err).Bool("refresh_rejected", apperrors.Is(err, apperrors.ErrRefreshRejected)).Msg("refresh failed, returning 401")
		return resp, nil
	}

	retry, err := prepare(req, body, requestID)
	if err != nil {
		t.observe(req, StateFailed)
		return nil, err
	}
	t.strategy.AttachToken(retry, token)
	t.observe(req, StateRetried)
	t.metrics.Replayed.Inc()
	logger.Debug().Msg("replaying request with refreshed credential")

	// Whatever comes back now is final, including another 401
	return t.base.RoundTrip(retry)
}

func (t *Transport) observe(req *http.Request, state State) {
	if t.observer != nil {
		t.observer(req, state)
	}
}

// prepare clones req with a fresh copy of its body
func prepare(req *http.Request, body func() (io.ReadCloser, error), requestID string) (*http.Request, error) {
	out := req.Clone(req.Context())
	out.Header.Set(RequestIDHeader, requestID)
	if body != nil {
		rc, err := body()
		if err != nil {
			return nil, fmt.Errorf("[Transport prepare] failed to copy request body: %w", err)
		}
		out.Body = rc
		out.GetBody = body
	}
	return out, nil
}

// replayableBody returns a source of identical bodies, consuming and closing req.Body
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()

	if req.GetBody != nil {
		return req.GetBody, nil
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

func bufferResponse(resp *http.Response) {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBufferedBody))
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(data))
}
