package identity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/go-session-client/internal/config"
	apperrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CSRF holds the anti-forgery token a session cookie boundary hands out and echoes it
// on unsafe requests, as the cookie and as the header the boundary compares it with.
// One CSRF is shared by the identity client and the cookie strategy.
type CSRF struct {
	url        string
	cookieName string
	headerName string
	httpClient *http.Client
	logger     zerolog.Logger

	mu    sync.Mutex
	token string
}

type CSRFOption func(*CSRF)

// WithCSRFHTTPClient sets the client used to fetch the token. It must not be the intercepted client.
func WithCSRFHTTPClient(c *http.Client) CSRFOption {
	return func(x *CSRF) {
		x.httpClient = c
	}
}

func WithCSRFLogger(logger zerolog.Logger) CSRFOption {
	return func(x *CSRF) {
		x.logger = logger
	}
}

func NewCSRF(baseURL string, settings config.CSRFSettings, options ...CSRFOption) *CSRF {
	x := &CSRF{
		url:        strings.TrimRight(baseURL, "/") + settings.Path,
		cookieName: settings.CookieName,
		headerName: settings.HeaderName,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log.Logger,
	}
	for _, opt := range options {
		opt(x)
	}
	return x
}

// Token is the current token, empty until one has been fetched or captured
func (x *CSRF) Token() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.token
}

// Capture keeps a token set or rotated by resp
func (x *CSRF) Capture(resp *http.Response) {
	for _, c := range resp.Cookies() {
		if c.Name == x.cookieName && c.Value != "" {
			x.mu.Lock()
			x.token = c.Value
			x.mu.Unlock()
		}
	}
}

// Ensure fetches a token unless one is already held
func (x *CSRF) Ensure(ctx context.Context) error {
	if x.Token() != "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, x.url, nil)
	if err != nil {
		return fmt.Errorf("[CSRF Ensure] failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return apperrors.Join(apperrors.ErrNetworkFailure, apperrors.Wrapf(err, "[CSRF Ensure]"))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	x.Capture(resp)
	if x.Token() == "" {
		return fmt.Errorf("[CSRF Ensure] %w: status %d without a %s cookie", apperrors.ErrMalformedResponse, resp.StatusCode, x.cookieName)
	}
	return nil
}

// Apply puts the token on req when its method can change server state, fetching a
// token first if none is held. A failed fetch leaves req as it was.
func (x *CSRF) Apply(req *http.Request) {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return
	}
	if err := x.Ensure(req.Context()); err != nil {
		x.logger.Debug().Err(err).Msg("no csrf token, sending request without one")
		return
	}
	token := x.Token()
	req.Header.Set(x.headerName, token)
	SetCookie(req, x.cookieName, token)
}

// SetCookie sets a request cookie, replacing any cookie of the same name
func SetCookie(req *http.Request, name, value string) {
	existing := req.Cookies()
	req.Header.Del("Cookie")
	for _, c := range existing {
		if c.Name != name {
			req.AddCookie(c)
		}
	}
	req.AddCookie(&http.Cookie{Name: name, Value: value})
}
