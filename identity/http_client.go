package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-session-client/internal/config"
	apperrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxErrorBody = 4 << 10

// ResponseError carries the boundary's status and message for a failed call
type ResponseError struct {
	Op     string
	Status int
	Detail string
}

func (e *ResponseError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Detail)
}

// AttachFunc puts an access credential on a request
type AttachFunc func(req *http.Request, accessToken string)

// BearerAttach sets "Authorization: Bearer <token>"
func BearerAttach(req *http.Request, accessToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
}

// HTTPClient is the JSON identity boundary
type HTTPClient struct {
	baseURL    string
	paths      config.IdentityPaths
	httpClient *http.Client
	attach     AttachFunc
	logger     zerolog.Logger

	sessionCookie string
	csrf          *CSRF
}

var _ Client = (*HTTPClient)(nil)

type HTTPOption func(*HTTPClient)

// WithHTTPClient sets the client used for identity calls. It must not be the intercepted client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		h.httpClient = c
	}
}

// WithAttach changes how Logout and Me present the access credential (default bearer)
func WithAttach(attach AttachFunc) HTTPOption {
	return func(h *HTTPClient) {
		h.attach = attach
	}
}

// WithSessionCookie takes the access credential from the named Set-Cookie when the
// login response body carries no access_token
func WithSessionCookie(name string) HTTPOption {
	return func(h *HTTPClient) {
		h.sessionCookie = name
	}
}

// WithCSRF sends the anti-forgery token on identity calls and keeps rotated tokens
func WithCSRF(csrf *CSRF) HTTPOption {
	return func(h *HTTPClient) {
		h.csrf = csrf
	}
}

func WithLogger(logger zerolog.Logger) HTTPOption {
	return func(h *HTTPClient) {
		h.logger = logger
	}
}

func NewHTTPClient(baseURL string, paths config.IdentityPaths, options ...HTTPOption) *HTTPClient {
	h := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		paths:      paths,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		attach:     BearerAttach,
		logger:     log.Logger,
	}
	for _, opt := range options {
		opt(h)
	}
	return h
}

func (h *HTTPClient) Login(ctx context.Context, creds Credentials) (*Grant, error) {
	resp, err := h.post(ctx, h.paths.Login, creds, "")
	if err != nil {
		return nil, apperrors.Join(apperrors.ErrNetworkFailure, apperrors.Wrapf(err, "[HTTPClient Login]"))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, h.statusError("[HTTPClient Login]", resp, apperrors.ErrInvalidCredentials)
	}

	grant, err := decodeGrant(resp.Body)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[HTTPClient Login]")
	}
	h.fromSessionCookie(resp, grant)
	if grant.AccessToken == "" {
		return nil, fmt.Errorf("[HTTPClient Login] %w: missing access_token", apperrors.ErrMalformedResponse)
	}
	return grant, nil
}

func (h *HTTPClient) Register(ctx context.Context, reg Registration) (*Grant, error) {
	resp, err := h.post(ctx, h.paths.Register, reg, "")
	if err != nil {
		return nil, apperrors.Join(apperrors.ErrNetworkFailure, apperrors.Wrapf(err, "[HTTPClient Register]"))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, h.statusError("[HTTPClient Register]", resp, apperrors.ErrInvalidCredentials)
	}

	grant, err := decodeGrant(resp.Body)
	if err == nil {
		h.fromSessionCookie(resp, grant)
	}
	if err != nil || grant.AccessToken == "" {
		// Account created without signing in, e.g. 201 {user_id, username}
		return nil, nil
	}
	return grant, nil
}

func (h *HTTPClient) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	if refreshToken == "" {
		return nil, apperrors.Join(apperrors.ErrRefreshRejected, apperrors.ErrNoRefreshCredential)
	}

	body := map[string]string{"refresh_token": refreshToken}
	resp, err := h.post(ctx, h.paths.Refresh, body, "")
	if err != nil {
		return nil, apperrors.Join(apperrors.ErrNetworkFailure, apperrors.Wrapf(err, "[HTTPClient Refresh]"))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, h.statusError("[HTTPClient Refresh]", resp, apperrors.ErrRefreshRejected)
	}

	grant, err := decodeGrant(resp.Body)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[HTTPClient Refresh]")
	}
	if grant.AccessToken == "" {
		return nil, fmt.Errorf("[HTTPClient Refresh] %w: missing access_token", apperrors.ErrMalformedResponse)
	}
	return grant, nil
}

func (h *HTTPClient) Logout(ctx context.Context, accessToken, refreshToken string) error {
	var body any
	if refreshToken != "" {
		body = map[string]string{"refresh_token": refreshToken}
	}
	resp, err := h.post(ctx, h.paths.Logout, body, accessToken)
	if err != nil {
		return apperrors.Join(apperrors.ErrNetworkFailure, apperrors.Wrapf(err, "[HTTPClient Logout]"))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ResponseError{Op: "[HTTPClient Logout]", Status: resp.StatusCode}
	}
	return nil
}

func (h *HTTPClient) Me(ctx context.Context, accessToken string) (*users.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+h.paths.Me, nil)
	if err != nil {
		return nil, fmt.Errorf("[HTTPClient Me] failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if accessToken != "" {
		h.attach(req, accessToken)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Join(apperrors.ErrNetworkFailure, apperrors.Wrapf(err, "[HTTPClient Me]"))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, h.statusError("[HTTPClient Me]", resp, apperrors.ErrUnauthorized)
	}

	var payload UserPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("[HTTPClient Me] %w: %w", apperrors.ErrMalformedResponse, err)
	}
	return payload.User(), nil
}

func (h *HTTPClient) post(ctx context.Context, path string, body any, accessToken string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if accessToken != "" {
		h.attach(req, accessToken)
	}
	if h.csrf != nil {
		h.csrf.Apply(req)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if h.csrf != nil {
		h.csrf.Capture(resp)
	}
	return resp, nil
}

// fromSessionCookie uses the session cookie as the access credential when the body had none
func (h *HTTPClient) fromSessionCookie(resp *http.Response, grant *Grant) {
	if h.sessionCookie == "" || grant.AccessToken != "" {
		return
	}
	for _, c := range resp.Cookies() {
		if c.Name == h.sessionCookie && c.Value != "" {
			grant.AccessToken = c.Value
			if !c.Expires.IsZero() {
				grant.Expiry = c.Expires
			}
		}
	}
}

// statusError classifies a non-success response. 4xx responses are a judgement on the
// credentials (kind); 429 and 5xx are treated as transient transport failures.
func (h *HTTPClient) statusError(op string, resp *http.Response, kind error) error {
	respErr := &ResponseError{Op: op, Status: resp.StatusCode, Detail: readDetail(resp.Body)}
	h.logger.Debug().Str("op", op).Int("status", resp.StatusCode).Str("detail", respErr.Detail).Msg("identity call failed")

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return apperrors.Join(apperrors.ErrNetworkFailure, respErr)
	}
	return apperrors.Join(kind, respErr)
}

func decodeGrant(r io.Reader) (*Grant, error) {
	var g Grant
	if err := json.NewDecoder(r).Decode(&g); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrMalformedResponse, err)
	}
	g.setExpiry()
	return &g, nil
}

// readDetail pulls a human readable message out of the common error shapes:
// {"detail": "..."} and {"error": "...", "error_description": "..."}.
func readDetail(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}
	var body struct {
		Detail           string `json:"detail"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return strings.TrimSpace(string(data))
	}
	switch {
	case body.Detail != "":
		return body.Detail
	case body.ErrorDescription != "":
		return body.ErrorDescription
	default:
		return body.Error
	}
}

// IsResponseStatus reports whether err carries a boundary response with the given status
func IsResponseStatus(err error, status int) bool {
	var respErr *ResponseError
	return apperrors.As(err, &respErr) && respErr.Status == status
}
