package config

import "time"

// IdentityPaths are the identity boundary endpoints, relative to the base URL
type IdentityPaths struct {
	Login    string
	Register string
	Refresh  string
	Logout   string
	Me       string
}

// CSRFSettings describe how a session cookie boundary hands out its anti-forgery token
type CSRFSettings struct {
	Path       string
	CookieName string
	HeaderName string
}

type Client struct{}

var _ ClientConfig = Client{}

func (Client) GetRequestTimeout() time.Duration {
	return GetEnvDuration("SESSION_REQUEST_TIMEOUT", 30*time.Second)
}

// GetRefreshTimeout bounds the single shared refresh round trip
func (Client) GetRefreshTimeout() time.Duration {
	return GetEnvDuration("SESSION_REFRESH_TIMEOUT", 15*time.Second)
}

// GetLogoutTimeout bounds the best-effort server side revoke
func (Client) GetLogoutTimeout() time.Duration {
	return GetEnvDuration("SESSION_LOGOUT_TIMEOUT", 5*time.Second)
}

func (Client) GetIdentityPaths() IdentityPaths {
	return IdentityPaths{
		Login:    GetEnv("SESSION_LOGIN_PATH", "/login"),
		Register: GetEnv("SESSION_REGISTER_PATH", "/register"),
		Refresh:  GetEnv("SESSION_REFRESH_PATH", "/refresh"),
		Logout:   GetEnv("SESSION_LOGOUT_PATH", "/logout"),
		Me:       GetEnv("SESSION_ME_PATH", "/me"),
	}
}

func (Client) GetSessionCookieName() string {
	return GetEnv("SESSION_COOKIE_NAME", "sessionid")
}

// GetCSRF only applies to the cookie strategy
func (Client) GetCSRF() CSRFSettings {
	return CSRFSettings{
		Path:       GetEnv("SESSION_CSRF_PATH", "/csrf"),
		CookieName: GetEnv("SESSION_CSRF_COOKIE", "csrftoken"),
		HeaderName: GetEnv("SESSION_CSRF_HEADER", "X-CSRFToken"),
	}
}

// GetTopRole is the role that satisfies every role check. Empty disables the bypass.
func (Client) GetTopRole() string {
	return GetEnv("SESSION_TOP_ROLE", "Admin")
}
