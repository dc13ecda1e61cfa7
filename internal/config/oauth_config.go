package config

import "strings"

type OAuthConfig interface {
	GetIssuerURL() string
	GetClientID() string
	GetClientSecret() string
	GetScopes() []string
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

func (OAuth) GetIssuerURL() string {
	return GetEnv("OIDC_ISSUER", "")
}

func (OAuth) GetClientID() string {
	return GetEnv("OAUTH_CLIENT_ID", "")
}

func (OAuth) GetClientSecret() string {
	return GetEnv("OAUTH_CLIENT_SECRET", "")
}

func (OAuth) GetScopes() []string {
	return strings.Fields(GetEnv("OAUTH_SCOPES", "openid profile email offline_access"))
}
