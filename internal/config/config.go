package config

import "time"

type Config interface {
	EnvConfig
	ClientConfig
	StorageConfig
	OAuthConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetBaseURL() string
	GetStrategy() string
}

type ClientConfig interface {
	GetRequestTimeout() time.Duration
	GetRefreshTimeout() time.Duration
	GetLogoutTimeout() time.Duration
	GetIdentityPaths() IdentityPaths
	GetSessionCookieName() string
	GetCSRF() CSRFSettings
	GetTopRole() string
}

type StorageConfig interface {
	GetDataFolder() string
	GetStoragePassphrase() string
}

type mainConfig struct {
	EnvVars
	Client
	Storage
	OAuth
}

func New() Config {
	return mainConfig{}
}
