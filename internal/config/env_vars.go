package config

import (
	"os"
	"strings"
	"time"
)

const (
	appNameVar  = "APP_NAME"
	envVar      = "ENV"
	logLevelVar = "LOG_LEVEL"
	baseURLVar  = "SESSION_BASE_URL"
	strategyVar = "SESSION_STRATEGY"
)

// Credential strategies understood by GetStrategy
const (
	StrategyBearer = "bearer"
	StrategyCookie = "cookie"
	StrategyOAuth2 = "oauth2"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Session Client")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv(envVar)
	if env == "" {
		return "DEV"
	}
	return env
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

// GetBaseURL returns the base URL of the identity boundary and API (e.g., "http://localhost:8000/api")
func (EnvVars) GetBaseURL() string {
	return strings.TrimRight(GetEnv(baseURLVar, "http://localhost:8000/api"), "/")
}

// GetStrategy returns one of StrategyBearer, StrategyCookie or StrategyOAuth2
func (EnvVars) GetStrategy() string {
	switch s := strings.ToLower(GetEnv(strategyVar, StrategyBearer)); s {
	case StrategyCookie, StrategyOAuth2:
		return s
	default:
		return StrategyBearer
	}
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetEnvDuration parses a Go duration ("30s", "2m") and falls back to defaultValue when unset or invalid
func GetEnvDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
