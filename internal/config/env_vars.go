package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	portEnvVar        = "PORT"
	appNameVar        = "APP_NAME"
	envVar            = "ENV"
	baseURLVar        = "BASE_URL"
	databaseURLEnvVar = "DATABASE_URL"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8080")
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Auth Bridge")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv(envVar)
	if env == "" {
		return "DEV"
	}
	return env
}

// IsDevelopment reports whether the process runs in an explicit development mode.
// Only DEV and development qualify. An unset ENV is treated as production even
// though GetEnv reports it as DEV.
func (EnvVars) IsDevelopment() bool {
	switch strings.ToLower(os.Getenv(envVar)) {
	case "dev", "development":
		return true
	}
	return false
}

// GetBaseURL returns the public base URL of the server (e.g., "https://app.example.com")
func (EnvVars) GetBaseURL() string {
	return GetEnv(baseURLVar, "http://localhost:8080")
}

// GetDatabaseURL returns the Postgres DSN. Empty selects the in-memory stores.
func (EnvVars) GetDatabaseURL() string {
	return GetEnv(databaseURLEnvVar, "")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
