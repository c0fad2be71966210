package config

import (
	"strings"
	"time"
)

const (
	authSecretVar    = "AUTH_SECRET"
	testUserEmailVar = "AUTH_TEST_USER_EMAIL"

	devAuthSecret = "development-only-secret-change-me-please"
)

type SecurityConfig interface {
	GetAuthSecret() string
	GetSessionMaxAge() time.Duration
	GetMarkerTTL() time.Duration
	GetFlowStateTTL() time.Duration
	GetSessionCookieName() string
	GetTestUserEmail() string
	IsSecureContext() bool
}

type Security struct{}

var _ SecurityConfig = Security{}

// GetAuthSecret returns the secret used to derive cookie signing keys.
// Development falls back to a fixed secret so the server starts without setup.
func (Security) GetAuthSecret() string {
	secret := GetEnv(authSecretVar, "")
	if secret == "" && (EnvVars{}).IsDevelopment() {
		return devAuthSecret
	}
	return secret
}

func (Security) GetSessionMaxAge() time.Duration {
	return 30 * 24 * time.Hour // 30 days
}

func (Security) GetMarkerTTL() time.Duration {
	return 10 * time.Minute
}

func (Security) GetFlowStateTTL() time.Duration {
	return 10 * time.Minute
}

func (Security) GetSessionCookieName() string {
	return "authjs.session-token"
}

func (Security) GetTestUserEmail() string {
	return GetEnv(testUserEmailVar, "test-user@example.com")
}

// IsSecureContext is true when the public base URL is served over https.
func (Security) IsSecureContext() bool {
	return strings.HasPrefix((EnvVars{}).GetBaseURL(), "https://")
}
