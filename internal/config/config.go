package config

type Config interface {
	EnvConfig
	CorsConfig
	ProviderConfig
	SecurityConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetBaseURL() string
	GetDatabaseURL() string
	IsDevelopment() bool
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Provider
	Security
}

func New() Config {
	return mainConfig{}
}
