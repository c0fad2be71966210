package config

const (
	providerIDVar   = "AUTH_PROVIDER_ID"
	providerNameVar = "AUTH_PROVIDER_NAME"
	oidcIssuerVar   = "AUTH_OIDC_ISSUER"
	clientIDVar     = "AUTH_CLIENT_ID"
	clientSecretVar = "AUTH_CLIENT_SECRET"
)

type ProviderConfig interface {
	GetProviderID() string
	GetProviderName() string
	GetOIDCIssuer() string
	GetClientID() string
	GetClientSecret() string
}

type Provider struct{}

var _ ProviderConfig = Provider{}

func (Provider) GetProviderID() string {
	return GetEnv(providerIDVar, "oidc")
}

func (Provider) GetProviderName() string {
	return GetEnv(providerNameVar, "Single Sign-On")
}

func (Provider) GetOIDCIssuer() string {
	return GetEnv(oidcIssuerVar, "")
}

func (Provider) GetClientID() string {
	return GetEnv(clientIDVar, "")
}

func (Provider) GetClientSecret() string {
	return GetEnv(clientSecretVar, "")
}
