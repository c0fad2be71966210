package webauth

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	autherrors "github.com/jrsteele09/authbridge/internal/errors"
	"golang.org/x/oauth2"
)

// Provider is an OpenID Connect identity provider users can sign in with.
type Provider struct {
	ID           string
	Name         string
	Issuer       string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

type oidcClient struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// providerRegistry holds the configured providers and caches their discovery
// documents after first use.
type providerRegistry struct {
	providers map[string]Provider
	order     []string

	clientsLock sync.RWMutex
	clients     map[string]oidcClient
}

func newProviderRegistry(providers []Provider) (*providerRegistry, error) {
	reg := &providerRegistry{
		providers: make(map[string]Provider),
		clients:   make(map[string]oidcClient),
	}
	for _, p := range providers {
		if p.ID == "" || p.Issuer == "" || p.ClientID == "" {
			return nil, fmt.Errorf("[webauth newProviderRegistry] provider %q requires an id, issuer and client id", p.ID)
		}
		if _, dup := reg.providers[p.ID]; dup {
			return nil, fmt.Errorf("[webauth newProviderRegistry] duplicate provider %q", p.ID)
		}
		if len(p.Scopes) == 0 {
			p.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		reg.providers[p.ID] = p
		reg.order = append(reg.order, p.ID)
	}
	return reg, nil
}

func (reg *providerRegistry) get(id string) (Provider, error) {
	p, ok := reg.providers[id]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %q", autherrors.ErrUnknownProvider, id)
	}
	return p, nil
}

func (reg *providerRegistry) list() []Provider {
	out := make([]Provider, 0, len(reg.order))
	for _, id := range reg.order {
		out = append(out, reg.providers[id])
	}
	return out
}

func (reg *providerRegistry) client(ctx context.Context, p Provider) (oidcClient, error) {
	reg.clientsLock.RLock()
	client, exists := reg.clients[p.ID]
	reg.clientsLock.RUnlock()
	if exists {
		return client, nil
	}

	provider, err := oidc.NewProvider(ctx, p.Issuer)
	if err != nil {
		return oidcClient{}, fmt.Errorf("[webauth client] failed to discover provider %q: %w", p.ID, err)
	}
	client = oidcClient{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: p.ClientID}),
	}

	reg.clientsLock.Lock()
	reg.clients[p.ID] = client
	reg.clientsLock.Unlock()

	return client, nil
}

func (reg *providerRegistry) oauth2Config(client oidcClient, p Provider, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Endpoint:     client.provider.Endpoint(),
		RedirectURL:  redirectURL,
		Scopes:       p.Scopes,
	}
}
