// Package oidctest runs an in-process OpenID Connect provider for tests.
package oidctest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const keyID = "oidctest-key"

// Identity is the user the provider signs in.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

type grant struct {
	nonce       string
	challenge   string
	redirectURI string
}

type Provider struct {
	ClientID     string
	ClientSecret string
	Identity     Identity

	// NonceOverride, when set, replaces the nonce in issued ID tokens.
	NonceOverride string

	server *httptest.Server
	key    *rsa.PrivateKey

	mu     sync.Mutex
	grants map[string]grant
}

func NewProvider(clientID, clientSecret string) (*Provider, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("[oidctest NewProvider] failed to generate key: %w", err)
	}
	p := &Provider{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Identity: Identity{
			Subject:       "subject-1",
			Email:         "jane@example.com",
			EmailVerified: true,
			Name:          "Jane Doe",
		},
		key:    key,
		grants: make(map[string]grant),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", p.discovery)
	mux.HandleFunc("GET /jwks", p.jwks)
	mux.HandleFunc("POST /token", p.token)
	p.server = httptest.NewServer(mux)
	return p, nil
}

// Issuer is the provider's issuer URL.
func (p *Provider) Issuer() string {
	return p.server.URL
}

func (p *Provider) Close() {
	p.server.Close()
}

// Authorize plays the user approving the request at authURL and returns the
// callback URL the provider would redirect the browser to.
func (p *Provider) Authorize(authURL string) (string, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if q.Get("client_id") != p.ClientID {
		return "", fmt.Errorf("unexpected client_id %q", q.Get("client_id"))
	}
	if q.Get("code_challenge_method") != "S256" {
		return "", errors.New("PKCE S256 required")
	}

	code := randomString()
	p.mu.Lock()
	p.grants[code] = grant{
		nonce:       q.Get("nonce"),
		challenge:   q.Get("code_challenge"),
		redirectURI: q.Get("redirect_uri"),
	}
	p.mu.Unlock()

	callback, err := url.Parse(q.Get("redirect_uri"))
	if err != nil {
		return "", err
	}
	cq := callback.Query()
	cq.Set("code", code)
	cq.Set("state", q.Get("state"))
	callback.RawQuery = cq.Encode()
	return callback.String(), nil
}

func (p *Provider) discovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                p.Issuer(),
		"authorization_endpoint":                p.Issuer() + "/authorize",
		"token_endpoint":                        p.Issuer() + "/token",
		"jwks_uri":                              p.Issuer() + "/jwks",
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
	})
}

func (p *Provider) jwks(w http.ResponseWriter, _ *http.Request) {
	pub := p.key.PublicKey
	writeJSON(w, http.StatusOK, map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": keyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (p *Provider) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	p.mu.Lock()
	g, ok := p.grants[r.PostForm.Get("code")]
	delete(p.grants, r.PostForm.Get("code"))
	p.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}

	sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
	if base64.RawURLEncoding.EncodeToString(sum[:]) != g.challenge {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "PKCE verification failed"})
		return
	}
	if r.PostForm.Get("redirect_uri") != g.redirectURI {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "redirect_uri mismatch"})
		return
	}

	nonce := g.nonce
	if p.NonceOverride != "" {
		nonce = p.NonceOverride
	}
	now := time.Now()
	idToken := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":            p.Issuer(),
		"sub":            p.Identity.Subject,
		"aud":            p.ClientID,
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
		"nonce":          nonce,
		"email":          p.Identity.Email,
		"email_verified": p.Identity.EmailVerified,
		"name":           p.Identity.Name,
		"picture":        p.Identity.Picture,
	})
	idToken.Header["kid"] = keyID
	signed, err := idToken.SignedString(p.key)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": randomString(),
		"token_type":   "Bearer",
		"expires_in":   3600,
		"id_token":     signed,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func randomString() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
