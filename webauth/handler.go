package webauth

import (
	"context"
	"crypto/rand"
	"embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	autherrors "github.com/jrsteele09/authbridge/internal/errors"
	"github.com/jrsteele09/authbridge/sessions"
	"github.com/jrsteele09/authbridge/users"
	"github.com/jrsteele09/authbridge/webauth/flowstate"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	DefaultBasePath          = "/api/auth/"
	DefaultSessionCookieName = "authjs.session-token"

	secureCookiePrefix = "__Secure-"
	contentTypeJSON    = "application/json"
	contentTypeHTML    = "text/html; charset=utf-8"
)

//go:embed templates/*.html
var templateFS embed.FS

// SessionManager is the session store the web flow issues sessions into.
type SessionManager interface {
	Issue(ctx context.Context, userID string) (sessions.Session, error)
	Validate(ctx context.Context, token string) (sessions.Session, error)
	Revoke(ctx context.Context, token string) error
}

type Options struct {
	// BaseURL is the public origin used when the request URL carries no host.
	BaseURL string
	// BasePath is the mount point of the auth routes, with a trailing slash.
	BasePath          string
	SessionCookieName string
	SessionMaxAge     time.Duration
	// Secure marks cookies Secure and prefixes the session cookie with __Secure-.
	Secure bool
}

// Handler is the standard web authentication handler: provider sign-in,
// provider callback, session lookup and sign-out, all under BasePath.
type Handler struct {
	mux       *http.ServeMux
	opts      Options
	providers *providerRegistry
	users     users.UserRepo
	sessions  SessionManager
	flow      *flowstate.Codec
	signInTpl *template.Template
}

func New(providers []Provider, userRepo users.UserRepo, sessionManager SessionManager, flow *flowstate.Codec, opts Options) (*Handler, error) {
	if opts.BasePath == "" {
		opts.BasePath = DefaultBasePath
	}
	if !strings.HasSuffix(opts.BasePath, "/") {
		opts.BasePath += "/"
	}
	if opts.SessionCookieName == "" {
		opts.SessionCookieName = DefaultSessionCookieName
	}
	if opts.SessionMaxAge <= 0 {
		opts.SessionMaxAge = sessions.DefaultMaxAge
	}
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")

	registry, err := newProviderRegistry(providers)
	if err != nil {
		return nil, err
	}
	tpl, err := template.ParseFS(templateFS, "templates/signin.html")
	if err != nil {
		return nil, fmt.Errorf("[webauth New] failed to parse sign-in template: %w", err)
	}

	h := &Handler{
		mux:       http.NewServeMux(),
		opts:      opts,
		providers: registry,
		users:     userRepo,
		sessions:  sessionManager,
		flow:      flow,
		signInTpl: tpl,
	}

	base := opts.BasePath
	h.mux.HandleFunc("GET "+base+"signin", h.SignInPage())
	h.mux.HandleFunc("GET "+base+"signin/{provider}", h.SignIn())
	h.mux.HandleFunc("POST "+base+"signin/{provider}", h.SignIn())
	h.mux.HandleFunc("GET "+base+"callback/{provider}", h.Callback())
	h.mux.HandleFunc("POST "+base+"callback/{provider}", h.Callback())
	h.mux.HandleFunc("GET "+base+"session", h.Session())
	h.mux.HandleFunc("POST "+base+"signout", h.SignOut())
	h.mux.HandleFunc("GET "+base+"providers", h.Providers())

	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// CookieName is the session cookie name as sent to browsers.
func (h *Handler) CookieName() string {
	if h.opts.Secure {
		return secureCookiePrefix + h.opts.SessionCookieName
	}
	return h.opts.SessionCookieName
}

type signInPageData struct {
	Providers   []providerView
	CallbackURL string
	Error       string
}

type providerView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	SignInURL   string `json:"signinUrl"`
	CallbackURL string `json:"callbackUrl"`
}

// SignInPage lists the configured providers (GET /api/auth/signin).
func (h *Handler) SignInPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := h.origin(r)
		data := signInPageData{
			Providers:   h.providerViews(origin),
			CallbackURL: h.safeCallbackURL(r.URL.Query().Get("callbackUrl"), origin),
			Error:       r.URL.Query().Get("error"),
		}
		w.Header().Set("Content-Type", contentTypeHTML)
		if err := h.signInTpl.Execute(w, data); err != nil {
			log.Err(err).Msg("Failed to render sign-in template")
			http.Error(w, "Failed to render sign-in page", http.StatusInternalServerError)
		}
	}
}

// SignIn starts a provider sign-in: it stores state, PKCE verifier and nonce in
// the flow-state cookie and redirects to the provider.
func (h *Handler) SignIn() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := h.providers.get(r.PathValue("provider"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		client, err := h.providers.client(r.Context(), p)
		if err != nil {
			log.Err(err).Str("provider", p.ID).Msg("Provider discovery failed")
			http.Error(w, "Sign-in provider unavailable", http.StatusBadGateway)
			return
		}

		origin := h.origin(r)
		state := flowstate.State{
			Provider:     p.ID,
			State:        generateRandomString(32),
			CodeVerifier: oauth2.GenerateVerifier(),
			Nonce:        generateRandomString(32),
			CallbackURL:  h.safeCallbackURL(r.FormValue("callbackUrl"), origin),
		}
		if err := h.flow.Write(w, state); err != nil {
			http.Error(w, "Failed to start sign-in", http.StatusInternalServerError)
			return
		}

		config := h.providers.oauth2Config(client, p, h.callbackURL(origin, p.ID))
		authURL := config.AuthCodeURL(state.State, oauth2.S256ChallengeOption(state.CodeVerifier), oidc.Nonce(state.Nonce))
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// Callback completes a provider sign-in. Parameters are read from the query or
// a form_post body.
func (h *Handler) Callback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := h.providers.get(r.PathValue("provider"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		if errorParam := r.FormValue("error"); errorParam != "" {
			http.Error(w, fmt.Sprintf("Authorization failed: %s - %s", errorParam, r.FormValue("error_description")), http.StatusBadRequest)
			return
		}

		code := r.FormValue("code")
		stateParam := r.FormValue("state")
		if code == "" || stateParam == "" {
			http.Error(w, "Missing code or state parameter", http.StatusBadRequest)
			return
		}

		flow, err := h.flow.Read(r)
		if err != nil || flow.State != stateParam || flow.Provider != p.ID {
			http.Error(w, "Invalid state parameter", http.StatusBadRequest)
			return
		}
		h.flow.Clear(w)

		user, err := h.completeSignIn(r.Context(), p, flow, code, h.callbackURL(h.origin(r), p.ID))
		if err != nil {
			log.Err(err).Str("provider", p.ID).Msg("Provider callback failed")
			status := http.StatusInternalServerError
			if autherrors.Is(err, autherrors.ErrInvalidNonce) {
				status = http.StatusUnauthorized
			}
			http.Error(w, "Sign-in failed", status)
			return
		}

		session, err := h.sessions.Issue(r.Context(), user.ID)
		if err != nil {
			log.Err(err).Str("user_id", user.ID).Msg("Failed to create session")
			http.Error(w, "Failed to create session", http.StatusInternalServerError)
			return
		}
		h.setSessionCookie(w, session)

		log.Info().Str("provider", p.ID).Str("user_id", user.ID).Msg("User signed in")
		http.Redirect(w, r, flow.CallbackURL, http.StatusFound)
	}
}

type idTokenClaims struct {
	Nonce         string `json:"nonce"`
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (h *Handler) completeSignIn(ctx context.Context, p Provider, flow flowstate.State, code, redirectURL string) (*users.User, error) {
	client, err := h.providers.client(ctx, p)
	if err != nil {
		return nil, err
	}

	oauth2Token, err := h.providers.oauth2Config(client, p, redirectURL).Exchange(ctx, code, oauth2.VerifierOption(flow.CodeVerifier))
	if err != nil {
		return nil, fmt.Errorf("[webauth completeSignIn] token exchange failed: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("[webauth completeSignIn] no id_token in token response")
	}

	idToken, err := client.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("[webauth completeSignIn] id token verification failed: %w", err)
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("[webauth completeSignIn] failed to extract claims: %w", err)
	}
	if claims.Nonce != flow.Nonce {
		return nil, autherrors.ErrInvalidNonce
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("[webauth completeSignIn] provider %q returned no email for %q", p.ID, claims.Sub)
	}

	user := &users.User{
		Name:  claims.Name,
		Email: claims.Email,
		Image: claims.Picture,
	}
	if claims.EmailVerified {
		user.MarkVerified(time.Now())
	}
	stored, err := h.users.Upsert(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("[webauth completeSignIn] failed to store user: %w", err)
	}
	return stored, nil
}

type sessionResponse struct {
	User    *users.User `json:"user,omitempty"`
	Expires string      `json:"expires,omitempty"`
}

// Session reports the signed-in user for the session cookie or bearer token.
func (h *Handler) Session() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "no-store")

		resp := sessionResponse{}
		if token := h.sessionToken(r); token != "" {
			session, err := h.sessions.Validate(r.Context(), token)
			if err == nil {
				user, err := h.users.GetByID(r.Context(), session.UserID)
				if err == nil {
					resp.User = user
					resp.Expires = session.ExpiresAt.UTC().Format(time.RFC3339)
				} else {
					log.Err(err).Str("user_id", session.UserID).Msg("Session user lookup failed")
				}
			} else if !autherrors.Is(err, autherrors.ErrSessionNotFound) && !autherrors.Is(err, autherrors.ErrSessionExpired) {
				log.Err(err).Msg("Session validation failed")
				http.Error(w, `{"error":"internal_error"}`, http.StatusInternalServerError)
				return
			}
		}

		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Err(err).Msg("Failed to encode session response")
		}
	}
}

// SignOut revokes the current session. Bearer-token callers (the mobile client)
// get 204; browsers are redirected to callbackUrl.
func (h *Handler) SignOut() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bearer := bearerToken(r)
		token := h.sessionToken(r)
		if err := h.sessions.Revoke(r.Context(), token); err != nil {
			log.Err(err).Msg("Failed to revoke session")
			http.Error(w, "Failed to sign out", http.StatusInternalServerError)
			return
		}
		h.clearSessionCookie(w)

		if bearer != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Redirect(w, r, h.safeCallbackURL(r.FormValue("callbackUrl"), h.origin(r)), http.StatusFound)
	}
}

// Providers lists the configured providers as JSON.
func (h *Handler) Providers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views := h.providerViews(h.origin(r))
		out := make(map[string]providerView, len(views))
		for _, v := range views {
			out[v.ID] = v
		}
		w.Header().Set("Content-Type", contentTypeJSON)
		if err := json.NewEncoder(w).Encode(out); err != nil {
			log.Err(err).Msg("Failed to encode providers response")
		}
	}
}

func (h *Handler) providerViews(origin string) []providerView {
	var views []providerView
	for _, p := range h.providers.list() {
		views = append(views, providerView{
			ID:          p.ID,
			Name:        p.Name,
			Type:        "oidc",
			SignInURL:   origin + h.opts.BasePath + "signin/" + p.ID,
			CallbackURL: h.callbackURL(origin, p.ID),
		})
	}
	return views
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, session sessions.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.CookieName(),
		Value:    session.SessionToken,
		Path:     "/",
		Expires:  session.ExpiresAt,
		MaxAge:   int(time.Until(session.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   h.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// sessionToken returns the bearer token if present, else the session cookie.
func (h *Handler) sessionToken(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(h.CookieName()); err == nil {
		return cookie.Value
	}
	return ""
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// origin is the scheme and host the client addressed. Normalised development
// requests carry it in the URL; otherwise the configured base URL is used.
func (h *Handler) origin(r *http.Request) string {
	if r.URL.Scheme != "" && r.URL.Host != "" {
		return r.URL.Scheme + "://" + r.URL.Host
	}
	return h.opts.BaseURL
}

func (h *Handler) callbackURL(origin, providerID string) string {
	return origin + h.opts.BasePath + "callback/" + providerID
}

// safeCallbackURL keeps relative paths and same-origin URLs and maps anything
// else to "/".
func (h *Handler) safeCallbackURL(raw, origin string) string {
	if raw == "" {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "/"
	}
	if u.Scheme == "" && u.Host == "" && strings.HasPrefix(u.Path, "/") && !strings.HasPrefix(raw, "//") {
		return raw
	}
	if o, err := url.Parse(origin); err == nil && u.Scheme == o.Scheme && u.Host == o.Host {
		return raw
	}
	return "/"
}

// generateRandomString creates a random base64url string
func generateRandomString(length int) string {
	b := make([]byte, length)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
