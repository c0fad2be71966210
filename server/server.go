package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/authbridge/handoff"
	"github.com/jrsteele09/authbridge/internal/config"
	"github.com/jrsteele09/authbridge/internal/keys"
	"github.com/jrsteele09/authbridge/sessions"
	"github.com/jrsteele09/authbridge/users"
	"github.com/jrsteele09/authbridge/webauth"
	"github.com/jrsteele09/authbridge/webauth/flowstate"
	"github.com/rs/zerolog/log"
)

// Repos are the stores the server reads and writes.
type Repos struct {
	Users    users.UserRepo
	Sessions sessions.Repo
}

type Server struct {
	dev      bool // Development mode (ENV=DEV)
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	repos    Repos
	sessions *sessions.Manager
	auth     http.Handler // web auth wrapped by the mobile handoff
	health   func(context.Context) error
}

type Option func(*Server)

// WithHealthCheck sets the readiness probe behind /healthz.
func WithHealthCheck(check func(context.Context) error) Option {
	return func(s *Server) {
		s.health = check
	}
}

func New(config config.Config, repos Repos, opts ...Option) (*Server, error) {
	s := &Server{
		dev:      config.IsDevelopment(),
		mux:      http.NewServeMux(),
		config:   config,
		repos:    repos,
		sessions: sessions.NewManager(repos.Sessions, sessions.WithMaxAge(config.GetSessionMaxAge())),
	}
	for _, opt := range opts {
		opt(s)
	}

	auth, err := s.newAuthHandler()
	if err != nil {
		return nil, fmt.Errorf("[Server New] failed to create auth handler: %w", err)
	}
	s.auth = auth

	ctx := context.Background()
	if err := s.InitialiseSystem(ctx); err != nil {
		return nil, fmt.Errorf("[Server New] Failed to initialise the system: %w", err)
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

// Sessions exposes the session manager for background maintenance.
func (s *Server) Sessions() *sessions.Manager {
	return s.sessions
}

// newAuthHandler builds the web authentication handler and wraps it in the
// mobile handoff.
func (s *Server) newAuthHandler() (http.Handler, error) {
	secret := s.config.GetAuthSecret()
	flowKey, err := keys.Derive(secret, keys.PurposeFlowState)
	if err != nil {
		return nil, fmt.Errorf("[Server newAuthHandler] AUTH_SECRET: %w", err)
	}
	markerKey, err := keys.Derive(secret, keys.PurposeMobileMarker)
	if err != nil {
		return nil, fmt.Errorf("[Server newAuthHandler] AUTH_SECRET: %w", err)
	}

	secure := s.config.IsSecureContext()
	flow, err := flowstate.NewCodec(flowKey, s.config.GetFlowStateTTL(), secure)
	if err != nil {
		return nil, err
	}

	web, err := webauth.New(s.providers(), s.repos.Users, s.sessions, flow, webauth.Options{
		BaseURL:           s.config.GetBaseURL(),
		BasePath:          RouteAuth,
		SessionCookieName: s.config.GetSessionCookieName(),
		SessionMaxAge:     s.config.GetSessionMaxAge(),
		Secure:            secure,
	})
	if err != nil {
		return nil, err
	}

	markers, err := handoff.NewCookieMarkerStore(markerKey, secure)
	if err != nil {
		return nil, err
	}

	return handoff.New(web, s.repos.Users, s.sessions, markers, handoff.Options{
		Development:       s.dev,
		SecureContext:     secure,
		TestUserEmail:     s.config.GetTestUserEmail(),
		MarkerTTL:         s.config.GetMarkerTTL(),
		SessionCookieName: s.config.GetSessionCookieName(),
		BasePath:          RouteAuth,
	}), nil
}

func (s *Server) providers() []webauth.Provider {
	issuer := s.config.GetOIDCIssuer()
	if issuer == "" {
		log.Warn().Msg("AUTH_OIDC_ISSUER not set, no sign-in providers configured")
		return nil
	}
	return []webauth.Provider{{
		ID:           s.config.GetProviderID(),
		Name:         s.config.GetProviderName(),
		Issuer:       issuer,
		ClientID:     s.config.GetClientID(),
		ClientSecret: s.config.GetClientSecret(),
	}}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if !s.dev {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		method, path, found := strings.Cut(route, " ")
		if !found {
			method, path = "", route
		}
		log.Debug().Msgf("[%-19s] %s", colouredMethod(method), path)
	}
}
