package handoff

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	autherrors "github.com/jrsteele09/authbridge/internal/errors"
	"github.com/jrsteele09/authbridge/sessions"
	"github.com/jrsteele09/authbridge/users"
	"github.com/rs/zerolog/log"
)

const (
	// ParamExpoRedirect carries the deep link on the initial mobile sign-in request.
	ParamExpoRedirect = "expo-redirect"
	// ParamAuthBypass requests the development sign-in shortcut.
	ParamAuthBypass = "authBypass"

	DefaultBasePath          = "/api/auth/"
	DefaultMarkerTTL         = 10 * time.Minute
	DefaultSessionCookieName = "authjs.session-token"

	actionSignIn   = "signin"
	actionCallback = "callback"
)

// UserLookup finds the designated test identity for the bypass path.
type UserLookup interface {
	GetByEmail(ctx context.Context, email string) (*users.User, error)
}

// SessionIssuer creates sessions in the backing session store.
type SessionIssuer interface {
	Issue(ctx context.Context, userID string) (sessions.Session, error)
}

// Options is the explicit configuration of a Handler. Nothing is read from the
// environment after construction.
type Options struct {
	// Development enables the bypass path and URL normalisation.
	Development bool
	// SecureContext disables URL normalisation even in development.
	SecureContext bool
	// TestUserEmail identifies the user the bypass path signs in as.
	TestUserEmail     string
	MarkerTTL         time.Duration
	SessionCookieName string
	BasePath          string
}

func (o Options) withDefaults() Options {
	if o.MarkerTTL <= 0 {
		o.MarkerTTL = DefaultMarkerTTL
	}
	if o.SessionCookieName == "" {
		o.SessionCookieName = DefaultSessionCookieName
	}
	if o.BasePath == "" {
		o.BasePath = DefaultBasePath
	}
	if !strings.HasSuffix(o.BasePath, "/") {
		o.BasePath += "/"
	}
	return o
}

// Handler wraps the standard web authentication handler and intercepts the
// requests that belong to a mobile sign-in.
type Handler struct {
	next     http.Handler
	users    UserLookup
	sessions SessionIssuer
	markers  MarkerStore
	opts     Options
}

func New(next http.Handler, users UserLookup, sessions SessionIssuer, markers MarkerStore, opts Options) *Handler {
	return &Handler{
		next:     next,
		users:    users,
		sessions: sessions,
		markers:  markers,
		opts:     opts.withDefaults(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Normalisation comes first: the web handler's origin checks compare hosts.
	r = NormalizeRequest(r, h.opts.SecureContext || !h.opts.Development)

	query := r.URL.Query()
	action := h.action(r)
	bypass := isTrue(query.Get(ParamAuthBypass))

	if bypass && !h.opts.Development {
		h.fail(w, r, transitionBypass, autherrors.ErrBypassNotAllowed)
		return
	}

	jar := h.markers.Jar(w, r)

	if target := query.Get(ParamExpoRedirect); action == actionSignIn && target != "" {
		if err := h.start(jar, target); err != nil {
			recordTransition(transitionStart, outcomeError)
			log.Warn().Err(err).Str("redirect_target", target).Msg("rejected mobile sign-in")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	target, pending := jar.Get()
	switch {
	case pending && bypass:
		h.bypass(w, r, jar, target)
	case pending && action == actionCallback:
		h.callback(w, r, jar, target)
	default:
		recordTransition(transitionFallthrough, outcomeOK)
		h.next.ServeHTTP(w, r)
	}
}

// action returns the first path segment after the base path, e.g. "signin" for
// /api/auth/signin/github.
func (h *Handler) action(r *http.Request) string {
	rest, ok := strings.CutPrefix(r.URL.Path, h.opts.BasePath)
	if !ok {
		return ""
	}
	action, _, _ := strings.Cut(rest, "/")
	return action
}

func (h *Handler) start(jar MarkerJar, target string) error {
	if err := validateRedirectTarget(target); err != nil {
		return err
	}
	if err := jar.Set(target, h.opts.MarkerTTL); err != nil {
		return autherrors.Wrapf(err, "[handoff start] failed to store marker")
	}
	recordTransition(transitionStart, outcomeOK)
	log.Info().Str("transition", string(transitionStart)).Str("redirect_target", target).Msg("mobile sign-in pending")
	return nil
}

func (h *Handler) bypass(w http.ResponseWriter, r *http.Request, jar MarkerJar, target string) {
	user, err := h.users.GetByEmail(r.Context(), h.opts.TestUserEmail)
	if err != nil {
		if autherrors.Is(err, autherrors.ErrUserNotFound) {
			err = fmt.Errorf("%w: %s", autherrors.ErrTestUserNotFound, h.opts.TestUserEmail)
		}
		h.fail(w, r, transitionBypass, err)
		return
	}
	if user == nil {
		h.fail(w, r, transitionBypass, fmt.Errorf("%w: %s", autherrors.ErrTestUserNotFound, h.opts.TestUserEmail))
		return
	}

	session, err := h.sessions.Issue(r.Context(), user.ID)
	if err != nil {
		h.fail(w, r, transitionBypass, err)
		return
	}
	jar.Delete()

	h.redirectWithToken(w, r, transitionBypass, target, session.SessionToken)
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request, jar MarkerJar, target string) {
	// The marker is consumed before the callback runs so a replayed callback on
	// the same cookie jar falls through to the web handler.
	jar.Delete()

	captured := newResponseCapture()
	h.next.ServeHTTP(captured, r)

	token, err := ExtractSessionToken(captured.Header().Values("Set-Cookie"), h.opts.SessionCookieName)
	if err != nil {
		log.Error().Int("status", captured.status).Msg("wrapped callback did not set a session cookie")
		h.fail(w, r, transitionCallback, err)
		return
	}
	forwardCookies(w, captured.Header().Values("Set-Cookie"), h.opts.SessionCookieName)

	h.redirectWithToken(w, r, transitionCallback, target, token)
}

func (h *Handler) redirectWithToken(w http.ResponseWriter, r *http.Request, t transition, target, token string) {
	location, err := AttachSessionToken(target, token)
	if err != nil {
		h.fail(w, r, t, err)
		return
	}
	recordTransition(t, outcomeOK)
	log.Info().Str("transition", string(t)).Str("redirect_target", target).Msg("mobile sign-in completed")
	http.Redirect(w, r, location, http.StatusFound)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, t transition, err error) {
	recordTransition(t, outcomeError)
	log.Error().Err(err).Str("transition", string(t)).Str("path", r.URL.Path).Msg("mobile sign-in failed")

	msg := http.StatusText(http.StatusInternalServerError)
	if h.opts.Development {
		msg = err.Error()
	}
	http.Error(w, msg, http.StatusInternalServerError)
}

func isTrue(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
