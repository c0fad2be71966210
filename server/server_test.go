package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/jrsteele09/authbridge/handoff"
	"github.com/jrsteele09/authbridge/internal/config"
	autherrors "github.com/jrsteele09/authbridge/internal/errors"
	"github.com/jrsteele09/authbridge/internal/oidctest"
	"github.com/jrsteele09/authbridge/server"
	fakesessionrepo "github.com/jrsteele09/authbridge/sessions/repofakes"
	fakeuserrepo "github.com/jrsteele09/authbridge/users/repofake"
	"github.com/jrsteele09/authbridge/webauth/flowstate"
	"github.com/stretchr/testify/require"
)

const deepLink = "myapp://auth/callback"

type fixture struct {
	provider *oidctest.Provider
	users    *fakeuserrepo.FakeUserRepo
	sessions *fakesessionrepo.FakeSessionRepo
	server   *server.Server
}

func newFixture(t *testing.T, env string, opts ...server.Option) *fixture {
	t.Helper()

	p, err := oidctest.NewProvider("test-client", "test-secret")
	require.NoError(t, err)
	t.Cleanup(p.Close)

	t.Setenv("ENV", env)
	t.Setenv("BASE_URL", "http://localhost:8080")
	t.Setenv("AUTH_SECRET", "server-test-secret")
	t.Setenv("AUTH_OIDC_ISSUER", p.Issuer())
	t.Setenv("AUTH_CLIENT_ID", "test-client")
	t.Setenv("AUTH_CLIENT_SECRET", "test-secret")
	t.Setenv("AUTH_TEST_USER_EMAIL", "test-user@example.com")
	t.Setenv("ALLOWED_ORIGINS", "http://localhost:3000")

	userRepo := fakeuserrepo.NewFakeUserRepo()
	sessionRepo := fakesessionrepo.NewFakeSessionRepo()
	s, err := server.New(config.New(), server.Repos{Users: userRepo, Sessions: sessionRepo}, opts...)
	require.NoError(t, err)

	return &fixture{provider: p, users: userRepo, sessions: sessionRepo, server: s}
}

// browser carries cookies between requests.
type browser struct {
	cookies map[string]string
}

func newBrowser() *browser {
	return &browser{cookies: make(map[string]string)}
}

func (b *browser) do(t *testing.T, h http.Handler, req *http.Request) *http.Response {
	t.Helper()
	for name, value := range b.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	res := rec.Result()
	for _, c := range res.Cookies() {
		if c.MaxAge < 0 || c.Value == "" {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c.Value
	}
	return res
}

func startURL(extra url.Values) string {
	q := url.Values{handoff.ParamExpoRedirect: {deepLink}}
	for k, v := range extra {
		q[k] = v
	}
	return "/api/auth/signin?" + q.Encode()
}

func TestServer_MobileSignIn(t *testing.T) {
	f := newFixture(t, "DEV")
	b := newBrowser()

	// The app opens the sign-in page with its deep link.
	res := b.do(t, f.server, httptest.NewRequest(http.MethodGet, startURL(nil), nil))
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, b.cookies, handoff.MarkerCookieName)

	// The user picks the provider.
	res = b.do(t, f.server, httptest.NewRequest(http.MethodPost, "/api/auth/signin/oidc", nil))
	require.Equal(t, http.StatusFound, res.StatusCode)

	providerCallback, err := f.provider.Authorize(res.Header.Get("Location"))
	require.NoError(t, err)

	// The provider sends the browser back; the handoff turns the web session into a deep link.
	res = b.do(t, f.server, httptest.NewRequest(http.MethodGet, providerCallback, nil))
	require.Equal(t, http.StatusFound, res.StatusCode)
	require.NotContains(t, b.cookies, handoff.MarkerCookieName)
	require.NotContains(t, b.cookies, flowstate.CookieName)

	location, err := url.Parse(res.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "myapp", location.Scheme)
	require.Equal(t, "/callback", location.Path)
	token := location.Query().Get("session_token")
	require.NotEmpty(t, token)

	// The app presents the token as a bearer credential.
	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		User struct {
			Email string `json:"email"`
		} `json:"user"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "jane@example.com", body.User.Email)
}

func TestServer_MobileBypass(t *testing.T) {
	t.Run("development", func(t *testing.T) {
		f := newFixture(t, "DEV")

		testUser, err := f.users.GetByEmail(context.Background(), "test-user@example.com")
		require.NoError(t, err)

		res := newBrowser().do(t, f.server, httptest.NewRequest(http.MethodGet, startURL(url.Values{handoff.ParamAuthBypass: {"true"}}), nil))
		require.Equal(t, http.StatusFound, res.StatusCode)

		location, err := url.Parse(res.Header.Get("Location"))
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(location.String(), deepLink+"?"))
		require.Equal(t, 1, f.sessions.Len())

		session, err := f.sessions.Get(context.Background(), location.Query().Get("session_token"))
		require.NoError(t, err)
		require.Equal(t, testUser.ID, session.UserID)
	})

	t.Run("production", func(t *testing.T) {
		f := newFixture(t, "PROD")

		_, err := f.users.GetByEmail(context.Background(), "test-user@example.com")
		require.ErrorIs(t, err, autherrors.ErrUserNotFound)

		res := newBrowser().do(t, f.server, httptest.NewRequest(http.MethodGet, startURL(url.Values{handoff.ParamAuthBypass: {"true"}}), nil))
		require.Equal(t, http.StatusInternalServerError, res.StatusCode)
		require.Empty(t, res.Header.Get("Location"))
		require.Zero(t, f.sessions.Len())
	})

	t.Run("environment unset", func(t *testing.T) {
		f := newFixture(t, "")

		res := newBrowser().do(t, f.server, httptest.NewRequest(http.MethodGet, startURL(url.Values{handoff.ParamAuthBypass: {"true"}}), nil))
		require.Equal(t, http.StatusInternalServerError, res.StatusCode)
		require.Empty(t, res.Header.Get("Location"))
		require.Zero(t, f.sessions.Len())
	})
}

func TestServer_WebSignInUnaffected(t *testing.T) {
	f := newFixture(t, "DEV")
	b := newBrowser()

	res := b.do(t, f.server, httptest.NewRequest(http.MethodPost, "/api/auth/signin/oidc?callbackUrl=%2Fhome", nil))
	require.Equal(t, http.StatusFound, res.StatusCode)
	providerCallback, err := f.provider.Authorize(res.Header.Get("Location"))
	require.NoError(t, err)

	res = b.do(t, f.server, httptest.NewRequest(http.MethodGet, providerCallback, nil))
	require.Equal(t, http.StatusFound, res.StatusCode)
	require.Equal(t, "/home", res.Header.Get("Location"))
	require.Contains(t, b.cookies, "authjs.session-token")
}

func TestServer_Health(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		f := newFixture(t, "DEV")
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})

	t.Run("store unavailable", func(t *testing.T) {
		f := newFixture(t, "DEV", server.WithHealthCheck(func(context.Context) error {
			return errors.New("connection refused")
		}))
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestServer_Metrics(t *testing.T) {
	f := newFixture(t, "DEV")
	newBrowser().do(t, f.server, httptest.NewRequest(http.MethodGet, "/api/auth/providers", nil))

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "authbridge_http_requests_total")
	require.Contains(t, string(body), "authbridge_handoff_transitions_total")
}

func TestServer_Cors(t *testing.T) {
	f := newFixture(t, "DEV")

	t.Run("preflight from allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/auth/session", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
		require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestServer_RequiresSecretOutsideDevelopment(t *testing.T) {
	for _, env := range []string{"PROD", ""} {
		t.Run("ENV="+env, func(t *testing.T) {
			t.Setenv("ENV", env)
			t.Setenv("AUTH_SECRET", "")

			_, err := server.New(config.New(), server.Repos{
				Users:    fakeuserrepo.NewFakeUserRepo(),
				Sessions: fakesessionrepo.NewFakeSessionRepo(),
			})
			require.Error(t, err)
		})
	}
}
