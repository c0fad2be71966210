package handoff_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/jrsteele09/authbridge/handoff"
	"github.com/jrsteele09/authbridge/sessions"
	fakesessionrepo "github.com/jrsteele09/authbridge/sessions/repofakes"
	"github.com/jrsteele09/authbridge/users"
	fakeuserrepo "github.com/jrsteele09/authbridge/users/repofake"
	"github.com/stretchr/testify/require"
)

const (
	testUserEmail    = "test-user@example.com"
	testDeepLink     = "https://app.example/callback"
	webSessionToken  = "abc123"
	signInPageBody   = "standard sign-in page"
	webCallbackRoute = "/"
)

// fakeWebAuth stands in for the standard web authentication handler.
type fakeWebAuth struct {
	callbackCookies []string
	calls           int
}

func (f *fakeWebAuth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls++
	switch {
	case strings.HasPrefix(r.URL.Path, "/api/auth/callback"):
		for _, c := range f.callbackCookies {
			w.Header().Add("Set-Cookie", c)
		}
		http.Redirect(w, r, webCallbackRoute, http.StatusFound)
	default:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(signInPageBody))
	}
}

type fixture struct {
	web      *fakeWebAuth
	users    *fakeuserrepo.FakeUserRepo
	sessions *fakesessionrepo.FakeSessionRepo
	markers  *handoff.CookieMarkerStore
	handler  *handoff.Handler
}

func newFixture(t *testing.T, development bool) *fixture {
	t.Helper()

	web := &fakeWebAuth{callbackCookies: []string{
		"authjs.flow-state=; Path=/; Max-Age=0",
		"authjs.session-token=" + webSessionToken + "; Path=/; HttpOnly; SameSite=Lax",
	}}
	userRepo := fakeuserrepo.NewFakeUserRepo()
	sessionRepo := fakesessionrepo.NewFakeSessionRepo()
	markers, err := handoff.NewCookieMarkerStore([]byte("0123456789abcdef0123456789abcdef"), false)
	require.NoError(t, err)

	h := handoff.New(web, userRepo, sessions.NewManager(sessionRepo), markers, handoff.Options{
		Development:   development,
		SecureContext: !development,
		TestUserEmail: testUserEmail,
	})
	return &fixture{web: web, users: userRepo, sessions: sessionRepo, markers: markers, handler: h}
}

func (f *fixture) createTestUser(t *testing.T) *users.User {
	t.Helper()
	u, err := f.users.Upsert(context.Background(), &users.User{Name: "Test User", Email: testUserEmail})
	require.NoError(t, err)
	return u
}

// cookieJar carries cookies between requests the way a browser would.
type cookieJar map[string]string

func (j cookieJar) apply(t *testing.T, res *http.Response) {
	t.Helper()
	for _, c := range res.Cookies() {
		if c.MaxAge < 0 || c.Value == "" {
			delete(j, c.Name)
			continue
		}
		j[c.Name] = c.Value
	}
}

func (j cookieJar) attach(r *http.Request) {
	for name, value := range j {
		r.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}

func (f *fixture) do(t *testing.T, jar cookieJar, method, target string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	jar.attach(req)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	res := rec.Result()
	jar.apply(t, res)
	return res
}

func signInURL(extra url.Values) string {
	q := url.Values{handoff.ParamExpoRedirect: {testDeepLink}}
	for k, v := range extra {
		q[k] = v
	}
	return "/api/auth/signin?" + q.Encode()
}

func TestHandler_Start(t *testing.T) {
	f := newFixture(t, false)
	jar := cookieJar{}

	res := f.do(t, jar, http.MethodGet, signInURL(nil))
	require.Equal(t, http.StatusOK, res.StatusCode, "sign-in still reaches the web handler")
	require.Contains(t, jar, handoff.MarkerCookieName)

	var marker *http.Cookie
	for _, c := range res.Cookies() {
		if c.Name == handoff.MarkerCookieName {
			marker = c
		}
	}
	require.NotNil(t, marker)
	require.Equal(t, 600, marker.MaxAge)
	require.Equal(t, "/", marker.Path)

	t.Run("callback in the same jar sees the target", func(t *testing.T) {
		res := f.do(t, jar, http.MethodGet, "/api/auth/callback/oidc?code=x&state=y")
		require.Equal(t, http.StatusFound, res.StatusCode)
		require.Equal(t, testDeepLink+"?session_token="+webSessionToken, res.Header.Get("Location"))
	})
}

func TestHandler_StartRejectsRelativeTarget(t *testing.T) {
	f := newFixture(t, false)
	jar := cookieJar{}

	res := f.do(t, jar, http.MethodGet, "/api/auth/signin?expo-redirect=%2Flogin")
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.NotContains(t, jar, handoff.MarkerCookieName)
	require.Equal(t, 0, f.web.calls)
}

func TestHandler_Bypass(t *testing.T) {
	t.Run("development issues a session and redirects", func(t *testing.T) {
		f := newFixture(t, true)
		f.createTestUser(t)
		jar := cookieJar{}

		f.do(t, jar, http.MethodGet, signInURL(nil))
		require.Contains(t, jar, handoff.MarkerCookieName)

		res := f.do(t, jar, http.MethodGet, "/api/auth/signin?authBypass=true")
		require.Equal(t, http.StatusFound, res.StatusCode)

		location, err := url.Parse(res.Header.Get("Location"))
		require.NoError(t, err)
		require.Equal(t, "https", location.Scheme)
		require.Equal(t, "app.example", location.Host)
		require.Equal(t, "/callback", location.Path)
		token := location.Query().Get(handoff.ParamSessionToken)
		require.NotEmpty(t, token)

		_, err = f.sessions.Get(context.Background(), token)
		require.NoError(t, err, "token is a stored session")
		require.NotContains(t, jar, handoff.MarkerCookieName, "marker is consumed")
		require.Equal(t, 1, f.web.calls, "only the start request reached the web handler")
	})

	t.Run("start and bypass in one request", func(t *testing.T) {
		f := newFixture(t, true)
		f.createTestUser(t)
		jar := cookieJar{}

		res := f.do(t, jar, http.MethodGet, signInURL(url.Values{handoff.ParamAuthBypass: {"true"}}))
		require.Equal(t, http.StatusFound, res.StatusCode)
		require.True(t, strings.HasPrefix(res.Header.Get("Location"), testDeepLink+"?session_token="))
		require.NotContains(t, jar, handoff.MarkerCookieName)
		require.Equal(t, 0, f.web.calls)
	})

	t.Run("missing test user is fatal", func(t *testing.T) {
		f := newFixture(t, true)
		jar := cookieJar{}

		res := f.do(t, jar, http.MethodGet, signInURL(url.Values{handoff.ParamAuthBypass: {"true"}}))
		require.Equal(t, http.StatusInternalServerError, res.StatusCode)
		require.Equal(t, 0, f.sessions.Len())
	})

	t.Run("without a marker falls through", func(t *testing.T) {
		f := newFixture(t, true)
		f.createTestUser(t)

		res := f.do(t, cookieJar{}, http.MethodGet, "/api/auth/signin?authBypass=true")
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.Equal(t, 1, f.web.calls)
		require.Equal(t, 0, f.sessions.Len())
	})
}

func TestHandler_BypassRefusedOutsideDevelopment(t *testing.T) {
	t.Run("with marker", func(t *testing.T) {
		f := newFixture(t, false)
		f.createTestUser(t)
		jar := cookieJar{}

		f.do(t, jar, http.MethodGet, signInURL(nil))
		require.Contains(t, jar, handoff.MarkerCookieName)

		res := f.do(t, jar, http.MethodGet, "/api/auth/signin?authBypass=true")
		require.Equal(t, http.StatusInternalServerError, res.StatusCode)
		require.Equal(t, 0, f.sessions.Len())
		require.Contains(t, jar, handoff.MarkerCookieName, "no state change")
	})

	t.Run("without marker", func(t *testing.T) {
		f := newFixture(t, false)
		f.createTestUser(t)
		jar := cookieJar{}

		res := f.do(t, jar, http.MethodGet, signInURL(url.Values{handoff.ParamAuthBypass: {"true"}}))
		require.Equal(t, http.StatusInternalServerError, res.StatusCode)
		require.Equal(t, 0, f.sessions.Len())
		require.NotContains(t, jar, handoff.MarkerCookieName, "marker is not written")
		require.Equal(t, 0, f.web.calls)
	})
}

func TestHandler_Callback(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			f := newFixture(t, false)
			jar := cookieJar{}
			f.do(t, jar, http.MethodGet, signInURL(nil))

			res := f.do(t, jar, method, "/api/auth/callback/oidc")
			require.Equal(t, http.StatusFound, res.StatusCode)
			require.Equal(t, testDeepLink+"?session_token="+webSessionToken, res.Header.Get("Location"))

			flowCleared := false
			for _, c := range res.Cookies() {
				require.NotEqual(t, "authjs.session-token", c.Name, "session cookie is not forwarded")
				if c.Name == "authjs.flow-state" {
					flowCleared = c.MaxAge < 0
				}
			}
			require.True(t, flowCleared, "flow-state clear reaches the in-app browser")
			require.NotContains(t, jar, handoff.MarkerCookieName)
		})
	}

	t.Run("missing session cookie is fatal", func(t *testing.T) {
		f := newFixture(t, true)
		f.web.callbackCookies = []string{"other=1; Path=/"}
		jar := cookieJar{}
		f.do(t, jar, http.MethodGet, signInURL(nil))

		res := f.do(t, jar, http.MethodGet, "/api/auth/callback/oidc")
		require.Equal(t, http.StatusInternalServerError, res.StatusCode)
		require.Empty(t, res.Header.Get("Location"))
	})

	t.Run("replayed callback falls through", func(t *testing.T) {
		f := newFixture(t, false)
		jar := cookieJar{}
		f.do(t, jar, http.MethodGet, signInURL(nil))

		res := f.do(t, jar, http.MethodGet, "/api/auth/callback/oidc")
		require.Equal(t, testDeepLink+"?session_token="+webSessionToken, res.Header.Get("Location"))

		res = f.do(t, jar, http.MethodGet, "/api/auth/callback/oidc")
		require.Equal(t, webCallbackRoute, res.Header.Get("Location"))
	})

	t.Run("preserves existing query", func(t *testing.T) {
		f := newFixture(t, false)
		jar := cookieJar{}
		q := url.Values{handoff.ParamExpoRedirect: {"exp://192.168.1.10:8081/--/login?foo=bar"}}
		f.do(t, jar, http.MethodGet, "/api/auth/signin?"+q.Encode())

		res := f.do(t, jar, http.MethodGet, "/api/auth/callback/oidc")
		require.Equal(t, "exp://192.168.1.10:8081/--/login?foo=bar&session_token="+webSessionToken, res.Header.Get("Location"))
	})
}

func TestHandler_Fallthrough(t *testing.T) {
	f := newFixture(t, false)
	jar := cookieJar{}

	res := f.do(t, jar, http.MethodGet, "/api/auth/signin")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Empty(t, res.Header.Values("Set-Cookie"))
	require.Equal(t, 1, f.web.calls)

	t.Run("web callback keeps its cookie", func(t *testing.T) {
		res := f.do(t, jar, http.MethodGet, "/api/auth/callback/oidc")
		require.Equal(t, webCallbackRoute, res.Header.Get("Location"))
		require.Equal(t, webSessionToken, jar["authjs.session-token"])
	})
}

func TestHandler_CallbackSkipsPrefixedSessionCookie(t *testing.T) {
	f := newFixture(t, false)
	f.web.callbackCookies = []string{
		"__Secure-authjs.session-token=" + webSessionToken + "; Path=/; Secure; HttpOnly",
		"authjs.flow-state=; Path=/; Max-Age=0; Secure",
	}
	jar := cookieJar{}
	f.do(t, jar, http.MethodGet, signInURL(nil))

	res := f.do(t, jar, http.MethodPost, "/api/auth/callback/oidc")
	require.Equal(t, testDeepLink+"?session_token="+webSessionToken, res.Header.Get("Location"))

	names := []string{}
	for _, c := range res.Cookies() {
		names = append(names, c.Name)
	}
	require.ElementsMatch(t, []string{handoff.MarkerCookieName, "authjs.flow-state"}, names)
}

func TestHandler_NormalizesOnlyInDevelopment(t *testing.T) {
	tests := []struct {
		name     string
		opts     handoff.Options
		wantHost string
	}{
		{name: "development", opts: handoff.Options{Development: true}, wantHost: "localhost:3000"},
		{name: "production over http", opts: handoff.Options{}, wantHost: "auth.internal:8080"},
		{name: "secure development", opts: handoff.Options{Development: true, SecureContext: true}, wantHost: "auth.internal:8080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			web := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = r.Host
			})
			markers := handoff.NewMemoryMarkerStore(func(*http.Request) string { return "client" })
			h := handoff.New(web, fakeuserrepo.NewFakeUserRepo(), sessions.NewManager(fakesessionrepo.NewFakeSessionRepo()), markers, tt.opts)

			req := httptest.NewRequest(http.MethodGet, "/api/auth/signin", nil)
			req.Host = "auth.internal:8080"
			req.Header.Set("X-Forwarded-Host", "localhost:3000")
			h.ServeHTTP(httptest.NewRecorder(), req)
			require.Equal(t, tt.wantHost, seen)
		})
	}
}

func TestHandler_MemoryMarkersSeparateClients(t *testing.T) {
	markers := handoff.NewMemoryMarkerStore(func(r *http.Request) string {
		return r.Header.Get("X-Client")
	})
	web := &fakeWebAuth{callbackCookies: []string{"authjs.session-token=" + webSessionToken}}
	h := handoff.New(web, fakeuserrepo.NewFakeUserRepo(), sessions.NewManager(fakesessionrepo.NewFakeSessionRepo()), markers, handoff.Options{SecureContext: true})

	serve := func(client, target string) *http.Response {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.Header.Set("X-Client", client)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Result()
	}

	serve("phone-a", "/api/auth/signin?expo-redirect="+url.QueryEscape("myapp://a"))
	serve("phone-b", "/api/auth/signin?expo-redirect="+url.QueryEscape("myapp://b"))

	res := serve("phone-b", "/api/auth/callback/oidc")
	require.Equal(t, "myapp://b?session_token="+webSessionToken, res.Header.Get("Location"))

	_, ok := markers.Peek("phone-b")
	require.False(t, ok)
	m, ok := markers.Peek("phone-a")
	require.True(t, ok)
	require.Equal(t, "myapp://a", m.RedirectTarget)

	res = serve("phone-c", "/api/auth/callback/oidc")
	require.Equal(t, webCallbackRoute, res.Header.Get("Location"))
}
