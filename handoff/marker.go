package handoff

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MarkerCookieName is the fixed name of the pending mobile sign-in cookie.
const MarkerCookieName = "expo-redirect"

// Marker records that a mobile client started a sign-in and expects a
// deep-link return to RedirectTarget.
type Marker struct {
	RedirectTarget string
	ExpiresAt      time.Time
}

// MarkerStore hands out a per-request view of the pending sign-in marker.
type MarkerStore interface {
	Jar(w http.ResponseWriter, r *http.Request) MarkerJar
}

// MarkerJar is the marker channel of one request. Writes are visible to later
// reads on the same jar.
type MarkerJar interface {
	Get() (redirectTarget string, ok bool)
	Set(redirectTarget string, ttl time.Duration) error
	Delete()
}

type markerClaims struct {
	RedirectTarget string `json:"rt"`
	jwt.RegisteredClaims
}

// CookieMarkerStore keeps the marker in a signed cookie. The cookie value is an
// HS256 JWT whose rt claim is the redirect target and whose exp claim bounds
// its lifetime; anything that fails verification reads as absent.
type CookieMarkerStore struct {
	key    []byte
	secure bool
	now    func() time.Time
}

var _ MarkerStore = (*CookieMarkerStore)(nil)

func NewCookieMarkerStore(key []byte, secure bool) (*CookieMarkerStore, error) {
	if len(key) == 0 {
		return nil, errors.New("[handoff NewCookieMarkerStore] signing key is required")
	}
	return &CookieMarkerStore{key: key, secure: secure, now: time.Now}, nil
}

func (s *CookieMarkerStore) Jar(w http.ResponseWriter, r *http.Request) MarkerJar {
	return &cookieJar{store: s, w: w, r: r}
}

// sameSite relaxes the marker to None in secure contexts so it survives
// providers that return through a cross-site form POST.
func (s *CookieMarkerStore) sameSite() http.SameSite {
	if s.secure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

func (s *CookieMarkerStore) sign(target string, expiresAt time.Time) (string, error) {
	claims := markerClaims{
		RedirectTarget: target,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(s.now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

func (s *CookieMarkerStore) verify(value string) (Marker, error) {
	claims := &markerClaims{}
	_, err := jwt.ParseWithClaims(value, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired(), jwt.WithTimeFunc(s.now))
	if err != nil {
		return Marker{}, err
	}
	if claims.RedirectTarget == "" {
		return Marker{}, errors.New("marker has no redirect target")
	}
	return Marker{RedirectTarget: claims.RedirectTarget, ExpiresAt: claims.ExpiresAt.Time}, nil
}

type cookieJar struct {
	store *CookieMarkerStore
	w     http.ResponseWriter
	r     *http.Request

	written bool
	deleted bool
	target  string
}

func (j *cookieJar) Get() (string, bool) {
	if j.deleted {
		return "", false
	}
	if j.written {
		return j.target, true
	}
	cookie, err := j.r.Cookie(MarkerCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	marker, err := j.store.verify(cookie.Value)
	if err != nil {
		return "", false
	}
	return marker.RedirectTarget, true
}

func (j *cookieJar) Set(target string, ttl time.Duration) error {
	value, err := j.store.sign(target, j.store.now().Add(ttl))
	if err != nil {
		return fmt.Errorf("[handoff cookieJar.Set] failed to sign marker: %w", err)
	}
	j.dropOutgoing()
	http.SetCookie(j.w, &http.Cookie{
		Name:     MarkerCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   j.store.secure,
		SameSite: j.store.sameSite(),
	})
	j.written, j.deleted, j.target = true, false, target
	return nil
}

func (j *cookieJar) Delete() {
	j.dropOutgoing()
	http.SetCookie(j.w, &http.Cookie{
		Name:     MarkerCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   j.store.secure,
		SameSite: j.store.sameSite(),
	})
	j.written, j.deleted, j.target = false, true, ""
}

// dropOutgoing removes marker directives already queued on this response so
// only the latest one is sent.
func (j *cookieJar) dropOutgoing() {
	header := j.w.Header()
	directives := header.Values("Set-Cookie")
	if len(directives) == 0 {
		return
	}
	kept := directives[:0:0]
	for _, d := range directives {
		if !strings.HasPrefix(d, MarkerCookieName+"=") {
			kept = append(kept, d)
		}
	}
	header.Del("Set-Cookie")
	for _, d := range kept {
		header.Add("Set-Cookie", d)
	}
}

// MemoryMarkerStore keeps markers in process memory keyed by a client identity.
// It stands in for the cookie channel when simulating several clients.
type MemoryMarkerStore struct {
	clientKey func(*http.Request) string
	now       func() time.Time

	mu      sync.Mutex
	markers map[string]Marker
}

var _ MarkerStore = (*MemoryMarkerStore)(nil)

func NewMemoryMarkerStore(clientKey func(*http.Request) string) *MemoryMarkerStore {
	return &MemoryMarkerStore{
		clientKey: clientKey,
		now:       time.Now,
		markers:   make(map[string]Marker),
	}
}

func (s *MemoryMarkerStore) Jar(_ http.ResponseWriter, r *http.Request) MarkerJar {
	return &memoryJar{store: s, key: s.clientKey(r)}
}

// Peek returns the stored marker for a client key.
func (s *MemoryMarkerStore) Peek(key string) (Marker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markers[key]
	return m, ok
}

type memoryJar struct {
	store *MemoryMarkerStore
	key   string
}

func (j *memoryJar) Get() (string, bool) {
	j.store.mu.Lock()
	defer j.store.mu.Unlock()

	m, ok := j.store.markers[j.key]
	if !ok {
		return "", false
	}
	if !m.ExpiresAt.After(j.store.now()) {
		delete(j.store.markers, j.key)
		return "", false
	}
	return m.RedirectTarget, true
}

func (j *memoryJar) Set(target string, ttl time.Duration) error {
	j.store.mu.Lock()
	defer j.store.mu.Unlock()

	j.store.markers[j.key] = Marker{RedirectTarget: target, ExpiresAt: j.store.now().Add(ttl)}
	return nil
}

func (j *memoryJar) Delete() {
	j.store.mu.Lock()
	defer j.store.mu.Unlock()

	delete(j.store.markers, j.key)
}
