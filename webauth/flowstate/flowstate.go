package flowstate

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	autherrors "github.com/jrsteele09/authbridge/internal/errors"
)

// CookieName is the cookie carrying the in-progress provider sign-in.
const CookieName = "authjs.flow-state"

// State is what the callback needs to finish a provider sign-in started by
// this browser.
type State struct {
	Provider     string `json:"prv"`
	State        string `json:"st"`
	CodeVerifier string `json:"cv"`
	Nonce        string `json:"nonce"`
	CallbackURL  string `json:"cb"`
}

type claims struct {
	State
	jwt.RegisteredClaims
}

// Codec signs flow state into a cookie and reads it back.
type Codec struct {
	key    []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

func NewCodec(key []byte, ttl time.Duration, secure bool) (*Codec, error) {
	if len(key) == 0 {
		return nil, errors.New("[flowstate NewCodec] signing key is required")
	}
	if ttl <= 0 {
		return nil, errors.New("[flowstate NewCodec] ttl must be positive")
	}
	return &Codec{key: key, ttl: ttl, secure: secure, now: time.Now}, nil
}

// sameSite is None in secure contexts so the cookie reaches a callback the
// provider delivers as a cross-site POST. Browsers reject None without Secure.
func (c *Codec) sameSite() http.SameSite {
	if c.secure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

func (c *Codec) Encode(s State) (string, error) {
	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		State: s,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	})
	value, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("[flowstate Encode] failed to sign state: %w", err)
	}
	return value, nil
}

func (c *Codec) Decode(value string) (State, error) {
	parsed := &claims{}
	_, err := jwt.ParseWithClaims(value, parsed, func(*jwt.Token) (any, error) {
		return c.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired(), jwt.WithTimeFunc(c.now))
	if err != nil {
		return State{}, fmt.Errorf("%w: %v", autherrors.ErrInvalidFlowState, err)
	}
	return parsed.State, nil
}

// Write stores s in the flow-state cookie.
func (c *Codec) Write(w http.ResponseWriter, s State) error {
	value, err := c.Encode(s)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(c.ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: c.sameSite(),
	})
	return nil
}

// Read returns the flow state carried by r.
func (c *Codec) Read(r *http.Request) (State, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return State{}, fmt.Errorf("%w: no flow-state cookie", autherrors.ErrInvalidFlowState)
	}
	return c.Decode(cookie.Value)
}

// Clear expires the flow-state cookie.
func (c *Codec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: c.sameSite(),
	})
}
