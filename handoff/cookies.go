package handoff

import (
	"fmt"
	"net/http"
	"strings"

	autherrors "github.com/jrsteele09/authbridge/internal/errors"
)

var cookieNamePrefixes = []string{"__Secure-", "__Host-"}

// ExtractSessionToken finds the session cookie among Set-Cookie directives.
//
// Each directive is cut at the first ';' and split at the first '='. A directive
// matches when its name equals cookieName, optionally carrying a __Secure- or
// __Host- prefix, and its value is non-empty. The value is returned verbatim.
// When nothing matches the error wraps ErrSessionCookieMissing and lists every
// directive seen.
func ExtractSessionToken(directives []string, cookieName string) (string, error) {
	for _, directive := range directives {
		name, value, ok := splitDirective(directive)
		if ok && name == cookieName && value != "" {
			return value, nil
		}
	}
	return "", fmt.Errorf("%w: %q", autherrors.ErrSessionCookieMissing, directives)
}

// forwardCookies copies Set-Cookie directives onto w, skipping the session
// cookie and the marker. The flow-state clear reaches the in-app browser this way.
func forwardCookies(w http.ResponseWriter, directives []string, sessionCookieName string) {
	for _, directive := range directives {
		name, _, ok := splitDirective(directive)
		if !ok || name == sessionCookieName || name == MarkerCookieName {
			continue
		}
		w.Header().Add("Set-Cookie", directive)
	}
}

// splitDirective returns the cookie name, without a __Secure- or __Host- prefix,
// and the trimmed value of a Set-Cookie directive.
func splitDirective(directive string) (name, value string, ok bool) {
	pair, _, _ := strings.Cut(directive, ";")
	name, value, ok = strings.Cut(pair, "=")
	if !ok {
		return "", "", false
	}
	name = strings.TrimSpace(name)
	for _, prefix := range cookieNamePrefixes {
		name = strings.TrimPrefix(name, prefix)
	}
	return name, strings.TrimSpace(value), true
}
