package handoff

import (
	"net/http"
	"strings"
)

// NormalizeRequest rewrites the request URL to use the logical host the client
// addressed (X-Forwarded-Host, else the Host header) in non-secure contexts. The
// returned request is a clone; the original is left untouched. In secure
// contexts r is returned as is.
func NormalizeRequest(r *http.Request, secure bool) *http.Request {
	if secure {
		return r
	}

	host := r.Host
	if forwarded := r.Header.Get("X-Forwarded-Host"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			host = first
		}
	}
	if host == "" {
		return r
	}

	out := r.Clone(r.Context())
	out.URL.Scheme = "http"
	out.URL.Host = host
	out.Host = host
	return out
}
