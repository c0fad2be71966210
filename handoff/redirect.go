package handoff

import (
	"fmt"
	"net/url"
	"strings"

	autherrors "github.com/jrsteele09/authbridge/internal/errors"
)

// ParamSessionToken is the deep-link query parameter carrying the session token.
const ParamSessionToken = "session_token"

func validateRedirectTarget(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: %v", autherrors.ErrInvalidRedirectTarget, err)
	}
	if u.Scheme == "" {
		return fmt.Errorf("%w: %q is not an absolute URL", autherrors.ErrInvalidRedirectTarget, target)
	}
	return nil
}

// AttachSessionToken appends session_token=<token> to target. Existing query
// pairs keep their order and encoding; an existing session_token pair is
// replaced.
func AttachSessionToken(target, token string) (string, error) {
	if err := validateRedirectTarget(target); err != nil {
		return "", err
	}
	u, _ := url.Parse(target)

	var pairs []string
	if u.RawQuery != "" {
		for _, pair := range strings.Split(u.RawQuery, "&") {
			if pair == "" {
				continue
			}
			key, _, _ := strings.Cut(pair, "=")
			if k, err := url.QueryUnescape(key); err == nil && k == ParamSessionToken {
				continue
			}
			pairs = append(pairs, pair)
		}
	}
	pairs = append(pairs, ParamSessionToken+"="+url.QueryEscape(token))

	u.RawQuery = strings.Join(pairs, "&")
	u.ForceQuery = false
	return u.String(), nil
}
