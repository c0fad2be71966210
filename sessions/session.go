package sessions

import "time"

// Session is a database-backed sign-in. The SessionToken is the opaque credential
// carried by the web cookie or handed to the mobile client through the deep link.
type Session struct {
	SessionToken string    `json:"session_token" db:"session_token"`
	UserID       string    `json:"user_id" db:"user_id"`
	ExpiresAt    time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
