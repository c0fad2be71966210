package users

import (
	"strings"
	"time"
)

// User is an authenticated identity. Users are created on first provider sign-in
// and looked up by email on every later one.
type User struct {
	ID            string     `json:"id,omitempty" db:"id"`                         // Unique identifier (UUID)
	Name          string     `json:"name,omitempty" db:"name"`                     // Display name from the provider
	Email         string     `json:"email,omitempty" db:"email"`                   // Unique email address
	EmailVerified *time.Time `json:"email_verified,omitempty" db:"email_verified"` // When the provider last asserted the email
	Image         string     `json:"image,omitempty" db:"image"`                   // Avatar URL
	CreatedAt     time.Time  `json:"created_at,omitempty" db:"created_at"`
}

// NormaliseEmail lower-cases and trims an email so lookups are case-insensitive.
func NormaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MarkVerified records that the provider vouched for the email at t.
func (u *User) MarkVerified(t time.Time) {
	u.EmailVerified = &t
}
