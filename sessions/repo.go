package sessions

import (
	"context"
	"time"
)

// Repo defines the interface for session storage operations.
type Repo interface {
	// Create stores a new session
	Create(ctx context.Context, session Session) error

	// Get retrieves a session by token
	Get(ctx context.Context, sessionToken string) (Session, error)

	// Delete removes a session by token
	Delete(ctx context.Context, sessionToken string) error

	// DeleteExpired removes sessions that expired before the given time
	DeleteExpired(ctx context.Context, before time.Time) error
}
