package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	autherrors "github.com/jrsteele09/authbridge/internal/errors"
)

const DefaultMaxAge = 30 * 24 * time.Hour

// Manager issues, validates and revokes sessions on top of a Repo.
type Manager struct {
	repo   Repo
	maxAge time.Duration
	now    func() time.Time
}

type ManagerOption func(*Manager)

// WithMaxAge overrides how long issued sessions live.
func WithMaxAge(maxAge time.Duration) ManagerOption {
	return func(m *Manager) {
		if maxAge > 0 {
			m.maxAge = maxAge
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(repo Repo, opts ...ManagerOption) *Manager {
	m := &Manager{
		repo:   repo,
		maxAge: DefaultMaxAge,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MaxAge is the lifetime given to newly issued sessions.
func (m *Manager) MaxAge() time.Duration {
	return m.maxAge
}

// Issue creates a new session for userID with a fresh random token.
func (m *Manager) Issue(ctx context.Context, userID string) (Session, error) {
	if userID == "" {
		return Session{}, fmt.Errorf("[sessions Issue] userID is required")
	}
	now := m.now()
	session := Session{
		SessionToken: uuid.New().String(),
		UserID:       userID,
		ExpiresAt:    now.Add(m.maxAge),
		CreatedAt:    now,
	}
	if err := m.repo.Create(ctx, session); err != nil {
		return Session{}, fmt.Errorf("[sessions Issue] failed to store session: %w", err)
	}
	return session, nil
}

// Validate returns the live session for token. Expired sessions are removed and
// reported as ErrSessionExpired.
func (m *Manager) Validate(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, autherrors.ErrSessionNotFound
	}
	session, err := m.repo.Get(ctx, token)
	if err != nil {
		return Session{}, err
	}
	if session.Expired(m.now()) {
		if err := m.repo.Delete(ctx, token); err != nil {
			return Session{}, fmt.Errorf("[sessions Validate] failed to delete expired session: %w", err)
		}
		return Session{}, autherrors.ErrSessionExpired
	}
	return session, nil
}

// Revoke deletes the session for token. Revoking an unknown token is not an error.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	err := m.repo.Delete(ctx, token)
	if err != nil && !autherrors.Is(err, autherrors.ErrSessionNotFound) {
		return fmt.Errorf("[sessions Revoke] %w", err)
	}
	return nil
}

// PurgeExpired removes every session that has expired.
func (m *Manager) PurgeExpired(ctx context.Context) error {
	return m.repo.DeleteExpired(ctx, m.now())
}
