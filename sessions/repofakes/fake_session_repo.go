package fakesessionrepo

import (
	"context"
	"sync"
	"time"

	autherrors "github.com/jrsteele09/authbridge/internal/errors"
	"github.com/jrsteele09/authbridge/sessions"
)

var _ sessions.Repo = (*FakeSessionRepo)(nil)

type FakeSessionRepo struct {
	sessions map[string]sessions.Session
	lock     sync.RWMutex
}

func NewFakeSessionRepo() *FakeSessionRepo {
	return &FakeSessionRepo{
		sessions: make(map[string]sessions.Session),
	}
}

func (sr *FakeSessionRepo) Create(_ context.Context, session sessions.Session) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	sr.sessions[session.SessionToken] = session
	return nil
}

func (sr *FakeSessionRepo) Get(_ context.Context, sessionToken string) (sessions.Session, error) {
	sr.lock.RLock()
	defer sr.lock.RUnlock()

	session, ok := sr.sessions[sessionToken]
	if !ok {
		return sessions.Session{}, autherrors.ErrSessionNotFound
	}
	return session, nil
}

func (sr *FakeSessionRepo) Delete(_ context.Context, sessionToken string) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	if _, ok := sr.sessions[sessionToken]; !ok {
		return autherrors.ErrSessionNotFound
	}
	delete(sr.sessions, sessionToken)
	return nil
}

func (sr *FakeSessionRepo) DeleteExpired(_ context.Context, before time.Time) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	for token, session := range sr.sessions {
		if session.ExpiresAt.Before(before) {
			delete(sr.sessions, token)
		}
	}
	return nil
}

// Len returns the number of stored sessions.
func (sr *FakeSessionRepo) Len() int {
	sr.lock.RLock()
	defer sr.lock.RUnlock()
	return len(sr.sessions)
}
