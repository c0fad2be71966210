package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	autherrors "github.com/jrsteele09/authbridge/internal/errors"
	"github.com/jrsteele09/authbridge/sessions"
	"github.com/rs/zerolog/log"
)

var _ sessions.Repo = (*SessionRepo)(nil)

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

func (r *SessionRepo) Create(ctx context.Context, session sessions.Session) error {
	_, err := exec(ctx, r.pool,
		`INSERT INTO sessions (session_token, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4)`,
		session.SessionToken, session.UserID, session.ExpiresAt, session.CreatedAt)
	if err != nil {
		return autherrors.Wrapf(err, "[postgres SessionRepo.Create] insert failed")
	}
	return nil
}

func (r *SessionRepo) Get(ctx context.Context, sessionToken string) (sessions.Session, error) {
	var session sessions.Session
	err := get(ctx, r.pool, &session,
		`SELECT session_token, user_id, expires_at, created_at FROM sessions WHERE session_token = $1`, sessionToken)
	if isNoRows(err) {
		return sessions.Session{}, autherrors.ErrSessionNotFound
	}
	if err != nil {
		return sessions.Session{}, autherrors.Wrapf(err, "[postgres SessionRepo.Get] query failed")
	}
	return session, nil
}

func (r *SessionRepo) Delete(ctx context.Context, sessionToken string) error {
	tag, err := exec(ctx, r.pool, `DELETE FROM sessions WHERE session_token = $1`, sessionToken)
	if err != nil {
		return autherrors.Wrapf(err, "[postgres SessionRepo.Delete] delete failed")
	}
	if tag.RowsAffected() == 0 {
		return autherrors.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepo) DeleteExpired(ctx context.Context, before time.Time) error {
	tag, err := exec(ctx, r.pool, `DELETE FROM sessions WHERE expires_at < $1`, before)
	if err != nil {
		return autherrors.Wrapf(err, "[postgres SessionRepo.DeleteExpired] delete failed")
	}
	log.Debug().Int64("count", tag.RowsAffected()).Msg("Purged expired sessions")
	return nil
}
