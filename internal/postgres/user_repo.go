package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	autherrors "github.com/jrsteele09/authbridge/internal/errors"
	"github.com/jrsteele09/authbridge/users"
)

var _ users.UserRepo = (*UserRepo)(nil)

const userColumns = `id, name, email, email_verified, image, created_at`

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// Upsert inserts the user or, when the email is already known, refreshes the
// profile fields while keeping the existing ID and creation time.
func (r *UserRepo) Upsert(ctx context.Context, user *users.User) (*users.User, error) {
	id := user.ID
	if id == "" {
		id = uuid.New().String()
	}

	var stored users.User
	err := get(ctx, r.pool, &stored, `
		INSERT INTO users (id, name, email, email_verified, image)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO UPDATE
		SET name = EXCLUDED.name,
		    email_verified = EXCLUDED.email_verified,
		    image = EXCLUDED.image
		RETURNING `+userColumns,
		id, user.Name, users.NormaliseEmail(user.Email), user.EmailVerified, user.Image)
	if err != nil {
		return nil, autherrors.Wrapf(err, "[postgres UserRepo.Upsert] failed to upsert user")
	}
	return &stored, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*users.User, error) {
	var user users.User
	err := get(ctx, r.pool, &user, `SELECT `+userColumns+` FROM users WHERE email = $1`, users.NormaliseEmail(email))
	if isNoRows(err) {
		return nil, autherrors.ErrUserNotFound
	}
	if err != nil {
		return nil, autherrors.Wrapf(err, "[postgres UserRepo.GetByEmail] query failed")
	}
	return &user, nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*users.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, autherrors.ErrUserNotFound
	}

	var user users.User
	err := get(ctx, r.pool, &user, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if isNoRows(err) {
		return nil, autherrors.ErrUserNotFound
	}
	if err != nil {
		return nil, autherrors.Wrapf(err, "[postgres UserRepo.GetByID] query failed")
	}
	return &user, nil
}

func (r *UserRepo) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return autherrors.ErrUserNotFound
	}

	tag, err := exec(ctx, r.pool, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return autherrors.Wrapf(err, "[postgres UserRepo.Delete] delete failed")
	}
	if tag.RowsAffected() == 0 {
		return autherrors.ErrUserNotFound
	}
	return nil
}
