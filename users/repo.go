package users

import "context"

type UserRepo interface {
	// Upsert creates the user or updates the user with the same email. The stored
	// user (with its ID) is returned.
	Upsert(ctx context.Context, user *User) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	Delete(ctx context.Context, id string) error
}
