package repository

import (
	"context"

	"github.com/carebridge/carelink/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository provides access to backend accounts.
type UserRepository interface {
	// Create inserts a new account.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads an account by id.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByUsername loads an account by username.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// SetPassword replaces the password hash and clears the forced-change flag.
	SetPassword(ctx context.Context, id uuid.UUID, hash, salt []byte) error
}
