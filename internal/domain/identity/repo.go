package identity

import (
	"context"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	// List returns users with the given role (any role when empty), never
	// including exclude, ordered by name.
	List(ctx context.Context, role Role, exclude uuid.UUID, limit, offset int) ([]*User, int, error)
}
