package wellness

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, l *Log) error
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*Log, error)
	// HasEntryBetween reports whether the user logged an entry dated within
	// [from, to).
	HasEntryBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) (bool, error)
}
