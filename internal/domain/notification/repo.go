package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	// ExistsSince reports whether the user has a notification of type typ
	// created at or after since. An empty title matches any title.
	ExistsSince(ctx context.Context, userID uuid.UUID, typ Type, title string, since time.Time) (bool, error)
	ListRecent(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
	// MarkRead marks one notification owned by userID as read.
	MarkRead(ctx context.Context, id, userID uuid.UUID) (*Notification, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
	// LockUser serializes generation passes for one user until the
	// surrounding transaction ends.
	LockUser(ctx context.Context, userID uuid.UUID) error
}

// TxRunner runs fn inside a single storage transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
