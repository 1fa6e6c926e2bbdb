package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ConversationRepository interface {
	// Create inserts c. If a conversation for the same pair already exists it
	// returns a conflict error and leaves c untouched.
	Create(ctx context.Context, c *Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Conversation, error)
	GetByKey(ctx context.Context, key string) (*Conversation, error)
	// ListForUser returns the user's conversations, most recently updated
	// first, with participants and last message populated.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*Conversation, error)
	SetLastMessage(ctx context.Context, id, messageID uuid.UUID, at time.Time) error
}

type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	// GetByID returns the message with sender and receiver populated.
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	// ListByConversation returns every message of the conversation, oldest
	// first.
	ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]*Message, error)
	// MarkRead flips the given messages to read where receiverID is their
	// receiver and returns how many changed.
	MarkRead(ctx context.Context, receiverID uuid.UUID, ids []uuid.UUID) (int64, error)
}

// TxRunner runs fn inside a single storage transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
