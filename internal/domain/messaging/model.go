package messaging

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// UserSummary is the display projection of a user attached to messages and
// conversations.
type UserSummary struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Role  string    `json:"role"`
}

// Conversation is a two-party thread. ParticipantA always sorts before
// ParticipantB.
type Conversation struct {
	ID             uuid.UUID     `json:"id"`
	ParticipantA   uuid.UUID     `json:"-"`
	ParticipantB   uuid.UUID     `json:"-"`
	ParticipantKey string        `json:"-"`
	Participants   []UserSummary `json:"participants"`
	LastMessageID  *uuid.UUID    `json:"last_message_id"`
	LastMessage    *Message      `json:"last_message,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// Between reports whether the participants are exactly {a, b}.
func (c *Conversation) Between(a, b uuid.UUID) bool {
	return a != b && c.HasParticipant(a) && c.HasParticipant(b)
}

// Message is a single chat message. Only Read ever changes after insert.
type Message struct {
	ID             uuid.UUID    `json:"id"`
	ConversationID uuid.UUID    `json:"conversation_id"`
	SenderID       uuid.UUID    `json:"sender_id"`
	ReceiverID     uuid.UUID    `json:"receiver_id"`
	Content        string       `json:"content"`
	Read           bool         `json:"read"`
	CreatedAt      time.Time    `json:"created_at"`
	Sender         *UserSummary `json:"sender,omitempty"`
	Receiver       *UserSummary `json:"receiver,omitempty"`
}

// SendInput is the body of a send request, over REST or the socket.
type SendInput struct {
	ReceiverID     string `json:"receiverId"`
	Content        string `json:"content"`
	ConversationID string `json:"conversationId,omitempty"`
}

// SendResult is returned by a successful send.
type SendResult struct {
	Message        *Message  `json:"message"`
	ConversationID uuid.UUID `json:"conversationId"`
}

// OrderedPair returns a and b in canonical order together with the key that
// identifies their conversation.
func OrderedPair(a, b uuid.UUID) (first, second uuid.UUID, key string) {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return a, b, a.String() + ":" + b.String()
}
