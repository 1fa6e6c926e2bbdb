package messaging

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/medconnect/medconnect/internal/platform/apperr"
)

const maxContentLength = 5000

// Service implements conversation resolution and the message store.
type Service struct {
	convs ConversationRepository
	msgs  MessageRepository
	tx    TxRunner
}

func NewService(convs ConversationRepository, msgs MessageRepository, tx TxRunner) *Service {
	return &Service{convs: convs, msgs: msgs, tx: tx}
}

// GetOrCreateConversation returns the single conversation between a and b,
// creating it on first use. Argument order does not matter.
func (s *Service) GetOrCreateConversation(ctx context.Context, a, b uuid.UUID) (*Conversation, error) {
	if a == b {
		return nil, apperr.Validation("cannot start a conversation with yourself")
	}
	first, second, key := OrderedPair(a, b)

	c, err := s.convs.GetByKey(ctx, key)
	if err == nil {
		return c, nil
	}
	if !apperr.IsKind(err, apperr.KindNotFound) {
		return nil, err
	}

	created := &Conversation{ParticipantA: first, ParticipantB: second, ParticipantKey: key}
	if err := s.convs.Create(ctx, created); err != nil && !apperr.IsKind(err, apperr.KindConflict) {
		return nil, err
	}
	// On conflict a concurrent caller created the pair first; either way the
	// row under key is the one to use.
	return s.convs.GetByKey(ctx, key)
}

// SendMessage stores a message from senderID and advances the conversation's
// last-message pointer in the same transaction.
func (s *Service) SendMessage(ctx context.Context, senderID uuid.UUID, in SendInput) (*SendResult, error) {
	receiverID, content, err := validateSend(senderID, in)
	if err != nil {
		return nil, err
	}

	var msg *Message
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		conv, err := s.resolve(ctx, senderID, receiverID, in.ConversationID)
		if err != nil {
			return err
		}

		m := &Message{
			ConversationID: conv.ID,
			SenderID:       senderID,
			ReceiverID:     receiverID,
			Content:        content,
		}
		if err := s.msgs.Create(ctx, m); err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		if err := s.convs.SetLastMessage(ctx, conv.ID, m.ID, m.CreatedAt); err != nil {
			return fmt.Errorf("update conversation: %w", err)
		}

		msg, err = s.msgs.GetByID(ctx, m.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &SendResult{Message: msg, ConversationID: msg.ConversationID}, nil
}

func validateSend(senderID uuid.UUID, in SendInput) (uuid.UUID, string, error) {
	raw := strings.TrimSpace(in.ReceiverID)
	if raw == "" {
		return uuid.Nil, "", apperr.Validation("receiverId is required")
	}
	receiverID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, "", apperr.Validation("receiverId must be a valid id")
	}
	if receiverID == senderID {
		return uuid.Nil, "", apperr.Validation("cannot send a message to yourself")
	}
	if strings.TrimSpace(in.Content) == "" {
		return uuid.Nil, "", apperr.Validation("content is required")
	}
	if utf8.RuneCountInString(in.Content) > maxContentLength {
		return uuid.Nil, "", apperr.Validation(fmt.Sprintf("content must be at most %d characters", maxContentLength))
	}
	return receiverID, in.Content, nil
}

// resolve uses hint only when it names a conversation between exactly sender
// and receiver.
func (s *Service) resolve(ctx context.Context, senderID, receiverID uuid.UUID, hint string) (*Conversation, error) {
	if id, err := uuid.Parse(strings.TrimSpace(hint)); err == nil {
		c, err := s.convs.GetByID(ctx, id)
		switch {
		case err == nil && c.Between(senderID, receiverID):
			return c, nil
		case err != nil && !apperr.IsKind(err, apperr.KindNotFound):
			return nil, err
		}
	}
	return s.GetOrCreateConversation(ctx, senderID, receiverID)
}

// ListConversations returns the user's conversations, most recent first.
func (s *Service) ListConversations(ctx context.Context, userID uuid.UUID) ([]*Conversation, error) {
	convs, err := s.convs.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []*Conversation{}
	}
	return convs, nil
}

// GetConversation returns the conversation if requesterID takes part in it.
// Otherwise it reports not found.
func (s *Service) GetConversation(ctx context.Context, id, requesterID uuid.UUID) (*Conversation, error) {
	c, err := s.convs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(requesterID) {
		return nil, apperr.NotFound("conversation not found")
	}
	return c, nil
}

// ListMessages returns the conversation's messages oldest first and marks the
// ones addressed to requesterID as read. The returned messages carry the read
// state from before the call.
func (s *Service) ListMessages(ctx context.Context, conversationID, requesterID uuid.UUID) ([]*Message, error) {
	if _, err := s.GetConversation(ctx, conversationID, requesterID); err != nil {
		return nil, err
	}

	msgs, err := s.msgs.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	var unread []uuid.UUID
	for _, m := range msgs {
		if m.ReceiverID == requesterID && !m.Read {
			unread = append(unread, m.ID)
		}
	}
	if _, err := s.msgs.MarkRead(ctx, requesterID, unread); err != nil {
		return nil, fmt.Errorf("mark conversation read: %w", err)
	}

	if msgs == nil {
		msgs = []*Message{}
	}
	return msgs, nil
}

// MarkRead marks one message read. Only its receiver may do so; anyone else
// gets not found.
func (s *Service) MarkRead(ctx context.Context, messageID, requesterID uuid.UUID) (*Message, error) {
	m, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.ReceiverID != requesterID {
		return nil, apperr.NotFound("message not found")
	}
	if m.Read {
		return m, nil
	}
	if _, err := s.msgs.MarkRead(ctx, requesterID, []uuid.UUID{messageID}); err != nil {
		return nil, err
	}
	m.Read = true
	return m, nil
}
