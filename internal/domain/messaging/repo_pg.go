package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medconnect/medconnect/internal/platform/apperr"
	"github.com/medconnect/medconnect/internal/platform/db"
)

// -- Conversation --

type conversationRepoPG struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) ConversationRepository {
	return &conversationRepoPG{pool: pool}
}

func (r *conversationRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

// conversationSelect joins both participants and the last message so a
// conversation is always returned ready for display.
const conversationSelect = `
	SELECT c.id, c.participant_a, c.participant_b, c.participant_key, c.last_message_id,
		c.created_at, c.updated_at,
		ua.name, ua.email, ua.role,
		ub.name, ub.email, ub.role,
		m.sender_id, m.receiver_id, m.content, m.read, m.created_at
	FROM conversations c
	JOIN users ua ON ua.id = c.participant_a
	JOIN users ub ON ub.id = c.participant_b
	LEFT JOIN messages m ON m.id = c.last_message_id`

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	var a, b UserSummary
	var (
		lastSender, lastReceiver *uuid.UUID
		lastContent              *string
		lastRead                 *bool
		lastCreated              *time.Time
	)
	err := row.Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.ParticipantKey, &c.LastMessageID,
		&c.CreatedAt, &c.UpdatedAt,
		&a.Name, &a.Email, &a.Role,
		&b.Name, &b.Email, &b.Role,
		&lastSender, &lastReceiver, &lastContent, &lastRead, &lastCreated)
	if err != nil {
		return nil, err
	}
	a.ID, b.ID = c.ParticipantA, c.ParticipantB
	c.Participants = []UserSummary{a, b}

	if c.LastMessageID != nil && lastSender != nil {
		c.LastMessage = &Message{
			ID:             *c.LastMessageID,
			ConversationID: c.ID,
			SenderID:       *lastSender,
			ReceiverID:     *lastReceiver,
			Content:        *lastContent,
			Read:           *lastRead,
			CreatedAt:      *lastCreated,
		}
	}
	return &c, nil
}

func (r *conversationRepoPG) Create(ctx context.Context, c *Conversation) error {
	id := uuid.New()
	var created, updated time.Time
	// DO NOTHING waits for a concurrent insert of the same pair to commit and
	// then returns no row, which is reported as a conflict.
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO conversations (id, participant_a, participant_b, participant_key)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (participant_key) DO NOTHING
		RETURNING created_at, updated_at`,
		id, c.ParticipantA, c.ParticipantB, c.ParticipantKey).Scan(&created, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Conflict("conversation already exists")
	}
	if err != nil {
		return db.Classify(err, "user not found")
	}
	c.ID, c.CreatedAt, c.UpdatedAt = id, created, updated
	return nil
}

func (r *conversationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	c, err := scanConversation(r.conn(ctx).QueryRow(ctx, conversationSelect+` WHERE c.id = $1`, id))
	if err != nil {
		return nil, db.Classify(err, "conversation not found")
	}
	return c, nil
}

func (r *conversationRepoPG) GetByKey(ctx context.Context, key string) (*Conversation, error) {
	c, err := scanConversation(r.conn(ctx).QueryRow(ctx, conversationSelect+` WHERE c.participant_key = $1`, key))
	if err != nil {
		return nil, db.Classify(err, "conversation not found")
	}
	return c, nil
}

func (r *conversationRepoPG) ListForUser(ctx context.Context, userID uuid.UUID) ([]*Conversation, error) {
	rows, err := r.conn(ctx).Query(ctx, conversationSelect+`
		WHERE c.participant_a = $1 OR c.participant_b = $1
		ORDER BY c.updated_at DESC, c.id`, userID)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, apperr.Storage(err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err)
	}
	return out, nil
}

func (r *conversationRepoPG) SetLastMessage(ctx context.Context, id, messageID uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE conversations SET last_message_id = $2, updated_at = $3
		WHERE id = $1`, id, messageID, at)
	if err != nil {
		return apperr.Storage(err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("conversation not found")
	}
	return nil
}

// -- Message --

type messageRepoPG struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) MessageRepository {
	return &messageRepoPG{pool: pool}
}

func (r *messageRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const messageSelect = `
	SELECT m.id, m.conversation_id, m.sender_id, m.receiver_id, m.content, m.read, m.created_at,
		s.name, s.email, s.role,
		rc.name, rc.email, rc.role
	FROM messages m
	JOIN users s ON s.id = m.sender_id
	JOIN users rc ON rc.id = m.receiver_id`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	var s, rc UserSummary
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Read, &m.CreatedAt,
		&s.Name, &s.Email, &s.Role,
		&rc.Name, &rc.Email, &rc.Role)
	if err != nil {
		return nil, err
	}
	s.ID, rc.ID = m.SenderID, m.ReceiverID
	m.Sender, m.Receiver = &s, &rc
	return &m, nil
}

func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	m.Read = false
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		m.ID, m.ConversationID, m.SenderID, m.ReceiverID, m.Content).Scan(&m.CreatedAt)
	return db.Classify(err, "user not found")
}

func (r *messageRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	m, err := scanMessage(r.conn(ctx).QueryRow(ctx, messageSelect+` WHERE m.id = $1`, id))
	if err != nil {
		return nil, db.Classify(err, "message not found")
	}
	return m, nil
}

func (r *messageRepoPG) ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]*Message, error) {
	rows, err := r.conn(ctx).Query(ctx, messageSelect+`
		WHERE m.conversation_id = $1
		ORDER BY m.created_at, m.id`, conversationID)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, apperr.Storage(err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err)
	}
	return out, nil
}

func (r *messageRepoPG) MarkRead(ctx context.Context, receiverID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE messages SET read = TRUE
		WHERE receiver_id = $1 AND id = ANY($2::uuid[]) AND NOT read`, receiverID, ids)
	if err != nil {
		return 0, apperr.Storage(err)
	}
	return tag.RowsAffected(), nil
}
