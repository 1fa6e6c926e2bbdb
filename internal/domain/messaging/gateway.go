package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medconnect/medconnect/internal/platform/apperr"
	"github.com/medconnect/medconnect/internal/platform/websocket"
)

// Client events.
const (
	EventJoinConversation  = "joinConversation"
	EventLeaveConversation = "leaveConversation"
	EventSendMessage       = "sendMessage"
	EventTyping            = "typing"
)

// Server events.
const (
	EventNewMessage          = "newMessage"
	EventMessageNotification = "messageNotification"
	EventUserTyping          = "userTyping"
)

const eventTimeout = 15 * time.Second

// ConversationRoom is the room of sockets viewing a conversation.
func ConversationRoom(id uuid.UUID) string {
	return "conversation:" + id.String()
}

// Rooms is the part of the hub the gateway drives.
type Rooms interface {
	Join(c *websocket.Client, room string)
	Leave(c *websocket.Client, room string)
	InRoom(c *websocket.Client, room string) bool
	Emit(ctx context.Context, room, event string, payload interface{}, exceptClientID string) error
}

type typingInput struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// TypingPayload is relayed to the other sockets in a conversation room.
type TypingPayload struct {
	UserID   uuid.UUID `json:"userId"`
	IsTyping bool      `json:"isTyping"`
}

// MessageNotification is pushed to the receiver's personal room.
type MessageNotification struct {
	Message        *Message  `json:"message"`
	ConversationID uuid.UUID `json:"conversationId"`
}

// Gateway handles conversation events from authenticated sockets.
type Gateway struct {
	svc    *Service
	rooms  Rooms
	logger zerolog.Logger
}

func NewGateway(svc *Service, rooms Rooms, logger zerolog.Logger) *Gateway {
	return &Gateway{svc: svc, rooms: rooms, logger: logger}
}

// Dispatch is a websocket.Dispatcher. Failures are reported to the
// originating socket only.
//
// A socket must send joinConversation, and be a participant, before its
// typing events for that conversation are relayed. Typing for a conversation
// the socket has not joined is dropped without an error event.
func (g *Gateway) Dispatch(ctx context.Context, c *websocket.Client, env websocket.Envelope) {
	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	log := g.logger.With().
		Str("client_id", c.ID).
		Str("user_id", c.UserID.String()).
		Str("event", env.Event).
		Logger()

	switch env.Event {
	case EventJoinConversation:
		g.joinConversation(ctx, c, env.Data, log)
	case EventLeaveConversation:
		g.leaveConversation(c, env.Data)
	case EventSendMessage:
		g.sendMessage(ctx, c, env.Data, log)
	case EventTyping:
		g.typing(ctx, c, env.Data, log)
	default:
		c.EmitError("unknown event: " + env.Event)
	}
}

func conversationIDFrom(data json.RawMessage) (uuid.UUID, bool) {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	return id, err == nil
}

// joinConversation adds the socket to the room only when its user is a
// participant.
func (g *Gateway) joinConversation(ctx context.Context, c *websocket.Client, data json.RawMessage, log zerolog.Logger) {
	id, ok := conversationIDFrom(data)
	if !ok {
		c.EmitError("invalid conversation id")
		return
	}
	if _, err := g.svc.GetConversation(ctx, id, c.UserID); err != nil {
		g.fail(c, err, log)
		return
	}
	g.rooms.Join(c, ConversationRoom(id))
}

func (g *Gateway) leaveConversation(c *websocket.Client, data json.RawMessage) {
	id, ok := conversationIDFrom(data)
	if !ok {
		c.EmitError("invalid conversation id")
		return
	}
	g.rooms.Leave(c, ConversationRoom(id))
}

// sendMessage persists first and emits only after the store succeeded.
func (g *Gateway) sendMessage(ctx context.Context, c *websocket.Client, data json.RawMessage, log zerolog.Logger) {
	var in SendInput
	if err := json.Unmarshal(data, &in); err != nil {
		c.EmitError("invalid message payload")
		return
	}

	res, err := g.svc.SendMessage(ctx, c.UserID, in)
	if err != nil {
		g.fail(c, err, log)
		return
	}

	if err := g.rooms.Emit(ctx, ConversationRoom(res.ConversationID), EventNewMessage, res.Message, ""); err != nil {
		log.Error().Err(err).Str("message_id", res.Message.ID.String()).Msg("emit new message failed")
	}
	notice := MessageNotification{Message: res.Message, ConversationID: res.ConversationID}
	if err := g.rooms.Emit(ctx, websocket.PersonalRoom(res.Message.ReceiverID), EventMessageNotification, notice, ""); err != nil {
		log.Error().Err(err).Str("message_id", res.Message.ID.String()).Msg("emit message notification failed")
	}
}

// typing relays to every other socket in the room. The sender must have
// joined the room first; typing from outside it is silently dropped.
func (g *Gateway) typing(ctx context.Context, c *websocket.Client, data json.RawMessage, log zerolog.Logger) {
	var in typingInput
	if err := json.Unmarshal(data, &in); err != nil {
		c.EmitError("invalid typing payload")
		return
	}
	id, err := uuid.Parse(in.ConversationID)
	if err != nil {
		c.EmitError("invalid conversation id")
		return
	}
	room := ConversationRoom(id)
	if !g.rooms.InRoom(c, room) {
		log.Debug().Str("room", room).Msg("typing outside joined conversation ignored")
		return
	}
	payload := TypingPayload{UserID: c.UserID, IsTyping: in.IsTyping}
	if err := g.rooms.Emit(ctx, room, EventUserTyping, payload, c.ID); err != nil {
		log.Error().Err(err).Msg("emit typing failed")
	}
}

func (g *Gateway) fail(c *websocket.Client, err error, log zerolog.Logger) {
	if apperr.KindOf(err) == apperr.KindStorage {
		log.Error().Err(err).Msg("socket event failed")
	} else {
		log.Debug().Err(err).Msg("socket event rejected")
	}
	c.EmitError(apperr.PublicMessage(err))
}
