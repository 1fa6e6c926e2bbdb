package notification

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medconnect/medconnect/internal/platform/apperr"
	"github.com/medconnect/medconnect/internal/platform/websocket"
)

// EventNotification is pushed to a user's personal room for every new
// notification.
const EventNotification = "notification"

// Publisher pushes events to socket rooms.
type Publisher interface {
	Emit(ctx context.Context, room, event string, payload interface{}, exceptClientID string) error
}

type Service struct {
	repo   Repository
	gen    *Generator
	pub    Publisher
	logger zerolog.Logger
}

// NewService wires the store, the generator run on every fetch, and an
// optional publisher for live pushes.
func NewService(repo Repository, gen *Generator, pub Publisher, logger zerolog.Logger) *Service {
	return &Service{repo: repo, gen: gen, pub: pub, logger: logger}
}

// Create stores a notification on behalf of another component and pushes it
// to the user's open sockets.
func (s *Service) Create(ctx context.Context, n *Notification) error {
	if n.UserID == uuid.Nil {
		return apperr.Validation("user is required")
	}
	if !n.Type.Valid() {
		return apperr.Validation("invalid notification type: " + string(n.Type))
	}
	n.Title = strings.TrimSpace(n.Title)
	n.Message = strings.TrimSpace(n.Message)
	if n.Title == "" || n.Message == "" {
		return apperr.Validation("title and message are required")
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return err
	}
	s.publish(ctx, n)
	return nil
}

// List runs a generation pass for userID and returns the newest
// notifications with the unread total. A failed pass is logged and does not
// fail the read.
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit, offset int) (*ListResult, error) {
	created, err := s.gen.EnsureTodaysNotifications(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID.String()).Msg("notification generation failed")
	}
	for _, n := range created {
		s.publish(ctx, n)
	}

	items, err := s.repo.ListRecent(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Notification{}
	}
	unread, err := s.repo.UnreadCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &ListResult{Notifications: items, UnreadCount: unread}, nil
}

// MarkRead marks one of the user's notifications read. Notifications of other
// users are reported as not found.
func (s *Service) MarkRead(ctx context.Context, id, userID uuid.UUID) (*Notification, error) {
	return s.repo.MarkRead(ctx, id, userID)
}

func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID)
}

func (s *Service) publish(ctx context.Context, n *Notification) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Emit(ctx, websocket.PersonalRoom(n.UserID), EventNotification, n, ""); err != nil {
		s.logger.Warn().Err(err).Str("notification_id", n.ID.String()).Msg("push notification failed")
	}
}
