package notification

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeAppointment Type = "appointment"
	TypeWellness    Type = "wellness"
	TypeMedication  Type = "medication"
	TypeAchievement Type = "achievement"
	TypeInsight     Type = "insight"
	TypeSystem      Type = "system"
)

func (t Type) Valid() bool {
	switch t {
	case TypeAppointment, TypeWellness, TypeMedication, TypeAchievement, TypeInsight, TypeSystem:
		return true
	}
	return false
}

// Notification is an in-app notice for one user. Only IsRead changes after
// insert.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      *string   `json:"link,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// ListResult is the response of a notification fetch.
type ListResult struct {
	Notifications []*Notification `json:"notifications"`
	UnreadCount   int             `json:"unread_count"`
}
