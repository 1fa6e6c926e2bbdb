package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medconnect/medconnect/internal/platform/apperr"
	"github.com/medconnect/medconnect/internal/platform/websocket"
)

type emitted struct {
	room  string
	event string
	data  []byte
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []emitted
}

func (p *recordingPublisher) Emit(_ context.Context, room, event string, payload interface{}, _ string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, emitted{room: room, event: event, data: data})
	return nil
}

func (p *recordingPublisher) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func newTestService() (*Service, *genFixture, *recordingPublisher) {
	f := newGenFixture(time.UTC)
	pub := &recordingPublisher{}
	return NewService(f.repo, f.gen, pub, zerolog.Nop()), f, pub
}

func TestService_ListGeneratesAndPushes(t *testing.T) {
	svc, f, pub := newTestService()

	res, err := svc.List(context.Background(), f.user, 20, 0)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(res.Notifications) != 1 || res.UnreadCount != 1 {
		t.Fatalf("expected the generated reminder, got %+v", res)
	}
	if pub.len() != 1 {
		t.Fatalf("expected 1 push, got %d", pub.len())
	}
	ev := pub.events[0]
	if ev.room != websocket.PersonalRoom(f.user) || ev.event != EventNotification {
		t.Errorf("unexpected push %s %s", ev.room, ev.event)
	}

	// a second fetch the same day generates nothing new
	if _, err := svc.List(context.Background(), f.user, 20, 0); err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if pub.len() != 1 {
		t.Errorf("expected no further pushes, got %d", pub.len())
	}
}

func TestService_ListNewestFirstWithLimit(t *testing.T) {
	svc, f, _ := newTestService()
	ctx := context.Background()
	f.wellness.entries[f.user] = []time.Time{f.clock.Now()}

	for i := 0; i < 25; i++ {
		f.clock.Advance(time.Minute)
		if err := svc.Create(ctx, &Notification{UserID: f.user, Type: TypeSystem, Title: "Notice", Message: "number"}); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	res, err := svc.List(ctx, f.user, 20, 0)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(res.Notifications) != 20 {
		t.Fatalf("expected 20 notifications, got %d", len(res.Notifications))
	}
	if res.UnreadCount != 25 {
		t.Errorf("expected unread count 25, got %d", res.UnreadCount)
	}
	for i := 1; i < len(res.Notifications); i++ {
		if res.Notifications[i].CreatedAt.After(res.Notifications[i-1].CreatedAt) {
			t.Fatal("expected newest first")
		}
	}
}

func TestService_ListSurvivesGeneratorFailure(t *testing.T) {
	svc, f, _ := newTestService()
	f.wellness.err = apperr.Storage(errors.New("timeout"))

	res, err := svc.List(context.Background(), f.user, 20, 0)
	if err != nil {
		t.Fatalf("expected the read to succeed, got %v", err)
	}
	if len(res.Notifications) != 0 {
		t.Errorf("expected nothing generated, got %d", len(res.Notifications))
	}
}

func TestService_Create(t *testing.T) {
	svc, f, pub := newTestService()
	ctx := context.Background()

	n := &Notification{UserID: f.user, Type: TypeAchievement, Title: "  7 day streak ", Message: "Keep it up!"}
	if err := svc.Create(ctx, n); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if n.ID == uuid.Nil || n.Title != "7 day streak" {
		t.Errorf("unexpected notification %+v", n)
	}
	if pub.len() != 1 {
		t.Errorf("expected a push, got %d", pub.len())
	}

	tests := []struct {
		name string
		n    *Notification
	}{
		{"missing user", &Notification{Type: TypeSystem, Title: "t", Message: "m"}},
		{"bad type", &Notification{UserID: f.user, Type: "promo", Title: "t", Message: "m"}},
		{"blank title", &Notification{UserID: f.user, Type: TypeSystem, Title: " ", Message: "m"}},
		{"blank message", &Notification{UserID: f.user, Type: TypeSystem, Title: "t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.Create(ctx, tt.n); !apperr.IsKind(err, apperr.KindValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestService_CreateWithoutPublisher(t *testing.T) {
	f := newGenFixture(time.UTC)
	svc := NewService(f.repo, f.gen, nil, zerolog.Nop())
	if err := svc.Create(context.Background(), &Notification{UserID: f.user, Type: TypeSystem, Title: "t", Message: "m"}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
}

func TestService_MarkRead(t *testing.T) {
	svc, f, _ := newTestService()
	ctx := context.Background()
	n := &Notification{UserID: f.user, Type: TypeSystem, Title: "t", Message: "m"}
	if err := svc.Create(ctx, n); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if _, err := svc.MarkRead(ctx, n.ID, uuid.New()); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("expected not found for another user, got %v", err)
	}
	got, err := svc.MarkRead(ctx, n.ID, f.user)
	if err != nil || !got.IsRead {
		t.Errorf("expected read notification, got %+v (%v)", got, err)
	}
}

func TestService_MarkAllRead(t *testing.T) {
	svc, f, _ := newTestService()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = svc.Create(ctx, &Notification{UserID: f.user, Type: TypeSystem, Title: "t", Message: "m"})
	}
	other := uuid.New()
	_ = svc.Create(ctx, &Notification{UserID: other, Type: TypeSystem, Title: "t", Message: "m"})

	n, err := svc.MarkAllRead(ctx, f.user)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 updated, got %d (%v)", n, err)
	}
	if c, _ := f.repo.UnreadCount(ctx, other); c != 1 {
		t.Errorf("other users must be untouched, got %d unread", c)
	}
}
