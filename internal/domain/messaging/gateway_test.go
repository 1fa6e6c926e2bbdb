package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medconnect/medconnect/internal/platform/apperr"
	"github.com/medconnect/medconnect/internal/platform/auth"
	"github.com/medconnect/medconnect/internal/platform/websocket"
)

type tokenAuth map[string]uuid.UUID

func (t tokenAuth) Authenticate(_ context.Context, token string) (auth.Principal, error) {
	id, ok := t[token]
	if !ok {
		return auth.Principal{}, apperr.Authentication("invalid token")
	}
	return auth.Principal{UserID: id}, nil
}

type gatewayHarness struct {
	*fixture
	hub *websocket.Hub
	ts  *httptest.Server
}

func newGatewayHarness(t *testing.T) *gatewayHarness {
	t.Helper()
	f := newFixture()
	hub := websocket.NewHub(nil, zerolog.Nop())
	gw := NewGateway(f.svc, hub, zerolog.Nop())
	tokens := tokenAuth{"patient": f.patient, "doctor": f.doctor}
	srv := websocket.NewServer(hub, tokens, gw.Dispatch, websocket.ServerConfig{}, zerolog.Nop())

	e := echo.New()
	srv.RegisterRoutes(e)
	ts := httptest.NewServer(e)
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return &gatewayHarness{fixture: f, hub: hub, ts: ts}
}

func (g *gatewayHarness) connect(t *testing.T, token string) *gorillawebsocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(g.ts.URL, "http") + "/ws?token=" + token
	conn, _, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial as %s: %v", token, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// join sends joinConversation and waits until the room has want members.
func (g *gatewayHarness) join(t *testing.T, conn *gorillawebsocket.Conn, convID uuid.UUID, want int) {
	t.Helper()
	emit(t, conn, EventJoinConversation, convID.String())
	waitFor(t, func() bool { return g.hub.RoomSize(ConversationRoom(convID)) == want })
}

func emit(t *testing.T, conn *gorillawebsocket.Conn, event string, data interface{}) {
	t.Helper()
	raw, _ := json.Marshal(data)
	if err := conn.WriteJSON(websocket.Envelope{Event: event, Data: raw}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func next(t *testing.T, conn *gorillawebsocket.Conn) websocket.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env websocket.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func expectEvent(t *testing.T, conn *gorillawebsocket.Conn, event string, into interface{}) {
	t.Helper()
	env := next(t, conn)
	if env.Event != event {
		t.Fatalf("expected %s, got %s %s", event, env.Event, env.Data)
	}
	if into != nil {
		if err := json.Unmarshal(env.Data, into); err != nil {
			t.Fatalf("decode %s: %v", event, err)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGateway_SendMessageFansOut(t *testing.T) {
	g := newGatewayHarness(t)
	conv, err := g.svc.GetOrCreateConversation(context.Background(), g.patient, g.doctor)
	if err != nil {
		t.Fatalf("GetOrCreateConversation() error: %v", err)
	}

	patient := g.connect(t, "patient")
	doctor := g.connect(t, "doctor")
	g.join(t, patient, conv.ID, 1)
	g.join(t, doctor, conv.ID, 2)

	emit(t, patient, EventSendMessage, SendInput{ReceiverID: g.doctor.String(), Content: "Hi doctor"})

	var fromRoom Message
	expectEvent(t, patient, EventNewMessage, &fromRoom)
	if fromRoom.Content != "Hi doctor" || fromRoom.ConversationID != conv.ID {
		t.Errorf("unexpected newMessage %+v", fromRoom)
	}
	if fromRoom.Sender == nil || fromRoom.Sender.Name != "ada" {
		t.Errorf("expected sender display fields, got %+v", fromRoom.Sender)
	}

	expectEvent(t, doctor, EventNewMessage, nil)
	var notice MessageNotification
	expectEvent(t, doctor, EventMessageNotification, &notice)
	if notice.ConversationID != conv.ID || notice.Message == nil || notice.Message.ID != fromRoom.ID {
		t.Errorf("unexpected messageNotification %+v", notice)
	}
}

func TestGateway_NotificationReachesReceiverOutsideRoom(t *testing.T) {
	g := newGatewayHarness(t)
	patient := g.connect(t, "patient")
	doctor := g.connect(t, "doctor")
	waitFor(t, func() bool { return g.hub.RoomSize(websocket.PersonalRoom(g.doctor)) == 1 })

	emit(t, patient, EventSendMessage, map[string]string{"receiverId": g.doctor.String(), "content": "are you there?"})

	var notice MessageNotification
	expectEvent(t, doctor, EventMessageNotification, &notice)
	if notice.Message.Content != "are you there?" {
		t.Errorf("unexpected notification %+v", notice.Message)
	}
	if g.store.conversationCount() != 1 {
		t.Errorf("expected the conversation to be created, got %d", g.store.conversationCount())
	}
}

func TestGateway_JoinRequiresParticipant(t *testing.T) {
	g := newGatewayHarness(t)
	nurse := g.store.addUser("joy", "nurse")
	conv, _ := g.svc.GetOrCreateConversation(context.Background(), nurse, g.doctor)

	patient := g.connect(t, "patient")
	emit(t, patient, EventJoinConversation, conv.ID.String())

	var payload websocket.ErrorPayload
	expectEvent(t, patient, websocket.EventError, &payload)
	if payload.Message != "conversation not found" {
		t.Errorf("unexpected error %q", payload.Message)
	}
	if g.hub.RoomSize(ConversationRoom(conv.ID)) != 0 {
		t.Error("non-participant must not be joined")
	}

	emit(t, patient, EventJoinConversation, "not-an-id")
	expectEvent(t, patient, websocket.EventError, nil)
}

func TestGateway_LeaveConversation(t *testing.T) {
	g := newGatewayHarness(t)
	conv, _ := g.svc.GetOrCreateConversation(context.Background(), g.patient, g.doctor)

	patient := g.connect(t, "patient")
	g.join(t, patient, conv.ID, 1)

	emit(t, patient, EventLeaveConversation, conv.ID.String())
	waitFor(t, func() bool { return g.hub.RoomSize(ConversationRoom(conv.ID)) == 0 })
}

func TestGateway_TypingExcludesSender(t *testing.T) {
	g := newGatewayHarness(t)
	conv, _ := g.svc.GetOrCreateConversation(context.Background(), g.patient, g.doctor)

	typist := g.connect(t, "patient")
	otherTab := g.connect(t, "patient")
	doctor := g.connect(t, "doctor")
	g.join(t, typist, conv.ID, 1)
	g.join(t, otherTab, conv.ID, 2)
	g.join(t, doctor, conv.ID, 3)

	emit(t, typist, EventTyping, map[string]interface{}{"conversationId": conv.ID.String(), "isTyping": true})

	for _, conn := range []*gorillawebsocket.Conn{doctor, otherTab} {
		var p TypingPayload
		expectEvent(t, conn, EventUserTyping, &p)
		if p.UserID != g.patient || !p.IsTyping {
			t.Errorf("unexpected typing payload %+v", p)
		}
	}

	// the typist's next frame is the reply to this marker, not its own typing
	emit(t, typist, "marker", nil)
	expectEvent(t, typist, websocket.EventError, nil)
}

func TestGateway_TypingOutsideRoomIgnored(t *testing.T) {
	g := newGatewayHarness(t)
	conv, _ := g.svc.GetOrCreateConversation(context.Background(), g.patient, g.doctor)

	patient := g.connect(t, "patient")
	doctor := g.connect(t, "doctor")
	g.join(t, doctor, conv.ID, 1)

	emit(t, patient, EventTyping, map[string]interface{}{"conversationId": conv.ID.String(), "isTyping": true})
	emit(t, patient, EventSendMessage, SendInput{ReceiverID: g.doctor.String(), Content: "hello"})

	expectEvent(t, doctor, EventNewMessage, nil)
}

func TestGateway_TypingRelayedOnlyAfterJoin(t *testing.T) {
	g := newGatewayHarness(t)
	conv, _ := g.svc.GetOrCreateConversation(context.Background(), g.patient, g.doctor)

	patient := g.connect(t, "patient")
	doctor := g.connect(t, "doctor")
	g.join(t, doctor, conv.ID, 1)
	typing := map[string]interface{}{"conversationId": conv.ID.String(), "isTyping": true}

	// dropped without an error: the next frame answers the marker
	emit(t, patient, EventTyping, typing)
	emit(t, patient, "marker", nil)
	var ep websocket.ErrorPayload
	expectEvent(t, patient, websocket.EventError, &ep)
	if ep.Message != "unknown event: marker" {
		t.Errorf("expected the marker reply, got %q", ep.Message)
	}

	g.join(t, patient, conv.ID, 2)
	emit(t, patient, EventTyping, typing)
	var p TypingPayload
	expectEvent(t, doctor, EventUserTyping, &p)
	if p.UserID != g.patient {
		t.Errorf("unexpected typing payload %+v", p)
	}
}

func TestGateway_SendMessageErrorsGoToSenderOnly(t *testing.T) {
	g := newGatewayHarness(t)
	conv, _ := g.svc.GetOrCreateConversation(context.Background(), g.patient, g.doctor)

	patient := g.connect(t, "patient")
	doctor := g.connect(t, "doctor")
	g.join(t, patient, conv.ID, 1)
	g.join(t, doctor, conv.ID, 2)

	emit(t, patient, EventSendMessage, SendInput{ReceiverID: g.doctor.String(), Content: "   "})
	var payload websocket.ErrorPayload
	expectEvent(t, patient, websocket.EventError, &payload)
	if payload.Message != "content is required" {
		t.Errorf("unexpected error %q", payload.Message)
	}

	emit(t, patient, EventSendMessage, "not an object")
	expectEvent(t, patient, websocket.EventError, nil)

	// the doctor saw neither failure: the next frame is the valid message
	emit(t, patient, EventSendMessage, SendInput{ReceiverID: g.doctor.String(), Content: "second try"})
	var m Message
	expectEvent(t, doctor, EventNewMessage, &m)
	if m.Content != "second try" {
		t.Errorf("unexpected message %q", m.Content)
	}
}

func TestGateway_StorageFailureEmitsNothing(t *testing.T) {
	g := newGatewayHarness(t)
	conv, _ := g.svc.GetOrCreateConversation(context.Background(), g.patient, g.doctor)
	g.store.mu.Lock()
	g.store.failMessageCreate = apperr.Storage(errors.New("connection reset by peer"))
	g.store.mu.Unlock()

	patient := g.connect(t, "patient")
	doctor := g.connect(t, "doctor")
	g.join(t, patient, conv.ID, 1)
	g.join(t, doctor, conv.ID, 2)

	emit(t, patient, EventSendMessage, SendInput{ReceiverID: g.doctor.String(), Content: "hello"})

	var payload websocket.ErrorPayload
	expectEvent(t, patient, websocket.EventError, &payload)
	if payload.Message != "internal server error" {
		t.Errorf("storage detail leaked: %q", payload.Message)
	}

	doctor.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, data, err := doctor.ReadMessage(); err == nil {
		t.Errorf("receiver should get nothing, got %s", data)
	}
}

func TestGateway_UnknownEvent(t *testing.T) {
	g := newGatewayHarness(t)
	patient := g.connect(t, "patient")

	emit(t, patient, "deleteEverything", nil)
	var payload websocket.ErrorPayload
	expectEvent(t, patient, websocket.EventError, &payload)
	if !strings.Contains(payload.Message, "deleteEverything") {
		t.Errorf("unexpected error %q", payload.Message)
	}
}
