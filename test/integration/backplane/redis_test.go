package backplane

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medconnect/medconnect/internal/platform/websocket"
)

const receiveTimeout = 3 * time.Second

var redisURL string

// TestMain runs the suite against TEST_REDIS_URL. Without it every test in
// the package is skipped.
func TestMain(m *testing.M) {
	redisURL = os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		fmt.Println("TEST_REDIS_URL not set; skipping redis backplane tests")
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// uniqueChannel keeps concurrent runs against one server apart.
func uniqueChannel() string {
	return "medconnect:test:" + uuid.NewString()
}

func newBackplane(t *testing.T, channel string) *websocket.RedisBackplane {
	t.Helper()
	ctx := context.Background()
	client, err := websocket.NewRedisClient(ctx, redisURL)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	bp, err := websocket.NewRedisBackplane(ctx, client, channel, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedisBackplane() error: %v", err)
	}
	t.Cleanup(func() { bp.Close() })
	return bp
}

// newInstance builds a hub as a separate server process would.
func newInstance(t *testing.T, channel string) *websocket.Hub {
	t.Helper()
	hub := websocket.NewHub(newBackplane(t, channel), zerolog.Nop())
	t.Cleanup(func() { hub.Close() })
	return hub
}

func joinedClient(t *testing.T, hub *websocket.Hub, room string) *websocket.Client {
	t.Helper()
	c := websocket.NewClient(hub, uuid.New(), 8)
	if !hub.Register(c) {
		t.Fatal("Register() refused the client")
	}
	hub.Join(c, room)
	return c
}

func receive(t *testing.T, c *websocket.Client) websocket.Envelope {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		if !ok {
			t.Fatal("send queue closed")
		}
		var env websocket.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		return env
	case <-time.After(receiveTimeout):
		t.Fatal("timed out waiting for an event")
	}
	return websocket.Envelope{}
}

func TestRedisBackplane_RoomSpansInstances(t *testing.T) {
	channel := uniqueChannel()
	a := newInstance(t, channel)
	b := newInstance(t, channel)
	room := "conversation:" + uuid.NewString()

	onA := joinedClient(t, a, room)
	onB := joinedClient(t, b, room)

	if err := a.Emit(context.Background(), room, "newMessage", map[string]string{"content": "hello"}, ""); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}

	for name, c := range map[string]*websocket.Client{"same instance": onA, "other instance": onB} {
		env := receive(t, c)
		if env.Event != "newMessage" {
			t.Errorf("%s: expected newMessage, got %q", name, env.Event)
		}
		var body map[string]string
		if err := json.Unmarshal(env.Data, &body); err != nil || body["content"] != "hello" {
			t.Errorf("%s: unexpected payload %s", name, env.Data)
		}
	}
}

func TestRedisBackplane_RoomsStayScoped(t *testing.T) {
	channel := uniqueChannel()
	a := newInstance(t, channel)
	b := newInstance(t, channel)
	room := "conversation:" + uuid.NewString()

	outsider := joinedClient(t, b, "conversation:"+uuid.NewString())
	member := joinedClient(t, b, room)

	if err := a.Emit(context.Background(), room, "userTyping", map[string]bool{"isTyping": true}, ""); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	receive(t, member)

	select {
	case data := <-outsider.Send:
		t.Errorf("client in another room received %s", data)
	default:
	}
}

func TestRedisBackplane_ExceptClientAcrossInstances(t *testing.T) {
	channel := uniqueChannel()
	a := newInstance(t, channel)
	b := newInstance(t, channel)
	room := "conversation:" + uuid.NewString()

	sender := joinedClient(t, a, room)
	peer := joinedClient(t, b, room)
	ctx := context.Background()

	// emitted from b while excluding a client that lives on a
	if err := b.Emit(ctx, room, "userTyping", map[string]bool{"isTyping": true}, sender.ID); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	if env := receive(t, peer); env.Event != "userTyping" {
		t.Fatalf("expected userTyping for the peer, got %q", env.Event)
	}

	if err := b.Emit(ctx, room, "newMessage", map[string]string{"content": "after"}, ""); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	receive(t, peer)

	// deliveries on one channel arrive in order, so the excluded event would
	// have been queued ahead of this one
	if env := receive(t, sender); env.Event != "newMessage" {
		t.Errorf("excluded client received %q", env.Event)
	}
}

func TestRedisBackplane_CloseStopsSubscriber(t *testing.T) {
	channel := uniqueChannel()
	subscriber := newBackplane(t, channel)
	publisher := newBackplane(t, channel)
	ctx := context.Background()

	var delivered atomic.Int32
	got := make(chan struct{}, 1)
	subscriber.Subscribe(func(websocket.Delivery) {
		delivered.Add(1)
		select {
		case got <- struct{}{}:
		default:
		}
	})

	d := websocket.Delivery{Room: "user:" + uuid.NewString(), Data: json.RawMessage(`{"event":"notification"}`)}
	if err := publisher.Publish(ctx, d); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	select {
	case <-got:
	case <-time.After(receiveTimeout):
		t.Fatal("timed out waiting for the first delivery")
	}

	if err := subscriber.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := subscriber.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}

	if err := publisher.Publish(ctx, d); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	if n := delivered.Load(); n != 1 {
		t.Errorf("expected no deliveries after Close, got %d total", n)
	}
}

func TestRedisBackplane_DiscardsMalformedPayloads(t *testing.T) {
	channel := uniqueChannel()
	hub := newInstance(t, channel)
	room := "user:" + uuid.NewString()
	c := joinedClient(t, hub, room)
	ctx := context.Background()

	client, err := websocket.NewRedisClient(ctx, redisURL)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	defer client.Close()
	if err := client.Publish(ctx, channel, "not json").Err(); err != nil {
		t.Fatalf("publish raw: %v", err)
	}

	if err := hub.Emit(ctx, room, "notification", map[string]string{"title": "ok"}, ""); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	if env := receive(t, c); env.Event != "notification" {
		t.Errorf("expected the valid event after the malformed one, got %q", env.Event)
	}
}
