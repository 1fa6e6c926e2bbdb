// Package websocket is the real-time gateway transport. Authenticated
// connections are tracked in a Hub and grouped into named rooms; events
// emitted to a room travel through a Backplane so that every instance sharing
// the backplane delivers them to its local members.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Envelope is the frame exchanged with clients in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Server-side events that the transport itself emits.
const EventError = "error"

// ErrorPayload is the body of an error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// PersonalRoom is the room every connection of a user joins on connect.
func PersonalRoom(userID uuid.UUID) string {
	return "user:" + userID.String()
}

// Client is one authenticated socket connection.
type Client struct {
	ID     string
	UserID uuid.UUID
	Send   chan []byte

	hub   *Hub
	rooms map[string]struct{} // guarded by hub.mu
}

// NewClient creates a client with a buffered outbound queue.
func NewClient(hub *Hub, userID uuid.UUID, buffer int) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Send:   make(chan []byte, buffer),
		hub:    hub,
		rooms:  make(map[string]struct{}),
	}
}

// Emit sends an event to this connection only.
func (c *Client) Emit(event string, payload interface{}) error {
	data, err := encode(event, payload)
	if err != nil {
		return err
	}
	c.hub.sendTo(c, data)
	return nil
}

// EmitError reports a handler failure to this connection only.
func (c *Client) EmitError(message string) {
	_ = c.Emit(EventError, ErrorPayload{Message: message})
}

// Hub tracks connected clients and room membership for this instance. All
// operations are safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{} // room -> members
	all     map[*Client]struct{}
	closed  bool
	bp      Backplane
	logger  zerolog.Logger
	dropped atomic.Uint64
}

// NewHub creates a hub delivering through bp. A nil backplane keeps delivery
// in-process.
func NewHub(bp Backplane, logger zerolog.Logger) *Hub {
	if bp == nil {
		bp = NewLocalBackplane()
	}
	h := &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		all:    make(map[*Client]struct{}),
		bp:     bp,
		logger: logger,
	}
	bp.Subscribe(h.deliver)
	return h
}

// Register adds a client to the hub. It returns false once the hub is closed.
func (h *Hub) Register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.all[c] = struct{}{}
	return true
}

// Unregister removes a client from every room and closes its Send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(c)
}

func (h *Hub) unregisterLocked(c *Client) {
	if _, ok := h.all[c]; !ok {
		return
	}
	for room := range c.rooms {
		h.removeMemberLocked(room, c)
	}
	c.rooms = make(map[string]struct{})
	delete(h.all, c)
	close(c.Send)
}

// Join adds a registered client to room.
func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[c]; !ok {
		return
	}
	members := h.rooms[room]
	if members == nil {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

// Leave removes a client from room. Leaving a room it never joined is a no-op.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeMemberLocked(room, c)
	delete(c.rooms, room)
}

func (h *Hub) removeMemberLocked(room string, c *Client) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// InRoom reports whether c is currently a member of room.
func (h *Hub) InRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][c]
	return ok
}

// Emit publishes event to every member of room on every instance, except the
// client whose ID is exceptClientID (empty excludes nobody).
func (h *Hub) Emit(ctx context.Context, room, event string, payload interface{}, exceptClientID string) error {
	data, err := encode(event, payload)
	if err != nil {
		return err
	}
	if err := h.bp.Publish(ctx, Delivery{Room: room, Data: data, ExceptClientID: exceptClientID}); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event, room, err)
	}
	return nil
}

// deliver hands a delivery to local room members. A member whose queue is
// full misses the event rather than stalling the room.
func (h *Hub) deliver(d Delivery) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[d.Room] {
		if c.ID == d.ExceptClientID {
			continue
		}
		select {
		case c.Send <- d.Data:
		default:
			h.dropped.Add(1)
			h.logger.Warn().
				Str("client_id", c.ID).
				Str("user_id", c.UserID.String()).
				Str("room", d.Room).
				Msg("socket send buffer full, dropping event")
		}
	}
}

func (h *Hub) sendTo(c *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.all[c]; !ok {
		return
	}
	select {
	case c.Send <- data:
	default:
		h.dropped.Add(1)
		h.logger.Warn().Str("client_id", c.ID).Msg("socket send buffer full, dropping event")
	}
}

// ClientCount returns the number of connections on this instance.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// RoomSize returns the number of local members of room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Dropped returns how many events were discarded because a client queue was
// full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close disconnects every client and closes the backplane.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	for c := range h.all {
		h.unregisterLocked(c)
	}
	h.mu.Unlock()
	return h.bp.Close()
}

func encode(event string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
