package websocket

import (
	"context"
	"encoding/json"
	"sync"
)

// Delivery is a room event in flight between instances.
type Delivery struct {
	Room           string          `json:"room"`
	Data           json.RawMessage `json:"data"`
	ExceptClientID string          `json:"except,omitempty"`
}

// Backplane carries room deliveries to every hub that subscribed. Publish must
// not block on slow clients.
type Backplane interface {
	Publish(ctx context.Context, d Delivery) error
	Subscribe(deliver func(Delivery))
	Close() error
}

// LocalBackplane delivers in-process. Rooms only reach sockets connected to
// this instance.
type LocalBackplane struct {
	mu       sync.RWMutex
	handlers []func(Delivery)
}

func NewLocalBackplane() *LocalBackplane {
	return &LocalBackplane{}
}

func (b *LocalBackplane) Publish(_ context.Context, d Delivery) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(d)
	}
	return nil
}

func (b *LocalBackplane) Subscribe(deliver func(Delivery)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, deliver)
}

func (b *LocalBackplane) Close() error { return nil }
