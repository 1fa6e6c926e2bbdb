package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisChannel is the pub/sub channel shared by all instances.
const DefaultRedisChannel = "medconnect:rooms"

// NewRedisClient parses url (redis://...) and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisBackplane fans room deliveries out over Redis pub/sub. Every instance,
// including the publisher, receives its own messages through the
// subscription, so local members are never delivered to twice.
type RedisBackplane struct {
	client  redis.UniversalClient
	pubsub  *redis.PubSub
	channel string
	logger  zerolog.Logger

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

// NewRedisBackplane subscribes to channel and waits for the subscription to
// be confirmed.
func NewRedisBackplane(ctx context.Context, client redis.UniversalClient, channel string, logger zerolog.Logger) (*RedisBackplane, error) {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return &RedisBackplane{
		client:  client,
		pubsub:  pubsub,
		channel: channel,
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

func (b *RedisBackplane) Publish(ctx context.Context, d Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe starts a goroutine that decodes deliveries until Close.
func (b *RedisBackplane) Subscribe(deliver func(Delivery)) {
	ch := b.pubsub.Channel()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				d, err := decodeDelivery(msg.Payload)
				if err != nil {
					b.logger.Warn().Err(err).Str("channel", b.channel).Msg("discarding malformed delivery")
					continue
				}
				deliver(d)
			}
		}
	}()
}

// Close unsubscribes and returns once every subscriber goroutine has exited,
// so deliver is never called after Close.
func (b *RedisBackplane) Close() error {
	var err error
	b.once.Do(func() {
		close(b.done)
		err = b.pubsub.Close()
		b.wg.Wait()
	})
	return err
}

func decodeDelivery(payload string) (Delivery, error) {
	var d Delivery
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return Delivery{}, fmt.Errorf("decode delivery: %w", err)
	}
	if d.Room == "" || len(d.Data) == 0 {
		return Delivery{}, fmt.Errorf("decode delivery: missing room or data")
	}
	return d, nil
}
