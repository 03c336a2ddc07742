// Package redistore implements the ephemeral broadcast store on Redis:
// pub/sub carries cursor, presence and operation traffic, and leased
// records are plain keys with a TTL, so Redis itself removes a
// disconnected client's records once it stops refreshing them.
package redistore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arialgardner/techno-canvas/internal/remote"
)

// Key and channel prefixes keep lease records and broadcast channels from
// colliding with anything else in the database.
const (
	channelPrefix = "tc:ch:"
	leasePrefix   = "tc:lease:"
)

// Store is a Redis-backed remote.EphemeralStore.
type Store struct {
	client *redis.Client
}

// New wraps an existing Redis client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// NewFromAddr connects to Redis and verifies the connection.
func NewFromAddr(ctx context.Context, addr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Store{client: client}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Publish broadcasts a transient payload to subscribers of the path.
func (s *Store) Publish(ctx context.Context, path string, payload []byte) error {
	if err := s.client.Publish(ctx, channelPrefix+path, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}

	return nil
}

// Subscribe delivers events for the pattern until the returned cancel
// function runs. Patterns ending in "*" map to Redis pattern subscriptions.
func (s *Store) Subscribe(ctx context.Context, pattern string, fn remote.EventFunc) (func(), error) {
	var sub *redis.PubSub

	if strings.HasSuffix(pattern, "*") {
		sub = s.client.PSubscribe(ctx, channelPrefix+pattern)
	} else {
		sub = s.client.Subscribe(ctx, channelPrefix+pattern)
	}

	// Force the subscription to be established before returning, so events
	// published right after Subscribe are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()

		return nil, fmt.Errorf("subscribe %s: %w", pattern, err)
	}

	go func() {
		for msg := range sub.Channel() {
			path := strings.TrimPrefix(msg.Channel, channelPrefix)

			var payload []byte
			if msg.Payload != "" {
				payload = []byte(msg.Payload)
			}

			fn(path, payload)
		}
	}()

	return func() { _ = sub.Close() }, nil
}

// SetLease writes or refreshes an expiring record and notifies subscribers
// of the path.
func (s *Store) SetLease(ctx context.Context, path string, payload []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, leasePrefix+path, payload, ttl).Err(); err != nil {
		return fmt.Errorf("set lease %s: %w", path, err)
	}

	return s.Publish(ctx, path, payload)
}

// Delete removes a leased record, notifying subscribers with an empty
// payload.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.client.Del(ctx, leasePrefix+path).Err(); err != nil {
		return fmt.Errorf("delete lease %s: %w", path, err)
	}

	return s.Publish(ctx, path, nil)
}

// List returns the live leased records under the prefix. Expired keys have
// already been dropped by Redis.
func (s *Store) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	out := make(map[string][]byte)

	iter := s.client.Scan(ctx, 0, leasePrefix+prefix+"*", 100).Iterator()

	for iter.Next(ctx) {
		key := iter.Val()

		value, err := s.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue // expired between scan and get
		}

		if err != nil {
			return nil, fmt.Errorf("get lease %s: %w", key, err)
		}

		out[strings.TrimPrefix(key, leasePrefix)] = value
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan leases: %w", err)
	}

	return out, nil
}

// Ensure Store implements EphemeralStore.
var _ remote.EphemeralStore = (*Store)(nil)
