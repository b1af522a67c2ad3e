// Package cache provides the shared key-value cache and change-notification
// bus used by the permission cache and the realtime gateway.
package cache

import (
	"context"
	"time"
)

// Cache is a TTL key-value store with set operations and publish/subscribe.
// Entries are advisory: callers must never treat a cached value as fresh
// without re-validating it against the system of record.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// Publish sends payload to all subscribers of channel.
	Publish(ctx context.Context, channel string, payload string) error

	// Subscribe returns a channel of payloads published to channel. The
	// returned channel is closed when ctx is cancelled.
	Subscribe(ctx context.Context, channel string) (<-chan string, error)

	Close() error
}
