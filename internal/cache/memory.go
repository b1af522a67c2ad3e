package cache

import (
	"context"
	"sync"
	"time"
)

// InMemoryCache is a Cache for tests and single-process development runs.
// TTLs are honored lazily on read.
type InMemoryCache struct {
	mu          sync.Mutex
	entries     map[string]memEntry
	sets        map[string]map[string]struct{}
	subscribers map[string][]chan string
}

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// Compile-time check that InMemoryCache implements Cache.
var _ Cache = (*InMemoryCache)(nil)

// NewInMemoryCache creates an empty in-memory cache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		entries:     make(map[string]memEntry),
		sets:        make(map[string]map[string]struct{}),
		subscribers: make(map[string][]chan string),
	}
}

func (c *InMemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	cp := make([]byte, len(e.value))
	copy(cp, e.value)
	return cp, true, nil
}

func (c *InMemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)
	e := memEntry{value: cp}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

func (c *InMemoryCache) Del(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		delete(c.entries, key)
		delete(c.sets, key)
	}
	return nil
}

func (c *InMemoryCache) SAdd(ctx context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.sets[key]
	if !ok {
		set = make(map[string]struct{})
		c.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (c *InMemoryCache) SRem(ctx context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m)
	}
	return nil
}

func (c *InMemoryCache) SMembers(ctx context.Context, key string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	members := make([]string, 0, len(c.sets[key]))
	for m := range c.sets[key] {
		members = append(members, m)
	}
	return members, nil
}

func (c *InMemoryCache) Publish(ctx context.Context, channel string, payload string) error {
	c.mu.Lock()
	subs := make([]chan string, len(c.subscribers[channel]))
	copy(subs, c.subscribers[channel])
	c.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- payload:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *InMemoryCache) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	sub := make(chan string, 16)

	c.mu.Lock()
	c.subscribers[channel] = append(c.subscribers[channel], sub)
	c.mu.Unlock()

	out := make(chan string)
	go func() {
		defer close(out)
		defer func() {
			c.mu.Lock()
			subs := c.subscribers[channel]
			for i, s := range subs {
				if s == sub {
					c.subscribers[channel] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			c.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case payload := <-sub:
				select {
				case out <- payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *InMemoryCache) Close() error { return nil }
