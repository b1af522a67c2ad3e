package perm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openinbox/inboxd/internal/cache"
	"github.com/openinbox/inboxd/internal/metrics"
)

// EPCache is a read-through, version-validated cache over Repository.
//
// Every read recomputes the snapshot from the system of record and uses
// the cached copy only when its version matches. The cache therefore
// never serves a stale snapshot for longer than one read; TTL is a
// memory bound, not a freshness guarantee.
type EPCache struct {
	repo  Repository
	cache cache.Cache
	ttl   time.Duration
}

// NewEPCache creates an EPCache with the given snapshot TTL.
func NewEPCache(repo Repository, c cache.Cache, ttl time.Duration) *EPCache {
	return &EPCache{repo: repo, cache: c, ttl: ttl}
}

// GetEffectivePermissions returns the user's current snapshot. Returns
// ErrUserNotFound if the user no longer exists.
func (e *EPCache) GetEffectivePermissions(ctx context.Context, userID string) (*EffectivePermissions, error) {
	key := cache.EffectivePermissionsKey(userID)

	var cached *EffectivePermissions
	if b, ok, err := e.cache.Get(ctx, key); err != nil {
		// Cache trouble is not fatal: fall through to the repository.
		slog.Warn("EPCache.GetEffectivePermissions: cache read failed", "userID", userID, "error", err)
	} else if ok {
		var ep EffectivePermissions
		if err := json.Unmarshal(b, &ep); err != nil {
			slog.Warn("EPCache.GetEffectivePermissions: corrupt cache entry, discarding", "userID", userID, "error", err)
		} else {
			cached = &ep
		}
	}

	fresh, err := e.repo.EffectivePermissions(ctx, userID)
	if err == ErrUserNotFound {
		if delErr := e.cache.Del(ctx, key); delErr != nil {
			slog.Warn("EPCache.GetEffectivePermissions: evict for missing user failed", "userID", userID, "error", delErr)
		}
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("compute effective permissions failed: %w", err)
	}

	if cached != nil && cached.Ver == fresh.Ver {
		metrics.IncPermCacheCheck("hit")
		return cached, nil
	}
	if cached != nil {
		metrics.IncPermCacheCheck("stale")
	} else {
		metrics.IncPermCacheCheck("miss")
	}

	if b, err := json.Marshal(fresh); err != nil {
		slog.Warn("EPCache.GetEffectivePermissions: marshal snapshot failed", "userID", userID, "error", err)
	} else if err := e.cache.Set(ctx, key, b, e.ttl); err != nil {
		slog.Warn("EPCache.GetEffectivePermissions: cache write failed", "userID", userID, "error", err)
	}
	return fresh, nil
}

// InvalidateUser bumps the user's perm_version, evicts the cached
// snapshot, and publishes a change notification carrying the user id.
//
// The version bump happens first: a reader racing the invalidation sees
// either the old version consistently or detects the mismatch on its
// next version comparison. A read racing between the bump and a
// concurrent cache write can repopulate one stale entry; it is corrected
// on the following read. This bounded-staleness window is accepted by
// design rather than closed with locking.
func (e *EPCache) InvalidateUser(ctx context.Context, userID string) error {
	ver, err := e.repo.BumpVersion(ctx, userID)
	if err != nil {
		return fmt.Errorf("invalidate user %s: %w", userID, err)
	}

	key := cache.EffectivePermissionsKey(userID)
	if err := e.cache.Del(ctx, key); err != nil {
		return fmt.Errorf("evict permission snapshot for %s: %w", userID, err)
	}

	if err := e.cache.Publish(ctx, cache.PermEventsChannel, userID); err != nil {
		return fmt.Errorf("publish permission change for %s: %w", userID, err)
	}
	slog.Debug("EPCache.InvalidateUser", "userID", userID, "ver", ver)
	return nil
}
