package perm

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/openinbox/inboxd/internal/cache"
)

func newTestEPCache(t *testing.T) (*EPCache, *InMemoryRepository, *cache.InMemoryCache) {
	t.Helper()
	repo := NewInMemoryRepository()
	repo.SetRolePermissions("agent", PermReadUnassigned)
	repo.AddUser("u1", "agent")
	c := cache.NewInMemoryCache()
	return NewEPCache(repo, c, 10*time.Minute), repo, c
}

func TestGetEffectivePermissionsPopulatesCache(t *testing.T) {
	epc, _, c := newTestEPCache(t)
	ctx := context.Background()

	ep, err := epc.GetEffectivePermissions(ctx, "u1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ep.Ver != 1 {
		t.Errorf("ver = %d, want 1", ep.Ver)
	}

	b, ok, err := c.Get(ctx, cache.EffectivePermissionsKey("u1"))
	if err != nil || !ok {
		t.Fatalf("cache entry not populated: ok=%v err=%v", ok, err)
	}
	var cached EffectivePermissions
	if err := json.Unmarshal(b, &cached); err != nil {
		t.Fatalf("cached entry not valid JSON: %v", err)
	}
	if cached.Ver != 1 {
		t.Errorf("cached ver = %d, want 1", cached.Ver)
	}
}

func TestGetEffectivePermissionsDetectsStaleCache(t *testing.T) {
	epc, repo, c := newTestEPCache(t)
	ctx := context.Background()

	if _, err := epc.GetEffectivePermissions(ctx, "u1"); err != nil {
		t.Fatalf("first get failed: %v", err)
	}

	// Mutate the system of record behind the cache's back.
	repo.GrantOverride("u1", PermReadAllConversations)
	if _, err := repo.BumpVersion(ctx, "u1"); err != nil {
		t.Fatalf("bump failed: %v", err)
	}

	// The version comparison must reject the cached ver=1 snapshot even
	// though its TTL has not expired.
	ep, err := epc.GetEffectivePermissions(ctx, "u1")
	if err != nil {
		t.Fatalf("second get failed: %v", err)
	}
	if ep.Ver != 2 {
		t.Errorf("ver = %d, want 2", ep.Ver)
	}
	if !HasPermission(ep, PermReadAllConversations) {
		t.Error("fresh grant missing after version mismatch")
	}

	b, ok, _ := c.Get(ctx, cache.EffectivePermissionsKey("u1"))
	if !ok {
		t.Fatal("cache not repopulated")
	}
	var cached EffectivePermissions
	if err := json.Unmarshal(b, &cached); err != nil {
		t.Fatalf("cached entry not valid JSON: %v", err)
	}
	if cached.Ver != 2 {
		t.Errorf("cache repopulated with ver = %d, want 2", cached.Ver)
	}
}

func TestInvalidateUserBumpsEvictsAndPublishes(t *testing.T) {
	epc, _, c := newTestEPCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := c.Subscribe(ctx, cache.PermEventsChannel)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	before, err := epc.GetEffectivePermissions(ctx, "u1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if err := epc.InvalidateUser(ctx, "u1"); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}

	// The cache entry must be gone.
	if _, ok, _ := c.Get(ctx, cache.EffectivePermissionsKey("u1")); ok {
		t.Error("cache entry survived invalidation")
	}

	// The change notification must carry the user id.
	select {
	case userID := <-events:
		if userID != "u1" {
			t.Errorf("published user id = %q, want u1", userID)
		}
	case <-time.After(time.Second):
		t.Fatal("no permission-change notification published")
	}

	// The next read must observe a strictly greater version.
	after, err := epc.GetEffectivePermissions(ctx, "u1")
	if err != nil {
		t.Fatalf("get after invalidate failed: %v", err)
	}
	if after.Ver <= before.Ver {
		t.Errorf("ver after invalidate = %d, want > %d", after.Ver, before.Ver)
	}
}

func TestInvalidateThenReadScenario(t *testing.T) {
	// User at perm_version 4 with a warm cache; invalidation must yield
	// ver 5 on the next read, with the cache repopulated at ver 5.
	epc, repo, c := newTestEPCache(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := repo.BumpVersion(ctx, "u1"); err != nil {
			t.Fatalf("bump failed: %v", err)
		}
	}
	ep, err := epc.GetEffectivePermissions(ctx, "u1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ep.Ver != 4 {
		t.Fatalf("ver = %d, want 4", ep.Ver)
	}

	if err := epc.InvalidateUser(ctx, "u1"); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}

	ep, err = epc.GetEffectivePermissions(ctx, "u1")
	if err != nil {
		t.Fatalf("get after invalidate failed: %v", err)
	}
	if ep.Ver != 5 {
		t.Errorf("ver = %d, want 5", ep.Ver)
	}

	b, ok, _ := c.Get(ctx, cache.EffectivePermissionsKey("u1"))
	if !ok {
		t.Fatal("cache not repopulated after invalidation")
	}
	var cached EffectivePermissions
	if err := json.Unmarshal(b, &cached); err != nil {
		t.Fatalf("cached entry not valid JSON: %v", err)
	}
	if cached.Ver != 5 {
		t.Errorf("cached ver = %d, want 5", cached.Ver)
	}
}

func TestGetEffectivePermissionsUnknownUser(t *testing.T) {
	epc, _, _ := newTestEPCache(t)
	if _, err := epc.GetEffectivePermissions(context.Background(), "ghost"); err != ErrUserNotFound {
		t.Errorf("unknown user = %v, want ErrUserNotFound", err)
	}
}
