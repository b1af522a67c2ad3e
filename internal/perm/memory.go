package perm

import (
	"context"
	"sort"
	"sync"
)

// InMemoryRepository is a Repository backed by maps, used in tests.
type InMemoryRepository struct {
	mu       sync.Mutex
	users    map[string]*memUser
	rolePerm map[string][]string
}

type memUser struct {
	roleID   string
	ver      int64
	grants   map[string]struct{}
	revokes  map[string]struct{}
	channels []string
}

// Compile-time check that InMemoryRepository implements Repository.
var _ Repository = (*InMemoryRepository)(nil)

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		users:    make(map[string]*memUser),
		rolePerm: make(map[string][]string),
	}
}

// AddUser registers a user with a role; the initial perm_version is 1.
func (r *InMemoryRepository) AddUser(userID, roleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[userID] = &memUser{
		roleID:  roleID,
		ver:     1,
		grants:  make(map[string]struct{}),
		revokes: make(map[string]struct{}),
	}
}

// SetRolePermissions defines the grant set of a role.
func (r *InMemoryRepository) SetRolePermissions(roleID string, permissions ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rolePerm[roleID] = permissions
}

// GrantOverride adds a per-user permission grant.
func (r *InMemoryRepository) GrantOverride(userID, permission string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.grants[permission] = struct{}{}
		delete(u.revokes, permission)
	}
}

// RevokeOverride adds a per-user permission revoke.
func (r *InMemoryRepository) RevokeOverride(userID, permission string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.revokes[permission] = struct{}{}
		delete(u.grants, permission)
	}
}

// SetAllowedChannels replaces the user's channel allow-list.
func (r *InMemoryRepository) SetAllowedChannels(userID string, channels ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.channels = channels
	}
}

func (r *InMemoryRepository) EffectivePermissions(ctx context.Context, userID string) (*EffectivePermissions, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}

	granted := make(map[string]struct{})
	for _, p := range r.rolePerm[u.roleID] {
		granted[p] = struct{}{}
	}
	for p := range u.grants {
		granted[p] = struct{}{}
	}
	for p := range u.revokes {
		delete(granted, p)
	}

	permissions := make([]string, 0, len(granted))
	for p := range granted {
		permissions = append(permissions, p)
	}
	sort.Strings(permissions)

	channels := make([]string, len(u.channels))
	copy(channels, u.channels)
	sort.Strings(channels)

	return &EffectivePermissions{
		UserID:          userID,
		Ver:             u.ver,
		Permissions:     permissions,
		AllowedChannels: channels,
	}, nil
}

func (r *InMemoryRepository) BumpVersion(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	u.ver++
	return u.ver, nil
}
