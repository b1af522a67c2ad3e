// Package perm computes, caches, and evaluates effective permissions.
//
// An effective-permission snapshot (EP) is derived from the system of
// record: role grants unioned with per-user override grants, minus
// override revokes, plus an explicit channel allow-list. Every snapshot
// carries the user's perm_version; a cached snapshot is valid only while
// its version matches the live one.
package perm

import (
	"errors"
	"slices"
)

// Permission names checked by the gateway's visibility policy.
const (
	// PermReadAllConversations grants visibility of every conversation.
	PermReadAllConversations = "conversations:read_all"
	// PermReadUnassigned grants visibility of conversations with no assignee.
	PermReadUnassigned = "conversations:read_unassigned"
	// PermSendMessages allows enqueueing outgoing messages.
	PermSendMessages = "messages:send"
)

// ErrUserNotFound is returned when the user no longer exists in the
// system of record.
var ErrUserNotFound = errors.New("user not found")

// EffectivePermissions is a user's fully resolved permission snapshot.
//
// An empty AllowedChannels slice means every channel is visible
// (manager semantics); a non-empty slice restricts visibility to its
// members.
type EffectivePermissions struct {
	UserID          string   `json:"user_id"`
	Ver             int64    `json:"ver"`
	Permissions     []string `json:"permissions"`
	AllowedChannels []string `json:"allowed_channels"`
}

// HasPermission reports whether ep contains the named permission.
func HasPermission(ep *EffectivePermissions, permission string) bool {
	return ep != nil && slices.Contains(ep.Permissions, permission)
}

// HasChannelAccess reports whether ep may see the given channel. An empty
// allow-list is unrestricted.
func HasChannelAccess(ep *EffectivePermissions, channelID string) bool {
	if ep == nil {
		return false
	}
	if len(ep.AllowedChannels) == 0 {
		return true
	}
	return slices.Contains(ep.AllowedChannels, channelID)
}
