package cache

import "fmt"

// PermEventsChannel carries user ids whose effective permissions changed.
// Every API process publishes here; every gateway instance subscribes.
const PermEventsChannel = "perm:events"

// EffectivePermissionsKey returns the cache key holding a user's serialized
// effective-permission snapshot.
//
// perm:ep:{user_id}
func EffectivePermissionsKey(userID string) string {
	return fmt.Sprintf("perm:ep:%s", userID)
}

// OnlineUsersKey is the set of user ids currently marked present by a
// gateway instance.
const OnlineUsersKey = "presence:online"
