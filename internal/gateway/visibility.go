package gateway

import "github.com/openinbox/inboxd/internal/perm"

// visible decides whether a connection with the given permission snapshot
// may receive an event for a conversation. assigneeID is empty for
// unassigned conversations.
//
// The channel allow-list is layered on top of the conversation policy: an
// event in a channel outside the allow-list is invisible regardless of
// read_all or assignment.
func visible(ep *perm.EffectivePermissions, assigneeID, channelID string) bool {
	if ep == nil {
		return false
	}
	if !perm.HasChannelAccess(ep, channelID) {
		return false
	}
	if perm.HasPermission(ep, perm.PermReadAllConversations) {
		return true
	}
	if assigneeID != "" {
		return assigneeID == ep.UserID
	}
	return perm.HasPermission(ep, perm.PermReadUnassigned)
}
