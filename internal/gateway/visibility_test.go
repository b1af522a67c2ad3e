package gateway

import (
	"testing"

	"github.com/openinbox/inboxd/internal/perm"
)

func TestVisible(t *testing.T) {
	manager := &perm.EffectivePermissions{
		UserID:      "mgr",
		Permissions: []string{perm.PermReadAllConversations},
	}
	agent := &perm.EffectivePermissions{
		UserID:      "agent1",
		Permissions: []string{perm.PermReadUnassigned},
	}
	restricted := &perm.EffectivePermissions{
		UserID:          "agent2",
		Permissions:     []string{perm.PermReadAllConversations},
		AllowedChannels: []string{"telegram:team-a"},
	}
	bare := &perm.EffectivePermissions{UserID: "agent3"}

	tests := []struct {
		name       string
		ep         *perm.EffectivePermissions
		assigneeID string
		channelID  string
		want       bool
	}{
		{"nil snapshot denies", nil, "", "telegram:1", false},
		{"read_all sees assigned", manager, "someone-else", "telegram:1", true},
		{"read_all sees unassigned", manager, "", "telegram:1", true},
		{"assignee sees own conversation", agent, "agent1", "telegram:1", true},
		{"non-assignee blocked", agent, "someone-else", "telegram:1", false},
		{"read_unassigned sees unassigned", agent, "", "telegram:1", true},
		{"bare snapshot blocked from unassigned", bare, "", "telegram:1", false},
		{"assignment beats missing read_unassigned", bare, "agent3", "telegram:1", true},
		{"allow-list admits listed channel", restricted, "", "telegram:team-a", true},
		{"allow-list blocks other channel even with read_all", restricted, "", "telegram:team-b", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := visible(tt.ep, tt.assigneeID, tt.channelID); got != tt.want {
				t.Errorf("visible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUserIDFromToken(t *testing.T) {
	const secret = "test-secret"

	token := signTestToken(t, "u1", secret)
	userID, err := UserIDFromToken(token, secret)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if userID != "u1" {
		t.Errorf("user id = %q, want u1", userID)
	}

	if _, err := UserIDFromToken(token, "other-secret"); err == nil {
		t.Error("expected error for wrong secret")
	}
	if _, err := UserIDFromToken("not-a-token", secret); err == nil {
		t.Error("expected error for malformed token")
	}
}
