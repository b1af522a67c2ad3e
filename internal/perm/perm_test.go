package perm

import (
	"context"
	"testing"
)

func TestHasPermission(t *testing.T) {
	ep := &EffectivePermissions{
		UserID:      "u1",
		Ver:         1,
		Permissions: []string{PermReadUnassigned, PermSendMessages},
	}

	if !HasPermission(ep, PermSendMessages) {
		t.Error("expected messages:send to be granted")
	}
	if HasPermission(ep, PermReadAllConversations) {
		t.Error("expected conversations:read_all to be denied")
	}
	if HasPermission(nil, PermSendMessages) {
		t.Error("nil snapshot must deny everything")
	}
}

func TestHasChannelAccessDefaultsToAllChannels(t *testing.T) {
	unrestricted := &EffectivePermissions{UserID: "u1", Ver: 1}
	for _, ch := range []string{"telegram:1", "whatsapp:2", "anything"} {
		if !HasChannelAccess(unrestricted, ch) {
			t.Errorf("empty allow-list must grant access to %q", ch)
		}
	}

	restricted := &EffectivePermissions{
		UserID:          "u2",
		Ver:             1,
		AllowedChannels: []string{"telegram:1"},
	}
	if !HasChannelAccess(restricted, "telegram:1") {
		t.Error("allow-listed channel must be accessible")
	}
	if HasChannelAccess(restricted, "whatsapp:2") {
		t.Error("non-listed channel must be denied")
	}
	if HasChannelAccess(nil, "telegram:1") {
		t.Error("nil snapshot must deny channel access")
	}
}

func TestRepositoryUnionsGrantsAndSubtractsRevokes(t *testing.T) {
	repo := NewInMemoryRepository()
	repo.SetRolePermissions("agent", PermReadUnassigned, PermSendMessages)
	repo.AddUser("u1", "agent")
	repo.GrantOverride("u1", PermReadAllConversations)
	repo.RevokeOverride("u1", PermSendMessages)

	ep, err := repo.EffectivePermissions(context.Background(), "u1")
	if err != nil {
		t.Fatalf("effective permissions failed: %v", err)
	}

	if !HasPermission(ep, PermReadAllConversations) {
		t.Error("override grant missing from snapshot")
	}
	if !HasPermission(ep, PermReadUnassigned) {
		t.Error("role grant missing from snapshot")
	}
	if HasPermission(ep, PermSendMessages) {
		t.Error("revoked permission present in snapshot")
	}
	if ep.Ver != 1 {
		t.Errorf("initial version = %d, want 1", ep.Ver)
	}
}

func TestRepositoryUnknownUser(t *testing.T) {
	repo := NewInMemoryRepository()
	if _, err := repo.EffectivePermissions(context.Background(), "ghost"); err != ErrUserNotFound {
		t.Errorf("unknown user = %v, want ErrUserNotFound", err)
	}
	if _, err := repo.BumpVersion(context.Background(), "ghost"); err != ErrUserNotFound {
		t.Errorf("bump unknown user = %v, want ErrUserNotFound", err)
	}
}
