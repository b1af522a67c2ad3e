package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openinbox/inboxd/internal/cache"
	"github.com/openinbox/inboxd/internal/gateway"
	"github.com/openinbox/inboxd/internal/models"
	"github.com/openinbox/inboxd/internal/notify"
	"github.com/openinbox/inboxd/internal/perm"
	"github.com/openinbox/inboxd/internal/store"
)

const (
	testSecret      = "api-test-secret"
	testNotifyToken = "api-test-notify-token"
)

type testEnv struct {
	server *Server
	store  *store.InMemoryStore
	repo   *perm.InMemoryRepository
	cache  *cache.InMemoryCache
	http   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := perm.NewInMemoryRepository()
	repo.SetRolePermissions("agent", perm.PermReadUnassigned, perm.PermSendMessages)
	repo.SetRolePermissions("viewer", perm.PermReadUnassigned)

	c := cache.NewInMemoryCache()
	epCache := perm.NewEPCache(repo, c, time.Minute)
	st := store.NewInMemoryStore()
	gw := gateway.NewGateway(epCache, c, st, testSecret)

	server := NewServer(st, epCache, gw, testSecret, testNotifyToken)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	return &testEnv{server: server, store: st, repo: repo, cache: c, http: ts}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": userID})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token failed: %v", err)
	}
	return signed
}

func (e *testEnv) request(t *testing.T, method, path, userID string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body failed: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.http.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestSendMessageRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	resp := env.request(t, http.MethodPost, "/api/messages", "", sendMessageRequest{ConversationID: "c1", Text: "hi"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestSendMessageRequiresSendPermission(t *testing.T) {
	env := newTestEnv(t)
	env.repo.AddUser("v1", "viewer")

	resp := env.request(t, http.MethodPost, "/api/messages", "v1", sendMessageRequest{ConversationID: "c1", Text: "hi"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestSendMessageEnqueues(t *testing.T) {
	env := newTestEnv(t)
	env.repo.AddUser("a1", "agent")
	if err := env.store.UpsertConversation(&models.Conversation{ID: "c1", ChannelID: "telegram:123", PeerRef: "123"}); err != nil {
		t.Fatalf("upsert conversation failed: %v", err)
	}

	resp := env.request(t, http.MethodPost, "/api/messages", "a1", sendMessageRequest{ConversationID: "c1", Text: "hello there"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var result sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	if result.DeliveryStatus != models.DeliveryStatusQueued {
		t.Errorf("delivery status = %s, want queued", result.DeliveryStatus)
	}

	msg, err := env.store.GetMessage(result.MessageID)
	if err != nil {
		t.Fatalf("message row missing: %v", err)
	}
	if msg.Direction != models.DirectionOut {
		t.Errorf("direction = %s, want out", msg.Direction)
	}
	entry, err := env.store.GetOutboxEntry(result.OutboxEntryID)
	if err != nil {
		t.Fatalf("outbox row missing: %v", err)
	}
	if entry.Status != models.OutboxStatusPending {
		t.Errorf("outbox status = %s, want pending", entry.Status)
	}
}

func TestSendMessageValidation(t *testing.T) {
	env := newTestEnv(t)
	env.repo.AddUser("a1", "agent")

	tests := []struct {
		name string
		req  sendMessageRequest
		want int
	}{
		{"empty text", sendMessageRequest{ConversationID: "c1"}, http.StatusBadRequest},
		{"empty conversation", sendMessageRequest{Text: "hi"}, http.StatusBadRequest},
		{"unknown conversation", sendMessageRequest{ConversationID: "ghost", Text: "hi"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.request(t, http.MethodPost, "/api/messages", "a1", tt.req)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestSendMessageBlockedByChannelAllowList(t *testing.T) {
	env := newTestEnv(t)
	env.repo.AddUser("a1", "agent")
	env.repo.SetAllowedChannels("a1", "telegram:other")
	if err := env.store.UpsertConversation(&models.Conversation{ID: "c1", ChannelID: "telegram:123", PeerRef: "123"}); err != nil {
		t.Fatalf("upsert conversation failed: %v", err)
	}

	resp := env.request(t, http.MethodPost, "/api/messages", "a1", sendMessageRequest{ConversationID: "c1", Text: "hi"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestSetAssignee(t *testing.T) {
	env := newTestEnv(t)
	env.repo.AddUser("a1", "agent")
	if err := env.store.UpsertConversation(&models.Conversation{ID: "c1", ChannelID: "telegram:123", PeerRef: "123"}); err != nil {
		t.Fatalf("upsert conversation failed: %v", err)
	}

	resp := env.request(t, http.MethodPost, "/api/conversations/c1/assignee", "a1", setAssigneeRequest{AssigneeID: "a1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	assignments, err := env.store.ListAssignments()
	if err != nil {
		t.Fatalf("list assignments failed: %v", err)
	}
	if assignments["c1"] != "a1" {
		t.Errorf("assignment = %q, want a1", assignments["c1"])
	}

	// Unassign with an empty assignee id.
	resp = env.request(t, http.MethodPost, "/api/conversations/c1/assignee", "a1", setAssigneeRequest{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unassign status = %d, want 200", resp.StatusCode)
	}
	assignments, _ = env.store.ListAssignments()
	if _, ok := assignments["c1"]; ok {
		t.Error("assignment not cleared")
	}
}

func TestSetAssigneeUnknownConversation(t *testing.T) {
	env := newTestEnv(t)
	env.repo.AddUser("a1", "agent")

	resp := env.request(t, http.MethodPost, "/api/conversations/ghost/assignee", "a1", setAssigneeRequest{AssigneeID: "a1"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestInvalidatePermissionsBumpsVersion(t *testing.T) {
	env := newTestEnv(t)
	env.repo.AddUser("a1", "agent")
	env.repo.AddUser("admin", "agent")

	resp := env.request(t, http.MethodPost, "/api/users/a1/permissions/invalidate", "admin", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	ep, err := env.repo.EffectivePermissions(context.Background(), "a1")
	if err != nil {
		t.Fatalf("effective permissions failed: %v", err)
	}
	if ep.Ver != 2 {
		t.Errorf("ver = %d, want 2 after invalidation", ep.Ver)
	}
}

func TestInvalidatePermissionsUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	env.repo.AddUser("admin", "agent")

	resp := env.request(t, http.MethodPost, "/api/users/ghost/permissions/invalidate", "admin", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func (e *testEnv) statusCallback(t *testing.T, token string) *http.Response {
	t.Helper()

	payload := models.MessageStatusPayload{
		MessageID:      "m1",
		ConversationID: "c1",
		DeliveryStatus: models.DeliveryStatusSent,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		t.Fatalf("encode payload failed: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, e.http.URL+"/internal/message-status", &buf)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if token != "" {
		req.Header.Set(notify.StatusTokenHeader, token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestMessageStatusCallback(t *testing.T) {
	env := newTestEnv(t)
	if err := env.store.UpsertConversation(&models.Conversation{ID: "c1", ChannelID: "telegram:123", PeerRef: "123"}); err != nil {
		t.Fatalf("upsert conversation failed: %v", err)
	}

	resp := env.statusCallback(t, testNotifyToken)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestMessageStatusCallbackRejectsForgedToken(t *testing.T) {
	env := newTestEnv(t)

	if resp := env.statusCallback(t, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("missing token status = %d, want 401", resp.StatusCode)
	}
	if resp := env.statusCallback(t, "wrong-token"); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("forged token status = %d, want 401", resp.StatusCode)
	}
}

func TestOnlineUsersListing(t *testing.T) {
	env := newTestEnv(t)
	env.repo.AddUser("a1", "agent")

	if err := env.cache.SAdd(context.Background(), cache.OnlineUsersKey, "a1", "mgr"); err != nil {
		t.Fatalf("seed presence failed: %v", err)
	}

	resp := env.request(t, http.MethodGet, "/api/presence/online", "a1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string][]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	want := []string{"a1", "mgr"}
	got := body["online"]
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("online = %v, want %v", got, want)
	}

	// The listing requires authentication like the rest of /api.
	resp = env.request(t, http.MethodGet, "/api/presence/online", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp := env.request(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
