package delivery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openinbox/inboxd/internal/models"
)

// fakeAdapter records sends for registry tests.
type fakeAdapter struct {
	sent int
}

func (f *fakeAdapter) Send(ctx context.Context, conv *models.Conversation, text, objectKey string) (string, error) {
	f.sent++
	return "ext-1", nil
}

func TestRegistrySelectsAdapterByPlatformPrefix(t *testing.T) {
	registry := NewRegistry()
	tg := &fakeAdapter{}
	wa := &fakeAdapter{}
	registry.Register("telegram", tg)
	registry.Register("whatsapp", wa)

	conv := &models.Conversation{ID: "c1", ChannelID: "telegram:123", PeerRef: "123"}
	adapter, platform, err := registry.ForConversation(conv)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if platform != "telegram" {
		t.Errorf("platform = %q, want telegram", platform)
	}
	if adapter != Adapter(tg) {
		t.Error("wrong adapter selected")
	}
}

func TestRegistryUnknownPlatform(t *testing.T) {
	registry := NewRegistry()
	registry.Register("telegram", &fakeAdapter{})

	conv := &models.Conversation{ID: "c1", ChannelID: "smoke-signal:1", PeerRef: "1"}
	_, _, err := registry.ForConversation(conv)
	if !errors.Is(err, ErrUnknownPlatform) {
		t.Errorf("err = %v, want ErrUnknownPlatform", err)
	}
}

func TestRegistryInvalidChannelID(t *testing.T) {
	registry := NewRegistry()
	conv := &models.Conversation{ID: "c1", ChannelID: "no-prefix", PeerRef: "1"}
	if _, _, err := registry.ForConversation(conv); !errors.Is(err, models.ErrInvalidChannelID) {
		t.Errorf("err = %v, want ErrInvalidChannelID", err)
	}
}

func TestTelegramAdapterSend(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"result":{"message_id":777}}`))
	}))
	defer server.Close()

	adapter, err := NewTelegramAdapter(TelegramOpts{BotToken: "token123", APIBase: server.URL})
	if err != nil {
		t.Fatalf("new adapter failed: %v", err)
	}

	conv := &models.Conversation{ID: "c1", ChannelID: "telegram:555", PeerRef: "555"}
	externalID, err := adapter.Send(context.Background(), conv, "hello", "")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if externalID != "777" {
		t.Errorf("external id = %q, want 777", externalID)
	}
	if gotPath != "/bottoken123/sendMessage" {
		t.Errorf("request path = %q, want /bottoken123/sendMessage", gotPath)
	}
}

func TestTelegramAdapterSendRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	adapter, err := NewTelegramAdapter(TelegramOpts{BotToken: "token123", APIBase: server.URL})
	if err != nil {
		t.Fatalf("new adapter failed: %v", err)
	}

	conv := &models.Conversation{ID: "c1", ChannelID: "telegram:555", PeerRef: "555"}
	if _, err := adapter.Send(context.Background(), conv, "hello", ""); err == nil {
		t.Fatal("expected error for rejected send")
	}
}

func TestNewTelegramAdapterRequiresToken(t *testing.T) {
	if _, err := NewTelegramAdapter(TelegramOpts{}); err == nil {
		t.Fatal("expected error for missing bot token")
	}
}
