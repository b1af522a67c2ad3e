// Package delivery: Telegram Bot API adapter.
//
// The Bot API is a small JSON-over-HTTP surface; this adapter speaks it
// directly with the standard library client.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/openinbox/inboxd/internal/models"
)

// DefaultTelegramAPIBase is the production Bot API endpoint.
const DefaultTelegramAPIBase = "https://api.telegram.org"

// DefaultTelegramTimeout bounds a single sendMessage call.
const DefaultTelegramTimeout = 30 * time.Second

// TelegramAdapter sends messages through the Telegram Bot API.
type TelegramAdapter struct {
	httpClient *http.Client
	apiBase    string
	token      string
}

// Compile-time check that TelegramAdapter implements Adapter.
var _ Adapter = (*TelegramAdapter)(nil)

// TelegramOpts holds configuration for the Telegram adapter.
type TelegramOpts struct {
	BotToken string
	// APIBase overrides the Bot API endpoint (used in tests).
	APIBase string
	// HTTPClient overrides the default client (used in tests).
	HTTPClient *http.Client
}

// NewTelegramAdapter creates a Telegram Bot API adapter.
func NewTelegramAdapter(cfg TelegramOpts) (*TelegramAdapter, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token must be provided")
	}
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = DefaultTelegramAPIBase
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTelegramTimeout}
	}
	return &TelegramAdapter{httpClient: httpClient, apiBase: apiBase, token: cfg.BotToken}, nil
}

type telegramSendRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type telegramSendResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// Send delivers the message to the conversation's Telegram chat.
func (a *TelegramAdapter) Send(ctx context.Context, conv *models.Conversation, text, objectKey string) (string, error) {
	if conv.PeerRef == "" {
		return "", fmt.Errorf("conversation %s has no peer reference", conv.ID)
	}

	body := text
	if objectKey != "" {
		body = text + "\n" + objectKey
	}

	payload, err := json.Marshal(telegramSendRequest{ChatID: conv.PeerRef, Text: body})
	if err != nil {
		return "", fmt.Errorf("marshal telegram request failed: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", a.apiBase, a.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build telegram request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read telegram response failed: %w", err)
	}

	var parsed telegramSendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode telegram response failed (status %d): %w", resp.StatusCode, err)
	}
	if !parsed.OK {
		return "", fmt.Errorf("telegram send rejected (status %d): %s", resp.StatusCode, parsed.Description)
	}

	externalID := strconv.FormatInt(parsed.Result.MessageID, 10)
	slog.Debug("TelegramAdapter.Send: message sent", "conversationID", conv.ID, "externalID", externalID)
	return externalID, nil
}
