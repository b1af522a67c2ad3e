// Package notify pushes delivery-status changes from the outbox worker to
// the API layer, which forwards them to connected clients.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openinbox/inboxd/internal/models"
)

// DefaultNotifyTimeout bounds a single status callback.
const DefaultNotifyTimeout = 5 * time.Second

// StatusTokenHeader carries the shared secret that authenticates status
// callbacks to the API's internal endpoint.
const StatusTokenHeader = "X-Status-Token"

// StatusNotifier reports a message's delivery-status transition. The
// callback is best-effort: a failed notification is logged by the caller
// and never affects outbox state.
type StatusNotifier interface {
	NotifyStatus(ctx context.Context, status models.MessageStatusPayload) error
}

// HTTPNotifier posts status payloads to an HTTP endpoint.
type HTTPNotifier struct {
	httpClient *http.Client
	url        string
	token      string
}

// Compile-time check that HTTPNotifier implements StatusNotifier.
var _ StatusNotifier = (*HTTPNotifier)(nil)

// NewHTTPNotifier creates a notifier targeting url, authenticating each
// callback with the shared token.
func NewHTTPNotifier(url, token string) *HTTPNotifier {
	return &HTTPNotifier{
		httpClient: &http.Client{Timeout: DefaultNotifyTimeout},
		url:        url,
		token:      token,
	}
}

func (n *HTTPNotifier) NotifyStatus(ctx context.Context, status models.MessageStatusPayload) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status payload failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build status request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(StatusTokenHeader, n.token)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("status callback failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("status callback returned %d", resp.StatusCode)
	}
	slog.Debug("HTTPNotifier.NotifyStatus", "messageID", status.MessageID, "status", status.DeliveryStatus)
	return nil
}

// NopNotifier discards all notifications. Used in tests and when no
// callback target is configured.
type NopNotifier struct{}

// Compile-time check that NopNotifier implements StatusNotifier.
var _ StatusNotifier = (*NopNotifier)(nil)

func (NopNotifier) NotifyStatus(ctx context.Context, status models.MessageStatusPayload) error {
	return nil
}
