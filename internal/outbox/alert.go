package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openinbox/inboxd/internal/metrics"
	"github.com/openinbox/inboxd/internal/store"
)

// AlertSink receives a failure-rate alert.
type AlertSink interface {
	Fire(ctx context.Context, failureCount int, window time.Duration) error
}

// LogSink writes alerts to the process log.
type LogSink struct{}

// Compile-time check that LogSink implements AlertSink.
var _ AlertSink = (*LogSink)(nil)

func (LogSink) Fire(ctx context.Context, failureCount int, window time.Duration) error {
	slog.Error("delivery failure rate exceeded threshold", "failures", failureCount, "window", window)
	return nil
}

// WebhookSink posts alerts to an HTTP endpoint.
type WebhookSink struct {
	httpClient *http.Client
	url        string
}

// Compile-time check that WebhookSink implements AlertSink.
var _ AlertSink = (*WebhookSink)(nil)

// NewWebhookSink creates a sink posting to url.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		url:        url,
	}
}

type alertPayload struct {
	Alert     string `json:"alert"`
	Failures  int    `json:"failures"`
	WindowSec int    `json:"window_sec"`
	FiredAt   string `json:"fired_at"`
}

func (s *WebhookSink) Fire(ctx context.Context, failureCount int, window time.Duration) error {
	payload, err := json.Marshal(alertPayload{
		Alert:     "delivery_failure_rate",
		Failures:  failureCount,
		WindowSec: int(window.Seconds()),
		FiredAt:   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal alert payload failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build alert request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("alert webhook failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned %d", resp.StatusCode)
	}
	return nil
}

// AlertOpts holds the failure-rate alert thresholds.
type AlertOpts struct {
	Threshold int
	Window    time.Duration
	Cooldown  time.Duration
	// CheckInterval defaults to one minute when unset.
	CheckInterval time.Duration
}

// AlertMonitor watches the terminal-failure rate and fires an alert when
// it crosses the threshold. Alerts are rate-limited by the cooldown; the
// cooldown advances even when the sink errors, so a flaky sink cannot
// cause an alert storm.
type AlertMonitor struct {
	store     store.MessageStore
	sink      AlertSink
	opts      AlertOpts
	lastFired time.Time
}

// NewAlertMonitor creates a failure-rate monitor. A nil sink logs alerts.
func NewAlertMonitor(st store.MessageStore, sink AlertSink, opts AlertOpts) *AlertMonitor {
	if sink == nil {
		sink = LogSink{}
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = time.Minute
	}
	return &AlertMonitor{store: st, sink: sink, opts: opts}
}

// Run checks the failure rate periodically until ctx is canceled.
func (m *AlertMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.CheckInterval)
	defer ticker.Stop()

	slog.Info("AlertMonitor.Run: started",
		"threshold", m.opts.Threshold,
		"window", m.opts.Window,
		"cooldown", m.opts.Cooldown)

	for {
		select {
		case <-ctx.Done():
			slog.Info("AlertMonitor.Run: stopping")
			return
		case <-ticker.C:
			if err := m.CheckOnce(ctx, time.Now()); err != nil {
				slog.Error("AlertMonitor.Run: check failed", "error", err)
			}
		}
	}
}

// CheckOnce evaluates the failure count over the window and fires the sink
// if the threshold is crossed and the cooldown has elapsed.
func (m *AlertMonitor) CheckOnce(ctx context.Context, now time.Time) error {
	count, err := m.store.CountRecentFailures(now.Add(-m.opts.Window))
	if err != nil {
		return fmt.Errorf("count recent failures failed: %w", err)
	}
	if count < m.opts.Threshold {
		return nil
	}
	if !m.lastFired.IsZero() && now.Sub(m.lastFired) < m.opts.Cooldown {
		return nil
	}

	m.lastFired = now
	metrics.IncFailureAlert()
	if err := m.sink.Fire(ctx, count, m.opts.Window); err != nil {
		return fmt.Errorf("alert sink failed: %w", err)
	}
	slog.Warn("AlertMonitor.CheckOnce: alert fired", "failures", count, "window", m.opts.Window)
	return nil
}
