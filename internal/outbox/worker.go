// Package outbox drains the durable outbox and dispatches outgoing
// messages through the delivery adapters.
//
// The worker polls for due entries, leases them in batches, and sends each
// leased entry at most once per lease. Failed sends are rescheduled with
// exponential backoff until the attempt budget is exhausted, after which
// the entry is marked failed and never retried again.
package outbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/openinbox/inboxd/internal/delivery"
	"github.com/openinbox/inboxd/internal/metrics"
	"github.com/openinbox/inboxd/internal/models"
	"github.com/openinbox/inboxd/internal/notify"
	"github.com/openinbox/inboxd/internal/store"
)

// StaleLeaseAge is how long an entry may sit in processing before startup
// recovery assumes its worker died and returns it to pending.
const StaleLeaseAge = 5 * time.Minute

// Opts holds the worker's tuning knobs.
type Opts struct {
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	BatchSize    int
	Concurrency  int
	PollInterval time.Duration
}

// Worker is the outbox dispatch loop.
type Worker struct {
	store    store.MessageStore
	registry *delivery.Registry
	notifier notify.StatusNotifier
	opts     Opts
}

// NewWorker creates an outbox worker. A nil notifier disables status
// callbacks.
func NewWorker(st store.MessageStore, registry *delivery.Registry, notifier notify.StatusNotifier, opts Opts) *Worker {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Worker{store: st, registry: registry, notifier: notifier, opts: opts}
}

// Run recovers stale leases, then polls the outbox until ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	if n, err := w.store.RequeueStaleProcessing(time.Now().Add(-StaleLeaseAge)); err != nil {
		slog.Error("Worker.Run: stale lease recovery failed", "error", err)
	} else if n > 0 {
		slog.Info("Worker.Run: requeued stale processing entries", "count", n)
	}

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	slog.Info("Worker.Run: started",
		"pollInterval", w.opts.PollInterval,
		"batchSize", w.opts.BatchSize,
		"concurrency", w.opts.Concurrency,
		"maxAttempts", w.opts.MaxAttempts)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Worker.Run: stopping")
			return
		case <-ticker.C:
			if n, err := w.DrainOnce(ctx, time.Now()); err != nil {
				slog.Error("Worker.Run: drain failed", "error", err)
			} else if n > 0 {
				slog.Debug("Worker.Run: drained batch", "count", n)
			}
		}
	}
}

// DrainOnce leases one batch of due entries and dispatches them. Entries
// are processed in groups of at most Concurrency in parallel; each entry's
// outcome is resolved independently, so one bad row never blocks the rest.
// Returns the number of entries leased.
func (w *Worker) DrainOnce(ctx context.Context, now time.Time) (int, error) {
	entries, err := w.store.ClaimDueOutbox(now, w.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	for start := 0; start < len(entries); start += w.opts.Concurrency {
		end := start + w.opts.Concurrency
		if end > len(entries) {
			end = len(entries)
		}
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(entry models.OutboxEntry) {
				defer wg.Done()
				w.processEntry(ctx, entry)
			}(entries[i])
		}
		wg.Wait()
	}
	return len(entries), nil
}

// processEntry dispatches one leased entry and records its outcome.
func (w *Worker) processEntry(ctx context.Context, entry models.OutboxEntry) {
	msg, err := w.store.GetMessage(entry.MessageID)
	if err != nil {
		if errors.Is(err, store.ErrMessageNotFound) {
			w.failPermanently(ctx, entry, nil, "message row missing")
			return
		}
		slog.Error("Worker.processEntry: load message failed", "entryID", entry.ID, "error", err)
		w.retryOrFail(ctx, entry, nil, err)
		return
	}

	conv, err := w.store.GetConversation(msg.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			w.failPermanently(ctx, entry, msg, "conversation row missing")
			return
		}
		slog.Error("Worker.processEntry: load conversation failed", "entryID", entry.ID, "error", err)
		w.retryOrFail(ctx, entry, msg, err)
		return
	}

	adapter, platform, err := w.registry.ForConversation(conv)
	if err != nil {
		// No adapter can ever serve this conversation; retrying is futile.
		w.failPermanently(ctx, entry, msg, err.Error())
		return
	}

	sendStart := time.Now()
	externalID, err := adapter.Send(ctx, conv, msg.Text, msg.ObjectKey)
	metrics.ObserveAdapterSend(platform, time.Since(sendStart))
	if err != nil {
		slog.Warn("Worker.processEntry: send failed",
			"entryID", entry.ID,
			"messageID", msg.ID,
			"platform", platform,
			"attempts", entry.Attempts,
			"error", err)
		w.retryOrFail(ctx, entry, msg, err)
		return
	}

	if err := w.store.MarkDelivered(entry.ID, msg.ID, externalID); err != nil {
		slog.Error("Worker.processEntry: mark delivered failed", "entryID", entry.ID, "error", err)
		return
	}
	metrics.IncOutboxOutcome("done")
	slog.Info("Worker.processEntry: delivered",
		"entryID", entry.ID,
		"messageID", msg.ID,
		"platform", platform,
		"externalID", externalID)

	w.notifyStatus(ctx, models.MessageStatusPayload{
		MessageID:         msg.ID,
		ConversationID:    msg.ConversationID,
		DeliveryStatus:    models.DeliveryStatusSent,
		ExternalMessageID: externalID,
	})
}

// retryOrFail reschedules the entry with backoff, or marks it failed when
// the attempt budget is spent. Attempts was already incremented at lease
// time, so it reflects the attempt that just failed.
func (w *Worker) retryOrFail(ctx context.Context, entry models.OutboxEntry, msg *models.Message, sendErr error) {
	if entry.Attempts >= w.opts.MaxAttempts {
		errMsg := "attempt budget exhausted"
		if sendErr != nil {
			errMsg = sendErr.Error()
		}
		w.failPermanently(ctx, entry, msg, errMsg)
		return
	}

	next := time.Now().Add(Backoff(entry.Attempts, w.opts.BaseBackoff, w.opts.MaxBackoff))
	errMsg := ""
	if sendErr != nil {
		errMsg = sendErr.Error()
	}
	if err := w.store.RescheduleOutbox(entry.ID, errMsg, next); err != nil {
		slog.Error("Worker.retryOrFail: reschedule failed", "entryID", entry.ID, "error", err)
		return
	}
	metrics.IncOutboxOutcome("retry")
	slog.Debug("Worker.retryOrFail: rescheduled", "entryID", entry.ID, "attempts", entry.Attempts, "nextAttempt", next)
}

// failPermanently marks the entry and message failed and notifies the
// status callback. msg may be nil when the message row itself is missing.
func (w *Worker) failPermanently(ctx context.Context, entry models.OutboxEntry, msg *models.Message, errMsg string) {
	messageID := entry.MessageID
	if err := w.store.MarkOutboxFailed(entry.ID, messageID, errMsg); err != nil {
		slog.Error("Worker.failPermanently: mark failed failed", "entryID", entry.ID, "error", err)
		return
	}
	metrics.IncOutboxOutcome("failed")
	slog.Warn("Worker.failPermanently: entry failed terminally",
		"entryID", entry.ID,
		"messageID", messageID,
		"attempts", entry.Attempts,
		"error", errMsg)

	if msg != nil {
		w.notifyStatus(ctx, models.MessageStatusPayload{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			DeliveryStatus: models.DeliveryStatusFailed,
		})
	}
}

// notifyStatus fires the status callback without blocking dispatch.
func (w *Worker) notifyStatus(ctx context.Context, status models.MessageStatusPayload) {
	if err := w.notifier.NotifyStatus(ctx, status); err != nil {
		slog.Warn("Worker.notifyStatus: status callback failed", "messageID", status.MessageID, "error", err)
	}
}
