package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openinbox/inboxd/internal/models"
	"github.com/openinbox/inboxd/internal/store"
)

// countingSink records fired alerts and optionally errors.
type countingSink struct {
	mu    sync.Mutex
	fired int
	err   error
}

func (s *countingSink) Fire(ctx context.Context, failureCount int, window time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fired++
	return s.err
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

func failEntries(t *testing.T, st *store.InMemoryStore, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		conv := &models.Conversation{ChannelID: "telegram:x", PeerRef: "x"}
		if err := st.UpsertConversation(conv); err != nil {
			t.Fatalf("upsert conversation failed: %v", err)
		}
		entry, err := st.EnqueueMessage(&models.Message{ConversationID: conv.ID, Text: "hi"})
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		if err := st.MarkOutboxFailed(entry.ID, entry.MessageID, "boom"); err != nil {
			t.Fatalf("mark failed failed: %v", err)
		}
	}
}

func TestAlertFiresAboveThreshold(t *testing.T) {
	st := store.NewInMemoryStore()
	sink := &countingSink{}
	monitor := NewAlertMonitor(st, sink, AlertOpts{Threshold: 3, Window: 5 * time.Minute, Cooldown: time.Hour})

	failEntries(t, st, 2)
	if err := monitor.CheckOnce(context.Background(), time.Now()); err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if sink.count() != 0 {
		t.Fatalf("alert fired below threshold")
	}

	failEntries(t, st, 1)
	if err := monitor.CheckOnce(context.Background(), time.Now()); err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if sink.count() != 1 {
		t.Fatalf("alert fired %d times, want 1", sink.count())
	}
}

func TestAlertCooldownSuppressesRepeats(t *testing.T) {
	st := store.NewInMemoryStore()
	sink := &countingSink{}
	monitor := NewAlertMonitor(st, sink, AlertOpts{Threshold: 1, Window: 5 * time.Minute, Cooldown: time.Hour})

	failEntries(t, st, 2)
	now := time.Now()
	for i := 0; i < 5; i++ {
		if err := monitor.CheckOnce(context.Background(), now.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("check %d failed: %v", i, err)
		}
	}
	if sink.count() != 1 {
		t.Fatalf("alert fired %d times within cooldown, want 1", sink.count())
	}

	// Past the cooldown the alert may fire again.
	if err := monitor.CheckOnce(context.Background(), now.Add(2*time.Hour)); err != nil {
		t.Fatalf("post-cooldown check failed: %v", err)
	}
	if sink.count() != 2 {
		t.Fatalf("alert fired %d times after cooldown, want 2", sink.count())
	}
}

func TestAlertCooldownAdvancesOnSinkError(t *testing.T) {
	st := store.NewInMemoryStore()
	sink := &countingSink{err: errors.New("webhook down")}
	monitor := NewAlertMonitor(st, sink, AlertOpts{Threshold: 1, Window: 5 * time.Minute, Cooldown: time.Hour})

	failEntries(t, st, 1)
	now := time.Now()
	if err := monitor.CheckOnce(context.Background(), now); err == nil {
		t.Fatal("expected sink error to propagate")
	}
	// A broken sink must not produce a retry storm on the next check.
	if err := monitor.CheckOnce(context.Background(), now.Add(time.Minute)); err != nil {
		t.Fatalf("check within cooldown failed: %v", err)
	}
	if sink.count() != 1 {
		t.Fatalf("sink fired %d times, want 1", sink.count())
	}
}
