package store

import (
	"sort"
	"sync"
	"time"

	"github.com/openinbox/inboxd/internal/models"
	"github.com/openinbox/inboxd/internal/util"
)

// InMemoryStore is a MessageStore backed by maps, used in tests and as a
// reference implementation of the lease semantics.
type InMemoryStore struct {
	mu            sync.Mutex
	messages      map[string]*models.Message
	conversations map[string]*models.Conversation
	outbox        map[string]*models.OutboxEntry
}

// Compile-time check that InMemoryStore implements MessageStore.
var _ MessageStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		messages:      make(map[string]*models.Message),
		conversations: make(map[string]*models.Conversation),
		outbox:        make(map[string]*models.OutboxEntry),
	}
}

func (s *InMemoryStore) EnqueueMessage(msg *models.Message) (*models.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if msg.ID == "" {
		msg.ID = util.GenerateMessageID()
	}
	msg.Direction = models.DirectionOut
	msg.DeliveryStatus = models.DeliveryStatusQueued
	msg.CreatedAt = now
	msg.UpdatedAt = now

	entry := &models.OutboxEntry{
		ID:          util.GenerateOutboxID(),
		MessageID:   msg.ID,
		Status:      models.OutboxStatusPending,
		ScheduledAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	cp := *msg
	s.messages[msg.ID] = &cp
	ep := *entry
	s.outbox[entry.ID] = &ep
	return entry, nil
}

func (s *InMemoryStore) GetMessage(id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	cp := *msg
	return &cp, nil
}

func (s *InMemoryStore) GetConversation(id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	cp := *conv
	return &cp, nil
}

func (s *InMemoryStore) UpsertConversation(conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if conv.ID == "" {
		conv.ID = util.GenerateConversationID()
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now
	cp := *conv
	s.conversations[conv.ID] = &cp
	return nil
}

func (s *InMemoryStore) SetAssignee(conversationID, assigneeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	conv.AssigneeID = assigneeID
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) ListAssignments() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	assignments := make(map[string]string)
	for id, conv := range s.conversations {
		if conv.AssigneeID != "" {
			assignments[id] = conv.AssigneeID
		}
	}
	return assignments, nil
}

// ClaimDueOutbox mirrors the Postgres lease under a single mutex: the
// selected entries flip to processing and gain an attempt atomically, so
// concurrent callers cannot claim the same entry.
func (s *InMemoryStore) ClaimDueOutbox(now time.Time, limit int) ([]models.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.OutboxEntry
	for _, e := range s.outbox {
		if e.Status == models.OutboxStatusPending && !e.ScheduledAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]models.OutboxEntry, 0, len(due))
	for _, e := range due {
		e.Status = models.OutboxStatusProcessing
		e.Attempts++
		e.UpdatedAt = now
		claimed = append(claimed, *e)
	}
	return claimed, nil
}

func (s *InMemoryStore) MarkDelivered(entryID, messageID, externalMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.outbox[entryID]
	if !ok {
		return ErrOutboxEntryNotFound
	}
	now := time.Now()
	entry.Status = models.OutboxStatusDone
	entry.LastError = ""
	entry.UpdatedAt = now

	if msg, ok := s.messages[messageID]; ok {
		msg.DeliveryStatus = models.DeliveryStatusSent
		msg.ExternalMessageID = externalMessageID
		msg.UpdatedAt = now
	}
	return nil
}

func (s *InMemoryStore) RescheduleOutbox(entryID, errMsg string, nextAttempt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.outbox[entryID]
	if !ok {
		return ErrOutboxEntryNotFound
	}
	entry.Status = models.OutboxStatusPending
	entry.LastError = errMsg
	entry.ScheduledAt = nextAttempt
	entry.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) MarkOutboxFailed(entryID, messageID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.outbox[entryID]
	if !ok {
		return ErrOutboxEntryNotFound
	}
	now := time.Now()
	entry.Status = models.OutboxStatusFailed
	entry.LastError = errMsg
	entry.UpdatedAt = now

	if msg, ok := s.messages[messageID]; ok {
		msg.DeliveryStatus = models.DeliveryStatusFailed
		msg.UpdatedAt = now
	}
	return nil
}

func (s *InMemoryStore) CountRecentFailures(since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.outbox {
		if e.Status == models.OutboxStatusFailed && !e.UpdatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) RequeueStaleProcessing(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := time.Now()
	for _, e := range s.outbox {
		if e.Status == models.OutboxStatusProcessing && e.UpdatedAt.Before(staleBefore) {
			e.Status = models.OutboxStatusPending
			e.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// GetOutboxEntry returns a copy of an outbox entry for test assertions.
func (s *InMemoryStore) GetOutboxEntry(id string) (*models.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.outbox[id]
	if !ok {
		return nil, ErrOutboxEntryNotFound
	}
	cp := *entry
	return &cp, nil
}
