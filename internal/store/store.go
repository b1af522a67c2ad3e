// Package store provides storage backends for inboxd.
//
// The outbox table is the single source of truth for delivery state. All
// backends implement the same MessageStore interface; the Postgres backend
// is the authoritative one for multi-process deployments because its lease
// uses a skip-locked row claim.
package store

import (
	"errors"
	"strings"
	"time"

	"github.com/openinbox/inboxd/internal/models"
)

// Error variables shared across store backends.
var (
	ErrMessageNotFound      = errors.New("message not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrOutboxEntryNotFound  = errors.New("outbox entry not found")
)

// MessageStore defines persistence for messages, conversations, and the
// durable outbox.
type MessageStore interface {
	// EnqueueMessage inserts an outgoing message together with its outbox
	// entry in a single transaction, so the intent to send survives a crash.
	EnqueueMessage(msg *models.Message) (*models.OutboxEntry, error)

	// GetMessage loads a message by id. Returns ErrMessageNotFound if absent.
	GetMessage(id string) (*models.Message, error)

	// GetConversation loads a conversation by id. Returns
	// ErrConversationNotFound if absent.
	GetConversation(id string) (*models.Conversation, error)

	// UpsertConversation inserts or updates a conversation row.
	UpsertConversation(conv *models.Conversation) error

	// SetAssignee updates the conversation's assignee. An empty assigneeID
	// clears the assignment.
	SetAssignee(conversationID, assigneeID string) error

	// ListAssignments returns conversation id -> assignee id for all
	// currently assigned conversations.
	ListAssignments() (map[string]string, error)

	// ClaimDueOutbox leases up to limit pending entries whose scheduled_at
	// is due, ordered by scheduled_at. Leasing atomically flips status to
	// processing and increments attempts, so concurrent workers never
	// double-claim a row.
	ClaimDueOutbox(now time.Time, limit int) ([]models.OutboxEntry, error)

	// MarkDelivered transactionally marks the outbox entry done and the
	// message sent, recording the external message id.
	MarkDelivered(entryID, messageID, externalMessageID string) error

	// RescheduleOutbox returns a leased entry to pending with a new
	// scheduled_at, recording the error that caused the retry.
	RescheduleOutbox(entryID, errMsg string, nextAttempt time.Time) error

	// MarkOutboxFailed transactionally marks the outbox entry failed
	// (terminal) and the message failed.
	MarkOutboxFailed(entryID, messageID, errMsg string) error

	// CountRecentFailures counts failed outbox entries whose updated_at is
	// at or after since. Used by the failure-rate alert monitor.
	CountRecentFailures(since time.Time) (int, error)

	// RequeueStaleProcessing resets entries stuck in processing since
	// before staleBefore back to pending (crash recovery). Should be
	// called once at startup.
	RequeueStaleProcessing(staleBefore time.Time) (int, error)
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for postgres-style DSNs and "sqlite3"
// otherwise (a bare file path is treated as an SQLite database).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}
