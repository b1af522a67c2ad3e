package store

import (
	"database/sql"
	"fmt"

	"github.com/openinbox/inboxd/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanOutboxEntry scans an OutboxEntry from sql.Rows.
func scanOutboxEntry(rows *sql.Rows) (models.OutboxEntry, error) {
	var e models.OutboxEntry
	var lastError sql.NullString
	err := rows.Scan(
		&e.ID, &e.MessageID, &e.Status, &e.Attempts, &e.ScheduledAt,
		&lastError, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return e, fmt.Errorf("scan outbox entry failed: %w", err)
	}
	e.LastError = lastError.String
	return e, nil
}

// scanMessageRow scans a Message from a single sql.Row.
func scanMessageRow(row *sql.Row) (*models.Message, error) {
	var m models.Message
	var objectKey, externalID sql.NullString
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.Direction, &m.Text, &objectKey,
		&m.DeliveryStatus, &externalID, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.ObjectKey = objectKey.String
	m.ExternalMessageID = externalID.String
	return &m, nil
}

// scanConversationRow scans a Conversation from a single sql.Row.
func scanConversationRow(row *sql.Row) (*models.Conversation, error) {
	var c models.Conversation
	var assigneeID sql.NullString
	err := row.Scan(
		&c.ID, &c.ChannelID, &assigneeID, &c.PeerRef, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.AssigneeID = assigneeID.String
	return &c, nil
}
