// Package store provides storage backends for inboxd.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/openinbox/inboxd/internal/models"
	"github.com/openinbox/inboxd/internal/util"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements MessageStore.
var _ MessageStore = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	dsn := cfg.DSN
	if dsn == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection failed: %w", err)
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresStore: migrations applied")
	return &PostgresStore{db: db}, nil
}

// DB exposes the underlying connection pool so that collaborators sharing
// the system of record (e.g. the permission repository) can reuse it.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) EnqueueMessage(msg *models.Message) (*models.OutboxEntry, error) {
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

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin enqueue tx failed: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO messages (id, conversation_id, direction, text, object_key, delivery_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.ConversationID, msg.Direction, msg.Text, nilIfEmpty(msg.ObjectKey), msg.DeliveryStatus, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message failed: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO outbox_entries (id, message_id, status, attempts, scheduled_at, created_at, updated_at)
		 VALUES ($1, $2, 'pending', 0, $3, $4, $5)`,
		entry.ID, entry.MessageID, entry.ScheduledAt, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert outbox entry failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enqueue tx failed: %w", err)
	}
	slog.Debug("PostgresStore.EnqueueMessage", "messageID", msg.ID, "outboxID", entry.ID, "conversationID", msg.ConversationID)
	return entry, nil
}

func (s *PostgresStore) GetMessage(id string) (*models.Message, error) {
	row := s.db.QueryRow(
		`SELECT id, conversation_id, direction, text, object_key, delivery_status, external_message_id, created_at, updated_at
		 FROM messages WHERE id = $1`,
		id,
	)
	msg, err := scanMessageRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message failed: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) GetConversation(id string) (*models.Conversation, error) {
	row := s.db.QueryRow(
		`SELECT id, channel_id, assignee_id, peer_ref, created_at, updated_at
		 FROM conversations WHERE id = $1`,
		id,
	)
	conv, err := scanConversationRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation failed: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) UpsertConversation(conv *models.Conversation) error {
	now := time.Now()
	if conv.ID == "" {
		conv.ID = util.GenerateConversationID()
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now
	_, err := s.db.Exec(
		`INSERT INTO conversations (id, channel_id, assignee_id, peer_ref, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET channel_id = $2, assignee_id = $3, peer_ref = $4, updated_at = $6`,
		conv.ID, conv.ChannelID, nilIfEmpty(conv.AssigneeID), conv.PeerRef, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert conversation failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetAssignee(conversationID, assigneeID string) error {
	result, err := s.db.Exec(
		`UPDATE conversations SET assignee_id = $1, updated_at = $2 WHERE id = $3`,
		nilIfEmpty(assigneeID), time.Now(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("set assignee failed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (s *PostgresStore) ListAssignments() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT id, assignee_id FROM conversations WHERE assignee_id IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("list assignments failed: %w", err)
	}
	defer rows.Close()

	assignments := make(map[string]string)
	for rows.Next() {
		var convID, assigneeID string
		if err := rows.Scan(&convID, &assigneeID); err != nil {
			return nil, fmt.Errorf("scan assignment failed: %w", err)
		}
		assignments[convID] = assigneeID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("assignment iteration failed: %w", err)
	}
	return assignments, nil
}
