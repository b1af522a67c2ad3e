// Package store provides storage backends for inboxd.
//
// This file implements an SQLite-backed store for development and
// single-process deployments.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/openinbox/inboxd/internal/models"
	"github.com/openinbox/inboxd/internal/util"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a single-process store backend. Its outbox lease is a
// select-then-update inside one transaction rather than a skip-locked
// claim, so it must not be shared by multiple worker processes.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements MessageStore.
var _ MessageStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	dsn := cfg.DSN
	if dsn == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection failed: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sqlite ping failed: %w", err)
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteStore: migrations applied", "path", dsn)
	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying database handle.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) EnqueueMessage(msg *models.Message) (*models.OutboxEntry, error) {
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
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Direction, msg.Text, nilIfEmpty(msg.ObjectKey), msg.DeliveryStatus, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message failed: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO outbox_entries (id, message_id, status, attempts, scheduled_at, created_at, updated_at)
		 VALUES (?, ?, 'pending', 0, ?, ?, ?)`,
		entry.ID, entry.MessageID, entry.ScheduledAt, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert outbox entry failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enqueue tx failed: %w", err)
	}
	slog.Debug("SQLiteStore.EnqueueMessage", "messageID", msg.ID, "outboxID", entry.ID, "conversationID", msg.ConversationID)
	return entry, nil
}

func (s *SQLiteStore) GetMessage(id string) (*models.Message, error) {
	row := s.db.QueryRow(
		`SELECT id, conversation_id, direction, text, object_key, delivery_status, external_message_id, created_at, updated_at
		 FROM messages WHERE id = ?`,
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

func (s *SQLiteStore) GetConversation(id string) (*models.Conversation, error) {
	row := s.db.QueryRow(
		`SELECT id, channel_id, assignee_id, peer_ref, created_at, updated_at
		 FROM conversations WHERE id = ?`,
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

func (s *SQLiteStore) UpsertConversation(conv *models.Conversation) error {
	now := time.Now()
	if conv.ID == "" {
		conv.ID = util.GenerateConversationID()
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now
	_, err := s.db.Exec(
		`INSERT INTO conversations (id, channel_id, assignee_id, peer_ref, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET channel_id = excluded.channel_id, assignee_id = excluded.assignee_id, peer_ref = excluded.peer_ref, updated_at = excluded.updated_at`,
		conv.ID, conv.ChannelID, nilIfEmpty(conv.AssigneeID), conv.PeerRef, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert conversation failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetAssignee(conversationID, assigneeID string) error {
	result, err := s.db.Exec(
		`UPDATE conversations SET assignee_id = ?, updated_at = ? WHERE id = ?`,
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

func (s *SQLiteStore) ListAssignments() (map[string]string, error) {
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
