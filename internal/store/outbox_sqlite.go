package store

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/openinbox/inboxd/internal/models"
)

// ClaimDueOutbox leases due entries with a select-then-update inside a
// single transaction. SQLite has no skip-locked read; this is safe for
// exactly one worker process, which is the backend's supported deployment.
func (s *SQLiteStore) ClaimDueOutbox(now time.Time, limit int) ([]models.OutboxEntry, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin claim tx failed: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT id, message_id, status, attempts, scheduled_at, last_error, created_at, updated_at
		 FROM outbox_entries WHERE status = 'pending' AND scheduled_at <= ?
		 ORDER BY scheduled_at ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due outbox entries failed: %w", err)
	}

	var entries []models.OutboxEntry
	for rows.Next() {
		e, err := scanOutboxEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("claim outbox iteration failed: %w", err)
	}
	rows.Close()

	for i := range entries {
		_, err := tx.Exec(
			`UPDATE outbox_entries SET status = 'processing', attempts = attempts + 1, updated_at = ? WHERE id = ?`,
			now, entries[i].ID,
		)
		if err != nil {
			return nil, fmt.Errorf("mark outbox processing failed: %w", err)
		}
		entries[i].Status = models.OutboxStatusProcessing
		entries[i].Attempts++
		entries[i].UpdatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim tx failed: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) MarkDelivered(entryID, messageID, externalMessageID string) error {
	now := time.Now()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delivered tx failed: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`UPDATE outbox_entries SET status = 'done', last_error = NULL, updated_at = ? WHERE id = ?`,
		now, entryID,
	)
	if err != nil {
		return fmt.Errorf("mark outbox done failed: %w", err)
	}

	_, err = tx.Exec(
		`UPDATE messages SET delivery_status = 'sent', external_message_id = ?, updated_at = ? WHERE id = ?`,
		nilIfEmpty(externalMessageID), now, messageID,
	)
	if err != nil {
		return fmt.Errorf("mark message sent failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delivered tx failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RescheduleOutbox(entryID, errMsg string, nextAttempt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE outbox_entries SET status = 'pending', last_error = ?, scheduled_at = ?, updated_at = ? WHERE id = ?`,
		errMsg, nextAttempt, time.Now(), entryID,
	)
	if err != nil {
		return fmt.Errorf("reschedule outbox entry failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkOutboxFailed(entryID, messageID, errMsg string) error {
	now := time.Now()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin failed tx failed: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`UPDATE outbox_entries SET status = 'failed', last_error = ?, updated_at = ? WHERE id = ?`,
		errMsg, now, entryID,
	)
	if err != nil {
		return fmt.Errorf("mark outbox failed failed: %w", err)
	}

	if messageID != "" {
		_, err = tx.Exec(
			`UPDATE messages SET delivery_status = 'failed', updated_at = ? WHERE id = ?`,
			now, messageID,
		)
		if err != nil {
			return fmt.Errorf("mark message failed failed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed tx failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountRecentFailures(since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM outbox_entries WHERE status = 'failed' AND updated_at >= ?`,
		since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent failures failed: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) RequeueStaleProcessing(staleBefore time.Time) (int, error) {
	result, err := s.db.Exec(
		`UPDATE outbox_entries SET status = 'pending', updated_at = ? WHERE status = 'processing' AND updated_at < ?`,
		time.Now(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale processing entries failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("SQLiteStore.RequeueStaleProcessing", "requeued", n)
	}
	return int(n), nil
}
