package store

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/openinbox/inboxd/internal/models"
)

// ClaimDueOutbox leases a batch of due entries using a single statement:
// the skip-locked select ignores rows already locked by a concurrent
// leaser instead of blocking, and the update flips status and increments
// attempts atomically with the lock. Multiple worker processes can run
// this concurrently without double-claiming a row and without any
// external lock service.
func (s *PostgresStore) ClaimDueOutbox(now time.Time, limit int) ([]models.OutboxEntry, error) {
	rows, err := s.db.Query(
		`UPDATE outbox_entries SET status = 'processing', attempts = attempts + 1, updated_at = $1
		 WHERE id IN (
		   SELECT id FROM outbox_entries WHERE status = 'pending' AND scheduled_at <= $1
		   ORDER BY scheduled_at ASC LIMIT $2
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, message_id, status, attempts, scheduled_at, last_error, created_at, updated_at`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due outbox entries failed: %w", err)
	}
	defer rows.Close()

	var entries []models.OutboxEntry
	for rows.Next() {
		e, err := scanOutboxEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim outbox iteration failed: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) MarkDelivered(entryID, messageID, externalMessageID string) error {
	now := time.Now()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delivered tx failed: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`UPDATE outbox_entries SET status = 'done', last_error = NULL, updated_at = $1 WHERE id = $2`,
		now, entryID,
	)
	if err != nil {
		return fmt.Errorf("mark outbox done failed: %w", err)
	}

	_, err = tx.Exec(
		`UPDATE messages SET delivery_status = 'sent', external_message_id = $1, updated_at = $2 WHERE id = $3`,
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

func (s *PostgresStore) RescheduleOutbox(entryID, errMsg string, nextAttempt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE outbox_entries SET status = 'pending', last_error = $1, scheduled_at = $2, updated_at = $3 WHERE id = $4`,
		errMsg, nextAttempt, time.Now(), entryID,
	)
	if err != nil {
		return fmt.Errorf("reschedule outbox entry failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkOutboxFailed(entryID, messageID, errMsg string) error {
	now := time.Now()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin failed tx failed: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`UPDATE outbox_entries SET status = 'failed', last_error = $1, updated_at = $2 WHERE id = $3`,
		errMsg, now, entryID,
	)
	if err != nil {
		return fmt.Errorf("mark outbox failed failed: %w", err)
	}

	if messageID != "" {
		_, err = tx.Exec(
			`UPDATE messages SET delivery_status = 'failed', updated_at = $1 WHERE id = $2`,
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

func (s *PostgresStore) CountRecentFailures(since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM outbox_entries WHERE status = 'failed' AND updated_at >= $1`,
		since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent failures failed: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) RequeueStaleProcessing(staleBefore time.Time) (int, error) {
	result, err := s.db.Exec(
		`UPDATE outbox_entries SET status = 'pending', updated_at = $1 WHERE status = 'processing' AND updated_at < $2`,
		time.Now(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale processing entries failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("PostgresStore.RequeueStaleProcessing", "requeued", n)
	}
	return int(n), nil
}
