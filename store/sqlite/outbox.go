/*
outbox.go - SQLite-backed durable recomputation queue

PURPOSE:
  Implements outbox.Queue. Entries are deduplicated per
  (timesheet_id, reason): re-enqueueing a live cause resets its schedule
  instead of inserting a second row.

LEASING:
  Lease selects due entries and stamps lease_expires_at inside one
  transaction under the write mutex, so two workers never lease the same
  entry. An expired lease makes the entry visible again; nothing is
  permanently stuck to a crashed worker.

SEE ALSO:
  - outbox/outbox.go: Queue contract and backoff schedule
  - outbox/worker.go: The drain loop consuming this queue
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/outbox"
)

// Enqueue records that a timesheet needs recomputation for the given
// reason. An existing live entry for the same cause is rescheduled to
// run immediately with its lease cleared.
func (s *Store) Enqueue(ctx context.Context, id engine.TimesheetID, reason outbox.Reason) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO outbox
		(id, timesheet_id, reason, attempt_count, next_attempt_at, lease_expires_at, last_error, created_at)
		VALUES (?, ?, ?, 0, ?, NULL, '', ?)
		ON CONFLICT(timesheet_id, reason) DO UPDATE SET
			next_attempt_at = excluded.next_attempt_at,
			lease_expires_at = NULL,
			last_error = ''
	`
	_, err := s.db.ExecContext(ctx, query, uuid.NewString(), id, reason, now, now)
	if err != nil {
		return fmt.Errorf("failed to enqueue: %w", err)
	}
	return nil
}

// Lease claims up to limit due entries for leaseFor, oldest first.
func (s *Store) Lease(ctx context.Context, limit int, leaseFor time.Duration, now time.Time) ([]outbox.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	nowStr := now.UTC().Format(time.RFC3339)
	rows, err := tx.QueryContext(ctx, `
		SELECT id, timesheet_id, reason, attempt_count, next_attempt_at, lease_expires_at, last_error, created_at
		FROM outbox
		WHERE next_attempt_at <= ?
		  AND (lease_expires_at IS NULL OR lease_expires_at <= ?)
		ORDER BY created_at ASC
		LIMIT ?`, nowStr, nowStr, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due entries: %w", err)
	}

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	until := now.Add(leaseFor)
	for i := range entries {
		_, err := tx.ExecContext(ctx,
			"UPDATE outbox SET lease_expires_at = ? WHERE id = ?",
			until.UTC().Format(time.RFC3339), entries[i].ID)
		if err != nil {
			return nil, fmt.Errorf("failed to lease entry: %w", err)
		}
		u := until
		entries[i].LeaseExpiresAt = &u
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit lease: %w", err)
	}
	return entries, nil
}

// AckSuccess deletes a completed entry.
func (s *Store) AckSuccess(ctx context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM outbox WHERE id = ?", entryID)
	if err != nil {
		return fmt.Errorf("failed to ack entry: %w", err)
	}
	return nil
}

// AckFailure records a failed attempt and reschedules the entry.
func (s *Store) AckFailure(ctx context.Context, entryID string, attemptCount int, nextAttemptAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET
			attempt_count = ?,
			next_attempt_at = ?,
			lease_expires_at = NULL,
			last_error = ?
		WHERE id = ?`,
		attemptCount, nextAttemptAt.UTC().Format(time.RFC3339), lastError, entryID)
	if err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	return nil
}

// Pending lists all live entries, soonest first.
func (s *Store) Pending(ctx context.Context) ([]outbox.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timesheet_id, reason, attempt_count, next_attempt_at, lease_expires_at, last_error, created_at
		FROM outbox ORDER BY next_attempt_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending entries: %w", err)
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]outbox.Entry, error) {
	defer rows.Close()

	var entries []outbox.Entry
	for rows.Next() {
		var (
			e                        outbox.Entry
			nextAttemptAt, createdAt string
			leaseExpiresAt           sql.NullString
		)
		err := rows.Scan(&e.ID, &e.TimesheetID, &e.Reason, &e.AttemptCount,
			&nextAttemptAt, &leaseExpiresAt, &e.LastError, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox entry: %w", err)
		}
		e.NextAttemptAt = parseTime(nextAttemptAt)
		e.LeaseExpiresAt = parseTimePtr(leaseExpiresAt)
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
