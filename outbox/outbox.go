/*
Package outbox implements the at-least-once recomputation work queue.

PURPOSE:
  Upstream events (timesheet authorisation, rate/policy edits, credit
  notes, manual requests) enqueue pending-work entries keyed by
  (timesheet_id, reason). A worker leases bounded batches, recomputes
  each timesheet's financials, and acknowledges success or failure
  per item.

QUEUE-AS-TABLE WITH LEASING:
  The queue is a table, not a broker. Dequeue must atomically
  select-and-mark a batch so two worker instances never double-process
  the same entry; a leased entry not acknowledged within its lease
  window becomes eligible for re-lease. Reprocessing is harmless because
  recompute always rebuilds from current inputs.

DEDUPLICATION:
  (timesheet_id, reason) is unique. Re-enqueueing an existing pair
  resets its schedule and clears the recorded error - only the most
  recent enqueue per reason is guaranteed to run.

SEE ALSO:
  - worker.go: The drain loop
  - store/sqlite/outbox.go: Atomic lease implementation
*/
package outbox

import (
	"context"
	"time"

	"github.com/warp/timesheet-engine/engine"
)

// =============================================================================
// REASONS
// =============================================================================

type Reason string

const (
	ReasonNewAuthorised  Reason = "new-authorised"
	ReasonVersionRotated Reason = "version-rotated"
	ReasonRevoked        Reason = "revoked"
	ReasonRateChanged    Reason = "rate-changed"
	ReasonPolicyChanged  Reason = "policy-changed"
	ReasonContextChanged Reason = "context-changed"
	ReasonManual         Reason = "manual"
)

// =============================================================================
// ENTRY
// =============================================================================

// Entry is one pending recomputation request.
type Entry struct {
	ID             string
	TimesheetID    engine.TimesheetID
	Reason         Reason
	AttemptCount   int
	NextAttemptAt  time.Time
	LeaseExpiresAt *time.Time
	LastError      string
	CreatedAt      time.Time
}

// =============================================================================
// QUEUE
// =============================================================================

// Queue is the persistence contract for outbox entries.
type Queue interface {
	// Enqueue inserts or refreshes the (timesheet, reason) entry. An
	// existing entry has its schedule reset and error cleared.
	Enqueue(ctx context.Context, id engine.TimesheetID, reason Reason) error

	// Lease atomically claims up to limit due entries (next_attempt_at
	// <= now, lease absent or expired) for leaseFor. Two concurrent
	// callers never receive the same entry.
	Lease(ctx context.Context, limit int, leaseFor time.Duration, now time.Time) ([]Entry, error)

	// AckSuccess deletes a processed entry.
	AckSuccess(ctx context.Context, entryID string) error

	// AckFailure records the error and reschedules the entry, releasing
	// the lease.
	AckFailure(ctx context.Context, entryID string, attemptCount int, nextAttemptAt time.Time, lastError string) error

	// Pending lists all entries, soonest first (for inspection).
	Pending(ctx context.Context) ([]Entry, error)
}

// =============================================================================
// BACKOFF
// =============================================================================

const (
	backoffBase = 30 * time.Second
	backoffCap  = time.Hour
)

// Backoff returns the retry delay after the given number of completed
// attempts: 30s doubling per attempt, capped at an hour. There is no
// attempt limit - recompute is idempotent, so items retry until the
// underlying condition clears.
func Backoff(attemptCount int) time.Duration {
	d := backoffBase
	for i := 1; i < attemptCount; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	if d > backoffCap {
		return backoffCap
	}
	return d
}
