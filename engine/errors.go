/*
errors.go - Centralized error types for the financial engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Higher layers wrap these with additional context.

ERROR CATEGORIES:
  1. Write conflicts - conditional updates that affected zero rows
  2. Lock violations - attempts to overwrite an invoice-locked snapshot
  3. Invariant violations - rejected outright with no partial effects
  4. Missing records - lookups that found nothing

Resolution gaps (missing candidate/client/rate/pay-channel) are NOT
errors: they are encoded in ProcessingStatus. See status.go.

USAGE:
  if errors.Is(err, engine.ErrSnapshotLocked) { ... }

  var locked *engine.LockedError
  if errors.As(err, &locked) { ... locked.InvoiceID ... }
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrSnapshotLocked is returned when a write would overwrite a current
	// snapshot that is lock-held by an invoice. Fatal for that work item;
	// only a credit note can release the lock.
	ErrSnapshotLocked = errors.New("snapshot locked by invoice")

	// ErrConflict is returned when a conditional update affected fewer
	// rows than expected: a concurrent lock or status change occurred.
	ErrConflict = errors.New("concurrent modification detected")

	// ErrClientMismatch is returned when an invoice request spans more
	// than one client. The whole operation is rejected.
	ErrClientMismatch = errors.New("timesheets span multiple clients")

	// ErrNotEligible is returned when a snapshot fails an invoice
	// precondition (not current, not unlocked, or wrong status).
	ErrNotEligible = errors.New("snapshot not eligible")

	// ErrTimesheetNotFound is returned when the source timesheet is gone.
	ErrTimesheetNotFound = errors.New("timesheet not found")

	// ErrNoCurrentSnapshot is returned when an operation requires a
	// current snapshot and none exists.
	ErrNoCurrentSnapshot = errors.New("no current snapshot")

	// ErrInvoiceNotFound is returned when a referenced invoice is absent.
	ErrInvoiceNotFound = errors.New("invoice not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// LockedError identifies which invoice holds the lock that blocked a write.
type LockedError struct {
	TimesheetID TimesheetID
	InvoiceID   InvoiceID
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("snapshot for timesheet %s is locked by invoice %s", e.TimesheetID, e.InvoiceID)
}

func (e *LockedError) Unwrap() error { return ErrSnapshotLocked }

// ConflictError reports a conditional write that fell short.
type ConflictError struct {
	Op       string
	Expected int
	Affected int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: expected %d rows, affected %d", e.Op, e.Expected, e.Affected)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// EligibilityError names the timesheet and reason an invoice request was
// rejected for.
type EligibilityError struct {
	TimesheetID TimesheetID
	Reason      string
}

func (e *EligibilityError) Error() string {
	return fmt.Sprintf("timesheet %s not eligible: %s", e.TimesheetID, e.Reason)
}

func (e *EligibilityError) Unwrap() error { return ErrNotEligible }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConflict reports whether the error is a write conflict (including
// lock violations), i.e. detected via a zero-rows-affected conditional
// update rather than guessed.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrSnapshotLocked)
}

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTimesheetNotFound) ||
		errors.Is(err, ErrNoCurrentSnapshot) ||
		errors.Is(err, ErrInvoiceNotFound)
}
