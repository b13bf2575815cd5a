/*
store.go - Persistence contract for promotion, locking, and credit notes

All mutations here are conditional: they are scoped by the expected
prior state and report a conflict when the affected-row count falls
short, never a silent partial result.
*/
package invoice

import (
	"context"

	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/financials"
)

type Store interface {
	// PromoteSnapshots conditionally promotes the given timesheets'
	// current snapshots from READY_FOR_HR to READY_FOR_INVOICE, scoped to
	// rows that are still READY_FOR_HR and unlocked. Returns the IDs
	// actually promoted.
	PromoteSnapshots(ctx context.Context, ids []engine.TimesheetID) ([]engine.TimesheetID, error)

	// CreateInvoice persists the header and lines and, in the same
	// transaction, locks the billed snapshots - conditioned on them
	// still being current, unlocked, and READY_FOR_INVOICE. If the lock
	// affects fewer rows than expected the whole transaction is rolled
	// back and a ConflictError returned: no partial invoice.
	CreateInvoice(ctx context.Context, inv Invoice, lines []Line) error

	// Invoice loads a header with its lines; engine.ErrInvoiceNotFound
	// if absent.
	Invoice(ctx context.Context, id engine.InvoiceID) (*Invoice, []Line, error)

	// ListInvoices returns all headers, newest first.
	ListInvoices(ctx context.Context) ([]Invoice, error)

	// SnapshotsLockedBy returns every snapshot locked to an invoice.
	SnapshotsLockedBy(ctx context.Context, id engine.InvoiceID) ([]financials.Snapshot, error)

	// CreateCreditNote persists a credit-note header and its lines.
	CreateCreditNote(ctx context.Context, cn CreditNote, lines []Line) error

	// CreditNotesForInvoice lists credit notes raised against an invoice.
	CreditNotesForInvoice(ctx context.Context, id engine.InvoiceID) ([]CreditNote, error)

	// UnlockByInvoice releases every snapshot locked to the invoice,
	// marking each stale with the given reason. Returns the affected
	// timesheet IDs.
	UnlockByInvoice(ctx context.Context, id engine.InvoiceID, staleReason string) ([]engine.TimesheetID, error)
}
