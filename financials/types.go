/*
Package financials assembles and maintains financial snapshots for
authorised timesheets.

PURPOSE:
  This is the orchestration layer over the pure engine package: it reads
  the timesheet and its collaborators (candidate, client, umbrella,
  policy, rates), runs classification and resolution, and persists the
  result as the new current snapshot under the locking protocol.

KEY CONCEPTS IN THIS FILE (types.go):
  - Timesheet: The external, read-only authorised shift record
  - Candidate/Client/Umbrella: Read-only collaborator records
  - Snapshot: The central entity - a versioned, point-in-time computed
    financial record for one timesheet version

SNAPSHOT LIFECYCLE:
  Snapshots are never deleted. A recompute inserts a new current row and
  flips the previous one to non-current. A row locked to an invoice
  cannot be overwritten; only a credit note releases it.

SEE ALSO:
  - store.go:  Persistence interfaces
  - writer.go: Recompute orchestration and the write protocol
*/
package financials

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/timesheet-engine/engine"
)

// =============================================================================
// EXTERNAL READ MODELS
// =============================================================================

// Timesheet is the authorised shift record this engine consumes. It is
// read-only here; a revoked timesheet is exposed as IsCurrent=false with
// no successor version.
type Timesheet struct {
	ID        engine.TimesheetID
	Version   int
	IsCurrent bool

	OccupantKey string
	Hospital    string
	Ward        string
	Role        string

	WorkedStart  time.Time
	WorkedEnd    time.Time
	BreakStart   *time.Time
	BreakEnd     *time.Time
	BreakMinutes int

	// Receipted-expense and mileage charge amounts entered with the
	// shift. Positive amounts require stored evidence before promotion.
	ExpensesAmount decimal.Decimal
	MileageAmount  decimal.Decimal

	AuthorisedAt time.Time
}

// Candidate is the worker occupying the shift.
type Candidate struct {
	ID          engine.CandidateID
	OccupantKey string
	Name        string
	Band        string
	PayMethod   engine.PayMethod
	Bank        engine.BankDetails
	UmbrellaID  *engine.UmbrellaID
}

// Client is the billed organisation. Hospitals map to clients in the store.
type Client struct {
	ID        engine.ClientID
	Name      string
	VATExempt bool
}

// Umbrella is an umbrella company candidates may be paid through.
type Umbrella struct {
	ID   engine.UmbrellaID
	Name string
	Bank engine.BankDetails
}

// Validation is the latest HR/authoriser verdict for a timesheet.
type Validation struct {
	TimesheetID engine.TimesheetID
	Status      string // "validated", "overridden", "rejected", "pending"
	At          time.Time
}

const (
	ValidationValidated  = "validated"
	ValidationOverridden = "overridden"
)

// Evidence kinds checked before promotion.
const (
	EvidenceExpenses = "expenses"
	EvidenceMileage  = "mileage"
)

// =============================================================================
// SNAPSHOT - The central entity
// =============================================================================

// Snapshot is one computed financial record for one timesheet version.
// At most one row per timesheet has IsCurrent=true.
type Snapshot struct {
	ID               string
	TimesheetID      engine.TimesheetID
	TimesheetVersion int

	// Resolved context. Zero values mean "unresolved" and are reflected
	// in Status.
	CandidateID engine.CandidateID
	ClientID    engine.ClientID
	Role        string
	Band        string
	PayMethod   engine.PayMethod

	Hours       engine.BucketSet
	PayRates    engine.BucketSet
	ChargeRates engine.BucketSet
	RateSource  engine.RateSource

	TotalPayExVAT    decimal.Decimal
	TotalChargeExVAT decimal.Decimal
	MarginExVAT      decimal.Decimal

	// Receipted-expense and mileage sub-amounts (pay and charge sides).
	ExpensesPay    decimal.Decimal
	ExpensesCharge decimal.Decimal
	MileagePay     decimal.Decimal
	MileageCharge  decimal.Decimal

	Status      engine.ProcessingStatus
	IsCurrent   bool
	IsStale     bool
	StaleReason string

	LockedByInvoiceID *engine.InvoiceID
	LockedAtUTC       *time.Time

	ComputedAt time.Time
}

// Locked reports whether the snapshot is lock-held by an invoice.
func (s *Snapshot) Locked() bool { return s.LockedByInvoiceID != nil }
