/*
Package invoice owns the irreversible boundary of the financial engine:
promotion to READY_FOR_INVOICE, invoice assembly with snapshot locking,
and credit-note unlock.

KEY CONCEPTS IN THIS FILE (types.go):
  - Invoice: A DRAFT header aggregating locked snapshots for one client
  - Line: A denormalized mirror of one snapshot's buckets/rates/totals,
    or an expenses/mileage sub-amount, each with its own VAT breakdown
  - CreditNote: The reversal document - mirrored lines with negated
    monetary amounts (hours unchanged) so aggregates net to zero

LOCKING:
  Locking a snapshot to an invoice is irreversible except via a credit
  note. The lock is taken with a conditional update in the same logical
  step as the header totals; a shortfall means a concurrent lock or
  status change and rejects the operation.

SEE ALSO:
  - promote.go:    The READY_FOR_HR -> READY_FOR_INVOICE gate
  - assembler.go:  Invoice creation and locking
  - creditnote.go: Unlock, staleness, re-enqueue
*/
package invoice

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/timesheet-engine/engine"
)

// =============================================================================
// INVOICE
// =============================================================================

type Status string

const (
	StatusDraft Status = "DRAFT"
)

type Invoice struct {
	ID       engine.InvoiceID
	ClientID engine.ClientID
	Status   Status

	// VATPercent is the effective rate resolved at creation: the
	// client's policy default, or zero for a VAT-exempt client.
	VATPercent decimal.Decimal

	TotalChargeExVAT decimal.Decimal
	TotalVAT         decimal.Decimal
	TotalIncVAT      decimal.Decimal
	TotalPayExVAT    decimal.Decimal
	TotalMarginExVAT decimal.Decimal

	CreatedAt time.Time
}

// =============================================================================
// LINES
// =============================================================================

type LineKind string

const (
	LineHours    LineKind = "hours"
	LineExpenses LineKind = "expenses"
	LineMileage  LineKind = "mileage"
)

// Line belongs to either an invoice or a credit note (one of the two
// parent IDs is set). Hours lines mirror the snapshot's buckets and
// rates; expenses/mileage lines carry only amounts.
type Line struct {
	ID           string
	InvoiceID    engine.InvoiceID
	CreditNoteID engine.CreditNoteID
	TimesheetID  engine.TimesheetID
	Kind         LineKind

	Hours       engine.BucketSet
	PayRates    engine.BucketSet
	ChargeRates engine.BucketSet

	ChargeExVAT decimal.Decimal
	PayExVAT    decimal.Decimal
	MarginExVAT decimal.Decimal
	VATPercent  decimal.Decimal
	VATAmount   decimal.Decimal
}

// =============================================================================
// CREDIT NOTE
// =============================================================================

type CreditNote struct {
	ID        engine.CreditNoteID
	InvoiceID engine.InvoiceID
	Reason    string

	TotalChargeExVAT decimal.Decimal
	TotalVAT         decimal.Decimal
	TotalIncVAT      decimal.Decimal

	CreatedAt time.Time
}
