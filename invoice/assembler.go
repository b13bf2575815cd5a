/*
assembler.go - Invoice assembly and snapshot locking

PURPOSE:
  Builds an invoice for a set of timesheets and atomically locks their
  snapshots. Preconditions: every referenced snapshot must be current,
  unlocked, and READY_FOR_INVOICE, and all must share exactly one
  client - otherwise the whole operation is rejected with no partial
  side effects.

STEPS:
  1. Resolve the client's effective VAT rate (0 when VAT-exempt)
  2. Create a DRAFT header with zeroed totals
  3. Emit an hours line per snapshot, plus conditional expenses and
     mileage lines, each with its own pay/charge/margin/VAT breakdown
  4. Sum line totals into the header
  5. Persist header + lines + conditional lock in one transaction;
     a lock shortfall rejects the operation as a conflict
*/
package invoice

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/financials"
)

// Assembler creates invoices.
type Assembler struct {
	Stores financials.Stores
	Store  Store
	now    func() time.Time
}

func NewAssembler(stores financials.Stores, store Store) *Assembler {
	return &Assembler{Stores: stores, Store: store, now: time.Now}
}

// CreateInvoice assembles and persists an invoice for the given
// timesheets, locking their snapshots. Returns the stored header and
// lines on success.
func (a *Assembler) CreateInvoice(ctx context.Context, ids []engine.TimesheetID) (*Invoice, []Line, error) {
	if len(ids) == 0 {
		return nil, nil, &engine.EligibilityError{Reason: "no timesheets requested"}
	}

	snaps, err := a.loadEligible(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	clientID := snaps[0].ClientID
	for _, s := range snaps {
		if s.ClientID != clientID {
			return nil, nil, engine.ErrClientMismatch
		}
	}

	vat, err := a.effectiveVAT(ctx, clientID)
	if err != nil {
		return nil, nil, err
	}

	inv := Invoice{
		ID:         engine.InvoiceID(uuid.NewString()),
		ClientID:   clientID,
		Status:     StatusDraft,
		VATPercent: vat,
		CreatedAt:  a.now().UTC(),
	}

	var lines []Line
	for i := range snaps {
		lines = append(lines, buildLines(inv.ID, &snaps[i], vat)...)
	}
	for _, l := range lines {
		inv.TotalChargeExVAT = inv.TotalChargeExVAT.Add(l.ChargeExVAT)
		inv.TotalVAT = inv.TotalVAT.Add(l.VATAmount)
		inv.TotalPayExVAT = inv.TotalPayExVAT.Add(l.PayExVAT)
		inv.TotalMarginExVAT = inv.TotalMarginExVAT.Add(l.MarginExVAT)
	}
	inv.TotalIncVAT = inv.TotalChargeExVAT.Add(inv.TotalVAT)

	if err := a.Store.CreateInvoice(ctx, inv, lines); err != nil {
		return nil, nil, err
	}
	return &inv, lines, nil
}

// loadEligible loads the current snapshots and verifies the per-row
// invoice preconditions, rejecting the whole request on the first
// failure (before any row is written).
func (a *Assembler) loadEligible(ctx context.Context, ids []engine.TimesheetID) ([]financials.Snapshot, error) {
	snaps := make([]financials.Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := a.Stores.CurrentSnapshot(ctx, id)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			return nil, &engine.EligibilityError{TimesheetID: id, Reason: "no current snapshot"}
		}
		if snap.Locked() {
			return nil, &engine.EligibilityError{TimesheetID: id, Reason: "already locked"}
		}
		if snap.Status != engine.StatusReadyForInvoice {
			return nil, &engine.EligibilityError{TimesheetID: id, Reason: "not ready for invoice"}
		}
		snaps = append(snaps, *snap)
	}
	return snaps, nil
}

// effectiveVAT resolves the client's VAT rate: the policy default, or
// zero for a VAT-exempt client.
func (a *Assembler) effectiveVAT(ctx context.Context, clientID engine.ClientID) (decimal.Decimal, error) {
	client, err := a.Stores.Client(ctx, clientID)
	if err != nil {
		return decimal.Zero, err
	}
	if client != nil && client.VATExempt {
		return decimal.Zero, nil
	}
	policy, err := a.Stores.DefaultPolicy(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	overrides, err := a.Stores.PolicyOverrides(ctx, clientID)
	if err != nil {
		return decimal.Zero, err
	}
	resolved := engine.ResolvePolicy(policy, overrides, a.now().UTC())
	return resolved.VATPercent, nil
}

// buildLines emits the hours line and conditional expenses/mileage lines
// for one snapshot.
func buildLines(invID engine.InvoiceID, snap *financials.Snapshot, vat decimal.Decimal) []Line {
	lines := []Line{{
		ID:          uuid.NewString(),
		InvoiceID:   invID,
		TimesheetID: snap.TimesheetID,
		Kind:        LineHours,
		Hours:       snap.Hours,
		PayRates:    snap.PayRates,
		ChargeRates: snap.ChargeRates,
		ChargeExVAT: snap.TotalChargeExVAT,
		PayExVAT:    snap.TotalPayExVAT,
		MarginExVAT: snap.MarginExVAT,
		VATPercent:  vat,
		VATAmount:   engine.RoundMoney(snap.TotalChargeExVAT.Mul(engine.Percent(vat))),
	}}

	if snap.ExpensesCharge.IsPositive() {
		lines = append(lines, amountLine(invID, snap.TimesheetID, LineExpenses, snap.ExpensesCharge, snap.ExpensesPay, vat))
	}
	if snap.MileageCharge.IsPositive() {
		lines = append(lines, amountLine(invID, snap.TimesheetID, LineMileage, snap.MileageCharge, snap.MileagePay, vat))
	}
	return lines
}

func amountLine(invID engine.InvoiceID, tsID engine.TimesheetID, kind LineKind, charge, pay, vat decimal.Decimal) Line {
	return Line{
		ID:          uuid.NewString(),
		InvoiceID:   invID,
		TimesheetID: tsID,
		Kind:        kind,
		ChargeExVAT: charge,
		PayExVAT:    pay,
		MarginExVAT: engine.RoundMoney(charge.Sub(pay)),
		VATPercent:  vat,
		VATAmount:   engine.RoundMoney(charge.Mul(engine.Percent(vat))),
	}
}
