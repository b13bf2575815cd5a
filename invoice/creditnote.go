/*
creditnote.go - Credit-note unlock

PURPOSE:
  A credit note is the only way to release invoice-locked snapshots.
  It mirrors the original lines with negated monetary amounts (hours
  unchanged) so aggregate reporting nets to zero, unlocks every snapshot
  locked to the invoice, marks each stale, and re-enqueues each for
  recomputation.
*/
package invoice

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/outbox"
)

// Unlocker reverses invoice locks via credit notes.
type Unlocker struct {
	Store Store
	Queue outbox.Queue
	now   func() time.Time
}

func NewUnlocker(store Store, queue outbox.Queue) *Unlocker {
	return &Unlocker{Store: store, Queue: queue, now: time.Now}
}

// CreditNoteResult reports the created note and the released timesheets.
type CreditNoteResult struct {
	CreditNote CreditNote
	Lines      []Line
	Unlocked   []engine.TimesheetID
}

// CreditInvoice raises a credit note against an invoice, unlocks its
// snapshots, flags them stale, and enqueues each for recompute.
func (u *Unlocker) CreditInvoice(ctx context.Context, invoiceID engine.InvoiceID, reason string) (*CreditNoteResult, error) {
	inv, lines, err := u.Store.Invoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	cn := CreditNote{
		ID:               engine.CreditNoteID(uuid.NewString()),
		InvoiceID:        inv.ID,
		Reason:           reason,
		TotalChargeExVAT: inv.TotalChargeExVAT.Neg(),
		TotalVAT:         inv.TotalVAT.Neg(),
		TotalIncVAT:      inv.TotalIncVAT.Neg(),
		CreatedAt:        u.now().UTC(),
	}

	cnLines := make([]Line, 0, len(lines))
	for _, l := range lines {
		cnLines = append(cnLines, Line{
			ID:           uuid.NewString(),
			CreditNoteID: cn.ID,
			TimesheetID:  l.TimesheetID,
			Kind:         l.Kind,
			Hours:        l.Hours, // hours stay positive; only money negates
			PayRates:     l.PayRates,
			ChargeRates:  l.ChargeRates,
			ChargeExVAT:  l.ChargeExVAT.Neg(),
			PayExVAT:     l.PayExVAT.Neg(),
			MarginExVAT:  l.MarginExVAT.Neg(),
			VATPercent:   l.VATPercent,
			VATAmount:    l.VATAmount.Neg(),
		})
	}

	if err := u.Store.CreateCreditNote(ctx, cn, cnLines); err != nil {
		return nil, err
	}

	staleReason := "credit note " + string(cn.ID)
	unlocked, err := u.Store.UnlockByInvoice(ctx, inv.ID, staleReason)
	if err != nil {
		return nil, err
	}

	for _, id := range unlocked {
		if err := u.Queue.Enqueue(ctx, id, outbox.ReasonVersionRotated); err != nil {
			// The snapshot is already stale; a missed enqueue is
			// recoverable via the manual endpoint.
			log.Printf("[CreditNote] enqueue failed for %s: %v", id, err)
		}
	}

	return &CreditNoteResult{CreditNote: cn, Lines: cnLines, Unlocked: unlocked}, nil
}
