/*
writer.go - Snapshot recompute orchestration and write protocol

PURPOSE:
  Drives one full recompute for one timesheet: load the source record,
  resolve candidate/client/policy/rates/pay-channel, classify hours,
  compute totals and status, and persist the result as the new current
  snapshot. Everything is recomputed from current inputs on every run -
  never patched incrementally - which is what makes reprocessing
  idempotent and retries safe.

WRITE PROTOCOL:
  The store's ReplaceCurrent/RetireCurrent enforce the lock invariant:
  a current row lock-held by an invoice cannot be overwritten, and the
  attempt fails loudly with engine.ErrSnapshotLocked rather than being
  silently skipped.

REVOKED SOURCES:
  A timesheet exposed as IsCurrent=false with no successor retires the
  current snapshot with no replacement - a terminal state for that
  version.

SEE ALSO:
  - outbox/worker.go: Calls Recompute for each leased entry
  - engine/:          The pure algorithms this orchestrates
*/
package financials

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/timesheet-engine/engine"
)

// Writer performs recomputes against a set of stores.
type Writer struct {
	stores Stores
	now    func() time.Time
}

func NewWriter(stores Stores) *Writer {
	return &Writer{stores: stores, now: time.Now}
}

// NewWriterWithClock is used by tests that need a fixed clock.
func NewWriterWithClock(stores Stores, now func() time.Time) *Writer {
	return &Writer{stores: stores, now: now}
}

// RecomputeResult reports what one recompute did.
type RecomputeResult struct {
	// Snapshot is the newly written current snapshot, nil when Retired.
	Snapshot *Snapshot
	// Retired is true when the source was revoked and the current row
	// was flipped to non-current with no replacement.
	Retired bool
}

// Recompute runs the full pipeline for one timesheet.
func (w *Writer) Recompute(ctx context.Context, id engine.TimesheetID) (*RecomputeResult, error) {
	ts, err := w.stores.Timesheet(ctx, id)
	if err != nil {
		return nil, err
	}
	if ts == nil {
		return nil, engine.ErrTimesheetNotFound
	}

	if !ts.IsCurrent {
		if err := w.stores.RetireCurrent(ctx, id); err != nil {
			return nil, err
		}
		return &RecomputeResult{Retired: true}, nil
	}

	snap, err := w.build(ctx, ts)
	if err != nil {
		return nil, err
	}

	if err := w.stores.ReplaceCurrent(ctx, *snap); err != nil {
		return nil, err
	}
	return &RecomputeResult{Snapshot: snap}, nil
}

// build assembles the snapshot without persisting it.
func (w *Writer) build(ctx context.Context, ts *Timesheet) (*Snapshot, error) {
	snap := &Snapshot{
		ID:               uuid.NewString(),
		TimesheetID:      ts.ID,
		TimesheetVersion: ts.Version,
		Role:             ts.Role,
		IsCurrent:        true,
		ComputedAt:       w.now().UTC(),
	}

	candidate, err := w.stores.CandidateByOccupant(ctx, ts.OccupantKey)
	if err != nil {
		return nil, err
	}
	client, err := w.stores.ClientByHospital(ctx, ts.Hospital)
	if err != nil {
		return nil, err
	}

	// Policy resolves even for an unknown client: the global default.
	policy, err := w.stores.DefaultPolicy(ctx)
	if err != nil {
		return nil, err
	}
	refDate := ts.WorkedStart.Add(engine.LondonOffset(ts.WorkedStart)).UTC()
	if client != nil {
		overrides, err := w.stores.PolicyOverrides(ctx, client.ID)
		if err != nil {
			return nil, err
		}
		policy = engine.ResolvePolicy(policy, overrides, refDate)
	}

	snap.Hours = engine.ClassifyShift(ts.WorkedStart, ts.WorkedEnd, ts.BreakStart, ts.BreakEnd, ts.BreakMinutes, policy)

	statusIn := engine.StatusInput{
		CandidateResolved: candidate != nil,
		ClientResolved:    client != nil,
	}

	rates := engine.ResolvedRates{Source: engine.RateSourceNone}
	if candidate != nil {
		snap.CandidateID = candidate.ID
		snap.Band = candidate.Band
		snap.PayMethod = candidate.PayMethod
		statusIn.PayMethod = candidate.PayMethod
		statusIn.HasUmbrellaLink = candidate.UmbrellaID != nil
	}
	if client != nil {
		snap.ClientID = client.ID
	}

	if candidate != nil && client != nil {
		overrides, err := w.stores.CandidateRates(ctx, candidate.ID)
		if err != nil {
			return nil, err
		}
		defaults, err := w.stores.ClientRates(ctx, client.ID)
		if err != nil {
			return nil, err
		}
		candID := candidate.ID
		rates = engine.ResolveRates(engine.RateQuery{
			CandidateID: &candID,
			ClientID:    client.ID,
			Role:        ts.Role,
			Band:        candidate.Band,
			Date:        refDate,
		}, overrides, defaults)
	}
	statusIn.MissingRates = engine.MissingRateBuckets(snap.Hours, rates)

	snap.RateSource = rates.Source
	if rates.Pay != nil {
		snap.PayRates = *rates.Pay
	}
	if rates.Charge != nil {
		snap.ChargeRates = *rates.Charge
	}

	w.computeTotals(snap, ts, policy)
	snap.Status = engine.ComputeStatus(statusIn)
	return snap, nil
}

// computeTotals fills the monetary fields. Expenses and mileage pass
// through at zero margin; the holiday-pay and employer-NI on-costs apply
// to the pay side of the policy's on-cost channel when deriving margin.
func (w *Writer) computeTotals(snap *Snapshot, ts *Timesheet, policy engine.Policy) {
	snap.TotalPayExVAT = engine.RoundMoney(snap.Hours.Dot(snap.PayRates))
	snap.TotalChargeExVAT = engine.RoundMoney(snap.Hours.Dot(snap.ChargeRates))

	payCost := snap.TotalPayExVAT
	if snap.PayMethod == policy.OnCostChannel {
		onCost := engine.Percent(policy.HolidayPayPercent).Add(engine.Percent(policy.ERNIPercent))
		payCost = payCost.Mul(decimal.NewFromInt(1).Add(onCost))
	}
	snap.MarginExVAT = engine.RoundMoney(snap.TotalChargeExVAT.Sub(payCost))

	snap.ExpensesPay = ts.ExpensesAmount
	snap.ExpensesCharge = ts.ExpensesAmount
	snap.MileagePay = ts.MileageAmount
	snap.MileageCharge = ts.MileageAmount
}

// PayChannel resolves the bank destination for a timesheet's current
// context. Used by promotion gating and exposed over the API.
func (w *Writer) PayChannel(ctx context.Context, candidate *Candidate) (engine.PayChannel, error) {
	if candidate == nil {
		return engine.PayChannel{Missing: []string{"candidate"}}, nil
	}
	var umbrella engine.BankDetails
	hasUmbrella := candidate.UmbrellaID != nil
	if hasUmbrella {
		u, err := w.stores.Umbrella(ctx, *candidate.UmbrellaID)
		if err != nil {
			return engine.PayChannel{}, err
		}
		if u == nil {
			hasUmbrella = false
		} else {
			umbrella = u.Bank
		}
	}
	return engine.ResolvePayChannel(candidate.PayMethod, candidate.Bank, hasUmbrella, umbrella), nil
}
