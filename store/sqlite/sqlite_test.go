package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/financials"
	"github.com/warp/timesheet-engine/invoice"
	"github.com/warp/timesheet-engine/outbox"
	"github.com/warp/timesheet-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func flat(v string) engine.BucketSet {
	d := dec(v)
	var s engine.BucketSet
	for _, b := range engine.Buckets {
		s.Set(b, d)
	}
	return s
}

func sampleTimesheet(id engine.TimesheetID) financials.Timesheet {
	return financials.Timesheet{
		ID:             id,
		Version:        1,
		IsCurrent:      true,
		OccupantKey:    "occ-1",
		Hospital:       "St Mary's",
		Ward:           "A&E",
		Role:           "nurse",
		WorkedStart:    time.Date(2025, time.June, 10, 8, 0, 0, 0, time.UTC),
		WorkedEnd:      time.Date(2025, time.June, 10, 17, 0, 0, 0, time.UTC),
		BreakMinutes:   60,
		ExpensesAmount: dec("18.50"),
		AuthorisedAt:   time.Date(2025, time.June, 10, 18, 0, 0, 0, time.UTC),
	}
}

func sampleSnapshot(id engine.TimesheetID, status engine.ProcessingStatus) financials.Snapshot {
	return financials.Snapshot{
		ID:               uuid.NewString(),
		TimesheetID:      id,
		TimesheetVersion: 1,
		CandidateID:      "cand-1",
		ClientID:         "client-1",
		Role:             "nurse",
		Band:             "5",
		PayMethod:        engine.PayMethodPAYE,
		Hours:            engine.BucketSet{Day: dec("8")},
		PayRates:         flat("21"),
		ChargeRates:      flat("28"),
		RateSource:       engine.RateSourceClientDefault,
		TotalPayExVAT:    dec("168"),
		TotalChargeExVAT: dec("224"),
		MarginExVAT:      dec("12.54"),
		Status:           status,
		IsCurrent:        true,
		ComputedAt:       time.Date(2025, time.June, 11, 9, 0, 0, 0, time.UTC),
	}
}

// lockSnapshot promotes and invoices a single READY_FOR_HR snapshot so
// the current row is lock-held.
func lockSnapshot(t *testing.T, store *sqlite.Store, id engine.TimesheetID, invID engine.InvoiceID) {
	t.Helper()
	ctx := context.Background()
	promoted, err := store.PromoteSnapshots(ctx, []engine.TimesheetID{id})
	require.NoError(t, err)
	require.Len(t, promoted, 1)

	inv := invoice.Invoice{
		ID:        invID,
		ClientID:  "client-1",
		Status:    invoice.StatusDraft,
		CreatedAt: time.Date(2025, time.June, 12, 10, 0, 0, 0, time.UTC),
	}
	lines := []invoice.Line{{
		ID:          uuid.NewString(),
		InvoiceID:   invID,
		TimesheetID: id,
		Kind:        invoice.LineHours,
	}}
	require.NoError(t, store.CreateInvoice(ctx, inv, lines))
}

// =============================================================================
// SOURCE RECORDS
// =============================================================================

func TestTimesheet_RoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTimesheet(ctx, sampleTimesheet("ts-1")))

	got, err := store.Timesheet(ctx, "ts-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, engine.TimesheetID("ts-1"), got.ID)
	assert.Equal(t, 1, got.Version)
	assert.True(t, got.IsCurrent)
	assert.Equal(t, "A&E", got.Ward)
	assert.Equal(t, 60, got.BreakMinutes)
	assert.True(t, got.WorkedStart.Equal(time.Date(2025, time.June, 10, 8, 0, 0, 0, time.UTC)))
	assert.True(t, got.ExpensesAmount.Equal(dec("18.50")))
	assert.Nil(t, got.BreakStart)
}

func TestTimesheet_AbsentReturnsNil(t *testing.T) {
	store := newStore(t)
	got, err := store.Timesheet(context.Background(), "ts-ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRevokeTimesheet(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveTimesheet(ctx, sampleTimesheet("ts-1")))

	require.NoError(t, store.RevokeTimesheet(ctx, "ts-1"))
	got, err := store.Timesheet(ctx, "ts-1")
	require.NoError(t, err)
	assert.False(t, got.IsCurrent)

	assert.ErrorIs(t, store.RevokeTimesheet(ctx, "ts-ghost"), engine.ErrTimesheetNotFound)
}

func TestCandidateByOccupant(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	umbID := engine.UmbrellaID("umb-1")
	require.NoError(t, store.SaveCandidate(ctx, financials.Candidate{
		ID:          "cand-1",
		OccupantKey: "occ-1",
		Name:        "Amara Okafor",
		Band:        "5",
		PayMethod:   engine.PayMethodUmbrella,
		Bank:        engine.BankDetails{SortCode: "20-00-00", AccountNumber: "12345678"},
		UmbrellaID:  &umbID,
	}))

	got, err := store.CandidateByOccupant(ctx, "occ-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, engine.CandidateID("cand-1"), got.ID)
	assert.Equal(t, engine.PayMethodUmbrella, got.PayMethod)
	require.NotNil(t, got.UmbrellaID)
	assert.Equal(t, umbID, *got.UmbrellaID)

	missing, err := store.CandidateByOccupant(ctx, "occ-nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestClientByHospital(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveClient(ctx,
		financials.Client{ID: "client-1", Name: "St Mary's Trust", VATExempt: true},
		"St Mary's", "St Mary's Annex"))

	for _, hospital := range []string{"St Mary's", "St Mary's Annex"} {
		got, err := store.ClientByHospital(ctx, hospital)
		require.NoError(t, err)
		require.NotNil(t, got, hospital)
		assert.Equal(t, engine.ClientID("client-1"), got.ID)
		assert.True(t, got.VATExempt)
	}

	missing, err := store.ClientByHospital(ctx, "Nowhere General")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLatestValidation_OrdersByTime(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveValidation(ctx, financials.Validation{
		TimesheetID: "ts-1", Status: "pending",
		At: time.Date(2025, time.June, 10, 9, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, store.SaveValidation(ctx, financials.Validation{
		TimesheetID: "ts-1", Status: financials.ValidationValidated,
		At: time.Date(2025, time.June, 11, 9, 0, 0, 0, time.UTC),
	}))

	got, err := store.LatestValidation(ctx, "ts-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, financials.ValidationValidated, got.Status)
}

func TestEvidence_IdempotentPerKind(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	ok, err := store.EvidenceExists(ctx, "ts-1", financials.EvidenceExpenses)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SaveEvidence(ctx, "ts-1", financials.EvidenceExpenses))
	require.NoError(t, store.SaveEvidence(ctx, "ts-1", financials.EvidenceExpenses))

	ok, err = store.EvidenceExists(ctx, "ts-1", financials.EvidenceExpenses)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.EvidenceExists(ctx, "ts-1", financials.EvidenceMileage)
	require.NoError(t, err)
	assert.False(t, ok)
}

// =============================================================================
// POLICY AND RATES
// =============================================================================

func TestDefaultPolicy_FallsBackToBuiltIn(t *testing.T) {
	store := newStore(t)
	p, err := store.DefaultPolicy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6*60, p.DayStartMinutes)
	assert.Equal(t, 20*60, p.DayEndMinutes)
	assert.True(t, p.VATPercent.Equal(dec("20")))
	assert.Equal(t, engine.PayMethodPAYE, p.OnCostChannel)
}

func TestDefaultPolicy_SavedRowAndBankHolidays(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	p := engine.DefaultPolicy()
	p.DayEndMinutes = 22 * 60
	p.VATPercent = dec("17.5")
	require.NoError(t, store.SaveDefaultPolicy(ctx, p))
	require.NoError(t, store.SaveBankHoliday(ctx, "2025-12-25", "Christmas Day"))
	require.NoError(t, store.SaveBankHoliday(ctx, "2025-12-25", "Christmas Day"))

	got, err := store.DefaultPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 22*60, got.DayEndMinutes)
	assert.True(t, got.VATPercent.Equal(dec("17.5")))
	assert.True(t, got.BankHolidays["2025-12-25"])
	assert.Len(t, got.BankHolidays, 1)
}

func TestPolicyOverrides_NullableFieldsSurvive(t *testing.T) {
	// GIVEN: An override setting only the day-window end
	// THEN: Only that field is non-nil on read-back

	store := newStore(t)
	ctx := context.Background()
	end := 23 * 60
	require.NoError(t, store.SavePolicyOverride(ctx, engine.PolicyOverride{
		ClientID:      "client-1",
		EffectiveFrom: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		DayEndMinutes: &end,
	}))

	overrides, err := store.PolicyOverrides(ctx, "client-1")
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	o := overrides[0]
	require.NotNil(t, o.DayEndMinutes)
	assert.Equal(t, 23*60, *o.DayEndMinutes)
	assert.Nil(t, o.DayStartMinutes)
	assert.Nil(t, o.VATPercent)
	assert.Nil(t, o.OnCostChannel)
}

func TestCandidateRates_WildcardsSurvive(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	role := "nurse"
	require.NoError(t, store.SaveCandidateRate(ctx, engine.CandidateRate{
		ID:          "cr-1",
		CandidateID: "cand-1",
		Role:        &role,
		DateFrom:    time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		Pay:         flat("22"),
	}))

	rates, err := store.CandidateRates(ctx, "cand-1")
	require.NoError(t, err)
	require.Len(t, rates, 1)
	r := rates[0]
	assert.Nil(t, r.ClientID)
	require.NotNil(t, r.Role)
	assert.Equal(t, "nurse", *r.Role)
	assert.Nil(t, r.Band)
	assert.Nil(t, r.DateTo)
	assert.True(t, r.Pay.Day.Equal(dec("22")))
}

func TestClientRates_OptionalPayCard(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	pay := flat("21")
	require.NoError(t, store.SaveClientRate(ctx, engine.ClientRate{
		ID:       "clr-1",
		ClientID: "client-1",
		DateFrom: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		Charge:   flat("28"),
		Pay:      &pay,
	}))
	require.NoError(t, store.SaveClientRate(ctx, engine.ClientRate{
		ID:       "clr-2",
		ClientID: "client-1",
		DateFrom: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		Charge:   flat("30"),
	}))

	rates, err := store.ClientRates(ctx, "client-1")
	require.NoError(t, err)
	require.Len(t, rates, 2)
	byID := map[string]engine.ClientRate{}
	for _, r := range rates {
		byID[r.ID] = r
	}
	require.NotNil(t, byID["clr-1"].Pay)
	assert.True(t, byID["clr-1"].Pay.Night.Equal(dec("21")))
	assert.Nil(t, byID["clr-2"].Pay)
}

// =============================================================================
// SNAPSHOT STORE - Conditional writes
// =============================================================================

func TestReplaceCurrent_FlipsPreviousRow(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	first := sampleSnapshot("ts-1", engine.StatusReadyForHR)
	require.NoError(t, store.ReplaceCurrent(ctx, first))
	second := sampleSnapshot("ts-1", engine.StatusReadyForHR)
	second.ComputedAt = first.ComputedAt.Add(time.Hour)
	require.NoError(t, store.ReplaceCurrent(ctx, second))

	cur, err := store.CurrentSnapshot(ctx, "ts-1")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, second.ID, cur.ID)
	assert.True(t, cur.Hours.Day.Equal(dec("8")))
	assert.True(t, cur.MarginExVAT.Equal(dec("12.54")))

	history, err := store.SnapshotHistory(ctx, "ts-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID, "newest first")
	assert.False(t, history[1].IsCurrent)
}

func TestReplaceCurrent_LockedRowRefuses(t *testing.T) {
	// GIVEN: A current snapshot locked by an invoice
	// WHEN: A recompute tries to replace it
	// THEN: ErrSnapshotLocked, and the locked row is untouched

	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.ReplaceCurrent(ctx, sampleSnapshot("ts-1", engine.StatusReadyForHR)))
	lockSnapshot(t, store, "ts-1", "inv-1")

	err := store.ReplaceCurrent(ctx, sampleSnapshot("ts-1", engine.StatusReadyForHR))
	require.ErrorIs(t, err, engine.ErrSnapshotLocked)

	var locked *engine.LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, engine.InvoiceID("inv-1"), locked.InvoiceID)

	history, err := store.SnapshotHistory(ctx, "ts-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRetireCurrent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// No current row is a quiet no-op.
	require.NoError(t, store.RetireCurrent(ctx, "ts-1"))

	require.NoError(t, store.ReplaceCurrent(ctx, sampleSnapshot("ts-1", engine.StatusReadyForHR)))
	require.NoError(t, store.RetireCurrent(ctx, "ts-1"))

	cur, err := store.CurrentSnapshot(ctx, "ts-1")
	require.NoError(t, err)
	assert.Nil(t, cur)

	history, err := store.SnapshotHistory(ctx, "ts-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRetireCurrent_LockedRowRefuses(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.ReplaceCurrent(ctx, sampleSnapshot("ts-1", engine.StatusReadyForHR)))
	lockSnapshot(t, store, "ts-1", "inv-1")

	assert.ErrorIs(t, store.RetireCurrent(ctx, "ts-1"), engine.ErrSnapshotLocked)
}

// =============================================================================
// PROMOTION AND INVOICE LOCKING
// =============================================================================

func TestPromoteSnapshots_ScopedToReadyForHR(t *testing.T) {
	// GIVEN: One READY_FOR_HR snapshot and one RATE_MISSING snapshot
	// WHEN: Both are promoted
	// THEN: Only the ready one is reported promoted

	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.ReplaceCurrent(ctx, sampleSnapshot("ts-1", engine.StatusReadyForHR)))
	require.NoError(t, store.ReplaceCurrent(ctx, sampleSnapshot("ts-2", engine.StatusRateMissing)))

	promoted, err := store.PromoteSnapshots(ctx, []engine.TimesheetID{"ts-1", "ts-2"})
	require.NoError(t, err)
	assert.Equal(t, []engine.TimesheetID{"ts-1"}, promoted)

	cur, err := store.CurrentSnapshot(ctx, "ts-1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusReadyForInvoice, cur.Status)

	cur2, err := store.CurrentSnapshot(ctx, "ts-2")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusRateMissing, cur2.Status)
}

func TestCreateInvoice_LockShortfallRollsBackEverything(t *testing.T) {
	// GIVEN: An invoice naming one promoted and one unpromoted timesheet
	// WHEN: Created
	// THEN: A conflict is reported, the invoice does not exist, and the
	//       promoted snapshot stays unlocked

	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.ReplaceCurrent(ctx, sampleSnapshot("ts-1", engine.StatusReadyForInvoice)))
	require.NoError(t, store.ReplaceCurrent(ctx, sampleSnapshot("ts-2", engine.StatusReadyForHR)))

	inv := invoice.Invoice{
		ID:        "inv-1",
		ClientID:  "client-1",
		Status:    invoice.StatusDraft,
		CreatedAt: time.Now().UTC(),
	}
	lines := []invoice.Line{
		{ID: uuid.NewString(), InvoiceID: "inv-1", TimesheetID: "ts-1", Kind: invoice.LineHours},
		{ID: uuid.NewString(), InvoiceID: "inv-1", TimesheetID: "ts-2", Kind: invoice.LineHours},
	}

	err := store.CreateInvoice(ctx, inv, lines)
	require.ErrorIs(t, err, engine.ErrConflict)
	var conflict *engine.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 2, conflict.Expected)
	assert.Equal(t, 1, conflict.Affected)

	_, _, err = store.Invoice(ctx, "inv-1")
	assert.ErrorIs(t, err, engine.ErrInvoiceNotFound)

	cur, err := store.CurrentSnapshot(ctx, "ts-1")
	require.NoError(t, err)
	assert.Nil(t, cur.LockedByInvoiceID, "partial lock must roll back")
}

func TestCreateInvoice_PersistsHeaderLinesAndLocks(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.ReplaceCurrent(ctx, sampleSnapshot("ts-1", engine.StatusReadyForHR)))
	lockSnapshot(t, store, "ts-1", "inv-1")

	inv, lines, err := store.Invoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusDraft, inv.Status)
	assert.Len(t, lines, 1)

	locked, err := store.SnapshotsLockedBy(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, locked, 1)
	assert.Equal(t, engine.TimesheetID("ts-1"), locked[0].TimesheetID)
	assert.NotNil(t, locked[0].LockedAtUTC)

	all, err := store.ListInvoices(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUnlockByInvoice_MarksStale(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.ReplaceCurrent(ctx, sampleSnapshot("ts-1", engine.StatusReadyForHR)))
	lockSnapshot(t, store, "ts-1", "inv-1")

	unlocked, err := store.UnlockByInvoice(ctx, "inv-1", "credit note cn-1")
	require.NoError(t, err)
	assert.Equal(t, []engine.TimesheetID{"ts-1"}, unlocked)

	cur, err := store.CurrentSnapshot(ctx, "ts-1")
	require.NoError(t, err)
	assert.Nil(t, cur.LockedByInvoiceID)
	assert.Nil(t, cur.LockedAtUTC)
	assert.True(t, cur.IsStale)
	assert.Equal(t, "credit note cn-1", cur.StaleReason)

	// Unlocked means replaceable again.
	require.NoError(t, store.ReplaceCurrent(ctx, sampleSnapshot("ts-1", engine.StatusReadyForHR)))
}

func TestCreateCreditNote_RoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.ReplaceCurrent(ctx, sampleSnapshot("ts-1", engine.StatusReadyForHR)))
	lockSnapshot(t, store, "ts-1", "inv-1")

	cn := invoice.CreditNote{
		ID:               "cn-1",
		InvoiceID:        "inv-1",
		Reason:           "billing query",
		TotalChargeExVAT: dec("-224"),
		TotalVAT:         dec("-44.8"),
		TotalIncVAT:      dec("-268.8"),
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, store.CreateCreditNote(ctx, cn, []invoice.Line{{
		ID:           uuid.NewString(),
		CreditNoteID: "cn-1",
		TimesheetID:  "ts-1",
		Kind:         invoice.LineHours,
		ChargeExVAT:  dec("-224"),
	}}))

	notes, err := store.CreditNotesForInvoice(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "billing query", notes[0].Reason)
	assert.True(t, notes[0].TotalChargeExVAT.Equal(dec("-224")))
}

// =============================================================================
// OUTBOX
// =============================================================================

func TestOutbox_EnqueueDeduplicates(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, "ts-1", outbox.ReasonNewAuthorised))
	require.NoError(t, store.Enqueue(ctx, "ts-1", outbox.ReasonNewAuthorised))
	require.NoError(t, store.Enqueue(ctx, "ts-1", outbox.ReasonRateChanged))

	pending, err := store.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestOutbox_LeaseClaimsExclusively(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.Enqueue(ctx, "ts-1", outbox.ReasonManual))

	now := time.Now().UTC()
	first, err := store.Lease(ctx, 10, 2*time.Minute, now)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.NotNil(t, first[0].LeaseExpiresAt)

	second, err := store.Lease(ctx, 10, 2*time.Minute, now)
	require.NoError(t, err)
	assert.Empty(t, second)

	expired, err := store.Lease(ctx, 10, 2*time.Minute, now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Len(t, expired, 1)
}

func TestOutbox_AckSuccessDeletes(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.Enqueue(ctx, "ts-1", outbox.ReasonManual))

	leased, err := store.Lease(ctx, 1, time.Minute, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, leased, 1)
	require.NoError(t, store.AckSuccess(ctx, leased[0].ID))

	pending, err := store.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOutbox_AckFailureReschedules(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.Enqueue(ctx, "ts-1", outbox.ReasonManual))

	now := time.Now().UTC()
	leased, err := store.Lease(ctx, 1, time.Minute, now)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	next := now.Add(outbox.Backoff(1))
	require.NoError(t, store.AckFailure(ctx, leased[0].ID, 1, next, "boom"))

	pending, err := store.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	e := pending[0]
	assert.Equal(t, 1, e.AttemptCount)
	assert.Equal(t, "boom", e.LastError)
	assert.Nil(t, e.LeaseExpiresAt)

	// Not due yet under its backoff.
	due, err := store.Lease(ctx, 1, time.Minute, now.Add(5*time.Second))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestOutbox_ReenqueueResetsSchedule(t *testing.T) {
	// GIVEN: A failed entry scheduled an hour out
	// WHEN: The same cause is enqueued again
	// THEN: It becomes due immediately with its error cleared

	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.Enqueue(ctx, "ts-1", outbox.ReasonRateChanged))

	now := time.Now().UTC()
	leased, err := store.Lease(ctx, 1, time.Minute, now)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	require.NoError(t, store.AckFailure(ctx, leased[0].ID, 3, now.Add(time.Hour), "boom"))

	require.NoError(t, store.Enqueue(ctx, "ts-1", outbox.ReasonRateChanged))

	due, err := store.Lease(ctx, 1, time.Minute, now.Add(2*time.Second))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Empty(t, due[0].LastError)
}
