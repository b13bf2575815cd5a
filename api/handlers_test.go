/*
handlers_test.go - Unit tests for API handlers

Tests for:
- Timesheet intake, versioning and revocation
- Snapshot reads after a drain pass
- Reference-data endpoints and re-enqueue fanout
- Promotion, invoicing and credit notes over HTTP
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/warp/timesheet-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestRouter(t *testing.T) http.Handler {
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewRouter(NewHandler(store))
}

// do sends one JSON request through the router. Body may be a raw JSON
// string or any encodable value.
func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("Expected status %d, got %d (body %s)", want, rec.Code, rec.Body.String())
	}
}

// seedReferenceData creates a client, a PAYE candidate with bank details
// and a flat client rate card (charge 28, pay 21) through the API.
func seedReferenceData(t *testing.T, router http.Handler) {
	t.Helper()
	rec := do(t, router, "POST", "/api/clients", `{
		"id": "client-1",
		"name": "St Mary's NHS Trust",
		"hospitals": ["St Mary's"]
	}`)
	wantStatus(t, rec, http.StatusCreated)

	rec = do(t, router, "POST", "/api/candidates", `{
		"id": "cand-1",
		"occupant_key": "occ-1",
		"name": "Amara Okafor",
		"band": "5",
		"pay_method": "PAYE",
		"sort_code": "20-00-00",
		"account_number": "12345678"
	}`)
	wantStatus(t, rec, http.StatusCreated)

	rec = do(t, router, "POST", "/api/clients/client-1/rates", `{
		"id": "rate-1",
		"client_id": "client-1",
		"date_from": "2025-01-01T00:00:00Z",
		"charge": {"day": "28", "night": "28", "saturday": "28", "sunday": "28", "bank_holiday": "28"},
		"pay": {"day": "21", "night": "21", "saturday": "21", "sunday": "21", "bank_holiday": "21"}
	}`)
	wantStatus(t, rec, http.StatusCreated)
}

// submitDayShift posts a Tuesday day shift: 08:00-17:00 UTC with a one
// hour break is 8 worked hours, all in the day bucket in London.
func submitDayShift(t *testing.T, router http.Handler, id string) {
	t.Helper()
	rec := do(t, router, "POST", "/api/timesheets", SubmitTimesheetRequest{
		ID:           id,
		OccupantKey:  "occ-1",
		Hospital:     "St Mary's",
		Ward:         "ICU",
		Role:         "RGN",
		WorkedStart:  "2025-06-10T08:00:00Z",
		WorkedEnd:    "2025-06-10T17:00:00Z",
		BreakMinutes: 60,
	})
	wantStatus(t, rec, http.StatusCreated)
}

func drainOutbox(t *testing.T, router http.Handler) DrainResponse {
	t.Helper()
	rec := do(t, router, "POST", "/api/outbox/drain", nil)
	wantStatus(t, rec, http.StatusOK)
	var resp DrainResponse
	decodeJSON(t, rec, &resp)
	return resp
}

func validateTimesheet(t *testing.T, router http.Handler, id string) {
	t.Helper()
	rec := do(t, router, "POST", "/api/timesheets/"+id+"/validations", `{"status": "validated"}`)
	wantStatus(t, rec, http.StatusCreated)
}

func promoteTimesheets(t *testing.T, router http.Handler, ids ...string) PromotionResponse {
	t.Helper()
	rec := do(t, router, "POST", "/api/invoices/promote", TimesheetIDsRequest{TimesheetIDs: ids})
	wantStatus(t, rec, http.StatusOK)
	var resp PromotionResponse
	decodeJSON(t, rec, &resp)
	return resp
}

// =============================================================================
// TIMESHEET INTAKE TESTS
// =============================================================================

func TestSubmitTimesheet_CreatesAndEnqueues(t *testing.T) {
	// GIVEN: A clean store
	router := newTestRouter(t)

	// WHEN: Submitting an authorised timesheet
	rec := do(t, router, "POST", "/api/timesheets", SubmitTimesheetRequest{
		ID:          "ts-1",
		OccupantKey: "occ-1",
		Hospital:    "St Mary's",
		WorkedStart: "2025-06-10T08:00:00Z",
		WorkedEnd:   "2025-06-10T17:00:00Z",
	})

	// THEN: The timesheet is stored as version 1 and queued for recompute
	wantStatus(t, rec, http.StatusCreated)
	var ts TimesheetDTO
	decodeJSON(t, rec, &ts)
	if ts.ID != "ts-1" {
		t.Errorf("Expected id 'ts-1', got '%s'", ts.ID)
	}
	if ts.Version != 1 {
		t.Errorf("Expected version 1, got %d", ts.Version)
	}
	if !ts.IsCurrent {
		t.Error("Submitted timesheet should be current")
	}

	rec = do(t, router, "GET", "/api/outbox", nil)
	wantStatus(t, rec, http.StatusOK)
	var entries []OutboxEntryDTO
	decodeJSON(t, rec, &entries)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 outbox entry, got %d", len(entries))
	}
	if entries[0].Reason != "new-authorised" {
		t.Errorf("Expected reason 'new-authorised', got '%s'", entries[0].Reason)
	}
}

func TestSubmitTimesheet_RequiresIdentity(t *testing.T) {
	// GIVEN: A request without id or routing keys
	router := newTestRouter(t)

	// WHEN: Submitting it
	rec := do(t, router, "POST", "/api/timesheets", `{"worked_start": "2025-06-10T08:00:00Z", "worked_end": "2025-06-10T17:00:00Z"}`)

	// THEN: The request is rejected
	wantStatus(t, rec, http.StatusBadRequest)
	var errResp ErrorResponse
	decodeJSON(t, rec, &errResp)
	if errResp.Error == "" {
		t.Error("Expected an error message")
	}
}

func TestSubmitTimesheet_ResubmissionRotatesVersion(t *testing.T) {
	// GIVEN: An existing timesheet
	router := newTestRouter(t)
	submitDayShift(t, router, "ts-1")

	// WHEN: Resubmitting the same timesheet ID
	rec := do(t, router, "POST", "/api/timesheets", SubmitTimesheetRequest{
		ID:          "ts-1",
		OccupantKey: "occ-1",
		Hospital:    "St Mary's",
		WorkedStart: "2025-06-10T08:00:00Z",
		WorkedEnd:   "2025-06-10T18:00:00Z",
	})

	// THEN: The version bumps and a rotation entry joins the queue
	wantStatus(t, rec, http.StatusCreated)
	var ts TimesheetDTO
	decodeJSON(t, rec, &ts)
	if ts.Version != 2 {
		t.Errorf("Expected version 2, got %d", ts.Version)
	}

	rec = do(t, router, "GET", "/api/outbox", nil)
	var entries []OutboxEntryDTO
	decodeJSON(t, rec, &entries)
	reasons := make(map[string]bool)
	for _, e := range entries {
		reasons[e.Reason] = true
	}
	if !reasons["version-rotated"] {
		t.Errorf("Expected a 'version-rotated' entry, got %v", reasons)
	}
}

func TestGetTimesheet_NotFound(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, "GET", "/api/timesheets/nope", nil)
	wantStatus(t, rec, http.StatusNotFound)
}

// =============================================================================
// FINANCIALS FLOW TESTS
// =============================================================================

func TestFinancials_DrainProducesReadySnapshot(t *testing.T) {
	// GIVEN: Full reference data and one authorised day shift
	router := newTestRouter(t)
	seedReferenceData(t, router)
	submitDayShift(t, router, "ts-1")

	// WHEN: Draining the outbox
	drain := drainOutbox(t, router)

	// THEN: One entry is leased and recomputed to READY_FOR_HR
	if drain.Leased != 1 || drain.Succeeded != 1 {
		t.Fatalf("Expected 1 leased / 1 succeeded, got %d / %d", drain.Leased, drain.Succeeded)
	}
	if len(drain.Items) != 1 || drain.Items[0].Outcome != "recomputed" {
		t.Fatalf("Expected one recomputed item, got %+v", drain.Items)
	}
	if drain.Items[0].Status != "READY_FOR_HR" {
		t.Errorf("Expected status READY_FOR_HR, got %s", drain.Items[0].Status)
	}

	// And the snapshot carries the priced totals
	rec := do(t, router, "GET", "/api/timesheets/ts-1/financials", nil)
	wantStatus(t, rec, http.StatusOK)
	var snap SnapshotDTO
	decodeJSON(t, rec, &snap)
	if snap.Status != "READY_FOR_HR" {
		t.Errorf("Expected READY_FOR_HR, got %s", snap.Status)
	}
	if snap.Hours.Day != "8" {
		t.Errorf("Expected 8 day hours, got %s", snap.Hours.Day)
	}
	if snap.TotalPayExVAT != "168" {
		t.Errorf("Expected pay 168, got %s", snap.TotalPayExVAT)
	}
	if snap.TotalChargeExVAT != "224" {
		t.Errorf("Expected charge 224, got %s", snap.TotalChargeExVAT)
	}
	if snap.MarginExVAT != "12.54" {
		t.Errorf("Expected margin 12.54, got %s", snap.MarginExVAT)
	}
	if snap.RateSource != "client_default" {
		t.Errorf("Expected client_default rates, got %s", snap.RateSource)
	}

	// And history shows exactly that one row
	rec = do(t, router, "GET", "/api/timesheets/ts-1/financials/history", nil)
	wantStatus(t, rec, http.StatusOK)
	var history []SnapshotDTO
	decodeJSON(t, rec, &history)
	if len(history) != 1 {
		t.Errorf("Expected 1 history row, got %d", len(history))
	}
}

func TestFinancials_NoSnapshotIs404(t *testing.T) {
	router := newTestRouter(t)
	submitDayShift(t, router, "ts-1")

	// No drain has run, so there is no snapshot yet.
	rec := do(t, router, "GET", "/api/timesheets/ts-1/financials", nil)
	wantStatus(t, rec, http.StatusNotFound)
}

func TestRevokeTimesheet_RetiresSnapshot(t *testing.T) {
	// GIVEN: A timesheet with a current snapshot
	router := newTestRouter(t)
	seedReferenceData(t, router)
	submitDayShift(t, router, "ts-1")
	drainOutbox(t, router)

	// WHEN: Revoking it and draining again
	rec := do(t, router, "POST", "/api/timesheets/ts-1/revoke", nil)
	wantStatus(t, rec, http.StatusOK)
	drain := drainOutbox(t, router)

	// THEN: The snapshot is retired and no longer current
	if len(drain.Items) != 1 || drain.Items[0].Outcome != "retired" {
		t.Fatalf("Expected one retired item, got %+v", drain.Items)
	}
	rec = do(t, router, "GET", "/api/timesheets/ts-1/financials", nil)
	wantStatus(t, rec, http.StatusNotFound)
}

func TestRevokeTimesheet_UnknownIs404(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, "POST", "/api/timesheets/nope/revoke", nil)
	wantStatus(t, rec, http.StatusNotFound)
}

func TestRecomputeTimesheet_Enqueues(t *testing.T) {
	router := newTestRouter(t)
	submitDayShift(t, router, "ts-1")

	rec := do(t, router, "POST", "/api/timesheets/ts-1/recompute", nil)
	wantStatus(t, rec, http.StatusAccepted)

	rec = do(t, router, "GET", "/api/outbox", nil)
	var entries []OutboxEntryDTO
	decodeJSON(t, rec, &entries)
	reasons := make(map[string]bool)
	for _, e := range entries {
		reasons[e.Reason] = true
	}
	if !reasons["manual"] {
		t.Errorf("Expected a 'manual' entry, got %v", reasons)
	}
}

// =============================================================================
// REFERENCE DATA TESTS
// =============================================================================

func TestCandidateRate_OverridesAndReenqueues(t *testing.T) {
	// GIVEN: A priced shift on client default rates
	router := newTestRouter(t)
	seedReferenceData(t, router)
	submitDayShift(t, router, "ts-1")
	drainOutbox(t, router)

	// WHEN: Adding a candidate override rate
	rec := do(t, router, "POST", "/api/candidates/cand-1/rates", `{
		"id": "crate-1",
		"candidate_id": "cand-1",
		"date_from": "2025-01-01T00:00:00Z",
		"pay": {"day": "22", "night": "22", "saturday": "22", "sunday": "22", "bank_holiday": "22"}
	}`)
	wantStatus(t, rec, http.StatusCreated)

	// THEN: The candidate's shift is re-enqueued and reprices on drain
	drain := drainOutbox(t, router)
	if drain.Succeeded != 1 {
		t.Fatalf("Expected 1 recompute, got %+v", drain)
	}

	rec = do(t, router, "GET", "/api/timesheets/ts-1/financials", nil)
	var snap SnapshotDTO
	decodeJSON(t, rec, &snap)
	if snap.RateSource != "candidate_override" {
		t.Errorf("Expected candidate_override rates, got %s", snap.RateSource)
	}
	if snap.TotalPayExVAT != "176" {
		t.Errorf("Expected pay 176 at the override rate, got %s", snap.TotalPayExVAT)
	}
	// Charge still comes from the client default card.
	if snap.TotalChargeExVAT != "224" {
		t.Errorf("Expected charge 224, got %s", snap.TotalChargeExVAT)
	}
}

func TestCandidateRate_URLMismatchRejected(t *testing.T) {
	router := newTestRouter(t)
	seedReferenceData(t, router)

	rec := do(t, router, "POST", "/api/candidates/cand-other/rates", `{
		"id": "crate-1",
		"candidate_id": "cand-1",
		"date_from": "2025-01-01T00:00:00Z",
		"pay": {"day": "22"}
	}`)
	wantStatus(t, rec, http.StatusBadRequest)
}

func TestClientRate_URLMismatchRejected(t *testing.T) {
	router := newTestRouter(t)
	seedReferenceData(t, router)

	rec := do(t, router, "POST", "/api/clients/client-other/rates", `{
		"id": "rate-2",
		"client_id": "client-1",
		"date_from": "2025-01-01T00:00:00Z",
		"charge": {"day": "30"}
	}`)
	wantStatus(t, rec, http.StatusBadRequest)
}

func TestClientSettings_WidenedDayWindowReprices(t *testing.T) {
	// GIVEN: An evening shift priced against the default day window
	router := newTestRouter(t)
	seedReferenceData(t, router)
	// 13:00-21:00 UTC is 14:00-22:00 London: the last two hours fall
	// outside the default 06:00-20:00 day window.
	rec := do(t, router, "POST", "/api/timesheets", SubmitTimesheetRequest{
		ID:          "ts-1",
		OccupantKey: "occ-1",
		Hospital:    "St Mary's",
		WorkedStart: "2025-06-10T13:00:00Z",
		WorkedEnd:   "2025-06-10T21:00:00Z",
	})
	wantStatus(t, rec, http.StatusCreated)
	drainOutbox(t, router)

	rec = do(t, router, "GET", "/api/timesheets/ts-1/financials", nil)
	var before SnapshotDTO
	decodeJSON(t, rec, &before)
	if before.Hours.Night != "2" {
		t.Fatalf("Expected 2 night hours before the override, got %s", before.Hours.Night)
	}

	// WHEN: The client widens its day window to 23:00
	rec = do(t, router, "POST", "/api/clients/client-1/settings", `{
		"client_id": "client-1",
		"effective_from": "2025-01-01T00:00:00Z",
		"day_end": "23:00"
	}`)
	wantStatus(t, rec, http.StatusCreated)
	drainOutbox(t, router)

	// THEN: The whole shift lands in the day bucket
	rec = do(t, router, "GET", "/api/timesheets/ts-1/financials", nil)
	var after SnapshotDTO
	decodeJSON(t, rec, &after)
	if after.Hours.Day != "8" {
		t.Errorf("Expected 8 day hours after the override, got %s", after.Hours.Day)
	}
	if after.Hours.Night != "0" {
		t.Errorf("Expected 0 night hours after the override, got %s", after.Hours.Night)
	}
}

func TestUpdateDefaultPolicy_ReenqueuesCurrentTimesheets(t *testing.T) {
	// GIVEN: One priced current timesheet
	router := newTestRouter(t)
	seedReferenceData(t, router)
	submitDayShift(t, router, "ts-1")
	drainOutbox(t, router)

	// WHEN: Replacing the global default policy
	rec := do(t, router, "PUT", "/api/policy", `{
		"vat_percent": "20",
		"erni_percent": "15",
		"bank_holidays": ["2025-12-25", "2025-12-26"]
	}`)

	// THEN: Every current timesheet is queued for recompute
	wantStatus(t, rec, http.StatusOK)
	var resp map[string]int
	decodeJSON(t, rec, &resp)
	if resp["reenqueued"] != 1 {
		t.Errorf("Expected 1 re-enqueued timesheet, got %d", resp["reenqueued"])
	}
}

func TestSubmitEvidence_InvalidKindRejected(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, "POST", "/api/timesheets/ts-1/evidence", `{"kind": "receipts"}`)
	wantStatus(t, rec, http.StatusBadRequest)
}

func TestSubmitValidation_RequiresStatus(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, "POST", "/api/timesheets/ts-1/validations", `{}`)
	wantStatus(t, rec, http.StatusBadRequest)
}

// =============================================================================
// INVOICING TESTS
// =============================================================================

func TestPromoteAndInvoice_EndToEnd(t *testing.T) {
	// GIVEN: A validated READY_FOR_HR shift
	router := newTestRouter(t)
	seedReferenceData(t, router)
	submitDayShift(t, router, "ts-1")
	drainOutbox(t, router)
	validateTimesheet(t, router, "ts-1")

	// WHEN: Promoting and invoicing it
	promo := promoteTimesheets(t, router, "ts-1")
	if len(promo.Promoted) != 1 || promo.Promoted[0] != "ts-1" {
		t.Fatalf("Expected ts-1 promoted, got %+v", promo)
	}

	rec := do(t, router, "POST", "/api/invoices", TimesheetIDsRequest{TimesheetIDs: []string{"ts-1"}})
	wantStatus(t, rec, http.StatusCreated)
	var detail InvoiceDetailResponse
	decodeJSON(t, rec, &detail)

	// THEN: The invoice totals the snapshot with 20% VAT
	if detail.Invoice.TotalChargeExVAT != "224" {
		t.Errorf("Expected charge 224, got %s", detail.Invoice.TotalChargeExVAT)
	}
	if detail.Invoice.TotalVAT != "44.8" {
		t.Errorf("Expected VAT 44.8, got %s", detail.Invoice.TotalVAT)
	}
	if detail.Invoice.TotalIncVAT != "268.8" {
		t.Errorf("Expected 268.8 inc VAT, got %s", detail.Invoice.TotalIncVAT)
	}
	if len(detail.Lines) != 1 || detail.Lines[0].Kind != "hours" {
		t.Fatalf("Expected one hours line, got %+v", detail.Lines)
	}

	// And the snapshot is locked by the invoice
	rec = do(t, router, "GET", "/api/timesheets/ts-1/financials", nil)
	var snap SnapshotDTO
	decodeJSON(t, rec, &snap)
	if snap.LockedByInvoice != detail.Invoice.ID {
		t.Errorf("Expected lock by %s, got %q", detail.Invoice.ID, snap.LockedByInvoice)
	}

	// And the invoice is readable back
	rec = do(t, router, "GET", "/api/invoices/"+detail.Invoice.ID, nil)
	wantStatus(t, rec, http.StatusOK)
	rec = do(t, router, "GET", "/api/invoices", nil)
	wantStatus(t, rec, http.StatusOK)
	var invoices []InvoiceDTO
	decodeJSON(t, rec, &invoices)
	if len(invoices) != 1 {
		t.Errorf("Expected 1 invoice, got %d", len(invoices))
	}
}

func TestPromote_BlockedWithoutValidation(t *testing.T) {
	// GIVEN: A READY_FOR_HR shift with no HR verdict
	router := newTestRouter(t)
	seedReferenceData(t, router)
	submitDayShift(t, router, "ts-1")
	drainOutbox(t, router)

	// WHEN: Promoting it
	promo := promoteTimesheets(t, router, "ts-1")

	// THEN: It is blocked with a per-item reason
	if len(promo.Promoted) != 0 {
		t.Errorf("Expected nothing promoted, got %v", promo.Promoted)
	}
	if len(promo.Blocked) != 1 || promo.Blocked[0].Reason != "not_validated" {
		t.Fatalf("Expected not_validated block, got %+v", promo.Blocked)
	}
}

func TestCreateInvoice_UnpromotedRejected(t *testing.T) {
	// GIVEN: A validated but unpromoted shift
	router := newTestRouter(t)
	seedReferenceData(t, router)
	submitDayShift(t, router, "ts-1")
	drainOutbox(t, router)
	validateTimesheet(t, router, "ts-1")

	// WHEN: Invoicing without promoting first
	rec := do(t, router, "POST", "/api/invoices", TimesheetIDsRequest{TimesheetIDs: []string{"ts-1"}})

	// THEN: The invoice is rejected
	wantStatus(t, rec, http.StatusBadRequest)
}

func TestCreateInvoice_RequiresTimesheetIDs(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, "POST", "/api/invoices", `{"timesheet_ids": []}`)
	wantStatus(t, rec, http.StatusBadRequest)
}

func TestGetInvoice_NotFound(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, "GET", "/api/invoices/nope", nil)
	wantStatus(t, rec, http.StatusNotFound)
}

func TestCreditNote_UnlocksAndReenqueues(t *testing.T) {
	// GIVEN: An invoiced shift
	router := newTestRouter(t)
	seedReferenceData(t, router)
	submitDayShift(t, router, "ts-1")
	drainOutbox(t, router)
	validateTimesheet(t, router, "ts-1")
	promoteTimesheets(t, router, "ts-1")
	rec := do(t, router, "POST", "/api/invoices", TimesheetIDsRequest{TimesheetIDs: []string{"ts-1"}})
	wantStatus(t, rec, http.StatusCreated)
	var detail InvoiceDetailResponse
	decodeJSON(t, rec, &detail)

	// WHEN: Raising a credit note against the invoice
	rec = do(t, router, "POST", "/api/invoices/"+detail.Invoice.ID+"/credit-note", `{"reason": "billing error"}`)
	wantStatus(t, rec, http.StatusCreated)
	var cn CreditNoteResponse
	decodeJSON(t, rec, &cn)

	// THEN: Money is negated, the shift unlocks and is re-enqueued
	if cn.CreditNote.TotalChargeExVAT != "-224" {
		t.Errorf("Expected charge -224 on the credit note, got %s", cn.CreditNote.TotalChargeExVAT)
	}
	if len(cn.Unlocked) != 1 || cn.Unlocked[0] != "ts-1" {
		t.Errorf("Expected ts-1 unlocked, got %v", cn.Unlocked)
	}

	rec = do(t, router, "GET", "/api/outbox", nil)
	var entries []OutboxEntryDTO
	decodeJSON(t, rec, &entries)
	reasons := make(map[string]bool)
	for _, e := range entries {
		reasons[e.Reason] = true
	}
	if !reasons["version-rotated"] {
		t.Errorf("Expected a 'version-rotated' entry, got %v", reasons)
	}

	// And the invoice shows its credit note
	rec = do(t, router, "GET", "/api/invoices/"+detail.Invoice.ID, nil)
	decodeJSON(t, rec, &detail)
	if len(detail.CreditNotes) != 1 {
		t.Errorf("Expected 1 credit note, got %d", len(detail.CreditNotes))
	}

	// And a fresh drain produces an unlocked current snapshot again
	drainOutbox(t, router)
	rec = do(t, router, "GET", "/api/timesheets/ts-1/financials", nil)
	wantStatus(t, rec, http.StatusOK)
	var snap SnapshotDTO
	decodeJSON(t, rec, &snap)
	if snap.LockedByInvoice != "" {
		t.Errorf("Expected no lock after credit note, got %s", snap.LockedByInvoice)
	}
	if snap.Status != "READY_FOR_HR" {
		t.Errorf("Expected READY_FOR_HR after recompute, got %s", snap.Status)
	}
}
