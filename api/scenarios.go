/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates clients, candidates,
	rates and timesheets that demonstrate specific engine behaviour.

AVAILABLE SCENARIOS:

	first-shift:    Happy path - PAYE nurse, full rates, READY_FOR_HR
	missing-rates:  Rates absent for worked buckets, RATE_MISSING
	umbrella:       Umbrella candidate without a linked company
	invoice-flow:   Validated and evidenced shifts ready to promote

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Seed clients, candidates, umbrellas, rates
 3. Seed timesheets and enqueue them
 4. Drain the outbox once so snapshots exist immediately

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario": "first-shift"}

NOTE:

	Scenarios reset the database. Only use in development/demo
	environments.

SEE ALSO:
  - handlers.go: Shared handler context
  - server.go: Scenario routes
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/financials"
	"github.com/warp/timesheet-engine/outbox"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "first-shift",
		Name:        "First Shift",
		Description: "PAYE nurse with full rate cards; snapshot lands on READY_FOR_HR",
	},
	{
		ID:          "missing-rates",
		Name:        "Missing Rates",
		Description: "Worked buckets without pay/charge rates; snapshot lands on RATE_MISSING",
	},
	{
		ID:          "umbrella",
		Name:        "Umbrella Worker",
		Description: "Umbrella candidate without a company link; PAY_CHANNEL_MISSING until linked",
	},
	{
		ID:          "invoice-flow",
		Name:        "Invoice Flow",
		Description: "Validated, evidenced shifts ready to promote and invoice",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: h.currentScenario, Name: h.currentScenario})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()

	// Reset first
	if err := h.Store.Reset(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	var err error
	switch req.Scenario {
	case "first-shift":
		err = h.loadFirstShiftScenario(ctx)
	case "missing-rates":
		err = h.loadMissingRatesScenario(ctx)
	case "umbrella":
		err = h.loadUmbrellaScenario(ctx)
	case "invoice-flow":
		err = h.loadInvoiceFlowScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario %q", req.Scenario), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	// Drain once so snapshots exist immediately.
	if _, err := h.Worker.Drain(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute snapshots", err)
		return
	}

	h.currentScenario = req.Scenario
	writeJSON(w, http.StatusOK, map[string]string{"loaded": req.Scenario})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadFirstShiftScenario seeds one PAYE nurse with complete rate cards
// and a weekday day shift.
func (h *Handler) loadFirstShiftScenario(ctx context.Context) error {
	if err := h.seedStMarys(ctx); err != nil {
		return err
	}
	if err := h.seedCandidateAmara(ctx); err != nil {
		return err
	}
	if err := h.seedClientRates(ctx, "st-marys"); err != nil {
		return err
	}
	return h.seedShift(ctx, "ts-1001",
		time.Date(2025, 6, 10, 7, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC), 60)
}

// loadMissingRatesScenario seeds the same shift but no rate cards.
func (h *Handler) loadMissingRatesScenario(ctx context.Context) error {
	if err := h.seedStMarys(ctx); err != nil {
		return err
	}
	if err := h.seedCandidateAmara(ctx); err != nil {
		return err
	}
	return h.seedShift(ctx, "ts-2001",
		time.Date(2025, 6, 10, 7, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC), 60)
}

// loadUmbrellaScenario seeds an umbrella candidate without a company
// link. The snapshot blocks on PAY_CHANNEL_MISSING until an umbrella is
// created and linked.
func (h *Handler) loadUmbrellaScenario(ctx context.Context) error {
	if err := h.seedStMarys(ctx); err != nil {
		return err
	}
	c := financials.Candidate{
		ID:          "cand-ben",
		OccupantKey: "occ-ben",
		Name:        "Ben Osei",
		Band:        "6",
		PayMethod:   engine.PayMethodUmbrella,
	}
	if err := h.Store.SaveCandidate(ctx, c); err != nil {
		return err
	}
	if err := h.seedClientRates(ctx, "st-marys"); err != nil {
		return err
	}
	ts := financials.Timesheet{
		ID:           "ts-3001",
		Version:      1,
		IsCurrent:    true,
		OccupantKey:  "occ-ben",
		Hospital:     "St Mary's",
		Ward:         "A&E",
		Role:         "RGN",
		WorkedStart:  time.Date(2025, 6, 14, 20, 0, 0, 0, time.UTC),
		WorkedEnd:    time.Date(2025, 6, 15, 6, 0, 0, 0, time.UTC),
		AuthorisedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveTimesheet(ctx, ts); err != nil {
		return err
	}
	return h.Store.Enqueue(ctx, ts.ID, outbox.ReasonNewAuthorised)
}

// loadInvoiceFlowScenario seeds two validated shifts with evidence,
// ready to promote and invoice.
func (h *Handler) loadInvoiceFlowScenario(ctx context.Context) error {
	if err := h.loadFirstShiftScenario(ctx); err != nil {
		return err
	}
	// Saturday shift with receipted expenses.
	ts := financials.Timesheet{
		ID:             "ts-1002",
		Version:        1,
		IsCurrent:      true,
		OccupantKey:    "occ-amara",
		Hospital:       "St Mary's",
		Ward:           "ICU",
		Role:           "RGN",
		WorkedStart:    time.Date(2025, 6, 14, 8, 0, 0, 0, time.UTC),
		WorkedEnd:      time.Date(2025, 6, 14, 16, 0, 0, 0, time.UTC),
		ExpensesAmount: decimal.RequireFromString("18.50"),
		AuthorisedAt:   time.Now().UTC(),
	}
	if err := h.Store.SaveTimesheet(ctx, ts); err != nil {
		return err
	}
	if err := h.Store.Enqueue(ctx, ts.ID, outbox.ReasonNewAuthorised); err != nil {
		return err
	}

	for _, id := range []engine.TimesheetID{"ts-1001", "ts-1002"} {
		v := financials.Validation{TimesheetID: id, Status: financials.ValidationValidated, At: time.Now().UTC()}
		if err := h.Store.SaveValidation(ctx, v); err != nil {
			return err
		}
	}
	return h.Store.SaveEvidence(ctx, "ts-1002", financials.EvidenceExpenses)
}

// =============================================================================
// SHARED SEED HELPERS
// =============================================================================

func (h *Handler) seedStMarys(ctx context.Context) error {
	client := financials.Client{ID: "st-marys", Name: "St Mary's NHS Trust"}
	return h.Store.SaveClient(ctx, client, "St Mary's")
}

func (h *Handler) seedCandidateAmara(ctx context.Context) error {
	c := financials.Candidate{
		ID:          "cand-amara",
		OccupantKey: "occ-amara",
		Name:        "Amara Okafor",
		Band:        "5",
		PayMethod:   engine.PayMethodPAYE,
		Bank:        engine.BankDetails{SortCode: "20-00-00", AccountNumber: "12345678"},
	}
	return h.Store.SaveCandidate(ctx, c)
}

func (h *Handler) seedClientRates(ctx context.Context, clientID engine.ClientID) error {
	charge := engine.BucketSet{
		Day:         decimal.RequireFromString("28"),
		Night:       decimal.RequireFromString("34"),
		Saturday:    decimal.RequireFromString("37"),
		Sunday:      decimal.RequireFromString("40"),
		BankHoliday: decimal.RequireFromString("52"),
	}
	pay := engine.BucketSet{
		Day:         decimal.RequireFromString("21"),
		Night:       decimal.RequireFromString("26"),
		Saturday:    decimal.RequireFromString("28"),
		Sunday:      decimal.RequireFromString("30"),
		BankHoliday: decimal.RequireFromString("40"),
	}
	rate := engine.ClientRate{
		ID:       "rate-" + string(clientID),
		ClientID: clientID,
		DateFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Charge:   charge,
		Pay:      &pay,
	}
	return h.Store.SaveClientRate(ctx, rate)
}

func (h *Handler) seedShift(ctx context.Context, id engine.TimesheetID, start, end time.Time, breakMinutes int) error {
	ts := financials.Timesheet{
		ID:           id,
		Version:      1,
		IsCurrent:    true,
		OccupantKey:  "occ-amara",
		Hospital:     "St Mary's",
		Ward:         "ICU",
		Role:         "RGN",
		WorkedStart:  start,
		WorkedEnd:    end,
		BreakMinutes: breakMinutes,
		AuthorisedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveTimesheet(ctx, ts); err != nil {
		return err
	}
	return h.Store.Enqueue(ctx, id, outbox.ReasonNewAuthorised)
}
