/*
handlers.go - HTTP API handlers for the timesheet financial engine

PURPOSE:
  Exposes the financial engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Timesheets:
    POST   /api/timesheets                        Submit/replace an authorised timesheet
    GET    /api/timesheets/{id}                   Get the timesheet record
    POST   /api/timesheets/{id}/revoke            Revoke without successor
    POST   /api/timesheets/{id}/recompute         Enqueue a manual recompute
    GET    /api/timesheets/{id}/financials        Current financial snapshot
    GET    /api/timesheets/{id}/financials/history Snapshot history
    POST   /api/timesheets/{id}/validations       Record an HR verdict
    POST   /api/timesheets/{id}/evidence          Record evidence

  Reference data:
    POST   /api/candidates                        Create/update candidate
    POST   /api/candidates/{id}/rates             Add override rate (re-enqueues)
    POST   /api/clients                           Create/update client
    POST   /api/clients/{id}/rates                Add default rate (re-enqueues)
    POST   /api/clients/{id}/settings             Add settings row (re-enqueues)
    POST   /api/umbrellas                         Create/update umbrella
    PUT    /api/policy                            Replace global default (re-enqueues)

  Outbox:
    GET    /api/outbox                            Pending entries
    POST   /api/outbox/drain                      Run one drain pass now

  Invoicing:
    POST   /api/invoices/promote                  READY_FOR_HR -> READY_FOR_INVOICE
    POST   /api/invoices                          Create invoice (locks snapshots)
    GET    /api/invoices                          List invoices
    GET    /api/invoices/{id}                     Invoice with lines and credit notes
    POST   /api/invoices/{id}/credit-note         Raise credit note (unlocks)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, ineligible timesheets
  - 404: Resource not found
  - 409: Conflict (lock held, concurrent modification)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/factory"
	"github.com/warp/timesheet-engine/financials"
	"github.com/warp/timesheet-engine/invoice"
	"github.com/warp/timesheet-engine/outbox"
	"github.com/warp/timesheet-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Writer    *financials.Writer
	Worker    *outbox.Worker
	Promoter  *invoice.Promoter
	Assembler *invoice.Assembler
	Unlocker  *invoice.Unlocker

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler wires the domain services around a single SQLite store.
func NewHandler(store *sqlite.Store) *Handler {
	stores := financials.Stores{
		SourceStore:   store,
		PolicyStore:   store,
		RateStore:     store,
		SnapshotStore: store,
	}
	writer := financials.NewWriter(stores)
	return &Handler{
		Store:     store,
		Writer:    writer,
		Worker:    outbox.NewWorker(store, writer),
		Promoter:  invoice.NewPromoter(stores, store, writer),
		Assembler: invoice.NewAssembler(stores, store),
		Unlocker:  invoice.NewUnlocker(store, store),
	}
}

// =============================================================================
// TIMESHEET HANDLERS
// =============================================================================

// SubmitTimesheet stores an authorised timesheet and enqueues it for
// recomputation. A resubmission with a higher version rotates the
// previous one.
func (h *Handler) SubmitTimesheet(w http.ResponseWriter, r *http.Request) {
	var req SubmitTimesheetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.OccupantKey == "" && req.Hospital == "" {
		writeError(w, http.StatusBadRequest, "id plus occupant_key or hospital required", nil)
		return
	}

	ts, err := h.timesheetFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid timesheet", err)
		return
	}

	ctx := r.Context()
	existing, err := h.Store.Timesheet(ctx, ts.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load timesheet", err)
		return
	}

	reason := outbox.ReasonNewAuthorised
	if existing != nil {
		if ts.Version <= existing.Version {
			ts.Version = existing.Version + 1
		}
		reason = outbox.ReasonVersionRotated
	}

	if err := h.Store.SaveTimesheet(ctx, ts); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save timesheet", err)
		return
	}
	if err := h.Store.Enqueue(ctx, ts.ID, reason); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to enqueue recompute", err)
		return
	}

	writeJSON(w, http.StatusCreated, toTimesheetDTO(&ts))
}

func (h *Handler) timesheetFromRequest(req SubmitTimesheetRequest) (financials.Timesheet, error) {
	ts := financials.Timesheet{
		ID:           engine.TimesheetID(req.ID),
		Version:      req.Version,
		IsCurrent:    true,
		OccupantKey:  req.OccupantKey,
		Hospital:     req.Hospital,
		Ward:         req.Ward,
		Role:         req.Role,
		BreakMinutes: req.BreakMinutes,
		AuthorisedAt: time.Now().UTC(),
	}
	if ts.Version == 0 {
		ts.Version = 1
	}

	var err error
	if ts.WorkedStart, err = time.Parse(time.RFC3339, req.WorkedStart); err != nil {
		return ts, err
	}
	if ts.WorkedEnd, err = time.Parse(time.RFC3339, req.WorkedEnd); err != nil {
		return ts, err
	}
	if req.BreakStart != "" {
		t, err := time.Parse(time.RFC3339, req.BreakStart)
		if err != nil {
			return ts, err
		}
		ts.BreakStart = &t
	}
	if req.BreakEnd != "" {
		t, err := time.Parse(time.RFC3339, req.BreakEnd)
		if err != nil {
			return ts, err
		}
		ts.BreakEnd = &t
	}
	if ts.ExpensesAmount, err = parseOptionalDecimal(req.Expenses); err != nil {
		return ts, err
	}
	if ts.MileageAmount, err = parseOptionalDecimal(req.Mileage); err != nil {
		return ts, err
	}
	return ts, nil
}

// GetTimesheet returns the stored timesheet record.
func (h *Handler) GetTimesheet(w http.ResponseWriter, r *http.Request) {
	id := engine.TimesheetID(chi.URLParam(r, "id"))

	ts, err := h.Store.Timesheet(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load timesheet", err)
		return
	}
	if ts == nil {
		writeError(w, http.StatusNotFound, "Timesheet not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toTimesheetDTO(ts))
}

// RevokeTimesheet marks the timesheet non-current and enqueues the
// retirement of its snapshot.
func (h *Handler) RevokeTimesheet(w http.ResponseWriter, r *http.Request) {
	id := engine.TimesheetID(chi.URLParam(r, "id"))
	ctx := r.Context()

	if err := h.Store.RevokeTimesheet(ctx, id); err != nil {
		if engine.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Timesheet not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to revoke timesheet", err)
		return
	}
	if err := h.Store.Enqueue(ctx, id, outbox.ReasonRevoked); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to enqueue recompute", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// RecomputeTimesheet enqueues a manual recompute.
func (h *Handler) RecomputeTimesheet(w http.ResponseWriter, r *http.Request) {
	id := engine.TimesheetID(chi.URLParam(r, "id"))

	if err := h.Store.Enqueue(r.Context(), id, outbox.ReasonManual); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to enqueue recompute", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "enqueued"})
}

// GetFinancials returns the current snapshot for a timesheet.
func (h *Handler) GetFinancials(w http.ResponseWriter, r *http.Request) {
	id := engine.TimesheetID(chi.URLParam(r, "id"))

	snap, err := h.Store.CurrentSnapshot(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load snapshot", err)
		return
	}
	if snap == nil {
		writeError(w, http.StatusNotFound, "No current snapshot", nil)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTO(snap))
}

// GetFinancialsHistory returns all snapshot rows, newest first.
func (h *Handler) GetFinancialsHistory(w http.ResponseWriter, r *http.Request) {
	id := engine.TimesheetID(chi.URLParam(r, "id"))

	history, err := h.Store.SnapshotHistory(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load history", err)
		return
	}

	dtos := make([]SnapshotDTO, len(history))
	for i := range history {
		dtos[i] = toSnapshotDTO(&history[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SubmitValidation records an HR verdict for a timesheet.
func (h *Handler) SubmitValidation(w http.ResponseWriter, r *http.Request) {
	id := engine.TimesheetID(chi.URLParam(r, "id"))

	var req ValidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required", nil)
		return
	}

	v := financials.Validation{TimesheetID: id, Status: req.Status, At: time.Now().UTC()}
	if err := h.Store.SaveValidation(r.Context(), v); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save validation", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": req.Status})
}

// SubmitEvidence records an evidence attachment for a timesheet.
func (h *Handler) SubmitEvidence(w http.ResponseWriter, r *http.Request) {
	id := engine.TimesheetID(chi.URLParam(r, "id"))

	var req EvidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Kind != financials.EvidenceExpenses && req.Kind != financials.EvidenceMileage {
		writeError(w, http.StatusBadRequest, "kind must be expenses or mileage", nil)
		return
	}

	if err := h.Store.SaveEvidence(r.Context(), id, req.Kind); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save evidence", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"kind": req.Kind})
}

// =============================================================================
// REFERENCE DATA HANDLERS
// =============================================================================

// CreateCandidate creates or updates a candidate.
func (h *Handler) CreateCandidate(w http.ResponseWriter, r *http.Request) {
	var req CreateCandidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.OccupantKey == "" {
		writeError(w, http.StatusBadRequest, "id and occupant_key are required", nil)
		return
	}

	c := financials.Candidate{
		ID:          engine.CandidateID(req.ID),
		OccupantKey: req.OccupantKey,
		Name:        req.Name,
		Band:        req.Band,
		PayMethod:   engine.PayMethod(req.PayMethod),
		Bank: engine.BankDetails{
			SortCode:      req.SortCode,
			AccountNumber: req.AccountNumber,
		},
	}
	if req.UmbrellaID != "" {
		id := engine.UmbrellaID(req.UmbrellaID)
		c.UmbrellaID = &id
	}

	if err := h.Store.SaveCandidate(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save candidate", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

// CreateCandidateRate adds an override rate row and re-enqueues the
// candidate's current timesheets.
func (h *Handler) CreateCandidateRate(w http.ResponseWriter, r *http.Request) {
	candidateID := engine.CandidateID(chi.URLParam(r, "id"))

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rate, err := factory.ParseCandidateRate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rate", err)
		return
	}
	if rate.CandidateID != candidateID {
		writeError(w, http.StatusBadRequest, "candidate_id does not match URL", nil)
		return
	}

	ctx := r.Context()
	if err := h.Store.SaveCandidateRate(ctx, rate); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save rate", err)
		return
	}
	if err := h.enqueueForCandidate(ctx, candidateID, outbox.ReasonRateChanged); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to enqueue recomputes", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": rate.ID})
}

// CreateClient creates or updates a client and its hospital mappings.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}

	c := financials.Client{
		ID:        engine.ClientID(req.ID),
		Name:      req.Name,
		VATExempt: req.VATExempt,
	}
	if err := h.Store.SaveClient(r.Context(), c, req.Hospitals...); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save client", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

// CreateClientRate adds a default rate row and re-enqueues the client's
// current timesheets.
func (h *Handler) CreateClientRate(w http.ResponseWriter, r *http.Request) {
	clientID := engine.ClientID(chi.URLParam(r, "id"))

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rate, err := factory.ParseClientRate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rate", err)
		return
	}
	if rate.ClientID != clientID {
		writeError(w, http.StatusBadRequest, "client_id does not match URL", nil)
		return
	}

	ctx := r.Context()
	if err := h.Store.SaveClientRate(ctx, rate); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save rate", err)
		return
	}
	if err := h.enqueueForClient(ctx, clientID, outbox.ReasonRateChanged); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to enqueue recomputes", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": rate.ID})
}

// CreateClientSettings adds a client settings row and re-enqueues the
// client's current timesheets.
func (h *Handler) CreateClientSettings(w http.ResponseWriter, r *http.Request) {
	clientID := engine.ClientID(chi.URLParam(r, "id"))

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	override, err := factory.ParseOverride(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid settings", err)
		return
	}
	if override.ClientID != clientID {
		writeError(w, http.StatusBadRequest, "client_id does not match URL", nil)
		return
	}

	ctx := r.Context()
	if err := h.Store.SavePolicyOverride(ctx, override); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save settings", err)
		return
	}
	if err := h.enqueueForClient(ctx, clientID, outbox.ReasonPolicyChanged); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to enqueue recomputes", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"client_id": string(clientID)})
}

// CreateUmbrella creates or updates an umbrella company.
func (h *Handler) CreateUmbrella(w http.ResponseWriter, r *http.Request) {
	var req CreateUmbrellaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}

	u := financials.Umbrella{
		ID:   engine.UmbrellaID(req.ID),
		Name: req.Name,
		Bank: engine.BankDetails{
			SortCode:      req.SortCode,
			AccountNumber: req.AccountNumber,
		},
	}
	if err := h.Store.SaveUmbrella(r.Context(), u); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save umbrella", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

// UpdateDefaultPolicy replaces the global default policy and re-enqueues
// every current timesheet.
func (h *Handler) UpdateDefaultPolicy(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	policy, err := factory.ParsePolicy(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy", err)
		return
	}

	ctx := r.Context()
	if err := h.Store.SaveDefaultPolicy(ctx, policy); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save policy", err)
		return
	}
	for date := range policy.BankHolidays {
		if err := h.Store.SaveBankHoliday(ctx, date, ""); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save bank holiday", err)
			return
		}
	}

	ids, err := h.Store.CurrentTimesheets(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list timesheets", err)
		return
	}
	for _, id := range ids {
		if err := h.Store.Enqueue(ctx, id, outbox.ReasonPolicyChanged); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to enqueue recomputes", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"reenqueued": len(ids)})
}

func (h *Handler) enqueueForClient(ctx context.Context, clientID engine.ClientID, reason outbox.Reason) error {
	ids, err := h.Store.TimesheetsForClient(ctx, clientID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := h.Store.Enqueue(ctx, id, reason); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) enqueueForCandidate(ctx context.Context, candidateID engine.CandidateID, reason outbox.Reason) error {
	ids, err := h.Store.TimesheetsForCandidate(ctx, candidateID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := h.Store.Enqueue(ctx, id, reason); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// OUTBOX HANDLERS
// =============================================================================

// ListOutbox returns pending queue entries.
func (h *Handler) ListOutbox(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Store.Pending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list outbox", err)
		return
	}

	dtos := make([]OutboxEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toOutboxEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DrainOutbox runs one drain pass immediately and reports per-entry
// outcomes.
func (h *Handler) DrainOutbox(w http.ResponseWriter, r *http.Request) {
	result, err := h.Worker.Drain(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Drain failed", err)
		return
	}

	resp := DrainResponse{
		Leased:    result.Leased,
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
		Items:     make([]DrainItemDTO, len(result.Items)),
	}
	for i, item := range result.Items {
		resp.Items[i] = DrainItemDTO{
			TimesheetID: string(item.TimesheetID),
			Reason:      string(item.Reason),
			Outcome:     string(item.Outcome),
			Status:      string(item.Status),
			Error:       item.Error,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// INVOICING HANDLERS
// =============================================================================

// PromoteTimesheets moves eligible snapshots to READY_FOR_INVOICE.
func (h *Handler) PromoteTimesheets(w http.ResponseWriter, r *http.Request) {
	ids, ok := h.readTimesheetIDs(w, r)
	if !ok {
		return
	}

	result, err := h.Promoter.Promote(r.Context(), ids)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Promotion failed", err)
		return
	}

	resp := PromotionResponse{
		Promoted: make([]string, len(result.Promoted)),
		Blocked:  make([]BlockedPromotionDTO, len(result.Blocked)),
	}
	for i, id := range result.Promoted {
		resp.Promoted[i] = string(id)
	}
	for i, b := range result.Blocked {
		resp.Blocked[i] = BlockedPromotionDTO{TimesheetID: string(b.TimesheetID), Reason: b.Reason}
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateInvoice builds an invoice over READY_FOR_INVOICE snapshots and
// locks them.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	ids, ok := h.readTimesheetIDs(w, r)
	if !ok {
		return
	}

	inv, lines, err := h.Assembler.CreateInvoice(r.Context(), ids)
	if err != nil {
		switch {
		case engine.IsConflict(err):
			writeError(w, http.StatusConflict, "Snapshots changed during invoicing", err)
		case engine.IsNotFound(err):
			writeError(w, http.StatusNotFound, "Timesheet has no current snapshot", err)
		default:
			writeError(w, http.StatusBadRequest, "Invoice rejected", err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, InvoiceDetailResponse{
		Invoice: toInvoiceDTO(inv),
		Lines:   toLineDTOs(lines),
	})
}

// ListInvoices returns all invoice headers, newest first.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.Store.ListInvoices(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list invoices", err)
		return
	}

	dtos := make([]InvoiceDTO, len(invoices))
	for i := range invoices {
		dtos[i] = toInvoiceDTO(&invoices[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetInvoice returns an invoice with its lines and credit notes.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := engine.InvoiceID(chi.URLParam(r, "id"))
	ctx := r.Context()

	inv, lines, err := h.Store.Invoice(ctx, id)
	if err != nil {
		if engine.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Invoice not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load invoice", err)
		return
	}

	notes, err := h.Store.CreditNotesForInvoice(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load credit notes", err)
		return
	}

	resp := InvoiceDetailResponse{
		Invoice:     toInvoiceDTO(inv),
		Lines:       toLineDTOs(lines),
		CreditNotes: make([]CreditNoteDTO, len(notes)),
	}
	for i, cn := range notes {
		resp.CreditNotes[i] = toCreditNoteDTO(cn)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateCreditNote raises a credit note, unlocks the invoice's
// snapshots and re-enqueues them.
func (h *Handler) CreateCreditNote(w http.ResponseWriter, r *http.Request) {
	id := engine.InvoiceID(chi.URLParam(r, "id"))

	var req CreditNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Unlocker.CreditInvoice(r.Context(), id, req.Reason)
	if err != nil {
		if engine.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Invoice not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to raise credit note", err)
		return
	}

	resp := CreditNoteResponse{
		CreditNote: toCreditNoteDTO(result.CreditNote),
		Lines:      toLineDTOs(result.Lines),
		Unlocked:   make([]string, len(result.Unlocked)),
	}
	for i, tsID := range result.Unlocked {
		resp.Unlocked[i] = string(tsID)
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) readTimesheetIDs(w http.ResponseWriter, r *http.Request) ([]engine.TimesheetID, bool) {
	var req TimesheetIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return nil, false
	}
	if len(req.TimesheetIDs) == 0 {
		writeError(w, http.StatusBadRequest, "timesheet_ids is required", nil)
		return nil, false
	}

	ids := make([]engine.TimesheetID, len(req.TimesheetIDs))
	for i, s := range req.TimesheetIDs {
		ids[i] = engine.TimesheetID(s)
	}
	return ids, true
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func parseOptionalDecimal(s string) (d decimal.Decimal, err error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
