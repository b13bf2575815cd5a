/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY AND HOURS:
  All decimal values cross the wire as strings ("123.45"), never as
  floats. Times are RFC3339 UTC.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/policy.go: PolicyJSON / OverrideJSON request payloads
*/
package api

import (
	"time"

	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/financials"
	"github.com/warp/timesheet-engine/invoice"
	"github.com/warp/timesheet-engine/outbox"
)

// =============================================================================
// SHARED
// =============================================================================

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// BucketsDTO carries one decimal string per pay bucket.
type BucketsDTO struct {
	Day         string `json:"day"`
	Night       string `json:"night"`
	Saturday    string `json:"saturday"`
	Sunday      string `json:"sunday"`
	BankHoliday string `json:"bank_holiday"`
}

func toBucketsDTO(b engine.BucketSet) BucketsDTO {
	return BucketsDTO{
		Day:         b.Day.String(),
		Night:       b.Night.String(),
		Saturday:    b.Saturday.String(),
		Sunday:      b.Sunday.String(),
		BankHoliday: b.BankHoliday.String(),
	}
}

// =============================================================================
// TIMESHEETS
// =============================================================================

// SubmitTimesheetRequest creates or replaces an authorised timesheet.
type SubmitTimesheetRequest struct {
	ID           string `json:"id"`
	Version      int    `json:"version,omitempty"`
	OccupantKey  string `json:"occupant_key"`
	Hospital     string `json:"hospital"`
	Ward         string `json:"ward,omitempty"`
	Role         string `json:"role,omitempty"`
	WorkedStart  string `json:"worked_start"` // RFC3339
	WorkedEnd    string `json:"worked_end"`
	BreakStart   string `json:"break_start,omitempty"`
	BreakEnd     string `json:"break_end,omitempty"`
	BreakMinutes int    `json:"break_minutes,omitempty"`
	Expenses     string `json:"expenses,omitempty"` // decimal string
	Mileage      string `json:"mileage,omitempty"`
}

// TimesheetDTO represents a timesheet in API responses.
type TimesheetDTO struct {
	ID           string `json:"id"`
	Version      int    `json:"version"`
	IsCurrent    bool   `json:"is_current"`
	OccupantKey  string `json:"occupant_key"`
	Hospital     string `json:"hospital"`
	Ward         string `json:"ward,omitempty"`
	Role         string `json:"role,omitempty"`
	WorkedStart  string `json:"worked_start"`
	WorkedEnd    string `json:"worked_end"`
	BreakMinutes int    `json:"break_minutes,omitempty"`
	Expenses     string `json:"expenses"`
	Mileage      string `json:"mileage"`
	AuthorisedAt string `json:"authorised_at"`
}

func toTimesheetDTO(ts *financials.Timesheet) TimesheetDTO {
	return TimesheetDTO{
		ID:           string(ts.ID),
		Version:      ts.Version,
		IsCurrent:    ts.IsCurrent,
		OccupantKey:  ts.OccupantKey,
		Hospital:     ts.Hospital,
		Ward:         ts.Ward,
		Role:         ts.Role,
		WorkedStart:  ts.WorkedStart.UTC().Format(time.RFC3339),
		WorkedEnd:    ts.WorkedEnd.UTC().Format(time.RFC3339),
		BreakMinutes: ts.BreakMinutes,
		Expenses:     ts.ExpensesAmount.String(),
		Mileage:      ts.MileageAmount.String(),
		AuthorisedAt: ts.AuthorisedAt.UTC().Format(time.RFC3339),
	}
}

// ValidationRequest records an HR verdict.
type ValidationRequest struct {
	Status string `json:"status"` // validated, overridden, rejected
}

// EvidenceRequest records an evidence attachment.
type EvidenceRequest struct {
	Kind string `json:"kind"` // expenses, mileage
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// SnapshotDTO represents a financial snapshot in API responses.
type SnapshotDTO struct {
	ID               string     `json:"id"`
	TimesheetID      string     `json:"timesheet_id"`
	TimesheetVersion int        `json:"timesheet_version"`
	CandidateID      string     `json:"candidate_id,omitempty"`
	ClientID         string     `json:"client_id,omitempty"`
	Role             string     `json:"role,omitempty"`
	Band             string     `json:"band,omitempty"`
	PayMethod        string     `json:"pay_method,omitempty"`
	Hours            BucketsDTO `json:"hours"`
	PayRates         BucketsDTO `json:"pay_rates"`
	ChargeRates      BucketsDTO `json:"charge_rates"`
	RateSource       string     `json:"rate_source"`
	TotalPayExVAT    string     `json:"total_pay_ex_vat"`
	TotalChargeExVAT string     `json:"total_charge_ex_vat"`
	MarginExVAT      string     `json:"margin_ex_vat"`
	ExpensesPay      string     `json:"expenses_pay"`
	ExpensesCharge   string     `json:"expenses_charge"`
	MileagePay       string     `json:"mileage_pay"`
	MileageCharge    string     `json:"mileage_charge"`
	Status           string     `json:"status"`
	IsCurrent        bool       `json:"is_current"`
	IsStale          bool       `json:"is_stale,omitempty"`
	StaleReason      string     `json:"stale_reason,omitempty"`
	LockedByInvoice  string     `json:"locked_by_invoice_id,omitempty"`
	LockedAt         string     `json:"locked_at,omitempty"`
	ComputedAt       string     `json:"computed_at"`
}

func toSnapshotDTO(s *financials.Snapshot) SnapshotDTO {
	dto := SnapshotDTO{
		ID:               s.ID,
		TimesheetID:      string(s.TimesheetID),
		TimesheetVersion: s.TimesheetVersion,
		CandidateID:      string(s.CandidateID),
		ClientID:         string(s.ClientID),
		Role:             s.Role,
		Band:             s.Band,
		PayMethod:        string(s.PayMethod),
		Hours:            toBucketsDTO(s.Hours),
		PayRates:         toBucketsDTO(s.PayRates),
		ChargeRates:      toBucketsDTO(s.ChargeRates),
		RateSource:       string(s.RateSource),
		TotalPayExVAT:    s.TotalPayExVAT.String(),
		TotalChargeExVAT: s.TotalChargeExVAT.String(),
		MarginExVAT:      s.MarginExVAT.String(),
		ExpensesPay:      s.ExpensesPay.String(),
		ExpensesCharge:   s.ExpensesCharge.String(),
		MileagePay:       s.MileagePay.String(),
		MileageCharge:    s.MileageCharge.String(),
		Status:           string(s.Status),
		IsCurrent:        s.IsCurrent,
		IsStale:          s.IsStale,
		StaleReason:      s.StaleReason,
		ComputedAt:       s.ComputedAt.UTC().Format(time.RFC3339),
	}
	if s.LockedByInvoiceID != nil {
		dto.LockedByInvoice = string(*s.LockedByInvoiceID)
	}
	if s.LockedAtUTC != nil {
		dto.LockedAt = s.LockedAtUTC.UTC().Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// CANDIDATES / CLIENTS / UMBRELLAS
// =============================================================================

// CreateCandidateRequest creates or updates a candidate.
type CreateCandidateRequest struct {
	ID            string `json:"id"`
	OccupantKey   string `json:"occupant_key"`
	Name          string `json:"name"`
	Band          string `json:"band,omitempty"`
	PayMethod     string `json:"pay_method"` // PAYE or UMBRELLA
	SortCode      string `json:"sort_code,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	UmbrellaID    string `json:"umbrella_id,omitempty"`
}

// CreateClientRequest creates or updates a client.
type CreateClientRequest struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	VATExempt bool     `json:"vat_exempt,omitempty"`
	Hospitals []string `json:"hospitals,omitempty"`
}

// CreateUmbrellaRequest creates or updates an umbrella company.
type CreateUmbrellaRequest struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	SortCode      string `json:"sort_code,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
}

// =============================================================================
// OUTBOX
// =============================================================================

// OutboxEntryDTO represents a pending queue entry.
type OutboxEntryDTO struct {
	ID             string `json:"id"`
	TimesheetID    string `json:"timesheet_id"`
	Reason         string `json:"reason"`
	AttemptCount   int    `json:"attempt_count"`
	NextAttemptAt  string `json:"next_attempt_at"`
	LeaseExpiresAt string `json:"lease_expires_at,omitempty"`
	LastError      string `json:"last_error,omitempty"`
	CreatedAt      string `json:"created_at"`
}

func toOutboxEntryDTO(e outbox.Entry) OutboxEntryDTO {
	dto := OutboxEntryDTO{
		ID:            e.ID,
		TimesheetID:   string(e.TimesheetID),
		Reason:        string(e.Reason),
		AttemptCount:  e.AttemptCount,
		NextAttemptAt: e.NextAttemptAt.UTC().Format(time.RFC3339),
		LastError:     e.LastError,
		CreatedAt:     e.CreatedAt.UTC().Format(time.RFC3339),
	}
	if e.LeaseExpiresAt != nil {
		dto.LeaseExpiresAt = e.LeaseExpiresAt.UTC().Format(time.RFC3339)
	}
	return dto
}

// DrainResponse summarizes one manual drain pass.
type DrainResponse struct {
	Leased    int            `json:"leased"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Items     []DrainItemDTO `json:"items"`
}

// DrainItemDTO is the outcome for one processed entry.
type DrainItemDTO struct {
	TimesheetID string `json:"timesheet_id"`
	Reason      string `json:"reason"`
	Outcome     string `json:"outcome"`
	Status      string `json:"status,omitempty"`
	Error       string `json:"error,omitempty"`
}

// =============================================================================
// INVOICING
// =============================================================================

// TimesheetIDsRequest names the timesheets an operation applies to.
type TimesheetIDsRequest struct {
	TimesheetIDs []string `json:"timesheet_ids"`
}

// PromotionResponse reports per-timesheet promotion outcomes.
type PromotionResponse struct {
	Promoted []string              `json:"promoted"`
	Blocked  []BlockedPromotionDTO `json:"blocked"`
}

// BlockedPromotionDTO names one timesheet refused promotion and why.
type BlockedPromotionDTO struct {
	TimesheetID string `json:"timesheet_id"`
	Reason      string `json:"reason"`
}

// InvoiceDTO represents an invoice header.
type InvoiceDTO struct {
	ID               string `json:"id"`
	ClientID         string `json:"client_id"`
	Status           string `json:"status"`
	VATPercent       string `json:"vat_percent"`
	TotalChargeExVAT string `json:"total_charge_ex_vat"`
	TotalVAT         string `json:"total_vat"`
	TotalIncVAT      string `json:"total_inc_vat"`
	TotalPayExVAT    string `json:"total_pay_ex_vat"`
	TotalMarginExVAT string `json:"total_margin_ex_vat"`
	CreatedAt        string `json:"created_at"`
}

func toInvoiceDTO(inv *invoice.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:               string(inv.ID),
		ClientID:         string(inv.ClientID),
		Status:           string(inv.Status),
		VATPercent:       inv.VATPercent.String(),
		TotalChargeExVAT: inv.TotalChargeExVAT.String(),
		TotalVAT:         inv.TotalVAT.String(),
		TotalIncVAT:      inv.TotalIncVAT.String(),
		TotalPayExVAT:    inv.TotalPayExVAT.String(),
		TotalMarginExVAT: inv.TotalMarginExVAT.String(),
		CreatedAt:        inv.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// LineDTO represents an invoice or credit-note line.
type LineDTO struct {
	ID           string     `json:"id"`
	TimesheetID  string     `json:"timesheet_id"`
	Kind         string     `json:"kind"`
	Hours        BucketsDTO `json:"hours"`
	PayRates     BucketsDTO `json:"pay_rates"`
	ChargeRates  BucketsDTO `json:"charge_rates"`
	ChargeExVAT  string     `json:"charge_ex_vat"`
	PayExVAT     string     `json:"pay_ex_vat"`
	MarginExVAT  string     `json:"margin_ex_vat"`
	VATPercent   string     `json:"vat_percent"`
	VATAmount    string     `json:"vat_amount"`
}

func toLineDTO(l invoice.Line) LineDTO {
	return LineDTO{
		ID:          l.ID,
		TimesheetID: string(l.TimesheetID),
		Kind:        string(l.Kind),
		Hours:       toBucketsDTO(l.Hours),
		PayRates:    toBucketsDTO(l.PayRates),
		ChargeRates: toBucketsDTO(l.ChargeRates),
		ChargeExVAT: l.ChargeExVAT.String(),
		PayExVAT:    l.PayExVAT.String(),
		MarginExVAT: l.MarginExVAT.String(),
		VATPercent:  l.VATPercent.String(),
		VATAmount:   l.VATAmount.String(),
	}
}

func toLineDTOs(lines []invoice.Line) []LineDTO {
	dtos := make([]LineDTO, len(lines))
	for i, l := range lines {
		dtos[i] = toLineDTO(l)
	}
	return dtos
}

// InvoiceDetailResponse is an invoice with lines and credit notes.
type InvoiceDetailResponse struct {
	Invoice     InvoiceDTO      `json:"invoice"`
	Lines       []LineDTO       `json:"lines"`
	CreditNotes []CreditNoteDTO `json:"credit_notes"`
}

// CreditNoteRequest raises a credit note against an invoice.
type CreditNoteRequest struct {
	Reason string `json:"reason"`
}

// CreditNoteDTO represents a credit note.
type CreditNoteDTO struct {
	ID               string `json:"id"`
	InvoiceID        string `json:"invoice_id"`
	Reason           string `json:"reason,omitempty"`
	TotalChargeExVAT string `json:"total_charge_ex_vat"`
	TotalVAT         string `json:"total_vat"`
	TotalIncVAT      string `json:"total_inc_vat"`
	CreatedAt        string `json:"created_at"`
}

func toCreditNoteDTO(cn invoice.CreditNote) CreditNoteDTO {
	return CreditNoteDTO{
		ID:               string(cn.ID),
		InvoiceID:        string(cn.InvoiceID),
		Reason:           cn.Reason,
		TotalChargeExVAT: cn.TotalChargeExVAT.String(),
		TotalVAT:         cn.TotalVAT.String(),
		TotalIncVAT:      cn.TotalIncVAT.String(),
		CreatedAt:        cn.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// CreditNoteResponse reports a raised credit note and the released
// timesheets.
type CreditNoteResponse struct {
	CreditNote CreditNoteDTO `json:"credit_note"`
	Lines      []LineDTO     `json:"lines"`
	Unlocked   []string      `json:"unlocked_timesheet_ids"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes one demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	Scenario string `json:"scenario"`
}
