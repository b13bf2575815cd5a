/*
financials.go - SQLite persistence for source records and snapshots

PURPOSE:
  Implements financials.SourceStore, financials.PolicyStore,
  financials.RateStore and financials.SnapshotStore, plus the Save*
  write methods the API and scenario seeding use.

LOOKUP CONVENTION:
  Single-record lookups return (nil, nil) when no row exists. Absence is
  a domain condition (it drives UNASSIGNED / CLIENT_UNRESOLVED statuses),
  not an error.

SEE ALSO:
  - financials/store.go: Interface contracts
  - financials/writer.go: The recompute path that drives these reads
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/financials"
)

// =============================================================================
// TIMESHEETS (financials.SourceStore)
// =============================================================================

// SaveTimesheet inserts or updates a timesheet row.
func (s *Store) SaveTimesheet(ctx context.Context, ts financials.Timesheet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO timesheets
		(id, version, is_current, occupant_key, hospital, ward, role,
		 worked_start, worked_end, break_start, break_end, break_minutes,
		 expenses_amount, mileage_amount, authorised_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			is_current = excluded.is_current,
			occupant_key = excluded.occupant_key,
			hospital = excluded.hospital,
			ward = excluded.ward,
			role = excluded.role,
			worked_start = excluded.worked_start,
			worked_end = excluded.worked_end,
			break_start = excluded.break_start,
			break_end = excluded.break_end,
			break_minutes = excluded.break_minutes,
			expenses_amount = excluded.expenses_amount,
			mileage_amount = excluded.mileage_amount,
			authorised_at = excluded.authorised_at
	`

	_, err := s.db.ExecContext(ctx, query,
		ts.ID, ts.Version, ts.IsCurrent, ts.OccupantKey, ts.Hospital, ts.Ward, ts.Role,
		ts.WorkedStart.UTC().Format(time.RFC3339),
		ts.WorkedEnd.UTC().Format(time.RFC3339),
		nullTime(ts.BreakStart), nullTime(ts.BreakEnd), ts.BreakMinutes,
		ts.ExpensesAmount.String(), ts.MileageAmount.String(),
		ts.AuthorisedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save timesheet: %w", err)
	}
	return nil
}

// RevokeTimesheet marks a timesheet as no longer current without a
// successor version.
func (s *Store) RevokeTimesheet(ctx context.Context, id engine.TimesheetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE timesheets SET is_current = FALSE WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to revoke timesheet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrTimesheetNotFound
	}
	return nil
}

// Timesheet loads one timesheet. Returns (nil, nil) when absent.
func (s *Store) Timesheet(ctx context.Context, id engine.TimesheetID) (*financials.Timesheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, version, is_current, occupant_key, hospital, ward, role,
		       worked_start, worked_end, break_start, break_end, break_minutes,
		       expenses_amount, mileage_amount, authorised_at
		FROM timesheets WHERE id = ?
	`
	return scanTimesheet(s.db.QueryRowContext(ctx, query, id))
}

// TimesheetsForClient lists current timesheets whose hospital maps to the
// client. Used by the policy/rate edit endpoints to fan out re-enqueues.
func (s *Store) TimesheetsForClient(ctx context.Context, clientID engine.ClientID) ([]engine.TimesheetID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT t.id
		FROM timesheets t
		JOIN client_hospitals ch ON ch.hospital = t.hospital
		WHERE ch.client_id = ? AND t.is_current
	`
	rows, err := s.db.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query timesheets for client: %w", err)
	}
	defer rows.Close()

	var ids []engine.TimesheetID
	for rows.Next() {
		var id engine.TimesheetID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CurrentTimesheets lists every current timesheet. Used when the global
// default policy changes and everything needs recomputing.
func (s *Store) CurrentTimesheets(ctx context.Context) ([]engine.TimesheetID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id FROM timesheets WHERE is_current")
	if err != nil {
		return nil, fmt.Errorf("failed to query current timesheets: %w", err)
	}
	defer rows.Close()

	var ids []engine.TimesheetID
	for rows.Next() {
		var id engine.TimesheetID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TimesheetsForCandidate lists current timesheets keyed to the
// candidate's occupant key.
func (s *Store) TimesheetsForCandidate(ctx context.Context, candidateID engine.CandidateID) ([]engine.TimesheetID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT t.id
		FROM timesheets t
		JOIN candidates c ON c.occupant_key = t.occupant_key
		WHERE c.id = ? AND t.is_current
	`
	rows, err := s.db.QueryContext(ctx, query, candidateID)
	if err != nil {
		return nil, fmt.Errorf("failed to query timesheets for candidate: %w", err)
	}
	defer rows.Close()

	var ids []engine.TimesheetID
	for rows.Next() {
		var id engine.TimesheetID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanTimesheet(row *sql.Row) (*financials.Timesheet, error) {
	var (
		ts                     financials.Timesheet
		workedStart, workedEnd string
		breakStart, breakEnd   sql.NullString
		expenses, mileage      string
		authorisedAt           string
	)
	err := row.Scan(
		&ts.ID, &ts.Version, &ts.IsCurrent, &ts.OccupantKey, &ts.Hospital,
		&ts.Ward, &ts.Role, &workedStart, &workedEnd, &breakStart, &breakEnd,
		&ts.BreakMinutes, &expenses, &mileage, &authorisedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan timesheet: %w", err)
	}

	ts.WorkedStart = parseTime(workedStart)
	ts.WorkedEnd = parseTime(workedEnd)
	ts.BreakStart = parseTimePtr(breakStart)
	ts.BreakEnd = parseTimePtr(breakEnd)
	ts.ExpensesAmount = parseDecimal(expenses)
	ts.MileageAmount = parseDecimal(mileage)
	ts.AuthorisedAt = parseTime(authorisedAt)
	return &ts, nil
}

// =============================================================================
// CANDIDATES / CLIENTS / UMBRELLAS
// =============================================================================

// SaveCandidate inserts or updates a candidate.
func (s *Store) SaveCandidate(ctx context.Context, c financials.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var umbrellaID sql.NullString
	if c.UmbrellaID != nil {
		umbrellaID = sql.NullString{String: string(*c.UmbrellaID), Valid: true}
	}

	query := `
		INSERT INTO candidates
		(id, occupant_key, name, band, pay_method, sort_code, account_number, umbrella_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			occupant_key = excluded.occupant_key,
			name = excluded.name,
			band = excluded.band,
			pay_method = excluded.pay_method,
			sort_code = excluded.sort_code,
			account_number = excluded.account_number,
			umbrella_id = excluded.umbrella_id
	`
	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.OccupantKey, c.Name, c.Band, c.PayMethod,
		c.Bank.SortCode, c.Bank.AccountNumber, umbrellaID,
	)
	if err != nil {
		return fmt.Errorf("failed to save candidate: %w", err)
	}
	return nil
}

// Candidate loads a candidate by ID. Returns (nil, nil) when absent.
func (s *Store) Candidate(ctx context.Context, id engine.CandidateID) (*financials.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanCandidate(s.db.QueryRowContext(ctx, `
		SELECT id, occupant_key, name, band, pay_method, sort_code, account_number, umbrella_id
		FROM candidates WHERE id = ?`, id))
}

// CandidateByOccupant resolves a timesheet's occupant key to a candidate.
func (s *Store) CandidateByOccupant(ctx context.Context, occupantKey string) (*financials.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanCandidate(s.db.QueryRowContext(ctx, `
		SELECT id, occupant_key, name, band, pay_method, sort_code, account_number, umbrella_id
		FROM candidates WHERE occupant_key = ?`, occupantKey))
}

func scanCandidate(row *sql.Row) (*financials.Candidate, error) {
	var (
		c          financials.Candidate
		umbrellaID sql.NullString
	)
	err := row.Scan(&c.ID, &c.OccupantKey, &c.Name, &c.Band, &c.PayMethod,
		&c.Bank.SortCode, &c.Bank.AccountNumber, &umbrellaID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan candidate: %w", err)
	}
	if umbrellaID.Valid && umbrellaID.String != "" {
		id := engine.UmbrellaID(umbrellaID.String)
		c.UmbrellaID = &id
	}
	return &c, nil
}

// SaveClient inserts or updates a client and its hospital mappings.
func (s *Store) SaveClient(ctx context.Context, c financials.Client, hospitals ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO clients (id, name, vat_exempt) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			vat_exempt = excluded.vat_exempt`,
		c.ID, c.Name, c.VATExempt)
	if err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	for _, h := range hospitals {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO client_hospitals (hospital, client_id) VALUES (?, ?)
			ON CONFLICT(hospital) DO UPDATE SET client_id = excluded.client_id`,
			h, c.ID)
		if err != nil {
			return fmt.Errorf("failed to save hospital mapping: %w", err)
		}
	}

	return tx.Commit()
}

// Client loads a client by ID. Returns (nil, nil) when absent.
func (s *Store) Client(ctx context.Context, id engine.ClientID) (*financials.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanClient(s.db.QueryRowContext(ctx,
		"SELECT id, name, vat_exempt FROM clients WHERE id = ?", id))
}

// ClientByHospital resolves a timesheet's hospital name to a client.
func (s *Store) ClientByHospital(ctx context.Context, hospital string) (*financials.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanClient(s.db.QueryRowContext(ctx, `
		SELECT c.id, c.name, c.vat_exempt
		FROM clients c JOIN client_hospitals ch ON ch.client_id = c.id
		WHERE ch.hospital = ?`, hospital))
}

func scanClient(row *sql.Row) (*financials.Client, error) {
	var c financials.Client
	err := row.Scan(&c.ID, &c.Name, &c.VATExempt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan client: %w", err)
	}
	return &c, nil
}

// SaveUmbrella inserts or updates an umbrella company.
func (s *Store) SaveUmbrella(ctx context.Context, u financials.Umbrella) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO umbrellas (id, name, sort_code, account_number)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			sort_code = excluded.sort_code,
			account_number = excluded.account_number`,
		u.ID, u.Name, u.Bank.SortCode, u.Bank.AccountNumber)
	if err != nil {
		return fmt.Errorf("failed to save umbrella: %w", err)
	}
	return nil
}

// Umbrella loads an umbrella company. Returns (nil, nil) when absent.
func (s *Store) Umbrella(ctx context.Context, id engine.UmbrellaID) (*financials.Umbrella, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var u financials.Umbrella
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, sort_code, account_number FROM umbrellas WHERE id = ?", id).
		Scan(&u.ID, &u.Name, &u.Bank.SortCode, &u.Bank.AccountNumber)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan umbrella: %w", err)
	}
	return &u, nil
}

// =============================================================================
// VALIDATIONS AND EVIDENCE
// =============================================================================

// SaveValidation records an HR verdict for a timesheet.
func (s *Store) SaveValidation(ctx context.Context, v financials.Validation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO validations (id, timesheet_id, status, at) VALUES (?, ?, ?, ?)",
		uuid.NewString(), v.TimesheetID, v.Status, v.At.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save validation: %w", err)
	}
	return nil
}

// LatestValidation returns the most recent verdict, or (nil, nil).
func (s *Store) LatestValidation(ctx context.Context, id engine.TimesheetID) (*financials.Validation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		v  financials.Validation
		at string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT timesheet_id, status, at FROM validations
		WHERE timesheet_id = ? ORDER BY at DESC LIMIT 1`, id).
		Scan(&v.TimesheetID, &v.Status, &at)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan validation: %w", err)
	}
	v.At = parseTime(at)
	return &v, nil
}

// SaveEvidence records an evidence attachment. Duplicate kinds per
// timesheet are idempotent.
func (s *Store) SaveEvidence(ctx context.Context, id engine.TimesheetID, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evidence (timesheet_id, kind, created_at) VALUES (?, ?, ?)
		ON CONFLICT(timesheet_id, kind) DO NOTHING`,
		id, kind, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save evidence: %w", err)
	}
	return nil
}

// EvidenceExists reports whether evidence of the given kind is stored.
func (s *Store) EvidenceExists(ctx context.Context, id engine.TimesheetID, kind string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM evidence WHERE timesheet_id = ? AND kind = ?",
		id, kind).Scan(&count)
	return count > 0, err
}

// =============================================================================
// POLICY STORE (financials.PolicyStore)
// =============================================================================

// SaveDefaultPolicy replaces the global default policy row. Bank
// holidays are stored separately (SaveBankHoliday).
func (s *Store) SaveDefaultPolicy(ctx context.Context, p engine.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO policy_defaults
		(id, timezone, day_start_minutes, day_end_minutes, vat_percent,
		 holiday_pay_percent, erni_percent, on_cost_channel)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			timezone = excluded.timezone,
			day_start_minutes = excluded.day_start_minutes,
			day_end_minutes = excluded.day_end_minutes,
			vat_percent = excluded.vat_percent,
			holiday_pay_percent = excluded.holiday_pay_percent,
			erni_percent = excluded.erni_percent,
			on_cost_channel = excluded.on_cost_channel
	`
	_, err := s.db.ExecContext(ctx, query,
		p.Timezone, p.DayStartMinutes, p.DayEndMinutes,
		p.VATPercent.String(), p.HolidayPayPercent.String(),
		p.ERNIPercent.String(), p.OnCostChannel)
	if err != nil {
		return fmt.Errorf("failed to save default policy: %w", err)
	}
	return nil
}

// SaveBankHoliday adds a date to the shared bank-holiday calendar.
func (s *Store) SaveBankHoliday(ctx context.Context, date, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bank_holidays (date, name) VALUES (?, ?)
		ON CONFLICT(date) DO UPDATE SET name = excluded.name`,
		date, name)
	if err != nil {
		return fmt.Errorf("failed to save bank holiday: %w", err)
	}
	return nil
}

// DefaultPolicy returns the stored global default merged with the
// bank-holiday calendar. Falls back to the built-in default when no row
// has been saved.
func (s *Store) DefaultPolicy(ctx context.Context) (engine.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := engine.DefaultPolicy()
	var vat, holiday, erni string
	err := s.db.QueryRowContext(ctx, `
		SELECT timezone, day_start_minutes, day_end_minutes, vat_percent,
		       holiday_pay_percent, erni_percent, on_cost_channel
		FROM policy_defaults WHERE id = 1`).
		Scan(&p.Timezone, &p.DayStartMinutes, &p.DayEndMinutes,
			&vat, &holiday, &erni, &p.OnCostChannel)
	if err != nil && err != sql.ErrNoRows {
		return p, fmt.Errorf("failed to load default policy: %w", err)
	}
	if err == nil {
		p.VATPercent = parseDecimal(vat)
		p.HolidayPayPercent = parseDecimal(holiday)
		p.ERNIPercent = parseDecimal(erni)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT date FROM bank_holidays")
	if err != nil {
		return p, fmt.Errorf("failed to load bank holidays: %w", err)
	}
	defer rows.Close()

	p.BankHolidays = make(map[string]bool)
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return p, err
		}
		p.BankHolidays[date] = true
	}
	return p, rows.Err()
}

// SavePolicyOverride appends a client settings row.
func (s *Store) SavePolicyOverride(ctx context.Context, o engine.PolicyOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		dayStart, dayEnd         sql.NullInt64
		vat, holiday, erni, onCost sql.NullString
	)
	if o.DayStartMinutes != nil {
		dayStart = sql.NullInt64{Int64: int64(*o.DayStartMinutes), Valid: true}
	}
	if o.DayEndMinutes != nil {
		dayEnd = sql.NullInt64{Int64: int64(*o.DayEndMinutes), Valid: true}
	}
	if o.VATPercent != nil {
		vat = sql.NullString{String: o.VATPercent.String(), Valid: true}
	}
	if o.HolidayPayPercent != nil {
		holiday = sql.NullString{String: o.HolidayPayPercent.String(), Valid: true}
	}
	if o.ERNIPercent != nil {
		erni = sql.NullString{String: o.ERNIPercent.String(), Valid: true}
	}
	if o.OnCostChannel != nil {
		onCost = sql.NullString{String: string(*o.OnCostChannel), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_settings
		(id, client_id, effective_from, day_start_minutes, day_end_minutes,
		 vat_percent, holiday_pay_percent, erni_percent, on_cost_channel)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), o.ClientID, o.EffectiveFrom.UTC().Format(time.RFC3339),
		dayStart, dayEnd, vat, holiday, erni, onCost)
	if err != nil {
		return fmt.Errorf("failed to save policy override: %w", err)
	}
	return nil
}

// PolicyOverrides lists all settings rows for a client.
func (s *Store) PolicyOverrides(ctx context.Context, clientID engine.ClientID) ([]engine.PolicyOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT client_id, effective_from, day_start_minutes, day_end_minutes,
		       vat_percent, holiday_pay_percent, erni_percent, on_cost_channel
		FROM client_settings WHERE client_id = ?
		ORDER BY effective_from DESC`, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy overrides: %w", err)
	}
	defer rows.Close()

	var overrides []engine.PolicyOverride
	for rows.Next() {
		var (
			o                         engine.PolicyOverride
			effectiveFrom             string
			dayStart, dayEnd          sql.NullInt64
			vat, holiday, erni, onCost sql.NullString
		)
		err := rows.Scan(&o.ClientID, &effectiveFrom, &dayStart, &dayEnd,
			&vat, &holiday, &erni, &onCost)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy override: %w", err)
		}
		o.EffectiveFrom = parseTime(effectiveFrom)
		if dayStart.Valid {
			v := int(dayStart.Int64)
			o.DayStartMinutes = &v
		}
		if dayEnd.Valid {
			v := int(dayEnd.Int64)
			o.DayEndMinutes = &v
		}
		o.VATPercent = parseDecimalPtr(vat)
		o.HolidayPayPercent = parseDecimalPtr(holiday)
		o.ERNIPercent = parseDecimalPtr(erni)
		if onCost.Valid && onCost.String != "" {
			pm := engine.PayMethod(onCost.String)
			o.OnCostChannel = &pm
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// =============================================================================
// RATE STORE (financials.RateStore)
// =============================================================================

// SaveCandidateRate inserts or updates a candidate override rate row.
func (s *Store) SaveCandidateRate(ctx context.Context, r engine.CandidateRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var clientID sql.NullString
	if r.ClientID != nil {
		clientID = sql.NullString{String: string(*r.ClientID), Valid: true}
	}

	query := `
		INSERT INTO candidate_rates
		(id, candidate_id, client_id, role, band, date_from, date_to, pay_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_id = excluded.client_id,
			role = excluded.role,
			band = excluded.band,
			date_from = excluded.date_from,
			date_to = excluded.date_to,
			pay_json = excluded.pay_json
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.CandidateID, clientID, nullStringPtr(r.Role), nullStringPtr(r.Band),
		r.DateFrom.UTC().Format(time.RFC3339), nullTime(r.DateTo),
		bucketsJSON(r.Pay))
	if err != nil {
		return fmt.Errorf("failed to save candidate rate: %w", err)
	}
	return nil
}

// CandidateRates lists all override rate rows for a candidate.
func (s *Store) CandidateRates(ctx context.Context, candidateID engine.CandidateID) ([]engine.CandidateRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, candidate_id, client_id, role, band, date_from, date_to, pay_json
		FROM candidate_rates WHERE candidate_id = ?`, candidateID)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate rates: %w", err)
	}
	defer rows.Close()

	var rates []engine.CandidateRate
	for rows.Next() {
		var (
			r                       engine.CandidateRate
			clientID, role, band    sql.NullString
			dateFrom                string
			dateTo                  sql.NullString
			payJSON                 string
		)
		err := rows.Scan(&r.ID, &r.CandidateID, &clientID, &role, &band,
			&dateFrom, &dateTo, &payJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate rate: %w", err)
		}
		if clientID.Valid && clientID.String != "" {
			id := engine.ClientID(clientID.String)
			r.ClientID = &id
		}
		r.Role = stringPtr(role)
		r.Band = stringPtr(band)
		r.DateFrom = parseTime(dateFrom)
		r.DateTo = parseTimePtr(dateTo)
		r.Pay = parseBuckets(payJSON)
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

// SaveClientRate inserts or updates a client default rate row.
func (s *Store) SaveClientRate(ctx context.Context, r engine.ClientRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payJSON sql.NullString
	if r.Pay != nil {
		payJSON = sql.NullString{String: bucketsJSON(*r.Pay), Valid: true}
	}

	query := `
		INSERT INTO client_rates
		(id, client_id, role, band, date_from, date_to, charge_json, pay_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_id = excluded.client_id,
			role = excluded.role,
			band = excluded.band,
			date_from = excluded.date_from,
			date_to = excluded.date_to,
			charge_json = excluded.charge_json,
			pay_json = excluded.pay_json
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.ClientID, nullStringPtr(r.Role), nullStringPtr(r.Band),
		r.DateFrom.UTC().Format(time.RFC3339), nullTime(r.DateTo),
		bucketsJSON(r.Charge), payJSON)
	if err != nil {
		return fmt.Errorf("failed to save client rate: %w", err)
	}
	return nil
}

// ClientRates lists all default rate rows for a client.
func (s *Store) ClientRates(ctx context.Context, clientID engine.ClientID) ([]engine.ClientRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, role, band, date_from, date_to, charge_json, pay_json
		FROM client_rates WHERE client_id = ?`, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query client rates: %w", err)
	}
	defer rows.Close()

	var rates []engine.ClientRate
	for rows.Next() {
		var (
			r                   engine.ClientRate
			role, band          sql.NullString
			dateFrom            string
			dateTo              sql.NullString
			chargeJSON          string
			payJSON             sql.NullString
		)
		err := rows.Scan(&r.ID, &r.ClientID, &role, &band, &dateFrom, &dateTo,
			&chargeJSON, &payJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client rate: %w", err)
		}
		r.Role = stringPtr(role)
		r.Band = stringPtr(band)
		r.DateFrom = parseTime(dateFrom)
		r.DateTo = parseTimePtr(dateTo)
		r.Charge = parseBuckets(chargeJSON)
		r.Pay = parseBucketsPtr(payJSON)
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

// =============================================================================
// SNAPSHOT STORE (financials.SnapshotStore)
// =============================================================================

const snapshotColumns = `
	id, timesheet_id, timesheet_version, candidate_id, client_id, role, band,
	pay_method, hours_json, pay_rates_json, charge_rates_json, rate_source,
	total_pay_ex_vat, total_charge_ex_vat, margin_ex_vat,
	expenses_pay, expenses_charge, mileage_pay, mileage_charge,
	status, is_current, is_stale, stale_reason,
	locked_by_invoice_id, locked_at, computed_at`

// querier is satisfied by both *sql.DB and *sql.Tx, so snapshot reads
// can run inside or outside a transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// CurrentSnapshot returns the single current snapshot, or (nil, nil).
func (s *Store) CurrentSnapshot(ctx context.Context, id engine.TimesheetID) (*financials.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return currentSnapshot(ctx, s.db, id)
}

func currentSnapshot(ctx context.Context, q querier, id engine.TimesheetID) (*financials.Snapshot, error) {
	snaps, err := querySnapshots(ctx, q,
		"SELECT "+snapshotColumns+" FROM timesheet_financials WHERE timesheet_id = ? AND is_current", id)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return &snaps[0], nil
}

// SnapshotHistory returns all snapshot rows for a timesheet, newest first.
func (s *Store) SnapshotHistory(ctx context.Context, id engine.TimesheetID) ([]financials.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return querySnapshots(ctx, s.db,
		"SELECT "+snapshotColumns+" FROM timesheet_financials WHERE timesheet_id = ? ORDER BY computed_at DESC", id)
}

// ReplaceCurrent flips the existing current row (if any) to non-current
// and inserts snap as the new current row, atomically. A locked current
// row refuses the replacement.
func (s *Store) ReplaceCurrent(ctx context.Context, snap financials.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cur, err := currentSnapshot(ctx, tx, snap.TimesheetID)
	if err != nil {
		return err
	}
	if cur != nil {
		if cur.LockedByInvoiceID != nil {
			return &engine.LockedError{TimesheetID: snap.TimesheetID, InvoiceID: *cur.LockedByInvoiceID}
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE timesheet_financials SET is_current = FALSE
			WHERE timesheet_id = ? AND is_current AND locked_by_invoice_id IS NULL`,
			snap.TimesheetID)
		if err != nil {
			return fmt.Errorf("failed to retire current snapshot: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &engine.ConflictError{Op: "replace current snapshot", Expected: 1, Affected: 0}
		}
	}

	snap.IsCurrent = true
	if err := insertSnapshot(ctx, tx, snap); err != nil {
		return err
	}
	return tx.Commit()
}

// RetireCurrent flips the current row to non-current without a
// successor. No current row is a no-op; a locked row refuses.
func (s *Store) RetireCurrent(ctx context.Context, id engine.TimesheetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := currentSnapshot(ctx, s.db, id)
	if err != nil {
		return err
	}
	if cur == nil {
		return nil
	}
	if cur.LockedByInvoiceID != nil {
		return &engine.LockedError{TimesheetID: id, InvoiceID: *cur.LockedByInvoiceID}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE timesheet_financials SET is_current = FALSE
		WHERE timesheet_id = ? AND is_current AND locked_by_invoice_id IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to retire snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &engine.ConflictError{Op: "retire current snapshot", Expected: 1, Affected: 0}
	}
	return nil
}

func insertSnapshot(ctx context.Context, tx *sql.Tx, snap financials.Snapshot) error {
	query := `
		INSERT INTO timesheet_financials (` + snapshotColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var lockedBy sql.NullString
	if snap.LockedByInvoiceID != nil {
		lockedBy = sql.NullString{String: string(*snap.LockedByInvoiceID), Valid: true}
	}

	_, err := tx.ExecContext(ctx, query,
		snap.ID, snap.TimesheetID, snap.TimesheetVersion,
		snap.CandidateID, snap.ClientID, snap.Role, snap.Band, snap.PayMethod,
		bucketsJSON(snap.Hours), bucketsJSON(snap.PayRates), bucketsJSON(snap.ChargeRates),
		snap.RateSource,
		snap.TotalPayExVAT.String(), snap.TotalChargeExVAT.String(), snap.MarginExVAT.String(),
		snap.ExpensesPay.String(), snap.ExpensesCharge.String(),
		snap.MileagePay.String(), snap.MileageCharge.String(),
		snap.Status, snap.IsCurrent, snap.IsStale, snap.StaleReason,
		lockedBy, nullTime(snap.LockedAtUTC),
		snap.ComputedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &engine.ConflictError{Op: "insert current snapshot", Expected: 1, Affected: 0}
		}
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

func querySnapshots(ctx context.Context, q querier, query string, args ...any) ([]financials.Snapshot, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []financials.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func scanSnapshot(rows *sql.Rows) (financials.Snapshot, error) {
	var (
		snap                            financials.Snapshot
		hoursJSON, payJSON, chargeJSON  string
		totalPay, totalCharge, margin   string
		expPay, expCharge               string
		milPay, milCharge               string
		lockedBy, lockedAt              sql.NullString
		computedAt                      string
	)
	err := rows.Scan(
		&snap.ID, &snap.TimesheetID, &snap.TimesheetVersion,
		&snap.CandidateID, &snap.ClientID, &snap.Role, &snap.Band, &snap.PayMethod,
		&hoursJSON, &payJSON, &chargeJSON, &snap.RateSource,
		&totalPay, &totalCharge, &margin,
		&expPay, &expCharge, &milPay, &milCharge,
		&snap.Status, &snap.IsCurrent, &snap.IsStale, &snap.StaleReason,
		&lockedBy, &lockedAt, &computedAt,
	)
	if err != nil {
		return snap, fmt.Errorf("failed to scan snapshot: %w", err)
	}

	snap.Hours = parseBuckets(hoursJSON)
	snap.PayRates = parseBuckets(payJSON)
	snap.ChargeRates = parseBuckets(chargeJSON)
	snap.TotalPayExVAT = parseDecimal(totalPay)
	snap.TotalChargeExVAT = parseDecimal(totalCharge)
	snap.MarginExVAT = parseDecimal(margin)
	snap.ExpensesPay = parseDecimal(expPay)
	snap.ExpensesCharge = parseDecimal(expCharge)
	snap.MileagePay = parseDecimal(milPay)
	snap.MileageCharge = parseDecimal(milCharge)
	if lockedBy.Valid && lockedBy.String != "" {
		id := engine.InvoiceID(lockedBy.String)
		snap.LockedByInvoiceID = &id
	}
	snap.LockedAtUTC = parseTimePtr(lockedAt)
	snap.ComputedAt = parseTime(computedAt)
	return snap, nil
}

func nullStringPtr(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
