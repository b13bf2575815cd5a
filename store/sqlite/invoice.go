/*
invoice.go - SQLite persistence for invoices, credit notes and locks

PURPOSE:
  Implements invoice.Store. The lock step of CreateInvoice is the
  critical section of the whole billing flow: each billed timesheet's
  current snapshot is claimed with a conditional UPDATE, and any
  shortfall in affected rows rolls the entire invoice back.

SEE ALSO:
  - invoice/assembler.go: Builds the header and lines this file persists
  - invoice/creditnote.go: Drives UnlockByInvoice
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/financials"
	"github.com/warp/timesheet-engine/invoice"
)

// PromoteSnapshots moves each timesheet's current snapshot from
// READY_FOR_HR to READY_FOR_INVOICE. The UPDATE is scoped by the
// expected prior state; ids whose snapshot changed under us are simply
// not promoted and absent from the result.
func (s *Store) PromoteSnapshots(ctx context.Context, ids []engine.TimesheetID) ([]engine.TimesheetID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var promoted []engine.TimesheetID
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx, `
			UPDATE timesheet_financials SET status = ?
			WHERE timesheet_id = ? AND is_current AND status = ?
			  AND locked_by_invoice_id IS NULL`,
			engine.StatusReadyForInvoice, id, engine.StatusReadyForHR)
		if err != nil {
			return promoted, fmt.Errorf("failed to promote snapshot: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			promoted = append(promoted, id)
		}
	}
	return promoted, nil
}

// CreateInvoice persists the header and lines and locks every billed
// snapshot, atomically. Each lock is a conditional UPDATE expecting a
// current, unlocked, READY_FOR_INVOICE row; one miss rolls everything
// back with a conflict.
func (s *Store) CreateInvoice(ctx context.Context, inv invoice.Invoice, lines []invoice.Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices
		(id, client_id, status, vat_percent, total_charge_ex_vat, total_vat,
		 total_inc_vat, total_pay_ex_vat, total_margin_ex_vat, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.ClientID, inv.Status, inv.VATPercent.String(),
		inv.TotalChargeExVAT.String(), inv.TotalVAT.String(), inv.TotalIncVAT.String(),
		inv.TotalPayExVAT.String(), inv.TotalMarginExVAT.String(),
		inv.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert invoice: %w", err)
	}

	for _, line := range lines {
		if err := insertLine(ctx, tx, line); err != nil {
			return err
		}
	}

	// Distinct billed timesheets, in line order.
	seen := make(map[engine.TimesheetID]bool)
	var ids []engine.TimesheetID
	for _, line := range lines {
		if !seen[line.TimesheetID] {
			seen[line.TimesheetID] = true
			ids = append(ids, line.TimesheetID)
		}
	}

	lockedAt := inv.CreatedAt.UTC().Format(time.RFC3339)
	affected := 0
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `
			UPDATE timesheet_financials
			SET locked_by_invoice_id = ?, locked_at = ?
			WHERE timesheet_id = ? AND is_current AND status = ?
			  AND locked_by_invoice_id IS NULL`,
			inv.ID, lockedAt, id, engine.StatusReadyForInvoice)
		if err != nil {
			return fmt.Errorf("failed to lock snapshot: %w", err)
		}
		n, _ := res.RowsAffected()
		affected += int(n)
	}
	if affected != len(ids) {
		// Rollback via the deferred call; nothing is persisted.
		return &engine.ConflictError{Op: "lock snapshots", Expected: len(ids), Affected: affected}
	}

	return tx.Commit()
}

// Invoice loads an invoice and its lines.
func (s *Store) Invoice(ctx context.Context, id engine.InvoiceID) (*invoice.Invoice, []invoice.Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, err := scanInvoice(s.db.QueryRowContext(ctx, `
		SELECT id, client_id, status, vat_percent, total_charge_ex_vat, total_vat,
		       total_inc_vat, total_pay_ex_vat, total_margin_ex_vat, created_at
		FROM invoices WHERE id = ?`, id))
	if err != nil {
		return nil, nil, err
	}

	lines, err := s.queryLines(ctx,
		"WHERE invoice_id = ?", string(id))
	if err != nil {
		return nil, nil, err
	}
	return inv, lines, nil
}

// ListInvoices lists all invoices, newest first.
func (s *Store) ListInvoices(ctx context.Context) ([]invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, status, vat_percent, total_charge_ex_vat, total_vat,
		       total_inc_vat, total_pay_ex_vat, total_margin_ex_vat, created_at
		FROM invoices ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []invoice.Invoice
	for rows.Next() {
		var (
			inv                              invoice.Invoice
			vat, charge, totalVAT, incVAT    string
			pay, margin, createdAt           string
		)
		err := rows.Scan(&inv.ID, &inv.ClientID, &inv.Status, &vat, &charge,
			&totalVAT, &incVAT, &pay, &margin, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		inv.VATPercent = parseDecimal(vat)
		inv.TotalChargeExVAT = parseDecimal(charge)
		inv.TotalVAT = parseDecimal(totalVAT)
		inv.TotalIncVAT = parseDecimal(incVAT)
		inv.TotalPayExVAT = parseDecimal(pay)
		inv.TotalMarginExVAT = parseDecimal(margin)
		inv.CreatedAt = parseTime(createdAt)
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// SnapshotsLockedBy lists the snapshots an invoice currently holds.
func (s *Store) SnapshotsLockedBy(ctx context.Context, id engine.InvoiceID) ([]financials.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return querySnapshots(ctx, s.db,
		"SELECT "+snapshotColumns+" FROM timesheet_financials WHERE locked_by_invoice_id = ?", id)
}

// CreateCreditNote persists a credit note and its negated lines.
func (s *Store) CreateCreditNote(ctx context.Context, cn invoice.CreditNote, lines []invoice.Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_notes
		(id, invoice_id, reason, total_charge_ex_vat, total_vat, total_inc_vat, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cn.ID, cn.InvoiceID, cn.Reason,
		cn.TotalChargeExVAT.String(), cn.TotalVAT.String(), cn.TotalIncVAT.String(),
		cn.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert credit note: %w", err)
	}

	for _, line := range lines {
		if err := insertLine(ctx, tx, line); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CreditNotesForInvoice lists credit notes issued against an invoice.
func (s *Store) CreditNotesForInvoice(ctx context.Context, id engine.InvoiceID) ([]invoice.CreditNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, reason, total_charge_ex_vat, total_vat, total_inc_vat, created_at
		FROM credit_notes WHERE invoice_id = ? ORDER BY created_at ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit notes: %w", err)
	}
	defer rows.Close()

	var notes []invoice.CreditNote
	for rows.Next() {
		var (
			cn                          invoice.CreditNote
			charge, vat, inc, createdAt string
		)
		err := rows.Scan(&cn.ID, &cn.InvoiceID, &cn.Reason, &charge, &vat, &inc, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credit note: %w", err)
		}
		cn.TotalChargeExVAT = parseDecimal(charge)
		cn.TotalVAT = parseDecimal(vat)
		cn.TotalIncVAT = parseDecimal(inc)
		cn.CreatedAt = parseTime(createdAt)
		notes = append(notes, cn)
	}
	return notes, rows.Err()
}

// UnlockByInvoice releases every snapshot the invoice holds, marking
// each stale. Returns the affected timesheet ids.
func (s *Store) UnlockByInvoice(ctx context.Context, id engine.InvoiceID, staleReason string) ([]engine.TimesheetID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"SELECT DISTINCT timesheet_id FROM timesheet_financials WHERE locked_by_invoice_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query locked snapshots: %w", err)
	}
	var ids []engine.TimesheetID
	for rows.Next() {
		var tsID engine.TimesheetID
		if err := rows.Scan(&tsID); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, tsID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	_, err = tx.ExecContext(ctx, `
		UPDATE timesheet_financials
		SET locked_by_invoice_id = NULL, locked_at = NULL,
		    is_stale = TRUE, stale_reason = ?
		WHERE locked_by_invoice_id = ?`, staleReason, id)
	if err != nil {
		return nil, fmt.Errorf("failed to unlock snapshots: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func insertLine(ctx context.Context, tx *sql.Tx, line invoice.Line) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO invoice_lines
		(id, invoice_id, credit_note_id, timesheet_id, kind,
		 hours_json, pay_rates_json, charge_rates_json,
		 charge_ex_vat, pay_ex_vat, margin_ex_vat, vat_percent, vat_amount)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		line.ID, line.InvoiceID, line.CreditNoteID, line.TimesheetID, line.Kind,
		bucketsJSON(line.Hours), bucketsJSON(line.PayRates), bucketsJSON(line.ChargeRates),
		line.ChargeExVAT.String(), line.PayExVAT.String(), line.MarginExVAT.String(),
		line.VATPercent.String(), line.VATAmount.String())
	if err != nil {
		return fmt.Errorf("failed to insert line: %w", err)
	}
	return nil
}

func scanInvoice(row *sql.Row) (*invoice.Invoice, error) {
	var (
		inv                           invoice.Invoice
		vat, charge, totalVAT, incVAT string
		pay, margin, createdAt        string
	)
	err := row.Scan(&inv.ID, &inv.ClientID, &inv.Status, &vat, &charge,
		&totalVAT, &incVAT, &pay, &margin, &createdAt)
	if err == sql.ErrNoRows {
		return nil, engine.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan invoice: %w", err)
	}
	inv.VATPercent = parseDecimal(vat)
	inv.TotalChargeExVAT = parseDecimal(charge)
	inv.TotalVAT = parseDecimal(totalVAT)
	inv.TotalIncVAT = parseDecimal(incVAT)
	inv.TotalPayExVAT = parseDecimal(pay)
	inv.TotalMarginExVAT = parseDecimal(margin)
	inv.CreatedAt = parseTime(createdAt)
	return &inv, nil
}

func (s *Store) queryLines(ctx context.Context, where string, args ...any) ([]invoice.Line, error) {
	query := `
		SELECT id, invoice_id, credit_note_id, timesheet_id, kind,
		       hours_json, pay_rates_json, charge_rates_json,
		       charge_ex_vat, pay_ex_vat, margin_ex_vat, vat_percent, vat_amount
		FROM invoice_lines ` + where
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lines: %w", err)
	}
	defer rows.Close()

	var lines []invoice.Line
	for rows.Next() {
		var (
			line                           invoice.Line
			hoursJSON, payJSON, chargeJSON string
			charge, pay, margin            string
			vatPercent, vatAmount          string
		)
		err := rows.Scan(&line.ID, &line.InvoiceID, &line.CreditNoteID,
			&line.TimesheetID, &line.Kind,
			&hoursJSON, &payJSON, &chargeJSON,
			&charge, &pay, &margin, &vatPercent, &vatAmount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan line: %w", err)
		}
		line.Hours = parseBuckets(hoursJSON)
		line.PayRates = parseBuckets(payJSON)
		line.ChargeRates = parseBuckets(chargeJSON)
		line.ChargeExVAT = parseDecimal(charge)
		line.PayExVAT = parseDecimal(pay)
		line.MarginExVAT = parseDecimal(margin)
		line.VATPercent = parseDecimal(vatPercent)
		line.VATAmount = parseDecimal(vatAmount)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
