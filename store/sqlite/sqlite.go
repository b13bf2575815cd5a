/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements all persistence interfaces (financials.Stores, outbox.Queue,
  invoice.Store) using SQLite. In production, the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  financials.SourceStore:   Timesheets, candidates, clients, umbrellas,
                            validations, evidence (financials.go)
  financials.PolicyStore:   Default policy, client settings, bank holidays
  financials.RateStore:     Candidate and client rate cards
  financials.SnapshotStore: Versioned financial snapshots (financials.go)
  outbox.Queue:             Durable recomputation queue (outbox.go)
  invoice.Store:            Invoices, credit notes, snapshot locks
                            (invoice.go)

SNAPSHOT VERSIONING:
  Snapshot rows are append-only. Replacing the current snapshot flips the
  old row's is_current flag and inserts a new row inside one transaction;
  a partial unique index enforces at most one current row per timesheet.
  Locked rows (locked_by_invoice_id set) refuse both replacement and
  retirement.

CONDITIONAL WRITES:
  State transitions that race (promotion, invoice locking) are plain
  UPDATEs scoped by the expected prior state. The affected-row count is
  the authority: zero rows means another writer won, and the caller
  receives a conflict rather than a silent overwrite.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/engine.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  writer := financials.NewWriter(financials.Stores{
      SourceStore: store, PolicyStore: store,
      RateStore: store, SnapshotStore: store,
  })

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - financials/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/timesheet-engine/engine"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: the store serializes access with its own mutex, and
	// ":memory:" databases exist per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Timesheets (external read model; version rotations flip is_current)
	CREATE TABLE IF NOT EXISTS timesheets (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 1,
		is_current BOOLEAN NOT NULL DEFAULT TRUE,
		occupant_key TEXT NOT NULL DEFAULT '',
		hospital TEXT NOT NULL DEFAULT '',
		ward TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT '',
		worked_start TEXT NOT NULL,
		worked_end TEXT NOT NULL,
		break_start TEXT,
		break_end TEXT,
		break_minutes INTEGER NOT NULL DEFAULT 0,
		expenses_amount TEXT NOT NULL DEFAULT '0',
		mileage_amount TEXT NOT NULL DEFAULT '0',
		authorised_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_timesheets_occupant
		ON timesheets(occupant_key);

	-- Candidates (workers)
	CREATE TABLE IF NOT EXISTS candidates (
		id TEXT PRIMARY KEY,
		occupant_key TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		band TEXT NOT NULL DEFAULT '',
		pay_method TEXT NOT NULL DEFAULT '',
		sort_code TEXT NOT NULL DEFAULT '',
		account_number TEXT NOT NULL DEFAULT '',
		umbrella_id TEXT
	);

	-- Umbrella companies
	CREATE TABLE IF NOT EXISTS umbrellas (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		sort_code TEXT NOT NULL DEFAULT '',
		account_number TEXT NOT NULL DEFAULT ''
	);

	-- Clients and the hospital names that resolve to them
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		vat_exempt BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS client_hospitals (
		hospital TEXT PRIMARY KEY,
		client_id TEXT NOT NULL
	);

	-- Validations (HR verdicts; latest per timesheet wins)
	CREATE TABLE IF NOT EXISTS validations (
		id TEXT PRIMARY KEY,
		timesheet_id TEXT NOT NULL,
		status TEXT NOT NULL,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_validations_timesheet
		ON validations(timesheet_id, at DESC);

	-- Evidence (receipts etc. attached to a timesheet)
	CREATE TABLE IF NOT EXISTS evidence (
		timesheet_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(timesheet_id, kind)
	);

	-- Global default policy (single row)
	CREATE TABLE IF NOT EXISTS policy_defaults (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		timezone TEXT NOT NULL,
		day_start_minutes INTEGER NOT NULL,
		day_end_minutes INTEGER NOT NULL,
		vat_percent TEXT NOT NULL,
		holiday_pay_percent TEXT NOT NULL,
		erni_percent TEXT NOT NULL,
		on_cost_channel TEXT NOT NULL
	);

	-- Bank holidays (shared calendar, local dates)
	CREATE TABLE IF NOT EXISTS bank_holidays (
		date TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT ''
	);

	-- Client settings rows (override only the columns they set)
	CREATE TABLE IF NOT EXISTS client_settings (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		day_start_minutes INTEGER,
		day_end_minutes INTEGER,
		vat_percent TEXT,
		holiday_pay_percent TEXT,
		erni_percent TEXT,
		on_cost_channel TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_client_settings_client
		ON client_settings(client_id, effective_from DESC);

	-- Rate cards. NULL dimensions are wildcards; bucket sets are JSON.
	CREATE TABLE IF NOT EXISTS candidate_rates (
		id TEXT PRIMARY KEY,
		candidate_id TEXT NOT NULL,
		client_id TEXT,
		role TEXT,
		band TEXT,
		date_from TEXT NOT NULL,
		date_to TEXT,
		pay_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_candidate_rates_candidate
		ON candidate_rates(candidate_id);

	CREATE TABLE IF NOT EXISTS client_rates (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		role TEXT,
		band TEXT,
		date_from TEXT NOT NULL,
		date_to TEXT,
		charge_json TEXT NOT NULL,
		pay_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_client_rates_client
		ON client_rates(client_id);

	-- Financial snapshots (append-only; one current row per timesheet)
	CREATE TABLE IF NOT EXISTS timesheet_financials (
		id TEXT PRIMARY KEY,
		timesheet_id TEXT NOT NULL,
		timesheet_version INTEGER NOT NULL,
		candidate_id TEXT NOT NULL DEFAULT '',
		client_id TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT '',
		band TEXT NOT NULL DEFAULT '',
		pay_method TEXT NOT NULL DEFAULT '',
		hours_json TEXT NOT NULL,
		pay_rates_json TEXT NOT NULL,
		charge_rates_json TEXT NOT NULL,
		rate_source TEXT NOT NULL,
		total_pay_ex_vat TEXT NOT NULL,
		total_charge_ex_vat TEXT NOT NULL,
		margin_ex_vat TEXT NOT NULL,
		expenses_pay TEXT NOT NULL DEFAULT '0',
		expenses_charge TEXT NOT NULL DEFAULT '0',
		mileage_pay TEXT NOT NULL DEFAULT '0',
		mileage_charge TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		is_current BOOLEAN NOT NULL,
		is_stale BOOLEAN NOT NULL DEFAULT FALSE,
		stale_reason TEXT NOT NULL DEFAULT '',
		locked_by_invoice_id TEXT,
		locked_at TEXT,
		computed_at TEXT NOT NULL
	);

	-- CRITICAL: at most one current snapshot per timesheet
	CREATE UNIQUE INDEX IF NOT EXISTS idx_financials_one_current
		ON timesheet_financials(timesheet_id) WHERE is_current;

	CREATE INDEX IF NOT EXISTS idx_financials_timesheet
		ON timesheet_financials(timesheet_id, computed_at DESC);
	CREATE INDEX IF NOT EXISTS idx_financials_locked_by
		ON timesheet_financials(locked_by_invoice_id)
		WHERE locked_by_invoice_id IS NOT NULL;

	-- Outbox (durable recompute queue; one live entry per cause)
	CREATE TABLE IF NOT EXISTS outbox (
		id TEXT PRIMARY KEY,
		timesheet_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		next_attempt_at TEXT NOT NULL,
		lease_expires_at TEXT,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE(timesheet_id, reason)
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_due
		ON outbox(next_attempt_at);

	-- Invoices, lines, credit notes
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		status TEXT NOT NULL,
		vat_percent TEXT NOT NULL,
		total_charge_ex_vat TEXT NOT NULL,
		total_vat TEXT NOT NULL,
		total_inc_vat TEXT NOT NULL,
		total_pay_ex_vat TEXT NOT NULL,
		total_margin_ex_vat TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS invoice_lines (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL DEFAULT '',
		credit_note_id TEXT NOT NULL DEFAULT '',
		timesheet_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		hours_json TEXT NOT NULL,
		pay_rates_json TEXT NOT NULL,
		charge_rates_json TEXT NOT NULL,
		charge_ex_vat TEXT NOT NULL,
		pay_ex_vat TEXT NOT NULL,
		margin_ex_vat TEXT NOT NULL,
		vat_percent TEXT NOT NULL,
		vat_amount TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_lines_invoice
		ON invoice_lines(invoice_id) WHERE invoice_id != '';
	CREATE INDEX IF NOT EXISTS idx_lines_credit_note
		ON invoice_lines(credit_note_id) WHERE credit_note_id != '';

	CREATE TABLE IF NOT EXISTS credit_notes (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		total_charge_ex_vat TEXT NOT NULL,
		total_vat TEXT NOT NULL,
		total_inc_vat TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credit_notes_invoice
		ON credit_notes(invoice_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset clears all tables. Intended for demo scenario seeding only.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"timesheets", "candidates", "umbrellas", "clients", "client_hospitals",
		"validations", "evidence", "policy_defaults", "bank_holidays",
		"client_settings", "candidate_rates", "client_rates",
		"timesheet_financials", "outbox", "invoices", "invoice_lines",
		"credit_notes",
	}
	for _, t := range tables {
		if _, err := s.db.Exec("DELETE FROM " + t); err != nil {
			return fmt.Errorf("failed to reset %s: %w", t, err)
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	return engine.MustParseDecimal(s)
}

func parseDecimalPtr(ns sql.NullString) *decimal.Decimal {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	d := parseDecimal(ns.String)
	return &d
}

// bucketsJSON serializes a bucket set for storage. decimal.Decimal
// round-trips through JSON as a number string.
func bucketsJSON(b engine.BucketSet) string {
	raw, _ := json.Marshal(b)
	return string(raw)
}

func parseBuckets(raw string) engine.BucketSet {
	var b engine.BucketSet
	if raw != "" {
		json.Unmarshal([]byte(raw), &b)
	}
	return b
}

func parseBucketsPtr(ns sql.NullString) *engine.BucketSet {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	b := parseBuckets(ns.String)
	return &b
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (contains(err.Error(), "UNIQUE constraint failed") ||
		contains(err.Error(), "duplicate key"))
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
