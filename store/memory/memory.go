/*
Package memory provides an in-memory implementation of the storage
interfaces (financials.Stores, outbox.Queue, invoice.Store) for unit
tests and development.

The conditional-write semantics mirror the SQLite store exactly: a
locked current snapshot cannot be replaced or retired, promotion and
locking are scoped by expected prior state, and a failed lock stores
nothing (the whole CreateInvoice is rejected).

SEE ALSO:
  - store/sqlite: The production implementation
*/
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/financials"
	"github.com/warp/timesheet-engine/invoice"
	"github.com/warp/timesheet-engine/outbox"
)

type entryKey struct {
	TimesheetID engine.TimesheetID
	Reason      outbox.Reason
}

type evidenceKey struct {
	TimesheetID engine.TimesheetID
	Kind        string
}

type Memory struct {
	mu sync.RWMutex

	timesheets  map[engine.TimesheetID]financials.Timesheet
	candidates  map[engine.CandidateID]financials.Candidate
	occupants   map[string]engine.CandidateID
	clients     map[engine.ClientID]financials.Client
	hospitals   map[string]engine.ClientID
	umbrellas   map[engine.UmbrellaID]financials.Umbrella
	validations map[engine.TimesheetID]financials.Validation
	evidence    map[evidenceKey]bool

	defaultPolicy   engine.Policy
	policyOverrides map[engine.ClientID][]engine.PolicyOverride
	candidateRates  map[engine.CandidateID][]engine.CandidateRate
	clientRates     map[engine.ClientID][]engine.ClientRate

	snapshots map[engine.TimesheetID][]financials.Snapshot

	entries map[entryKey]outbox.Entry

	invoices    map[engine.InvoiceID]invoice.Invoice
	lines       map[engine.InvoiceID][]invoice.Line
	creditNotes map[engine.InvoiceID][]invoice.CreditNote
	cnLines     map[engine.CreditNoteID][]invoice.Line
}

func New() *Memory {
	return &Memory{
		timesheets:      make(map[engine.TimesheetID]financials.Timesheet),
		candidates:      make(map[engine.CandidateID]financials.Candidate),
		occupants:       make(map[string]engine.CandidateID),
		clients:         make(map[engine.ClientID]financials.Client),
		hospitals:       make(map[string]engine.ClientID),
		umbrellas:       make(map[engine.UmbrellaID]financials.Umbrella),
		validations:     make(map[engine.TimesheetID]financials.Validation),
		evidence:        make(map[evidenceKey]bool),
		defaultPolicy:   engine.DefaultPolicy(),
		policyOverrides: make(map[engine.ClientID][]engine.PolicyOverride),
		candidateRates:  make(map[engine.CandidateID][]engine.CandidateRate),
		clientRates:     make(map[engine.ClientID][]engine.ClientRate),
		snapshots:       make(map[engine.TimesheetID][]financials.Snapshot),
		entries:         make(map[entryKey]outbox.Entry),
		invoices:        make(map[engine.InvoiceID]invoice.Invoice),
		lines:           make(map[engine.InvoiceID][]invoice.Line),
		creditNotes:     make(map[engine.InvoiceID][]invoice.CreditNote),
		cnLines:         make(map[engine.CreditNoteID][]invoice.Line),
	}
}

// =============================================================================
// SEEDING (tests and scenarios)
// =============================================================================

func (m *Memory) SeedTimesheet(ts financials.Timesheet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timesheets[ts.ID] = ts
}

func (m *Memory) SeedCandidate(c financials.Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates[c.ID] = c
	m.occupants[c.OccupantKey] = c.ID
}

func (m *Memory) SeedClient(c financials.Client, hospitals ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c
	for _, h := range hospitals {
		m.hospitals[h] = c.ID
	}
}

func (m *Memory) SeedUmbrella(u financials.Umbrella) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.umbrellas[u.ID] = u
}

func (m *Memory) SeedValidation(v financials.Validation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validations[v.TimesheetID] = v
}

func (m *Memory) SeedEvidence(id engine.TimesheetID, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evidence[evidenceKey{TimesheetID: id, Kind: kind}] = true
}

func (m *Memory) SetDefaultPolicy(p engine.Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultPolicy = p
}

func (m *Memory) AddPolicyOverride(o engine.PolicyOverride) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policyOverrides[o.ClientID] = append(m.policyOverrides[o.ClientID], o)
}

func (m *Memory) AddCandidateRate(r engine.CandidateRate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidateRates[r.CandidateID] = append(m.candidateRates[r.CandidateID], r)
}

func (m *Memory) AddClientRate(r engine.ClientRate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clientRates[r.ClientID] = append(m.clientRates[r.ClientID], r)
}

// =============================================================================
// SOURCE STORE
// =============================================================================

func (m *Memory) Timesheet(_ context.Context, id engine.TimesheetID) (*financials.Timesheet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ts, ok := m.timesheets[id]; ok {
		return &ts, nil
	}
	return nil, nil
}

func (m *Memory) Candidate(_ context.Context, id engine.CandidateID) (*financials.Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.candidates[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (m *Memory) CandidateByOccupant(_ context.Context, occupantKey string) (*financials.Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.occupants[occupantKey]; ok {
		c := m.candidates[id]
		return &c, nil
	}
	return nil, nil
}

func (m *Memory) ClientByHospital(_ context.Context, hospital string) (*financials.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.hospitals[hospital]; ok {
		c := m.clients[id]
		return &c, nil
	}
	return nil, nil
}

func (m *Memory) Client(_ context.Context, id engine.ClientID) (*financials.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.clients[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (m *Memory) Umbrella(_ context.Context, id engine.UmbrellaID) (*financials.Umbrella, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.umbrellas[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (m *Memory) LatestValidation(_ context.Context, id engine.TimesheetID) (*financials.Validation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.validations[id]; ok {
		return &v, nil
	}
	return nil, nil
}

func (m *Memory) EvidenceExists(_ context.Context, id engine.TimesheetID, kind string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.evidence[evidenceKey{TimesheetID: id, Kind: kind}], nil
}

// =============================================================================
// POLICY / RATE STORES
// =============================================================================

func (m *Memory) DefaultPolicy(_ context.Context) (engine.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultPolicy, nil
}

func (m *Memory) PolicyOverrides(_ context.Context, clientID engine.ClientID) ([]engine.PolicyOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]engine.PolicyOverride(nil), m.policyOverrides[clientID]...), nil
}

func (m *Memory) CandidateRates(_ context.Context, candidateID engine.CandidateID) ([]engine.CandidateRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]engine.CandidateRate(nil), m.candidateRates[candidateID]...), nil
}

func (m *Memory) ClientRates(_ context.Context, clientID engine.ClientID) ([]engine.ClientRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]engine.ClientRate(nil), m.clientRates[clientID]...), nil
}

// =============================================================================
// SNAPSHOT STORE
// =============================================================================

func (m *Memory) CurrentSnapshot(_ context.Context, id engine.TimesheetID) (*financials.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.currentIndex(id); i >= 0 {
		snap := m.snapshots[id][i]
		return &snap, nil
	}
	return nil, nil
}

func (m *Memory) SnapshotHistory(_ context.Context, id engine.TimesheetID) ([]financials.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := append([]financials.Snapshot(nil), m.snapshots[id]...)
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].ComputedAt.After(history[j].ComputedAt)
	})
	return history, nil
}

func (m *Memory) ReplaceCurrent(_ context.Context, snap financials.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i := m.currentIndex(snap.TimesheetID); i >= 0 {
		cur := &m.snapshots[snap.TimesheetID][i]
		if cur.LockedByInvoiceID != nil {
			return &engine.LockedError{TimesheetID: snap.TimesheetID, InvoiceID: *cur.LockedByInvoiceID}
		}
		cur.IsCurrent = false
	}
	snap.IsCurrent = true
	m.snapshots[snap.TimesheetID] = append(m.snapshots[snap.TimesheetID], snap)
	return nil
}

func (m *Memory) RetireCurrent(_ context.Context, id engine.TimesheetID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i := m.currentIndex(id); i >= 0 {
		cur := &m.snapshots[id][i]
		if cur.LockedByInvoiceID != nil {
			return &engine.LockedError{TimesheetID: id, InvoiceID: *cur.LockedByInvoiceID}
		}
		cur.IsCurrent = false
	}
	return nil
}

func (m *Memory) currentIndex(id engine.TimesheetID) int {
	for i := range m.snapshots[id] {
		if m.snapshots[id][i].IsCurrent {
			return i
		}
	}
	return -1
}

// =============================================================================
// OUTBOX QUEUE
// =============================================================================

func (m *Memory) Enqueue(_ context.Context, id engine.TimesheetID, reason outbox.Reason) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := entryKey{TimesheetID: id, Reason: reason}
	now := time.Now().UTC()
	if e, ok := m.entries[k]; ok {
		e.NextAttemptAt = now
		e.LeaseExpiresAt = nil
		e.LastError = ""
		m.entries[k] = e
		return nil
	}
	m.entries[k] = outbox.Entry{
		ID:            uuid.NewString(),
		TimesheetID:   id,
		Reason:        reason,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	return nil
}

func (m *Memory) Lease(_ context.Context, limit int, leaseFor time.Duration, now time.Time) ([]outbox.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []entryKey
	for k, e := range m.entries {
		if e.NextAttemptAt.After(now) {
			continue
		}
		if e.LeaseExpiresAt != nil && e.LeaseExpiresAt.After(now) {
			continue
		}
		due = append(due, k)
	}
	sort.Slice(due, func(i, j int) bool {
		return m.entries[due[i]].CreatedAt.Before(m.entries[due[j]].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	leased := make([]outbox.Entry, 0, len(due))
	until := now.Add(leaseFor)
	for _, k := range due {
		e := m.entries[k]
		e.LeaseExpiresAt = &until
		m.entries[k] = e
		leased = append(leased, e)
	}
	return leased, nil
}

func (m *Memory) AckSuccess(_ context.Context, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if e.ID == entryID {
			delete(m.entries, k)
			return nil
		}
	}
	return nil
}

func (m *Memory) AckFailure(_ context.Context, entryID string, attemptCount int, nextAttemptAt time.Time, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if e.ID == entryID {
			e.AttemptCount = attemptCount
			e.NextAttemptAt = nextAttemptAt
			e.LastError = lastError
			e.LeaseExpiresAt = nil
			m.entries[k] = e
			return nil
		}
	}
	return nil
}

func (m *Memory) Pending(_ context.Context) ([]outbox.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []outbox.Entry
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(out[j].NextAttemptAt) })
	return out, nil
}

// =============================================================================
// INVOICE STORE
// =============================================================================

func (m *Memory) PromoteSnapshots(_ context.Context, ids []engine.TimesheetID) ([]engine.TimesheetID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var promoted []engine.TimesheetID
	for _, id := range ids {
		i := m.currentIndex(id)
		if i < 0 {
			continue
		}
		snap := &m.snapshots[id][i]
		if snap.Status != engine.StatusReadyForHR || snap.LockedByInvoiceID != nil {
			continue
		}
		snap.Status = engine.StatusReadyForInvoice
		promoted = append(promoted, id)
	}
	return promoted, nil
}

func (m *Memory) CreateInvoice(_ context.Context, inv invoice.Invoice, lines []invoice.Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Distinct billed timesheets.
	seen := make(map[engine.TimesheetID]bool)
	var ids []engine.TimesheetID
	for _, l := range lines {
		if !seen[l.TimesheetID] {
			seen[l.TimesheetID] = true
			ids = append(ids, l.TimesheetID)
		}
	}

	// Conditional lock: all-or-nothing, like the SQLite transaction.
	for _, id := range ids {
		i := m.currentIndex(id)
		if i < 0 {
			return &engine.ConflictError{Op: "lock snapshots", Expected: len(ids), Affected: 0}
		}
		snap := m.snapshots[id][i]
		if snap.LockedByInvoiceID != nil || snap.Status != engine.StatusReadyForInvoice {
			return &engine.ConflictError{Op: "lock snapshots", Expected: len(ids), Affected: 0}
		}
	}

	lockedAt := inv.CreatedAt
	for _, id := range ids {
		i := m.currentIndex(id)
		snap := &m.snapshots[id][i]
		invID := inv.ID
		snap.LockedByInvoiceID = &invID
		at := lockedAt
		snap.LockedAtUTC = &at
	}

	m.invoices[inv.ID] = inv
	m.lines[inv.ID] = append([]invoice.Line(nil), lines...)
	return nil
}

func (m *Memory) Invoice(_ context.Context, id engine.InvoiceID) (*invoice.Invoice, []invoice.Line, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, nil, engine.ErrInvoiceNotFound
	}
	return &inv, append([]invoice.Line(nil), m.lines[id]...), nil
}

func (m *Memory) ListInvoices(_ context.Context) ([]invoice.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []invoice.Invoice
	for _, inv := range m.invoices {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SnapshotsLockedBy(_ context.Context, id engine.InvoiceID) ([]financials.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []financials.Snapshot
	for _, history := range m.snapshots {
		for _, snap := range history {
			if snap.LockedByInvoiceID != nil && *snap.LockedByInvoiceID == id {
				out = append(out, snap)
			}
		}
	}
	return out, nil
}

func (m *Memory) CreateCreditNote(_ context.Context, cn invoice.CreditNote, lines []invoice.Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creditNotes[cn.InvoiceID] = append(m.creditNotes[cn.InvoiceID], cn)
	m.cnLines[cn.ID] = append([]invoice.Line(nil), lines...)
	return nil
}

func (m *Memory) CreditNotesForInvoice(_ context.Context, id engine.InvoiceID) ([]invoice.CreditNote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]invoice.CreditNote(nil), m.creditNotes[id]...), nil
}

func (m *Memory) UnlockByInvoice(_ context.Context, id engine.InvoiceID, staleReason string) ([]engine.TimesheetID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var unlocked []engine.TimesheetID
	for tsID, history := range m.snapshots {
		for i := range history {
			snap := &m.snapshots[tsID][i]
			if snap.LockedByInvoiceID != nil && *snap.LockedByInvoiceID == id {
				snap.LockedByInvoiceID = nil
				snap.LockedAtUTC = nil
				snap.IsStale = true
				snap.StaleReason = staleReason
				unlocked = append(unlocked, tsID)
			}
		}
	}
	sort.Slice(unlocked, func(i, j int) bool { return unlocked[i] < unlocked[j] })
	return unlocked, nil
}
