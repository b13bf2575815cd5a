/*
store.go - Persistence interfaces for the financial engine

PURPOSE:
  Defines the contracts between the orchestration logic and the store.
  The collaborator stores are narrow read contracts; the snapshot store
  owns the single shared mutable resource and enforces its invariants
  with conditional writes.

CONDITIONAL WRITE CONTRACT:
  The store is reached over interfaces with no transaction spanning a
  read-check-write sequence from the caller's side, so every mutation is
  scoped by the expected prior state and reports a conflict (via
  engine.ErrSnapshotLocked / engine.ErrConflict) when it affects zero
  rows - never a silent skip.

IMPLEMENTATIONS:
  - store/sqlite: Production store
  - store/memory: In-memory store for unit tests

SEE ALSO:
  - writer.go:          Uses these interfaces
  - invoice/store.go:   Locking/promotion extensions
*/
package financials

import (
	"context"

	"github.com/warp/timesheet-engine/engine"
)

// =============================================================================
// COLLABORATOR READS
// =============================================================================

// SourceStore exposes the external records the engine reads. Lookups
// return (nil, nil) when nothing matches; resolution gaps are states,
// not errors.
type SourceStore interface {
	Timesheet(ctx context.Context, id engine.TimesheetID) (*Timesheet, error)
	Candidate(ctx context.Context, id engine.CandidateID) (*Candidate, error)
	CandidateByOccupant(ctx context.Context, occupantKey string) (*Candidate, error)
	ClientByHospital(ctx context.Context, hospital string) (*Client, error)
	Client(ctx context.Context, id engine.ClientID) (*Client, error)
	Umbrella(ctx context.Context, id engine.UmbrellaID) (*Umbrella, error)
	LatestValidation(ctx context.Context, id engine.TimesheetID) (*Validation, error)
	EvidenceExists(ctx context.Context, id engine.TimesheetID, kind string) (bool, error)
}

// PolicyStore exposes the layered time-bucket policy configuration.
type PolicyStore interface {
	DefaultPolicy(ctx context.Context) (engine.Policy, error)
	PolicyOverrides(ctx context.Context, clientID engine.ClientID) ([]engine.PolicyOverride, error)
}

// RateStore exposes the raw rate rows; resolution happens in the engine.
type RateStore interface {
	CandidateRates(ctx context.Context, candidateID engine.CandidateID) ([]engine.CandidateRate, error)
	ClientRates(ctx context.Context, clientID engine.ClientID) ([]engine.ClientRate, error)
}

// =============================================================================
// SNAPSHOT STORE - The shared mutable resource
// =============================================================================

type SnapshotStore interface {
	// CurrentSnapshot returns the current row for a timesheet, or nil.
	CurrentSnapshot(ctx context.Context, id engine.TimesheetID) (*Snapshot, error)

	// SnapshotHistory returns every version, newest first.
	SnapshotHistory(ctx context.Context, id engine.TimesheetID) ([]Snapshot, error)

	// ReplaceCurrent flips the existing current row (if any) to
	// non-current and inserts snap as the new current row, atomically.
	// Fails with engine.ErrSnapshotLocked (wrapped in LockedError) if the
	// existing current row is lock-held by an invoice.
	ReplaceCurrent(ctx context.Context, snap Snapshot) error

	// RetireCurrent flips the current row to non-current with no
	// replacement (revoked source). Fails with engine.ErrSnapshotLocked
	// if the row is locked; succeeds quietly if no current row exists.
	RetireCurrent(ctx context.Context, id engine.TimesheetID) error
}

// Stores bundles everything a recompute needs. The embedded interfaces
// are usually all satisfied by one concrete store, but tests can mix
// implementations per concern.
type Stores struct {
	SourceStore
	PolicyStore
	RateStore
	SnapshotStore
}
