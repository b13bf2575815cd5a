/*
promote.go - Promotion to READY_FOR_INVOICE

PURPOSE:
  Promotion is the explicit, externally-triggered transition from
  READY_FOR_HR - recompute never sets READY_FOR_INVOICE. Each timesheet
  must pass four gates:

    (a) latest validation is "validated" or "overridden"
    (b) current snapshot is exactly READY_FOR_HR and unlocked
    (c) positive expense/mileage amounts have stored evidence
    (d) the pay channel resolves ok

  Rows failing a gate are reported individually with a reason code.
  The promotion itself is a single conditional bulk update scoped to
  READY_FOR_HR AND unlocked, so it cannot race a concurrent invoice
  creation into promoting a just-locked row.
*/
package invoice

import (
	"context"

	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/financials"
)

// Promotion block reason codes.
const (
	BlockNoSnapshot      = "no_snapshot"
	BlockNotReady        = "not_ready"
	BlockLocked          = "locked"
	BlockNotValidated    = "not_validated"
	BlockEvidenceMissing = "evidence_missing"
	BlockPayChannel      = "pay_channel_missing"
	BlockConflict        = "conflict"
)

type BlockedPromotion struct {
	TimesheetID engine.TimesheetID
	Reason      string
}

// PromotionResult distinguishes fully-applied items from blocked ones.
type PromotionResult struct {
	Promoted []engine.TimesheetID
	Blocked  []BlockedPromotion
}

// Promoter gates and applies promotions.
type Promoter struct {
	Stores financials.Stores
	Store  Store
	Writer *financials.Writer
}

func NewPromoter(stores financials.Stores, store Store, writer *financials.Writer) *Promoter {
	return &Promoter{Stores: stores, Store: store, Writer: writer}
}

// Promote evaluates the gates for each timesheet and promotes the ones
// that pass, individually reporting the rest.
func (p *Promoter) Promote(ctx context.Context, ids []engine.TimesheetID) (*PromotionResult, error) {
	result := &PromotionResult{}
	var eligible []engine.TimesheetID

	for _, id := range ids {
		if reason, err := p.gate(ctx, id); err != nil {
			return nil, err
		} else if reason != "" {
			result.Blocked = append(result.Blocked, BlockedPromotion{TimesheetID: id, Reason: reason})
		} else {
			eligible = append(eligible, id)
		}
	}

	if len(eligible) > 0 {
		promoted, err := p.Store.PromoteSnapshots(ctx, eligible)
		if err != nil {
			return nil, err
		}
		result.Promoted = promoted

		// Anything that passed the gates but was not promoted lost a
		// race with a concurrent lock or status change.
		promotedSet := make(map[engine.TimesheetID]bool, len(promoted))
		for _, id := range promoted {
			promotedSet[id] = true
		}
		for _, id := range eligible {
			if !promotedSet[id] {
				result.Blocked = append(result.Blocked, BlockedPromotion{TimesheetID: id, Reason: BlockConflict})
			}
		}
	}
	return result, nil
}

// gate returns a block reason code, or "" when the timesheet is eligible.
func (p *Promoter) gate(ctx context.Context, id engine.TimesheetID) (string, error) {
	snap, err := p.Stores.CurrentSnapshot(ctx, id)
	if err != nil {
		return "", err
	}
	if snap == nil {
		return BlockNoSnapshot, nil
	}
	if snap.Locked() {
		return BlockLocked, nil
	}
	if snap.Status != engine.StatusReadyForHR {
		return BlockNotReady, nil
	}

	v, err := p.Stores.LatestValidation(ctx, id)
	if err != nil {
		return "", err
	}
	if v == nil || (v.Status != financials.ValidationValidated && v.Status != financials.ValidationOverridden) {
		return BlockNotValidated, nil
	}

	if snap.ExpensesCharge.IsPositive() {
		ok, err := p.Stores.EvidenceExists(ctx, id, financials.EvidenceExpenses)
		if err != nil {
			return "", err
		}
		if !ok {
			return BlockEvidenceMissing, nil
		}
	}
	if snap.MileageCharge.IsPositive() {
		ok, err := p.Stores.EvidenceExists(ctx, id, financials.EvidenceMileage)
		if err != nil {
			return "", err
		}
		if !ok {
			return BlockEvidenceMissing, nil
		}
	}

	candidate, err := p.Stores.Candidate(ctx, snap.CandidateID)
	if err != nil {
		return "", err
	}
	channel, err := p.Writer.PayChannel(ctx, candidate)
	if err != nil {
		return "", err
	}
	if !channel.OK {
		return BlockPayChannel, nil
	}
	return "", nil
}
