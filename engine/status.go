/*
status.go - Processing-status state machine

PURPOSE:
  Derives the processing status of a financial snapshot from the resolved
  context. The status is evaluated freshly on every recompute - never
  patched incrementally - so a fixed rate or added umbrella link clears
  the corresponding gap on the next recompute automatically.

STATES:
  UNASSIGNED            no candidate resolves from the occupant key
  CLIENT_UNRESOLVED     no client resolves from the hospital
  RATE_MISSING          a non-zero bucket lacks a pay or charge rate
  PAY_CHANNEL_MISSING   UMBRELLA pay method without an umbrella link
  READY_FOR_HR          recompute found no gaps
  READY_FOR_INVOICE     explicit promotion only (see invoice package);
                        never produced by recompute

SEE ALSO:
  - invoice/promote.go: The READY_FOR_HR -> READY_FOR_INVOICE transition
*/
package engine

type ProcessingStatus string

const (
	StatusUnassigned        ProcessingStatus = "UNASSIGNED"
	StatusClientUnresolved  ProcessingStatus = "CLIENT_UNRESOLVED"
	StatusRateMissing       ProcessingStatus = "RATE_MISSING"
	StatusPayChannelMissing ProcessingStatus = "PAY_CHANNEL_MISSING"
	StatusReadyForHR        ProcessingStatus = "READY_FOR_HR"
	StatusReadyForInvoice   ProcessingStatus = "READY_FOR_INVOICE"
)

// StatusInput is the resolved context a recompute feeds into the machine.
type StatusInput struct {
	CandidateResolved bool
	ClientResolved    bool
	MissingRates      []Bucket
	PayMethod         PayMethod
	HasUmbrellaLink   bool
}

// ComputeStatus applies the transition rules in order. Resolution gaps
// are states, not errors: they surface to operators for remediation.
func ComputeStatus(in StatusInput) ProcessingStatus {
	switch {
	case !in.CandidateResolved:
		return StatusUnassigned
	case !in.ClientResolved:
		return StatusClientUnresolved
	case len(in.MissingRates) > 0:
		return StatusRateMissing
	case in.PayMethod == PayMethodUmbrella && !in.HasUmbrellaLink:
		return StatusPayChannelMissing
	default:
		return StatusReadyForHR
	}
}
