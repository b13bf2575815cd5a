/*
rates.go - Pay/charge rate resolution

PURPOSE:
  Finds the single most-specific applicable rate row for a shift.
  Candidate overrides (pay only) always beat client defaults (charge,
  optionally default pay). Scoping dimensions stored as NULL act as
  wildcards that match any requested value.

SPECIFICITY:
  Rows are ranked by which scoping dimensions are non-NULL, in order:
  client, then role, then band - a non-NULL dimension always ranks ahead
  of NULL at that position. Ties break on the most recent date_from.

DATE WINDOW:
  A row applies when date_from <= date and (date_to is NULL or
  date_to >= date), compared at day granularity.

SEE ALSO:
  - status.go: RATE_MISSING is derived from MissingRateBuckets
*/
package engine

import (
	"sort"
	"time"
)

// =============================================================================
// RATE ROWS
// =============================================================================

// CandidateRate is a candidate-specific pay override. Nil scoping fields
// are wildcards. Charge is never defined at this level.
type CandidateRate struct {
	ID          string
	CandidateID CandidateID
	ClientID    *ClientID
	Role        *string
	Band        *string
	DateFrom    time.Time
	DateTo      *time.Time
	Pay         BucketSet
}

// ClientRate is a client default: authoritative charge rates plus an
// optional default pay card. Client is fixed; role/band may be wildcards.
type ClientRate struct {
	ID       string
	ClientID ClientID
	Role     *string
	Band     *string
	DateFrom time.Time
	DateTo   *time.Time
	Charge   BucketSet
	Pay      *BucketSet
}

// =============================================================================
// RESOLUTION
// =============================================================================

type RateSource string

const (
	RateSourceCandidateOverride RateSource = "candidate_override"
	RateSourceClientDefault     RateSource = "client_default"
	RateSourceNone              RateSource = "none"
)

type RateQuery struct {
	CandidateID *CandidateID
	ClientID    ClientID
	Role        string
	Band        string
	Date        time.Time // local reference date
}

// ResolvedRates is the outcome of rate resolution. Pay and Charge are nil
// when no applicable row defines them.
type ResolvedRates struct {
	Source RateSource
	Pay    *BucketSet
	Charge *BucketSet
}

// ResolveRates picks the best candidate override, falling back to the
// best client default. An override's pay is authoritative but leaves
// charge to the client default found by the same algorithm.
func ResolveRates(q RateQuery, overrides []CandidateRate, defaults []ClientRate) ResolvedRates {
	bestDefault := bestClientRate(q, defaults)

	if q.CandidateID != nil {
		if best := bestCandidateRate(q, overrides); best != nil {
			pay := best.Pay
			out := ResolvedRates{Source: RateSourceCandidateOverride, Pay: &pay}
			if bestDefault != nil {
				charge := bestDefault.Charge
				out.Charge = &charge
			}
			return out
		}
	}

	if bestDefault != nil {
		charge := bestDefault.Charge
		out := ResolvedRates{Source: RateSourceClientDefault, Charge: &charge}
		if bestDefault.Pay != nil {
			pay := *bestDefault.Pay
			out.Pay = &pay
		}
		return out
	}

	return ResolvedRates{Source: RateSourceNone}
}

func bestCandidateRate(q RateQuery, rows []CandidateRate) *CandidateRate {
	var matched []CandidateRate
	for _, r := range rows {
		if q.CandidateID == nil || r.CandidateID != *q.CandidateID {
			continue
		}
		if !matchClient(q.ClientID, r.ClientID) || !matchDim(q.Role, r.Role) || !matchDim(q.Band, r.Band) {
			continue
		}
		if !dateWindowContains(r.DateFrom, r.DateTo, q.Date) {
			continue
		}
		matched = append(matched, r)
	}
	if len(matched) == 0 {
		return nil
	}
	sort.SliceStable(matched, func(i, j int) bool {
		si := specificity(matched[i].ClientID != nil, matched[i].Role != nil, matched[i].Band != nil)
		sj := specificity(matched[j].ClientID != nil, matched[j].Role != nil, matched[j].Band != nil)
		if si != sj {
			return si > sj
		}
		return matched[i].DateFrom.After(matched[j].DateFrom)
	})
	return &matched[0]
}

func bestClientRate(q RateQuery, rows []ClientRate) *ClientRate {
	var matched []ClientRate
	for _, r := range rows {
		if r.ClientID != q.ClientID {
			continue
		}
		if !matchDim(q.Role, r.Role) || !matchDim(q.Band, r.Band) {
			continue
		}
		if !dateWindowContains(r.DateFrom, r.DateTo, q.Date) {
			continue
		}
		matched = append(matched, r)
	}
	if len(matched) == 0 {
		return nil
	}
	sort.SliceStable(matched, func(i, j int) bool {
		// Client is fixed here; rank on role then band.
		si := specificity(true, matched[i].Role != nil, matched[i].Band != nil)
		sj := specificity(true, matched[j].Role != nil, matched[j].Band != nil)
		if si != sj {
			return si > sj
		}
		return matched[i].DateFrom.After(matched[j].DateFrom)
	})
	return &matched[0]
}

// matchDim implements NULL-as-wildcard matching for a scoping dimension.
func matchDim(requested string, stored *string) bool {
	return stored == nil || *stored == requested
}

func matchClient(requested ClientID, stored *ClientID) bool {
	return stored == nil || *stored == requested
}

func dateWindowContains(from time.Time, to *time.Time, date time.Time) bool {
	d := truncateToDay(date)
	if truncateToDay(from).After(d) {
		return false
	}
	return to == nil || !truncateToDay(*to).Before(d)
}

func truncateToDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// specificity ranks a row so that a non-NULL dimension always beats NULL,
// ordered client > role > band.
func specificity(client, role, band bool) int {
	s := 0
	if client {
		s |= 4
	}
	if role {
		s |= 2
	}
	if band {
		s |= 1
	}
	return s
}

// =============================================================================
// MISSING-RATE DETECTION
// =============================================================================

// MissingRateBuckets returns the buckets that have non-zero classified
// hours but lack a pay or charge rate. A non-empty result flags the
// snapshot RATE_MISSING.
func MissingRateBuckets(hours BucketSet, rates ResolvedRates) []Bucket {
	var missing []Bucket
	for _, b := range Buckets {
		if hours.Get(b).IsZero() {
			continue
		}
		payOK := rates.Pay != nil && !rates.Pay.Get(b).IsZero()
		chargeOK := rates.Charge != nil && !rates.Charge.Get(b).IsZero()
		if !payOK || !chargeOK {
			missing = append(missing, b)
		}
	}
	return missing
}
