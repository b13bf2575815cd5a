/*
Package engine provides the core financial computation for timesheets.

PURPOSE:
  This package contains the pure, I/O-free algorithms of the billing
  engine: classifying worked time into pay buckets, resolving the policy
  and rates that apply to a shift, resolving the bank destination for
  pay, and deriving the processing status of a financial snapshot.

KEY CONCEPTS IN THIS FILE (types.go):
  - Bucket: One of five time-of-work categories (day, night, Saturday,
    Sunday, bank holiday) used for rate lookup and hour aggregation
  - BucketSet: A decimal quantity per bucket (hours or money rates)
  - Typed IDs: Strong typing prevents mixing timesheet/candidate/client IDs

DESIGN PRINCIPLES:
  1. Purity: Nothing in this package touches a store or the clock
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Auditability: Precedence rules are explicit, ordered, and testable

SEE ALSO:
  - classify.go: Worked-interval to bucket-hours classification
  - rates.go:    Pay/charge rate resolution with NULL-wildcard matching
  - policy.go:   Layered policy resolution
  - status.go:   Processing-status state machine
*/
package engine

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// BUCKETS - The five pay-rate categories
// =============================================================================

type Bucket string

const (
	BucketDay         Bucket = "day"
	BucketNight       Bucket = "night"
	BucketSaturday    Bucket = "saturday"
	BucketSunday      Bucket = "sunday"
	BucketBankHoliday Bucket = "bank_holiday"
)

// Buckets lists all buckets in classification-precedence-independent order.
// Iteration order is stable so totals and serialization are deterministic.
var Buckets = []Bucket{BucketDay, BucketNight, BucketSaturday, BucketSunday, BucketBankHoliday}

// BucketSet holds one decimal value per bucket. It is used both for
// classified hours and for pay/charge rates.
type BucketSet struct {
	Day         decimal.Decimal
	Night       decimal.Decimal
	Saturday    decimal.Decimal
	Sunday      decimal.Decimal
	BankHoliday decimal.Decimal
}

func (s BucketSet) Get(b Bucket) decimal.Decimal {
	switch b {
	case BucketDay:
		return s.Day
	case BucketNight:
		return s.Night
	case BucketSaturday:
		return s.Saturday
	case BucketSunday:
		return s.Sunday
	case BucketBankHoliday:
		return s.BankHoliday
	}
	return decimal.Zero
}

func (s *BucketSet) Set(b Bucket, v decimal.Decimal) {
	switch b {
	case BucketDay:
		s.Day = v
	case BucketNight:
		s.Night = v
	case BucketSaturday:
		s.Saturday = v
	case BucketSunday:
		s.Sunday = v
	case BucketBankHoliday:
		s.BankHoliday = v
	}
}

func (s *BucketSet) Add(b Bucket, v decimal.Decimal) {
	s.Set(b, s.Get(b).Add(v))
}

// Total sums all five bucket values.
func (s BucketSet) Total() decimal.Decimal {
	return s.Day.Add(s.Night).Add(s.Saturday).Add(s.Sunday).Add(s.BankHoliday)
}

// IsZero reports whether every bucket is zero.
func (s BucketSet) IsZero() bool {
	for _, b := range Buckets {
		if !s.Get(b).IsZero() {
			return false
		}
	}
	return true
}

// Round returns a copy with every bucket rounded to the given places.
func (s BucketSet) Round(places int32) BucketSet {
	var out BucketSet
	for _, b := range Buckets {
		out.Set(b, s.Get(b).Round(places))
	}
	return out
}

// Dot multiplies hours by rates bucket-wise and sums: Σ hours[b] * rates[b].
// This is the core total-pay / total-charge computation.
func (s BucketSet) Dot(rates BucketSet) decimal.Decimal {
	total := decimal.Zero
	for _, b := range Buckets {
		total = total.Add(s.Get(b).Mul(rates.Get(b)))
	}
	return total
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TimesheetID string
type CandidateID string
type ClientID string
type UmbrellaID string
type InvoiceID string
type CreditNoteID string

// =============================================================================
// PAY METHOD
// =============================================================================

type PayMethod string

const (
	PayMethodPAYE     PayMethod = "PAYE"
	PayMethodUmbrella PayMethod = "UMBRELLA"
)

// =============================================================================
// MONEY HELPERS
// =============================================================================

// RoundMoney rounds a monetary amount to 2 decimal places.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// Percent converts a percentage value (e.g. 20) to its multiplier (0.2).
func Percent(p decimal.Decimal) decimal.Decimal {
	return p.Div(decimal.NewFromInt(100))
}

// MustParseDecimal parses a decimal string, returning zero on failure.
// Used when scanning values the store itself wrote.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
