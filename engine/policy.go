/*
policy.go - Time-bucket policy and layered resolution

PURPOSE:
  A Policy carries everything the classifier and totals computation need
  for one client and date: the local day-window, the bank-holiday
  calendar, and the percentage parameters (VAT, holiday pay, employer
  NI). Policies layer: a single global default, optionally overridden
  per client by the most recent settings row effective on or before the
  reference date. An override only replaces the fields it sets.

RESOLUTION:
  ResolvePolicy never fails. A client with no override rows (or no
  client at all) receives the global default unchanged. This keeps a
  missing configuration from blocking recomputation - the snapshot is
  still produced and priced with default parameters.

SEE ALSO:
  - classify.go: Consumes DayStartMinutes/DayEndMinutes/BankHolidays
  - financials/writer.go: Applies the percentage parameters to totals
*/
package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// POLICY - Resolved configuration for a client and date
// =============================================================================

type Policy struct {
	// Timezone is informational; classification applies the UK seasonal
	// clock rule directly (see classify.go).
	Timezone string

	// Day window in local clock minutes from midnight. The window may
	// wrap past midnight (end <= start).
	DayStartMinutes int
	DayEndMinutes   int

	// BankHolidays holds local calendar dates formatted "2006-01-02".
	BankHolidays map[string]bool

	// Percentage parameters, expressed as percentages (20 = 20%).
	VATPercent        decimal.Decimal
	HolidayPayPercent decimal.Decimal
	ERNIPercent       decimal.Decimal

	// OnCostChannel names the pay channel whose pay attracts the
	// holiday-pay and employer-NI on-costs when computing margin.
	OnCostChannel PayMethod
}

// IsBankHoliday reports whether a local calendar date is in the policy's
// bank-holiday set.
func (p Policy) IsBankHoliday(localDate time.Time) bool {
	return p.BankHolidays[localDate.Format("2006-01-02")]
}

// =============================================================================
// POLICY OVERRIDE - Client-specific settings row
// =============================================================================

// PolicyOverride is a client-specific settings row. Nil fields fall back
// to the global default.
type PolicyOverride struct {
	ClientID      ClientID
	EffectiveFrom time.Time

	DayStartMinutes   *int
	DayEndMinutes     *int
	VATPercent        *decimal.Decimal
	HolidayPayPercent *decimal.Decimal
	ERNIPercent       *decimal.Decimal
	OnCostChannel     *PayMethod
}

// =============================================================================
// RESOLUTION
// =============================================================================

// ResolvePolicy layers the most recent applicable client override on top
// of the global default. overrides may be nil or empty (unknown client);
// the default is returned unchanged in that case. The bank-holiday
// calendar always comes from the default.
func ResolvePolicy(def Policy, overrides []PolicyOverride, asOf time.Time) Policy {
	resolved := def

	// Most recent effective_from <= asOf wins.
	applicable := make([]PolicyOverride, 0, len(overrides))
	for _, o := range overrides {
		if !o.EffectiveFrom.After(asOf) {
			applicable = append(applicable, o)
		}
	}
	if len(applicable) == 0 {
		return resolved
	}
	sort.Slice(applicable, func(i, j int) bool {
		return applicable[i].EffectiveFrom.After(applicable[j].EffectiveFrom)
	})
	o := applicable[0]

	if o.DayStartMinutes != nil {
		resolved.DayStartMinutes = *o.DayStartMinutes
	}
	if o.DayEndMinutes != nil {
		resolved.DayEndMinutes = *o.DayEndMinutes
	}
	if o.VATPercent != nil {
		resolved.VATPercent = *o.VATPercent
	}
	if o.HolidayPayPercent != nil {
		resolved.HolidayPayPercent = *o.HolidayPayPercent
	}
	if o.ERNIPercent != nil {
		resolved.ERNIPercent = *o.ERNIPercent
	}
	if o.OnCostChannel != nil {
		resolved.OnCostChannel = *o.OnCostChannel
	}
	return resolved
}

// DefaultPolicy returns the built-in global default: Europe/London,
// 06:00-20:00 day window, 20% VAT, 12.07% holiday pay, 13.8% employer NI
// applied to PAYE, and an empty bank-holiday calendar.
func DefaultPolicy() Policy {
	return Policy{
		Timezone:          "Europe/London",
		DayStartMinutes:   6 * 60,
		DayEndMinutes:     20 * 60,
		BankHolidays:      map[string]bool{},
		VATPercent:        decimal.NewFromInt(20),
		HolidayPayPercent: decimal.RequireFromString("12.07"),
		ERNIPercent:       decimal.RequireFromString("13.8"),
		OnCostChannel:     PayMethodPAYE,
	}
}
