/*
Package factory provides JSON to Go configuration conversion.

PURPOSE:
  Converts JSON policy and rate-card definitions into engine.Policy,
  engine.PolicyOverride and rate rows. This enables configuration
  without code changes - operations staff can define client settings
  and rate cards in JSON, and the factory creates the proper Go structs.

WHY JSON?
  - Non-developers can modify client settings and rate cards
  - Easy integration with admin UI
  - Version control for configuration
  - Database storage of raw definitions

JSON SCHEMA (policy):
  {
    "timezone": "Europe/London",
    "day_start": "06:00",
    "day_end": "20:00",
    "vat_percent": "20",
    "holiday_pay_percent": "12.07",
    "erni_percent": "13.8",
    "on_cost_channel": "PAYE",
    "bank_holidays": ["2025-12-25", "2025-12-26"]
  }

  Overrides use the same shape plus "client_id" and "effective_from";
  omitted fields fall back to the global default.

KEY FEATURES:
  - Validates clock strings and percentages
  - Omitted override fields stay nil (wildcard to the default)
  - Decimal fields accept JSON strings, never floats

USAGE:
  def, err := factory.ParsePolicy(jsonBytes)
  override, err := factory.ParseOverride(jsonBytes)

SEE ALSO:
  - engine/policy.go: Policy and override definitions
  - factory/rates.go: Rate-card parsing
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/timesheet-engine/engine"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of the global default policy.
type PolicyJSON struct {
	Timezone          string   `json:"timezone,omitempty"`
	DayStart          string   `json:"day_start,omitempty"` // "HH:MM" local clock
	DayEnd            string   `json:"day_end,omitempty"`
	VATPercent        string   `json:"vat_percent,omitempty"`
	HolidayPayPercent string   `json:"holiday_pay_percent,omitempty"`
	ERNIPercent       string   `json:"erni_percent,omitempty"`
	OnCostChannel     string   `json:"on_cost_channel,omitempty"`
	BankHolidays      []string `json:"bank_holidays,omitempty"` // "2006-01-02"
}

// OverrideJSON is the JSON representation of a client settings row.
// Omitted fields fall back to the global default.
type OverrideJSON struct {
	ClientID          string `json:"client_id"`
	EffectiveFrom     string `json:"effective_from"` // RFC3339
	DayStart          string `json:"day_start,omitempty"`
	DayEnd            string `json:"day_end,omitempty"`
	VATPercent        string `json:"vat_percent,omitempty"`
	HolidayPayPercent string `json:"holiday_pay_percent,omitempty"`
	ERNIPercent       string `json:"erni_percent,omitempty"`
	OnCostChannel     string `json:"on_cost_channel,omitempty"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParsePolicy builds a global default policy from JSON, starting from
// the built-in default for any omitted field.
func ParsePolicy(raw []byte) (engine.Policy, error) {
	var pj PolicyJSON
	if err := json.Unmarshal(raw, &pj); err != nil {
		return engine.Policy{}, fmt.Errorf("invalid policy JSON: %w", err)
	}

	p := engine.DefaultPolicy()
	if pj.Timezone != "" {
		p.Timezone = pj.Timezone
	}
	if pj.DayStart != "" {
		minutes, err := parseClock(pj.DayStart)
		if err != nil {
			return engine.Policy{}, fmt.Errorf("invalid day_start: %w", err)
		}
		p.DayStartMinutes = minutes
	}
	if pj.DayEnd != "" {
		minutes, err := parseClock(pj.DayEnd)
		if err != nil {
			return engine.Policy{}, fmt.Errorf("invalid day_end: %w", err)
		}
		p.DayEndMinutes = minutes
	}
	if pj.VATPercent != "" {
		d, err := parsePercent(pj.VATPercent)
		if err != nil {
			return engine.Policy{}, fmt.Errorf("invalid vat_percent: %w", err)
		}
		p.VATPercent = d
	}
	if pj.HolidayPayPercent != "" {
		d, err := parsePercent(pj.HolidayPayPercent)
		if err != nil {
			return engine.Policy{}, fmt.Errorf("invalid holiday_pay_percent: %w", err)
		}
		p.HolidayPayPercent = d
	}
	if pj.ERNIPercent != "" {
		d, err := parsePercent(pj.ERNIPercent)
		if err != nil {
			return engine.Policy{}, fmt.Errorf("invalid erni_percent: %w", err)
		}
		p.ERNIPercent = d
	}
	if pj.OnCostChannel != "" {
		method, err := parsePayMethod(pj.OnCostChannel)
		if err != nil {
			return engine.Policy{}, err
		}
		p.OnCostChannel = method
	}

	p.BankHolidays = make(map[string]bool, len(pj.BankHolidays))
	for _, date := range pj.BankHolidays {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return engine.Policy{}, fmt.Errorf("invalid bank holiday %q: %w", date, err)
		}
		p.BankHolidays[date] = true
	}

	return p, nil
}

// ParseOverride builds a client settings row from JSON. Omitted fields
// stay nil so resolution falls back to the default.
func ParseOverride(raw []byte) (engine.PolicyOverride, error) {
	var oj OverrideJSON
	if err := json.Unmarshal(raw, &oj); err != nil {
		return engine.PolicyOverride{}, fmt.Errorf("invalid override JSON: %w", err)
	}
	if oj.ClientID == "" {
		return engine.PolicyOverride{}, fmt.Errorf("override requires client_id")
	}

	o := engine.PolicyOverride{ClientID: engine.ClientID(oj.ClientID)}

	if oj.EffectiveFrom != "" {
		t, err := time.Parse(time.RFC3339, oj.EffectiveFrom)
		if err != nil {
			return engine.PolicyOverride{}, fmt.Errorf("invalid effective_from: %w", err)
		}
		o.EffectiveFrom = t
	}
	if oj.DayStart != "" {
		minutes, err := parseClock(oj.DayStart)
		if err != nil {
			return engine.PolicyOverride{}, fmt.Errorf("invalid day_start: %w", err)
		}
		o.DayStartMinutes = &minutes
	}
	if oj.DayEnd != "" {
		minutes, err := parseClock(oj.DayEnd)
		if err != nil {
			return engine.PolicyOverride{}, fmt.Errorf("invalid day_end: %w", err)
		}
		o.DayEndMinutes = &minutes
	}
	if oj.VATPercent != "" {
		d, err := parsePercent(oj.VATPercent)
		if err != nil {
			return engine.PolicyOverride{}, fmt.Errorf("invalid vat_percent: %w", err)
		}
		o.VATPercent = &d
	}
	if oj.HolidayPayPercent != "" {
		d, err := parsePercent(oj.HolidayPayPercent)
		if err != nil {
			return engine.PolicyOverride{}, fmt.Errorf("invalid holiday_pay_percent: %w", err)
		}
		o.HolidayPayPercent = &d
	}
	if oj.ERNIPercent != "" {
		d, err := parsePercent(oj.ERNIPercent)
		if err != nil {
			return engine.PolicyOverride{}, fmt.Errorf("invalid erni_percent: %w", err)
		}
		o.ERNIPercent = &d
	}
	if oj.OnCostChannel != "" {
		method, err := parsePayMethod(oj.OnCostChannel)
		if err != nil {
			return engine.PolicyOverride{}, err
		}
		o.OnCostChannel = &method
	}

	return o, nil
}

// =============================================================================
// FIELD PARSERS
// =============================================================================

// parseClock converts "HH:MM" to minutes from local midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return hours*60 + minutes, nil
}

func parsePercent(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("percentage %s is negative", s)
	}
	return d, nil
}

func parsePayMethod(s string) (engine.PayMethod, error) {
	switch engine.PayMethod(s) {
	case engine.PayMethodPAYE, engine.PayMethodUmbrella:
		return engine.PayMethod(s), nil
	default:
		return "", fmt.Errorf("unknown pay method %q", s)
	}
}
