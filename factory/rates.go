/*
rates.go - JSON rate-card parsing

PURPOSE:
  Converts JSON rate-card rows into engine.CandidateRate and
  engine.ClientRate. Dimensions omitted from the JSON stay nil, which
  resolution treats as wildcards.

JSON SCHEMA:
  {
    "id": "rate-1",
    "candidate_id": "cand-1",          // candidate rates only
    "client_id": "client-1",           // optional for candidate rates
    "role": "RGN",                     // optional
    "band": "5",                       // optional
    "date_from": "2025-01-01T00:00:00Z",
    "date_to": null,
    "pay":    {"day": "21", "night": "26", "saturday": "28", "sunday": "30", "bank_holiday": "40"},
    "charge": {"day": "28", "night": "34", "saturday": "37", "sunday": "40", "bank_holiday": "52"}
  }

SEE ALSO:
  - engine/rates.go: Rate row definitions and resolution
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/timesheet-engine/engine"
)

// BucketsJSON is the JSON representation of one amount per pay bucket.
// Values are decimal strings.
type BucketsJSON struct {
	Day         string `json:"day,omitempty"`
	Night       string `json:"night,omitempty"`
	Saturday    string `json:"saturday,omitempty"`
	Sunday      string `json:"sunday,omitempty"`
	BankHoliday string `json:"bank_holiday,omitempty"`
}

// CandidateRateJSON is the JSON representation of an override rate row.
type CandidateRateJSON struct {
	ID          string       `json:"id"`
	CandidateID string       `json:"candidate_id"`
	ClientID    string       `json:"client_id,omitempty"`
	Role        string       `json:"role,omitempty"`
	Band        string       `json:"band,omitempty"`
	DateFrom    string       `json:"date_from"`
	DateTo      string       `json:"date_to,omitempty"`
	Pay         *BucketsJSON `json:"pay"`
}

// ClientRateJSON is the JSON representation of a client default rate row.
type ClientRateJSON struct {
	ID       string       `json:"id"`
	ClientID string       `json:"client_id"`
	Role     string       `json:"role,omitempty"`
	Band     string       `json:"band,omitempty"`
	DateFrom string       `json:"date_from"`
	DateTo   string       `json:"date_to,omitempty"`
	Charge   *BucketsJSON `json:"charge"`
	Pay      *BucketsJSON `json:"pay,omitempty"`
}

// ParseCandidateRate builds an override rate row from JSON.
func ParseCandidateRate(raw []byte) (engine.CandidateRate, error) {
	var rj CandidateRateJSON
	if err := json.Unmarshal(raw, &rj); err != nil {
		return engine.CandidateRate{}, fmt.Errorf("invalid candidate rate JSON: %w", err)
	}
	if rj.CandidateID == "" {
		return engine.CandidateRate{}, fmt.Errorf("candidate rate requires candidate_id")
	}
	if rj.Pay == nil {
		return engine.CandidateRate{}, fmt.Errorf("candidate rate requires pay buckets")
	}

	r := engine.CandidateRate{
		ID:          rj.ID,
		CandidateID: engine.CandidateID(rj.CandidateID),
	}
	if rj.ClientID != "" {
		id := engine.ClientID(rj.ClientID)
		r.ClientID = &id
	}
	if rj.Role != "" {
		r.Role = &rj.Role
	}
	if rj.Band != "" {
		r.Band = &rj.Band
	}

	var err error
	if r.DateFrom, err = parseDate(rj.DateFrom, "date_from"); err != nil {
		return engine.CandidateRate{}, err
	}
	if r.DateTo, err = parseDatePtr(rj.DateTo, "date_to"); err != nil {
		return engine.CandidateRate{}, err
	}
	if r.Pay, err = parseRateBuckets(*rj.Pay); err != nil {
		return engine.CandidateRate{}, fmt.Errorf("invalid pay buckets: %w", err)
	}
	return r, nil
}

// ParseClientRate builds a client default rate row from JSON.
func ParseClientRate(raw []byte) (engine.ClientRate, error) {
	var rj ClientRateJSON
	if err := json.Unmarshal(raw, &rj); err != nil {
		return engine.ClientRate{}, fmt.Errorf("invalid client rate JSON: %w", err)
	}
	if rj.ClientID == "" {
		return engine.ClientRate{}, fmt.Errorf("client rate requires client_id")
	}
	if rj.Charge == nil {
		return engine.ClientRate{}, fmt.Errorf("client rate requires charge buckets")
	}

	r := engine.ClientRate{
		ID:       rj.ID,
		ClientID: engine.ClientID(rj.ClientID),
	}
	if rj.Role != "" {
		r.Role = &rj.Role
	}
	if rj.Band != "" {
		r.Band = &rj.Band
	}

	var err error
	if r.DateFrom, err = parseDate(rj.DateFrom, "date_from"); err != nil {
		return engine.ClientRate{}, err
	}
	if r.DateTo, err = parseDatePtr(rj.DateTo, "date_to"); err != nil {
		return engine.ClientRate{}, err
	}
	if r.Charge, err = parseRateBuckets(*rj.Charge); err != nil {
		return engine.ClientRate{}, fmt.Errorf("invalid charge buckets: %w", err)
	}
	if rj.Pay != nil {
		pay, err := parseRateBuckets(*rj.Pay)
		if err != nil {
			return engine.ClientRate{}, fmt.Errorf("invalid pay buckets: %w", err)
		}
		r.Pay = &pay
	}
	return r, nil
}

func parseRateBuckets(bj BucketsJSON) (engine.BucketSet, error) {
	var b engine.BucketSet

	fields := []struct {
		name   string
		raw    string
		bucket engine.Bucket
	}{
		{"day", bj.Day, engine.BucketDay},
		{"night", bj.Night, engine.BucketNight},
		{"saturday", bj.Saturday, engine.BucketSaturday},
		{"sunday", bj.Sunday, engine.BucketSunday},
		{"bank_holiday", bj.BankHoliday, engine.BucketBankHoliday},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := parsePercent(f.raw)
		if err != nil {
			return b, fmt.Errorf("bucket %s: %w", f.name, err)
		}
		b.Set(f.bucket, d)
	}
	return b, nil
}

func parseDate(s, field string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%s is required", field)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", field, err)
	}
	return t, nil
}

func parseDatePtr(s, field string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	return &t, nil
}
