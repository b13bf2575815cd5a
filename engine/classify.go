/*
classify.go - Worked-time classification into pay buckets

PURPOSE:
  Converts a worked interval (minus break) into hours per bucket. The
  precedence is an explicit ordered rule list evaluated per local-day
  slice so it stays auditable and testable in isolation:

    1. bank holiday   (entire slice)
    2. Sunday         (entire slice)
    3. Saturday       (entire slice)
    4. day/night      (split by overlap with the policy day-window)

ALGORITHM:
  1. Subtract the break. Explicit break boundaries are clipped out of
     each worked interval; a bare break-minutes value is trimmed
     symmetrically from the middle of the longest interval.
  2. Walk each interval forward in local-midnight-aligned slices so every
     slice falls within one local calendar day. "Local" means UK clock
     time: UTC+1h between the last Sunday of March 01:00 UTC and the
     last Sunday of October 01:00 UTC, UTC otherwise.
  3. Classify each slice with the precedence above, accumulating exact
     durations, then convert to hours rounded to 2 decimals.

EDGE CASES:
  - Zero-length intervals contribute nothing.
  - An overnight shift is sliced at local midnight, so a shift leaving a
    bank holiday only attributes the pre-midnight portion to that bucket.
  - A day-window that wraps past midnight (end <= start) counts the
    wrapped portion as day time.

SEE ALSO:
  - policy.go: Day-window and bank-holiday configuration
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INTERVALS
// =============================================================================

// Interval is a half-open [Start, End) span of absolute time.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Duration() time.Duration {
	if !iv.End.After(iv.Start) {
		return 0
	}
	return iv.End.Sub(iv.Start)
}

// =============================================================================
// BREAK SUBTRACTION
// =============================================================================

// SubtractBreak removes the break from the worked intervals.
// With explicit boundaries the break is clipped out of every interval it
// overlaps. With only a minute count, that many minutes are trimmed
// symmetrically from the middle of the longest interval. This fallback is
// a documented heuristic carried over as-is from the upstream behavior.
func SubtractBreak(intervals []Interval, breakStart, breakEnd *time.Time, breakMinutes int) []Interval {
	if breakStart != nil && breakEnd != nil && breakEnd.After(*breakStart) {
		var out []Interval
		for _, iv := range intervals {
			out = append(out, clip(iv, *breakStart, *breakEnd)...)
		}
		return out
	}

	if breakMinutes <= 0 {
		return intervals
	}

	// Minutes-only fallback: trim from the middle of the longest interval.
	longest := -1
	for i, iv := range intervals {
		if longest < 0 || iv.Duration() > intervals[longest].Duration() {
			longest = i
		}
	}
	if longest < 0 {
		return intervals
	}

	br := time.Duration(breakMinutes) * time.Minute
	iv := intervals[longest]
	if br >= iv.Duration() {
		br = iv.Duration()
	}
	mid := iv.Start.Add(iv.Duration() / 2)
	bs := mid.Add(-br / 2)
	be := bs.Add(br)

	var out []Interval
	for i, src := range intervals {
		if i == longest {
			out = append(out, clip(src, bs, be)...)
		} else {
			out = append(out, src)
		}
	}
	return out
}

// clip removes [bs, be) from iv, returning the surviving pieces.
func clip(iv Interval, bs, be time.Time) []Interval {
	os := maxTime(iv.Start, bs)
	oe := minTime(iv.End, be)
	if !oe.After(os) {
		// No overlap.
		if iv.Duration() == 0 {
			return nil
		}
		return []Interval{iv}
	}

	var out []Interval
	if os.After(iv.Start) {
		out = append(out, Interval{Start: iv.Start, End: os})
	}
	if iv.End.After(oe) {
		out = append(out, Interval{Start: oe, End: iv.End})
	}
	return out
}

// =============================================================================
// UK LOCAL OFFSET
// =============================================================================

// LondonOffset returns the UK local-clock offset from UTC at instant t:
// +1h between the last Sunday of March 01:00 UTC and the last Sunday of
// October 01:00 UTC, 0 otherwise.
func LondonOffset(t time.Time) time.Duration {
	u := t.UTC()
	start := lastSundayOf(u.Year(), time.March).Add(time.Hour)
	end := lastSundayOf(u.Year(), time.October).Add(time.Hour)
	if !u.Before(start) && u.Before(end) {
		return time.Hour
	}
	return 0
}

func lastSundayOf(year int, month time.Month) time.Time {
	d := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	for d.Weekday() != time.Sunday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// ClassifyShift is the common entry point: break subtraction followed by
// classification of the surviving worked time.
func ClassifyShift(workedStart, workedEnd time.Time, breakStart, breakEnd *time.Time, breakMinutes int, p Policy) BucketSet {
	worked := SubtractBreak([]Interval{{Start: workedStart, End: workedEnd}}, breakStart, breakEnd, breakMinutes)
	return ClassifyIntervals(worked, p)
}

// ClassifyIntervals classifies disjoint worked intervals into bucket
// hours (2 decimal places) under the given policy.
func ClassifyIntervals(intervals []Interval, p Policy) BucketSet {
	acc := map[Bucket]time.Duration{}

	for _, iv := range intervals {
		if iv.Duration() == 0 {
			continue
		}
		cur := iv.Start
		for cur.Before(iv.End) {
			off := LondonOffset(cur)
			local := cur.Add(off)
			// Next local midnight, expressed back in absolute time.
			nextMidnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC).
				AddDate(0, 0, 1).Add(-off)
			sliceEnd := iv.End
			if nextMidnight.Before(sliceEnd) {
				sliceEnd = nextMidnight
			}
			classifySlice(cur, sliceEnd, off, p, acc)
			cur = sliceEnd
		}
	}

	var hours BucketSet
	for b, d := range acc {
		hours.Set(b, durationHours(d))
	}
	return hours
}

// classifySlice applies the ordered precedence rules to one slice known
// to lie within a single local calendar day.
func classifySlice(start, end time.Time, off time.Duration, p Policy, acc map[Bucket]time.Duration) {
	dur := end.Sub(start)
	localStart := start.Add(off).UTC()
	localDate := time.Date(localStart.Year(), localStart.Month(), localStart.Day(), 0, 0, 0, 0, time.UTC)

	switch {
	case p.IsBankHoliday(localDate):
		acc[BucketBankHoliday] += dur
	case localDate.Weekday() == time.Sunday:
		acc[BucketSunday] += dur
	case localDate.Weekday() == time.Saturday:
		acc[BucketSaturday] += dur
	default:
		day := dayWindowOverlap(localStart, localStart.Add(dur), localDate, p)
		acc[BucketDay] += day
		acc[BucketNight] += dur - day
	}
}

// dayWindowOverlap computes how much of [localStart, localEnd) falls
// inside the policy's day window on the given local date. A wrapped
// window (end <= start) covers [midnight, end) and [start, next midnight).
func dayWindowOverlap(localStart, localEnd, localMidnight time.Time, p Policy) time.Duration {
	ws := localMidnight.Add(time.Duration(p.DayStartMinutes) * time.Minute)
	we := localMidnight.Add(time.Duration(p.DayEndMinutes) * time.Minute)

	if p.DayEndMinutes > p.DayStartMinutes {
		return overlap(localStart, localEnd, ws, we)
	}
	// Wrapped window.
	nextMidnight := localMidnight.AddDate(0, 0, 1)
	return overlap(localStart, localEnd, localMidnight, we) +
		overlap(localStart, localEnd, ws, nextMidnight)
}

func overlap(aStart, aEnd, bStart, bEnd time.Time) time.Duration {
	s := maxTime(aStart, bStart)
	e := minTime(aEnd, bEnd)
	if e.After(s) {
		return e.Sub(s)
	}
	return 0
}

func durationHours(d time.Duration) decimal.Decimal {
	return decimal.NewFromInt(int64(d / time.Second)).
		Div(decimal.NewFromInt(3600)).
		Round(2)
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
