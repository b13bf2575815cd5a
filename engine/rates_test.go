package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/timesheet-engine/engine"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func flatRates(v string) engine.BucketSet {
	d := dec(v)
	return engine.BucketSet{Day: d, Night: d, Saturday: d, Sunday: d, BankHoliday: d}
}

func strPtr(s string) *string                      { return &s }
func clientPtr(c engine.ClientID) *engine.ClientID { return &c }

func rateQuery() engine.RateQuery {
	cand := engine.CandidateID("cand-1")
	return engine.RateQuery{
		CandidateID: &cand,
		ClientID:    "client-1",
		Role:        "RGN",
		Band:        "5",
		Date:        time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// SPECIFICITY ORDERING
// =============================================================================

func TestResolveRates_MoreSpecificOverride_Wins(t *testing.T) {
	// GIVEN: Two candidate overrides both matching the query: one fully
	//        wildcarded (client/role/band all NULL), one scoped to the client
	// THEN: The scoped row wins; the wildcard always loses

	wildcard := engine.CandidateRate{
		ID: "wild", CandidateID: "cand-1",
		DateFrom: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		Pay:      flatRates("15"),
	}
	scoped := engine.CandidateRate{
		ID: "scoped", CandidateID: "cand-1",
		ClientID: clientPtr("client-1"),
		DateFrom: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		Pay:      flatRates("18"),
	}

	got := engine.ResolveRates(rateQuery(), []engine.CandidateRate{wildcard, scoped}, nil)

	assert.Equal(t, engine.RateSourceCandidateOverride, got.Source)
	require.NotNil(t, got.Pay)
	assert.True(t, got.Pay.Day.Equal(dec("18")))
}

func TestResolveRates_Override_BeatsClientDefault(t *testing.T) {
	// GIVEN: A wildcard candidate override AND a fully scoped client default
	// THEN: The override's pay wins; the default still supplies charge

	override := engine.CandidateRate{
		ID: "ovr", CandidateID: "cand-1",
		DateFrom: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		Pay:      flatRates("16"),
	}
	defaultPay := flatRates("14")
	def := engine.ClientRate{
		ID: "def", ClientID: "client-1",
		Role: strPtr("RGN"), Band: strPtr("5"),
		DateFrom: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		Charge:   flatRates("25"),
		Pay:      &defaultPay,
	}

	got := engine.ResolveRates(rateQuery(), []engine.CandidateRate{override}, []engine.ClientRate{def})

	assert.Equal(t, engine.RateSourceCandidateOverride, got.Source)
	require.NotNil(t, got.Pay)
	assert.True(t, got.Pay.Day.Equal(dec("16")), "override pay is authoritative")
	require.NotNil(t, got.Charge)
	assert.True(t, got.Charge.Day.Equal(dec("25")), "charge comes from the client default")
}

func TestResolveRates_LaterDateFrom_BreaksTies(t *testing.T) {
	// GIVEN: Two otherwise-identical client defaults, both inside their
	//        date windows, one starting later
	// THEN: The later date_from wins

	older := engine.ClientRate{
		ID: "older", ClientID: "client-1",
		Role: strPtr("RGN"), Band: strPtr("5"),
		DateFrom: time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC),
		Charge:   flatRates("22"),
	}
	newer := engine.ClientRate{
		ID: "newer", ClientID: "client-1",
		Role: strPtr("RGN"), Band: strPtr("5"),
		DateFrom: time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC),
		Charge:   flatRates("24"),
	}

	q := rateQuery()
	q.CandidateID = nil
	got := engine.ResolveRates(q, nil, []engine.ClientRate{older, newer})

	assert.Equal(t, engine.RateSourceClientDefault, got.Source)
	require.NotNil(t, got.Charge)
	assert.True(t, got.Charge.Day.Equal(dec("24")))
}

// =============================================================================
// WILDCARDS AND WINDOWS
// =============================================================================

func TestResolveRates_NullDimensions_MatchAnything(t *testing.T) {
	// GIVEN: A client default with NULL role and band
	// WHEN: Queried for any role/band
	// THEN: It matches

	def := engine.ClientRate{
		ID: "def", ClientID: "client-1",
		DateFrom: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		Charge:   flatRates("20"),
	}

	q := rateQuery()
	q.Role = "HCA"
	q.Band = "2"
	got := engine.ResolveRates(q, nil, []engine.ClientRate{def})

	assert.Equal(t, engine.RateSourceClientDefault, got.Source)
}

func TestResolveRates_RowOutsideDateWindow_Excluded(t *testing.T) {
	// GIVEN: A client default whose date_to has passed
	// THEN: It does not apply; the result is NONE

	to := time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC)
	expired := engine.ClientRate{
		ID: "expired", ClientID: "client-1",
		DateFrom: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		DateTo:   &to,
		Charge:   flatRates("20"),
	}

	got := engine.ResolveRates(rateQuery(), nil, []engine.ClientRate{expired})

	assert.Equal(t, engine.RateSourceNone, got.Source)
	assert.Nil(t, got.Pay)
	assert.Nil(t, got.Charge)
}

func TestResolveRates_OpenEndedWindow_Applies(t *testing.T) {
	// A NULL date_to means the row never expires.
	def := engine.ClientRate{
		ID: "open", ClientID: "client-1",
		DateFrom: time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC),
		Charge:   flatRates("20"),
	}

	got := engine.ResolveRates(rateQuery(), nil, []engine.ClientRate{def})
	assert.Equal(t, engine.RateSourceClientDefault, got.Source)
}

func TestResolveRates_OtherClientsRate_Ignored(t *testing.T) {
	// GIVEN: A candidate override scoped to a different client
	// THEN: It does not match this query

	other := engine.CandidateRate{
		ID: "other", CandidateID: "cand-1",
		ClientID: clientPtr("client-2"),
		DateFrom: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		Pay:      flatRates("30"),
	}

	got := engine.ResolveRates(rateQuery(), []engine.CandidateRate{other}, nil)
	assert.Equal(t, engine.RateSourceNone, got.Source)
}

// =============================================================================
// MISSING-RATE DETECTION
// =============================================================================

func TestMissingRateBuckets_FlagsNonZeroBucketsWithoutBothRates(t *testing.T) {
	// GIVEN: 8 day hours and 2 Saturday hours, but rates defined only for day
	// THEN: Saturday is flagged missing, day is not

	hours := engine.BucketSet{Day: dec("8"), Saturday: dec("2")}
	pay := engine.BucketSet{Day: dec("15")}
	charge := engine.BucketSet{Day: dec("25")}
	rates := engine.ResolvedRates{Source: engine.RateSourceClientDefault, Pay: &pay, Charge: &charge}

	missing := engine.MissingRateBuckets(hours, rates)

	assert.Equal(t, []engine.Bucket{engine.BucketSaturday}, missing)
}

func TestMissingRateBuckets_NoneResolved_AllNonZeroBucketsMissing(t *testing.T) {
	hours := engine.BucketSet{Night: dec("8"), Day: dec("1")}
	missing := engine.MissingRateBuckets(hours, engine.ResolvedRates{Source: engine.RateSourceNone})
	assert.ElementsMatch(t, []engine.Bucket{engine.BucketDay, engine.BucketNight}, missing)
}

func TestMissingRateBuckets_ZeroHours_NeverMissing(t *testing.T) {
	missing := engine.MissingRateBuckets(engine.BucketSet{}, engine.ResolvedRates{Source: engine.RateSourceNone})
	assert.Empty(t, missing)
}
