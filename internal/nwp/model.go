// Package nwp describes what each numerical weather prediction source
// can produce and what each output variable requires. The registry is
// built once at startup and read-only afterwards; lookups never fail
// fatally; an unknown model or variable is a skip, not an error.
package nwp

import (
	"time"
)

// Model identifiers for the supported sources.
const (
	ModelGFS  = "gfs"  // NCEP Global Forecast System
	ModelHRRR = "hrrr" // NCEP High-Resolution Rapid Refresh
	ModelAIFS = "aifs" // ECMWF AI forecast system
)

// Raw field names as they appear in fetched datasets.
const (
	FieldPrecip      = "apcp"   // accumulated precipitation (bucketed or cumulative per model)
	FieldSnowMask    = "csnow"  // categorical snow flag, 0/1 or 0-100
	FieldTemp850     = "t850"   // 850 hPa temperature
	FieldTemp2m      = "t2m"    // 2 m temperature
	FieldReflectivty = "refc"   // composite reflectivity
	FieldWindU10     = "ugrd10" // 10 m U wind
	FieldWindV10     = "vgrd10" // 10 m V wind
)

// Derived field names produced by the accumulation engine.
const (
	DerivedPrecipTotal = "precip_total"   // mm since run start
	DerivedSnowTotal   = "snow_total"     // inches at 10:1
	DerivedPrecipRate  = "precip_rate_6h" // mm/hr over the trailing 6 h window
)

// ModelConfig is the static description of one NWP source. Immutable
// after Registry construction.
type ModelConfig struct {
	ID string

	// RunHours lists the UTC cycle hours this model initializes at.
	RunHours []int
	// LeadIncrementHours is the spacing between forecast hours.
	LeadIncrementHours int
	// MaxLeadHours is the last forecast hour produced for this model.
	MaxLeadHours int
	// AvailabilityDelay is how long after cycle time upstream data is
	// normally expected to start appearing.
	AvailabilityDelay time.Duration

	HasReflectivity          bool
	HasNativePrecipMasks     bool
	HasUpperAir              bool
	PrecipCumulativeFromInit bool

	// ExcludedVariables names output variables this model never produces,
	// beyond what the capability flags already rule out.
	ExcludedVariables []string

	FetchTimeout time.Duration
	FetchRetries int

	// PriorityWeight orders models when splitting the worker pool.
	// Higher weight gets workers first.
	PriorityWeight int

	Enabled bool
}

// TargetForecastHours returns every forecast hour this model is expected
// to produce, from the first increment through the maximum lead time.
// Hour 0 (the analysis field) is not scheduled; derived fields at hour 0
// are zero by definition.
func (m ModelConfig) TargetForecastHours() []int {
	if m.LeadIncrementHours <= 0 {
		return nil
	}
	hours := make([]int, 0, m.MaxLeadHours/m.LeadIncrementHours)
	for h := m.LeadIncrementHours; h <= m.MaxLeadHours; h += m.LeadIncrementHours {
		hours = append(hours, h)
	}
	return hours
}

// LatestExpectedRun returns the most recent cycle whose data should be
// available by now, stepping back through the run cadence until the
// availability delay has elapsed.
func (m ModelConfig) LatestExpectedRun(now time.Time) time.Time {
	now = now.UTC()
	for back := 0; back < 3; back++ {
		day := now.AddDate(0, 0, -back)
		for i := len(m.RunHours) - 1; i >= 0; i-- {
			run := time.Date(day.Year(), day.Month(), day.Day(), m.RunHours[i], 0, 0, 0, time.UTC)
			if !run.After(now.Add(-m.AvailabilityDelay)) {
				return run
			}
		}
	}
	// Cadence misconfigured; fall back to the top of the current hour.
	return now.Truncate(time.Hour)
}

// VariableRequirement describes what one output variable needs from a
// model before it can be rendered.
type VariableRequirement struct {
	Name string

	RequiredFields []string
	DerivedFields  []string
	OptionalFields []string

	NeedsPrecipTotal  bool
	NeedsSnowTotal    bool
	NeedsPrecipRate6h bool
	NeedsUpperAir     bool
	NeedsReflectivity bool
}
