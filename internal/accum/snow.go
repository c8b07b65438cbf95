package accum

import (
	"github.com/stratuscast/gridgen/internal/grid"
	"github.com/stratuscast/gridgen/internal/nwp"
)

// Thermal snow-fraction ramp: all snow at or below -2 °C at 850 hPa,
// no snow at or above +1 °C, linear between. The optional 2 m warm
// penalty suppresses the fraction as surface temperature climbs from
// 0 °C to 3 °C.
const (
	t850AllSnowC = -2.0
	t850NoSnowC  = 1.0
	t2mPenaltyLo = 0.0
	t2mPenaltyHi = 3.0
)

// snowStrategy is the closed set of per-bucket snow classification
// variants. Dispatch is by model capability, not type assertion.
type snowStrategy int

const (
	// strategyNativeMask reads the model's categorical snow field.
	strategyNativeMask snowStrategy = iota
	// strategyThermal derives the fraction from 850 hPa (and optionally
	// 2 m) temperature for models without a native mask.
	strategyThermal
	// strategyHRRRMask always uses the native mask regardless of the
	// generic dispatch; HRRR's mask is trustworthy at every lead time.
	strategyHRRRMask
)

func classifyStrategy(model nwp.ModelConfig) snowStrategy {
	switch {
	case model.ID == nwp.ModelHRRR:
		return strategyHRRRMask
	case model.HasNativePrecipMasks:
		return strategyNativeMask
	default:
		return strategyThermal
	}
}

// classifySnowFraction returns the per-cell snow fraction for one
// bucket, regridded onto the precipitation grid. ok is false when the
// fields this strategy needs are absent; the bucket then contributes
// nothing, without invalidating earlier buckets.
func classifySnowFraction(strategy snowStrategy, bucket *grid.Dataset, precip *grid.Grid) (*grid.Grid, bool) {
	switch strategy {
	case strategyNativeMask, strategyHRRRMask:
		return maskFraction(bucket, precip)
	case strategyThermal:
		return thermalFraction(bucket, precip)
	default:
		return nil, false
	}
}

// maskFraction normalizes the categorical snow field to [0,1]. Some
// sources encode the mask as 0-100; a maximum above 1.5 detects that
// scale.
func maskFraction(bucket *grid.Dataset, precip *grid.Grid) (*grid.Grid, bool) {
	mask := bucket.Field(nwp.FieldSnowMask)
	if mask == nil {
		return nil, false
	}

	frac := mask.Clone()
	if frac.Max() > 1.5 {
		frac.Scale(1.0 / 100.0)
	}
	for i := range frac.Values {
		for j := range frac.Values[i] {
			frac.Values[i][j] = clamp01(frac.Values[i][j])
		}
	}
	return grid.Regrid(frac, precip), true
}

// thermalFraction computes the piecewise-linear ramp on 850 hPa
// temperature, multiplied by the 2 m warm penalty when that field is
// present. Thermal grids often sit on a coarser grid than precipitation
// and are interpolated before the multiply.
func thermalFraction(bucket *grid.Dataset, precip *grid.Grid) (*grid.Grid, bool) {
	t850 := bucket.Field(nwp.FieldTemp850)
	if t850 == nil {
		return nil, false
	}

	t850C := grid.Regrid(grid.KelvinToCelsius(t850), precip)

	var t2mC *grid.Grid
	if t2m := bucket.Field(nwp.FieldTemp2m); t2m != nil {
		t2mC = grid.Regrid(grid.KelvinToCelsius(t2m), precip)
	}

	frac := grid.Zeros(precip)
	for i := range frac.Values {
		for j := range frac.Values[i] {
			f := rampDown(t850C.Values[i][j], t850AllSnowC, t850NoSnowC)
			if t2mC != nil {
				f *= rampDown(t2mC.Values[i][j], t2mPenaltyLo, t2mPenaltyHi)
			}
			frac.Values[i][j] = f
		}
	}
	return frac, true
}

// rampDown is 1 at or below lo, 0 at or above hi, linear between.
func rampDown(v, lo, hi float64) float64 {
	if v <= lo {
		return 1
	}
	if v >= hi {
		return 0
	}
	return (hi - v) / (hi - lo)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
