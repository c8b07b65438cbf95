// Package accum computes time-derived fields (precipitation total,
// snowfall total, and short-window precipitation rate) from per-hour
// raw model output. An Engine keeps a per-run cache so deriving hour H
// does not repeat work already done for earlier hours of the same run,
// but never assumes an earlier hour was computed first: forecast-hour
// jobs run in parallel and complete out of order.
package accum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stratuscast/gridgen/internal/fetch"
	"github.com/stratuscast/gridgen/internal/grid"
	"github.com/stratuscast/gridgen/internal/nwp"
	"github.com/stratuscast/gridgen/internal/observability"
)

// Snowfall reporting: inches of snow per millimeter of liquid
// equivalent at the fixed 10:1 ratio.
const snowInchesPerLiquidMM = 10.0 / 25.4

// ErrNoUsableBuckets is returned when not a single bucket inside a
// multi-bucket accumulation window could be read. Partial data is
// tolerated; total absence is not.
var ErrNoUsableBuckets = errors.New("no usable buckets in accumulation window")

// ErrMissingField is returned when the raw dataset lacks a field the
// requested derivation needs and it cannot be fetched.
var ErrMissingField = errors.New("required raw field missing")

// ErrBucketNotReady is returned when a derivation needs an earlier
// forecast hour that upstream has not published yet. Callers treat it
// like a not-ready main fetch: poll again rather than count a failure.
var ErrBucketNotReady = errors.New("bucket not yet available")

// Flags selects which derived fields to compute.
type Flags struct {
	PrecipTotal  bool
	SnowTotal    bool
	PrecipRate6h bool
}

// FlagsForVariables folds the per-variable requirement flags into one
// Flags value for a job.
func FlagsForVariables(reqs []nwp.VariableRequirement) Flags {
	var f Flags
	for _, r := range reqs {
		f.PrecipTotal = f.PrecipTotal || r.NeedsPrecipTotal
		f.SnowTotal = f.SnowTotal || r.NeedsSnowTotal
		f.PrecipRate6h = f.PrecipRate6h || r.NeedsPrecipRate6h
	}
	return f
}

// Engine derives time-accumulated fields for one model's polling loop.
// Safe for concurrent use by that loop's workers; not shared between
// loops.
type Engine struct {
	fetcher fetch.Fetcher
	cache   *runCache
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewEngine creates an accumulation engine over the given raw fetcher.
func NewEngine(fetcher fetch.Fetcher, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		fetcher: fetcher,
		cache:   newRunCache(),
		logger:  logger,
		metrics: metrics,
	}
}

// ComputeDerived produces the derived fields the flags ask for, using
// raw (the already-fetched dataset for forecastHour) where possible and
// the fetcher for earlier buckets.
func (e *Engine) ComputeDerived(ctx context.Context, model nwp.ModelConfig, runTime time.Time, forecastHour int, raw *grid.Dataset, flags Flags) (map[string]*grid.Grid, error) {
	out := make(map[string]*grid.Grid)

	if flags.PrecipTotal {
		total, err := e.precipTotalMM(ctx, model, runTime, forecastHour, raw)
		if err != nil {
			return nil, fmt.Errorf("precip total %s f%03d: %w", model.ID, forecastHour, err)
		}
		total.Attrs = grid.Attrs{Units: "mm"}
		out[nwp.DerivedPrecipTotal] = total
	}

	if flags.SnowTotal {
		liquid, err := e.snowLiquidMM(ctx, model, runTime, forecastHour, raw)
		if err != nil {
			return nil, fmt.Errorf("snow total %s f%03d: %w", model.ID, forecastHour, err)
		}
		inches := liquid.Clone()
		inches.Scale(snowInchesPerLiquidMM)
		inches.Attrs = grid.Attrs{Units: "in"}
		out[nwp.DerivedSnowTotal] = inches
	}

	if flags.PrecipRate6h {
		rate, err := e.precipRate6h(ctx, model, runTime, forecastHour, raw)
		if err != nil {
			return nil, fmt.Errorf("precip rate %s f%03d: %w", model.ID, forecastHour, err)
		}
		rate.Attrs = grid.Attrs{Units: "mm/hr"}
		out[nwp.DerivedPrecipRate] = rate
	}

	return out, nil
}

// precipTotalMM returns total precipitation in mm from run start
// through forecastHour.
func (e *Engine) precipTotalMM(ctx context.Context, model nwp.ModelConfig, runTime time.Time, forecastHour int, raw *grid.Dataset) (*grid.Grid, error) {
	key := runKey(model.ID, runTime)

	if forecastHour == 0 {
		ref, err := referenceGrid(raw)
		if err != nil {
			return nil, err
		}
		return grid.Zeros(ref), nil
	}

	if entry, ok := e.cache.entry(key, forecastHour); ok && entry.precipTotalMM != nil {
		e.metrics.CacheHits.Inc()
		return entry.precipTotalMM.Clone(), nil
	}
	e.metrics.CacheMisses.Inc()

	// Cumulative-from-init models report the 0→H total directly.
	if model.PrecipCumulativeFromInit {
		ds, err := e.hourDataset(ctx, model, runTime, forecastHour, raw, []string{nwp.FieldPrecip})
		if err != nil {
			return nil, err
		}
		precip := ds.Field(nwp.FieldPrecip)
		if precip == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, nwp.FieldPrecip)
		}
		total := grid.ToMillimeters(precip)
		e.cache.store(key, forecastHour, total.Clone(), nil)
		return total, nil
	}

	// Bucketed models: sum every bucket from the first increment through
	// H. Jobs complete out of order, so a "previous hour" entry cannot
	// be assumed to exist; summation restarts from the first bucket.
	var total *grid.Grid
	used := 0
	for h := model.LeadIncrementHours; h <= forecastHour; h += model.LeadIncrementHours {
		ds, err := e.hourDataset(ctx, model, runTime, h, raw, []string{nwp.FieldPrecip})
		if err != nil {
			e.skipBucket(model.ID, h, err)
			continue
		}
		precip := ds.Field(nwp.FieldPrecip)
		if precip == nil {
			e.skipBucket(model.ID, h, ErrMissingField)
			continue
		}

		bucketMM := grid.ToMillimeters(precip)
		if total == nil {
			total = bucketMM
		} else if err := total.Add(bucketMM); err != nil {
			return nil, err
		}
		used++
	}
	if used == 0 {
		return nil, fmt.Errorf("%w: %s through f%03d", ErrNoUsableBuckets, model.ID, forecastHour)
	}

	e.cache.store(key, forecastHour, total.Clone(), nil)
	return total, nil
}

// snowLiquidMM returns the snow liquid-equivalent total in mm from run
// start through forecastHour. A prior hour's total is reused and
// incremented by only the newest bucket, but only when this engine
// already computed that exact hour; otherwise the full summation is
// redone.
func (e *Engine) snowLiquidMM(ctx context.Context, model nwp.ModelConfig, runTime time.Time, forecastHour int, raw *grid.Dataset) (*grid.Grid, error) {
	key := runKey(model.ID, runTime)

	if forecastHour == 0 {
		ref, err := referenceGrid(raw)
		if err != nil {
			return nil, err
		}
		return grid.Zeros(ref), nil
	}

	if entry, ok := e.cache.entry(key, forecastHour); ok && entry.snowLiquidMM != nil {
		e.metrics.CacheHits.Inc()
		return entry.snowLiquidMM.Clone(), nil
	}
	e.metrics.CacheMisses.Inc()

	startHour := model.LeadIncrementHours
	var total *grid.Grid
	if prev, ok := e.cache.entry(key, forecastHour-model.LeadIncrementHours); ok && prev.snowLiquidMM != nil {
		total = prev.snowLiquidMM.Clone()
		startHour = forecastHour
		e.metrics.CacheHits.Inc()
	}

	strategy := classifyStrategy(model)
	fields := snowBucketFields(strategy)

	for h := startHour; h <= forecastHour; h += model.LeadIncrementHours {
		ds, err := e.hourDataset(ctx, model, runTime, h, raw, fields)
		if err != nil {
			e.skipBucket(model.ID, h, err)
			continue
		}

		bucketPrecip, err := e.bucketPrecipMM(ctx, model, runTime, h, ds)
		if err != nil {
			e.skipBucket(model.ID, h, err)
			continue
		}

		// A bucket without classification fields contributes nothing but
		// does not invalidate what has accumulated so far.
		frac, ok := classifySnowFraction(strategy, ds, bucketPrecip)
		if !ok {
			e.logger.Warn("snow classification fields absent for bucket",
				"model", model.ID, "forecast_hour", h)
			if total == nil {
				total = grid.Zeros(bucketPrecip)
			}
			continue
		}

		contribution := bucketPrecip.Clone()
		for i := range contribution.Values {
			for j := range contribution.Values[i] {
				contribution.Values[i][j] *= frac.Values[i][j]
			}
		}

		if total == nil {
			total = contribution
		} else if err := total.Add(contribution); err != nil {
			return nil, err
		}
	}
	if total == nil {
		return nil, fmt.Errorf("%w: snow %s through f%03d", ErrNoUsableBuckets, model.ID, forecastHour)
	}

	e.cache.store(key, forecastHour, nil, total.Clone())
	return total, nil
}

// precipRate6h returns the mean precipitation rate over the trailing
// six hours, in mm/hr.
func (e *Engine) precipRate6h(ctx context.Context, model nwp.ModelConfig, runTime time.Time, forecastHour int, raw *grid.Dataset) (*grid.Grid, error) {
	if forecastHour < 6 {
		ref, err := referenceGrid(raw)
		if err != nil {
			return nil, err
		}
		return grid.Zeros(ref), nil
	}

	if model.PrecipCumulativeFromInit {
		current, err := e.precipTotalMM(ctx, model, runTime, forecastHour, raw)
		if err != nil {
			return nil, err
		}
		// The run-start total is zero, so f006 needs no subtraction.
		if prev := forecastHour - 6; prev > 0 {
			previous, err := e.precipTotalMM(ctx, model, runTime, prev, nil)
			if err != nil {
				return nil, err
			}
			if err := current.Sub(previous); err != nil {
				return nil, err
			}
		}
		current.Scale(1.0 / 6.0)
		return current, nil
	}

	// Bucketed models with a 6-hour increment already report a 6-hour
	// window in the single bucket at H.
	ds, err := e.hourDataset(ctx, model, runTime, forecastHour, raw, []string{nwp.FieldPrecip})
	if err != nil {
		return nil, err
	}
	precip := ds.Field(nwp.FieldPrecip)
	if precip == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, nwp.FieldPrecip)
	}
	rate := grid.ToMillimeters(precip)
	rate.Scale(1.0 / 6.0)
	return rate, nil
}

// bucketPrecipMM returns precipitation in mm for the single bucket
// ending at hour h. Bucketed models report it directly; cumulative
// models need the difference of two totals.
func (e *Engine) bucketPrecipMM(ctx context.Context, model nwp.ModelConfig, runTime time.Time, h int, ds *grid.Dataset) (*grid.Grid, error) {
	precip := ds.Field(nwp.FieldPrecip)
	if precip == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, nwp.FieldPrecip)
	}

	if !model.PrecipCumulativeFromInit {
		return grid.ToMillimeters(precip), nil
	}

	current := grid.ToMillimeters(precip)
	prevHour := h - model.LeadIncrementHours
	if prevHour <= 0 {
		return current, nil
	}
	previous, err := e.precipTotalMM(ctx, model, runTime, prevHour, nil)
	if err != nil {
		return nil, err
	}
	if err := current.Sub(previous); err != nil {
		return nil, err
	}
	return current, nil
}

// hourDataset returns the dataset for hour h, using raw when it already
// covers that hour and the listed fields, otherwise fetching.
func (e *Engine) hourDataset(ctx context.Context, model nwp.ModelConfig, runTime time.Time, h int, raw *grid.Dataset, fields []string) (*grid.Dataset, error) {
	if raw != nil && raw.ForecastHour == h && raw.Field(nwp.FieldPrecip) != nil {
		return raw, nil
	}

	result := e.fetcher.FetchRawFields(ctx, model.ID, runTime, h, fields)
	e.metrics.FetchResults.WithLabelValues(model.ID, result.Status.String()).Inc()
	switch result.Status {
	case fetch.StatusReady:
		return result.Dataset, nil
	case fetch.StatusNotReady:
		return nil, fmt.Errorf("%w: f%03d: %s", ErrBucketNotReady, h, result.Reason)
	default:
		return nil, fmt.Errorf("bucket f%03d fetch failed: %w", h, result.Err)
	}
}

func (e *Engine) skipBucket(model string, h int, err error) {
	e.metrics.BucketsSkipped.Inc()
	e.logger.Warn("skipping bucket in accumulation window",
		"model", model, "forecast_hour", h, "error", err)
}

func snowBucketFields(strategy snowStrategy) []string {
	switch strategy {
	case strategyThermal:
		return []string{nwp.FieldPrecip, nwp.FieldTemp850, nwp.FieldTemp2m}
	default:
		return []string{nwp.FieldPrecip, nwp.FieldSnowMask}
	}
}

// referenceGrid picks a grid from the raw dataset to shape zero-valued
// outputs, preferring the precipitation field.
func referenceGrid(raw *grid.Dataset) (*grid.Grid, error) {
	if raw == nil || len(raw.Fields) == 0 {
		return nil, fmt.Errorf("%w: empty dataset", ErrMissingField)
	}
	if precip := raw.Field(nwp.FieldPrecip); precip != nil {
		return precip, nil
	}
	for _, g := range raw.Fields {
		return g, nil
	}
	return nil, fmt.Errorf("%w: empty dataset", ErrMissingField)
}
