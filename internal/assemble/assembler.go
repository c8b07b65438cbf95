// Package assemble builds the single dataset a rendering job consumes:
// one raw fetch for the union of fields the requested variables need,
// plus whatever derived fields the accumulation engine must compute.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stratuscast/gridgen/internal/accum"
	"github.com/stratuscast/gridgen/internal/fetch"
	"github.com/stratuscast/gridgen/internal/grid"
	"github.com/stratuscast/gridgen/internal/nwp"
	"github.com/stratuscast/gridgen/internal/observability"
)

// ErrUpstreamNotReady reports that the forecast hour has not been
// published yet; the scheduler polls again instead of burning a retry.
var ErrUpstreamNotReady = errors.New("upstream data not ready")

// ErrUnknownVariables reports that none of the requested variables are
// known to the registry.
var ErrUnknownVariables = errors.New("no known variables requested")

// Renderer turns one assembled dataset and variable into a published
// artifact. The rendering layer sits strictly downstream: it never
// calls back into the fetcher or the accumulation engine.
type Renderer interface {
	GenerateArtifact(ctx context.Context, ds *grid.Dataset, model string, runTime time.Time, forecastHour int, variable string) (string, error)
}

// Assembler resolves variable requirements against the registry, makes
// exactly one raw fetch per invocation, and folds derived fields into
// the fetched dataset.
type Assembler struct {
	registry *nwp.Registry
	fetcher  fetch.Fetcher
	engine   *accum.Engine
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// New creates an Assembler.
func New(registry *nwp.Registry, fetcher fetch.Fetcher, engine *accum.Engine, logger *slog.Logger, metrics *observability.Metrics) *Assembler {
	return &Assembler{
		registry: registry,
		fetcher:  fetcher,
		engine:   engine,
		logger:   logger,
		metrics:  metrics,
	}
}

// BuildDataset assembles the dataset for one (model, run, forecast
// hour, variable list) job. Unknown variables are skipped; an entirely
// unknown list is a configuration error.
func (a *Assembler) BuildDataset(ctx context.Context, model nwp.ModelConfig, runTime time.Time, forecastHour int, variables []string) (*grid.Dataset, error) {
	reqs := make([]nwp.VariableRequirement, 0, len(variables))
	for _, name := range variables {
		req, ok := a.registry.Variable(name)
		if !ok {
			a.logger.Warn("skipping unknown variable", "variable", name)
			continue
		}
		reqs = append(reqs, req)
	}
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnknownVariables, variables)
	}

	fields := fieldUnion(reqs)

	result := a.fetcher.FetchRawFields(ctx, model.ID, runTime, forecastHour, fields)
	a.metrics.FetchResults.WithLabelValues(model.ID, result.Status.String()).Inc()
	switch result.Status {
	case fetch.StatusReady:
	case fetch.StatusNotReady:
		return nil, fmt.Errorf("%w: %s f%03d: %s", ErrUpstreamNotReady, model.ID, forecastHour, result.Reason)
	default:
		return nil, fmt.Errorf("fetch %s f%03d: %w", model.ID, forecastHour, result.Err)
	}
	ds := result.Dataset

	flags := accum.FlagsForVariables(reqs)
	if flags.PrecipTotal || flags.SnowTotal || flags.PrecipRate6h {
		derived, err := a.engine.ComputeDerived(ctx, model, runTime, forecastHour, ds, flags)
		if err != nil {
			if errors.Is(err, accum.ErrBucketNotReady) {
				return nil, fmt.Errorf("%w: %s f%03d: %v", ErrUpstreamNotReady, model.ID, forecastHour, err)
			}
			return nil, err
		}
		ds.Merge(derived)
	}

	return ds, nil
}

// fieldUnion collects the required and optional raw fields across all
// requested variables, de-duplicated in first-seen order.
func fieldUnion(reqs []nwp.VariableRequirement) []string {
	seen := make(map[string]bool)
	var fields []string
	add := func(names []string) {
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				fields = append(fields, n)
			}
		}
	}
	for _, req := range reqs {
		add(req.RequiredFields)
		add(req.OptionalFields)
	}
	return fields
}
