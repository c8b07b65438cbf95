// Command genfixtures generates synthetic forecast artifacts for test
// and demo use. It feeds deterministic raw fields through the real
// accumulation and assembly code so the fixtures match actual service
// output, not a hand-written approximation.
//
// Usage:
//
//	go run ./cmd/genfixtures \
//	  -out data/fixtures \
//	  -model gfs \
//	  -run 2026010212 \
//	  -max-hour 24
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/stratuscast/gridgen/internal/accum"
	"github.com/stratuscast/gridgen/internal/artifact"
	"github.com/stratuscast/gridgen/internal/assemble"
	"github.com/stratuscast/gridgen/internal/fetch"
	"github.com/stratuscast/gridgen/internal/grid"
	"github.com/stratuscast/gridgen/internal/nwp"
	"github.com/stratuscast/gridgen/internal/observability"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output directory for fixture artifacts")
	modelID := flag.String("model", "gfs", "model to generate fixtures for")
	runStamp := flag.String("run", "2026010212", "model run as YYYYMMDDHH")
	maxHour := flag.Int("max-hour", 24, "generate artifacts up to this lead hour")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}

	runTime, err := time.Parse("2006010215", *runStamp)
	if err != nil {
		return fmt.Errorf("parsing -run: %w", err)
	}

	registry, err := nwp.NewRegistry(nwp.DefaultModels(), nwp.DefaultVariables(), nwp.DefaultAliases())
	if err != nil {
		return err
	}
	model, ok := registry.Model(*modelID)
	if !ok {
		return fmt.Errorf("unknown model %q", *modelID)
	}

	logger := observability.NewLogger("warn", "text")
	metrics := observability.NewMetricsForTesting()

	store, err := artifact.NewStore(*out, logger)
	if err != nil {
		return fmt.Errorf("opening fixture store: %w", err)
	}
	writer := artifact.NewFieldWriter(store)

	fetcher := &syntheticFetcher{model: model}
	engine := accum.NewEngine(fetcher, logger, metrics)
	assembler := assemble.New(registry, fetcher, engine, logger, metrics)

	variables := []string{"precip_total", "snow_total", "precip_rate_6h", "temperature_2m"}
	variables = registry.FilterVariablesForModel(variables, model)

	ctx := context.Background()
	var written int
	for _, hour := range model.TargetForecastHours() {
		if hour > *maxHour {
			break
		}
		ds, err := assembler.BuildDataset(ctx, model, runTime, hour, variables)
		if err != nil {
			return fmt.Errorf("building f%03d: %w", hour, err)
		}
		for _, v := range variables {
			path, err := writer.GenerateArtifact(ctx, ds, model.ID, runTime, hour, v)
			if err != nil {
				return fmt.Errorf("writing %s f%03d: %w", v, hour, err)
			}
			written++
			log.Printf("wrote %s", path)
		}
	}

	log.Printf("total: %d artifacts", written)
	return nil
}

// syntheticFetcher serves deterministic fields so fixture runs are
// reproducible. Precipitation is a Gaussian bump drifting east with
// lead time; temperatures put the northern half of the domain below
// freezing so the snow classifier exercises both branches.
type syntheticFetcher struct {
	model nwp.ModelConfig
}

var _ fetch.Fetcher = (*syntheticFetcher)(nil)

func (f *syntheticFetcher) HourAvailable(context.Context, string, time.Time, int) (bool, error) {
	return true, nil
}

func (f *syntheticFetcher) FetchRawFields(_ context.Context, model string, runTime time.Time, forecastHour int, fields []string) fetch.Result {
	lats := axis(45, 35, 21)
	lons := axis(-105, -90, 31)

	ds := &grid.Dataset{
		Model:        model,
		RunTime:      runTime,
		ForecastHour: forecastHour,
		Fields:       make(map[string]*grid.Grid, len(fields)),
	}
	for _, name := range fields {
		ds.Fields[name] = f.field(name, lats, lons, forecastHour)
	}
	return fetch.Ready(ds)
}

func (f *syntheticFetcher) field(name string, lats, lons []float64, forecastHour int) *grid.Grid {
	g := grid.New(lats, lons)
	switch name {
	case nwp.FieldPrecip:
		g.Attrs = grid.Attrs{Units: "mm", Level: "surface"}
		// Storm center drifts 0.5 degrees east per hour.
		centerLon := -102.0 + 0.5*float64(forecastHour)
		amount := 4.0
		if !f.model.PrecipCumulativeFromInit {
			amount = 2.0
		} else {
			amount *= float64(forecastHour) / 6.0
		}
		fill(g, func(lat, lon float64) float64 {
			d2 := (lat-40)*(lat-40) + (lon-centerLon)*(lon-centerLon)
			return amount * math.Exp(-d2/8)
		})
	case nwp.FieldSnowMask:
		g.Attrs = grid.Attrs{Units: "%", Level: "surface"}
		fill(g, func(lat, _ float64) float64 {
			if lat >= 41 {
				return 100
			}
			return 0
		})
	case nwp.FieldTemp850:
		g.Attrs = grid.Attrs{Units: "K", Level: "850 hPa"}
		fill(g, func(lat, _ float64) float64 {
			return 276 - 0.8*(lat-35)
		})
	case nwp.FieldTemp2m:
		g.Attrs = grid.Attrs{Units: "K", Level: "2 m above ground"}
		fill(g, func(lat, _ float64) float64 {
			return 283 - 1.2*(lat-35)
		})
	case nwp.FieldReflectivty:
		g.Attrs = grid.Attrs{Units: "dBZ", Level: "entire atmosphere"}
		fill(g, func(lat, lon float64) float64 {
			d2 := (lat-40)*(lat-40) + (lon+100)*(lon+100)
			return 45 * math.Exp(-d2/10)
		})
	case nwp.FieldWindU10, nwp.FieldWindV10:
		g.Attrs = grid.Attrs{Units: "m/s", Level: "10 m above ground"}
		fill(g, func(lat, lon float64) float64 {
			return 5 + 3*math.Sin((lat+lon)/7)
		})
	}
	return g
}

func fill(g *grid.Grid, fn func(lat, lon float64) float64) {
	for i, lat := range g.Lats {
		for j, lon := range g.Lons {
			g.Values[i][j] = fn(lat, lon)
		}
	}
}

func axis(from, to float64, n int) []float64 {
	step := (to - from) / float64(n-1)
	out := make([]float64, n)
	for i := range out {
		out[i] = from + step*float64(i)
	}
	return out
}
