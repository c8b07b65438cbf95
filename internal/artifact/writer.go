package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/stratuscast/gridgen/internal/grid"
)

// FieldWriter is the built-in renderer: it serializes one variable's
// grid to JSON at the store's canonical path. Map styling and tile
// encoding live in a separate service; this payload is what that
// service and the test suite consume.
type FieldWriter struct {
	store *Store
}

// NewFieldWriter creates a renderer backed by the store.
func NewFieldWriter(store *Store) *FieldWriter {
	return &FieldWriter{store: store}
}

// fieldPayload is the serialized artifact body.
type fieldPayload struct {
	Model        string      `json:"model"`
	RunTime      time.Time   `json:"run_time"`
	ForecastHour int         `json:"forecast_hour"`
	Variable     string      `json:"variable"`
	Units        string      `json:"units,omitempty"`
	Lats         []float64   `json:"lats"`
	Lons         []float64   `json:"lons"`
	Values       [][]float64 `json:"values"`
}

// GenerateArtifact writes the variable's grid (preferring its derived
// field when present, falling back to the variable's raw field) and
// returns the artifact path. Writes go through a temp file and rename
// so a concurrent reader never sees a half-written artifact.
func (w *FieldWriter) GenerateArtifact(ctx context.Context, ds *grid.Dataset, model string, runTime time.Time, forecastHour int, variable string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g := pickField(ds, variable)
	if g == nil {
		return "", fmt.Errorf("dataset has no field for variable %q", variable)
	}

	payload := fieldPayload{
		Model:        model,
		RunTime:      runTime.UTC(),
		ForecastHour: forecastHour,
		Variable:     variable,
		Units:        g.Attrs.Units,
		Lats:         g.Lats,
		Lons:         g.Lons,
		Values:       g.Values,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal artifact %s: %w", variable, err)
	}

	final := w.store.Path(model, runTime, variable, forecastHour)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", variable, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("publish artifact %s: %w", variable, err)
	}
	return final, nil
}

// variableField maps output variables to the dataset field holding
// their values.
var variableField = map[string]string{
	"precip_total":   "precip_total",
	"snow_total":     "snow_total",
	"precip_rate_6h": "precip_rate_6h",
	"temperature_2m": "t2m",
	"reflectivity":   "refc",
	"wind_10m":       "ugrd10",
	"temp_850":       "t850",
}

func pickField(ds *grid.Dataset, variable string) *grid.Grid {
	if name, ok := variableField[variable]; ok {
		if g := ds.Field(name); g != nil {
			return g
		}
	}
	return ds.Field(variable)
}
