// Package grid holds the in-memory representation of a 2D gridded
// forecast field and the small set of numeric operations the rest of
// the service performs on it: shape-checked arithmetic, bilinear
// regridding, and precipitation unit normalization.
package grid

import (
	"errors"
	"fmt"
	"time"
)

// Attrs carries per-field metadata needed to interpret the values.
type Attrs struct {
	Units string `json:"units,omitempty"` // e.g. "mm", "m", "K", "%"
	Level string `json:"level,omitempty"` // e.g. "surface", "850 hPa", "2 m above ground"
}

// Grid is one 2D field on a regular lat/lon grid. Values are indexed
// [row][col] where row follows Lats and col follows Lons.
type Grid struct {
	Values [][]float64
	Lats   []float64
	Lons   []float64
	Attrs  Attrs
}

// Dataset is the result of one raw-fields fetch: every requested field
// for a single (model, run, forecast hour), already cropped to the
// target region.
type Dataset struct {
	Model        string
	RunTime      time.Time
	ForecastHour int
	Fields       map[string]*Grid
}

// ErrShapeMismatch is returned by in-place arithmetic when the operand
// grids do not share dimensions.
var ErrShapeMismatch = errors.New("grid shape mismatch")

// New allocates a zero-valued grid on the given axes.
func New(lats, lons []float64) *Grid {
	values := make([][]float64, len(lats))
	for i := range values {
		values[i] = make([]float64, len(lons))
	}
	return &Grid{Values: values, Lats: lats, Lons: lons}
}

// Zeros returns a zero grid with the same axes as like.
func Zeros(like *Grid) *Grid {
	g := New(like.Lats, like.Lons)
	g.Attrs = like.Attrs
	return g
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	out := New(g.Lats, g.Lons)
	out.Attrs = g.Attrs
	for i := range g.Values {
		copy(out.Values[i], g.Values[i])
	}
	return out
}

// Rows returns the latitude dimension.
func (g *Grid) Rows() int { return len(g.Values) }

// Cols returns the longitude dimension.
func (g *Grid) Cols() int {
	if len(g.Values) == 0 {
		return 0
	}
	return len(g.Values[0])
}

// SameShape reports whether two grids share dimensions.
func (g *Grid) SameShape(other *Grid) bool {
	return g.Rows() == other.Rows() && g.Cols() == other.Cols()
}

// Add accumulates other into g in place.
func (g *Grid) Add(other *Grid) error {
	if !g.SameShape(other) {
		return fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch, g.Rows(), g.Cols(), other.Rows(), other.Cols())
	}
	for i := range g.Values {
		for j := range g.Values[i] {
			g.Values[i][j] += other.Values[i][j]
		}
	}
	return nil
}

// Sub subtracts other from g in place.
func (g *Grid) Sub(other *Grid) error {
	if !g.SameShape(other) {
		return fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch, g.Rows(), g.Cols(), other.Rows(), other.Cols())
	}
	for i := range g.Values {
		for j := range g.Values[i] {
			g.Values[i][j] -= other.Values[i][j]
		}
	}
	return nil
}

// Scale multiplies every cell by factor in place.
func (g *Grid) Scale(factor float64) {
	for i := range g.Values {
		for j := range g.Values[i] {
			g.Values[i][j] *= factor
		}
	}
}

// Max returns the largest cell value, or 0 for an empty grid.
func (g *Grid) Max() float64 {
	var max float64
	first := true
	for i := range g.Values {
		for j := range g.Values[i] {
			if first || g.Values[i][j] > max {
				max = g.Values[i][j]
				first = false
			}
		}
	}
	return max
}

// Field returns the named field from the dataset, or nil when absent.
func (d *Dataset) Field(name string) *Grid {
	if d == nil || d.Fields == nil {
		return nil
	}
	return d.Fields[name]
}

// Merge copies every field from other into d, overwriting on name
// collision. Used to fold derived fields into a raw dataset.
func (d *Dataset) Merge(fields map[string]*Grid) {
	if d.Fields == nil {
		d.Fields = make(map[string]*Grid, len(fields))
	}
	for name, g := range fields {
		d.Fields[name] = g
	}
}
