package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegrid(t *testing.T) {
	t.Run("identical axes return source unchanged", func(t *testing.T) {
		src := testGrid([][]float64{{1, 2}, {3, 4}})
		target := New(src.Lats, src.Lons)

		out := Regrid(src, target)

		assert.Same(t, src, out)
	})

	t.Run("midpoint interpolation", func(t *testing.T) {
		src := New([]float64{40, 38}, []float64{-100, -98})
		src.Values = [][]float64{{0, 4}, {8, 12}}

		target := New([]float64{39}, []float64{-99})
		out := Regrid(src, target)

		assert.InDelta(t, 6.0, out.Values[0][0], 1e-9)
	})

	t.Run("edge clamp outside source domain", func(t *testing.T) {
		src := New([]float64{40, 38}, []float64{-100, -98})
		src.Values = [][]float64{{1, 2}, {3, 4}}

		target := New([]float64{42, 30}, []float64{-110, -90})
		out := Regrid(src, target)

		// Corners clamp to the nearest source cell.
		assert.Equal(t, 1.0, out.Values[0][0])
		assert.Equal(t, 4.0, out.Values[1][1])
	})

	t.Run("descending latitudes", func(t *testing.T) {
		src := New([]float64{45, 44, 43}, []float64{-100, -99})
		src.Values = [][]float64{{10, 10}, {20, 20}, {30, 30}}

		target := New([]float64{44.5, 43.5}, []float64{-100, -99})
		out := Regrid(src, target)

		assert.InDelta(t, 15.0, out.Values[0][0], 1e-9)
		assert.InDelta(t, 25.0, out.Values[1][0], 1e-9)
	})

	t.Run("carries source attrs", func(t *testing.T) {
		src := New([]float64{40, 38}, []float64{-100, -98})
		src.Attrs = Attrs{Units: "K", Level: "850 hPa"}

		target := New([]float64{39}, []float64{-99})
		out := Regrid(src, target)

		assert.Equal(t, src.Attrs, out.Attrs)
	})
}

func TestBracket(t *testing.T) {
	tests := []struct {
		name     string
		axis     []float64
		v        float64
		wantIdx  int
		wantFrac float64
	}{
		{"ascending interior", []float64{0, 1, 2, 3}, 1.5, 1, 0.5},
		{"ascending below range", []float64{0, 1, 2}, -5, 0, 0},
		{"ascending above range", []float64{0, 1, 2}, 9, 1, 1},
		{"descending interior", []float64{50, 49, 48}, 48.25, 1, 0.75},
		{"descending above range", []float64{50, 49, 48}, 60, 0, 0},
		{"single element", []float64{5}, 5, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, frac := bracket(tt.axis, tt.v)
			assert.Equal(t, tt.wantIdx, idx)
			assert.InDelta(t, tt.wantFrac, frac, 1e-9)
		})
	}
}
