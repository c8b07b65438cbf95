package accum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratuscast/gridgen/internal/grid"
	"github.com/stratuscast/gridgen/internal/nwp"
)

func uniformGrid(lats, lons []float64, v float64, units string) *grid.Grid {
	g := grid.New(lats, lons)
	for i := range g.Values {
		for j := range g.Values[i] {
			g.Values[i][j] = v
		}
	}
	g.Attrs.Units = units
	return g
}

func TestClassifyStrategy(t *testing.T) {
	tests := []struct {
		name  string
		model nwp.ModelConfig
		want  snowStrategy
	}{
		{"hrrr always uses its mask", nwp.ModelConfig{ID: nwp.ModelHRRR, HasNativePrecipMasks: true}, strategyHRRRMask},
		{"hrrr id wins even without the flag", nwp.ModelConfig{ID: nwp.ModelHRRR}, strategyHRRRMask},
		{"native mask capability", nwp.ModelConfig{ID: nwp.ModelGFS, HasNativePrecipMasks: true}, strategyNativeMask},
		{"no mask falls back to thermal", nwp.ModelConfig{ID: nwp.ModelAIFS}, strategyThermal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyStrategy(tt.model))
		})
	}
}

func TestRampDown(t *testing.T) {
	t.Run("boundary values", func(t *testing.T) {
		assert.Equal(t, 1.0, rampDown(t850AllSnowC, t850AllSnowC, t850NoSnowC))
		assert.Equal(t, 0.0, rampDown(t850NoSnowC, t850AllSnowC, t850NoSnowC))
		assert.Equal(t, 1.0, rampDown(-10, t850AllSnowC, t850NoSnowC))
		assert.Equal(t, 0.0, rampDown(15, t850AllSnowC, t850NoSnowC))
	})

	t.Run("linear between", func(t *testing.T) {
		assert.InDelta(t, 0.5, rampDown(-0.5, t850AllSnowC, t850NoSnowC), 1e-9)
		assert.InDelta(t, 1.0/3.0, rampDown(0, t850AllSnowC, t850NoSnowC), 1e-9)
	})

	t.Run("monotone nonincreasing", func(t *testing.T) {
		prev := rampDown(-5, t850AllSnowC, t850NoSnowC)
		for v := -4.9; v <= 5; v += 0.1 {
			cur := rampDown(v, t850AllSnowC, t850NoSnowC)
			assert.LessOrEqual(t, cur, prev, "ramp must not increase at %v", v)
			prev = cur
		}
	})
}

func TestMaskFraction(t *testing.T) {
	lats := []float64{40, 39}
	lons := []float64{-100, -99}
	precip := uniformGrid(lats, lons, 3, "mm")

	t.Run("unit-scale mask passes through", func(t *testing.T) {
		ds := &grid.Dataset{Fields: map[string]*grid.Grid{
			nwp.FieldSnowMask: uniformGrid(lats, lons, 1, ""),
		}}
		frac, ok := maskFraction(ds, precip)
		require.True(t, ok)
		assert.Equal(t, 1.0, frac.Values[0][0])
	})

	t.Run("percent mask normalized", func(t *testing.T) {
		ds := &grid.Dataset{Fields: map[string]*grid.Grid{
			nwp.FieldSnowMask: uniformGrid(lats, lons, 100, "%"),
		}}
		frac, ok := maskFraction(ds, precip)
		require.True(t, ok)
		assert.InDelta(t, 1.0, frac.Values[1][1], 1e-9)
	})

	t.Run("values clamped to unit interval", func(t *testing.T) {
		mask := uniformGrid(lats, lons, 0.5, "")
		mask.Values[0][0] = -0.2
		mask.Values[0][1] = 1.4
		ds := &grid.Dataset{Fields: map[string]*grid.Grid{nwp.FieldSnowMask: mask}}

		frac, ok := maskFraction(ds, precip)
		require.True(t, ok)
		assert.Equal(t, 0.0, frac.Values[0][0])
		assert.Equal(t, 1.0, frac.Values[0][1])
	})

	t.Run("absent mask reports not ok", func(t *testing.T) {
		_, ok := maskFraction(&grid.Dataset{}, precip)
		assert.False(t, ok)
	})
}

func TestThermalFraction(t *testing.T) {
	lats := []float64{40, 39}
	lons := []float64{-100, -99}
	precip := uniformGrid(lats, lons, 3, "mm")

	t.Run("cold column is all snow", func(t *testing.T) {
		ds := &grid.Dataset{Fields: map[string]*grid.Grid{
			nwp.FieldTemp850: uniformGrid(lats, lons, 268.15, "K"), // -5 C
		}}
		frac, ok := thermalFraction(ds, precip)
		require.True(t, ok)
		assert.Equal(t, 1.0, frac.Values[0][0])
	})

	t.Run("warm column is no snow", func(t *testing.T) {
		ds := &grid.Dataset{Fields: map[string]*grid.Grid{
			nwp.FieldTemp850: uniformGrid(lats, lons, 278.15, "K"), // +5 C
		}}
		frac, ok := thermalFraction(ds, precip)
		require.True(t, ok)
		assert.Equal(t, 0.0, frac.Values[0][0])
	})

	t.Run("surface warmth penalizes the fraction", func(t *testing.T) {
		cold850 := uniformGrid(lats, lons, 268.15, "K")

		noPenalty := &grid.Dataset{Fields: map[string]*grid.Grid{
			nwp.FieldTemp850: cold850,
			nwp.FieldTemp2m:  uniformGrid(lats, lons, 271.65, "K"), // -1.5 C, below the ramp
		}}
		frac, ok := thermalFraction(noPenalty, precip)
		require.True(t, ok)
		assert.Equal(t, 1.0, frac.Values[0][0])

		halfPenalty := &grid.Dataset{Fields: map[string]*grid.Grid{
			nwp.FieldTemp850: cold850,
			nwp.FieldTemp2m:  uniformGrid(lats, lons, 274.65, "K"), // +1.5 C, mid ramp
		}}
		frac, ok = thermalFraction(halfPenalty, precip)
		require.True(t, ok)
		assert.InDelta(t, 0.5, frac.Values[0][0], 1e-9)

		fullPenalty := &grid.Dataset{Fields: map[string]*grid.Grid{
			nwp.FieldTemp850: cold850,
			nwp.FieldTemp2m:  uniformGrid(lats, lons, 278.15, "K"), // +5 C
		}}
		frac, ok = thermalFraction(fullPenalty, precip)
		require.True(t, ok)
		assert.Equal(t, 0.0, frac.Values[0][0])
	})

	t.Run("absent t850 reports not ok", func(t *testing.T) {
		_, ok := thermalFraction(&grid.Dataset{}, precip)
		assert.False(t, ok)
	})

	t.Run("coarse thermal grid regridded onto precip", func(t *testing.T) {
		// One cold and one warm column on a 2-point axis spanning the
		// precip grid; interior precip points see interpolated values.
		coarse := grid.New([]float64{40, 39}, []float64{-100, -99})
		coarse.Attrs.Units = "K"
		for i := range coarse.Values {
			coarse.Values[i][0] = 268.15 // -5 C
			coarse.Values[i][1] = 278.15 // +5 C
		}
		fine := grid.New([]float64{40, 39}, []float64{-100, -99.5, -99})
		for i := range fine.Values {
			for j := range fine.Values[i] {
				fine.Values[i][j] = 2
			}
		}
		fine.Attrs.Units = "mm"

		ds := &grid.Dataset{Fields: map[string]*grid.Grid{nwp.FieldTemp850: coarse}}
		frac, ok := thermalFraction(ds, fine)
		require.True(t, ok)

		assert.Equal(t, 1.0, frac.Values[0][0])
		assert.Equal(t, 0.0, frac.Values[0][2])
		// Midpoint interpolates to 0 C, a third of the way down the ramp.
		assert.InDelta(t, 1.0/3.0, frac.Values[0][1], 1e-9)
	})
}
